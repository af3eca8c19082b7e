package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"qgnotify/internal/config"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBlue    = "\x1b[34m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiMagenta = "\x1b[35m"
	ansiRed     = "\x1b[31m"
	ansiGray    = "\x1b[90m"
)

var (
	quotedPattern = regexp.MustCompile(`"[^"\n]*"`)
	urlPattern    = regexp.MustCompile(`\bhttps?://[^\s"]+`)
	statusPattern = regexp.MustCompile(`\bstatus=\d{3}\b`)
)

// New builds a logger for configured sinks and returns a cleanup function.
// Params: cfg contains console/file sink settings; service is attached to every record.
// Returns: slog logger, cleanup callback, and setup error.
func New(cfg config.LogConfig, service string) (*slog.Logger, func(), error) {
	return newLogger(cfg, service, os.Stdout)
}

func newLogger(cfg config.LogConfig, service string, console io.Writer) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)

	if cfg.Console.Enabled {
		handler, err := consoleHandler(cfg.Console, console)
		if err != nil {
			return nil, nil, fmt.Errorf("build console handler: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		handler, closer, err := fileHandler(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("build file handler: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, closer)
	}

	if len(handlers) == 0 {
		return nil, nil, errors.New("no log sinks enabled")
	}

	closeFn := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	var handler slog.Handler = fanout(handlers)
	if service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", service)})
	}
	return slog.New(handler), closeFn, nil
}

// fanout returns single handler directly or a tee over several.
func fanout(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return teeHandler(handlers)
}

// consoleHandler creates a console sink handler without timestamps.
// Params: sink level/format and destination writer.
// Returns: configured slog handler or error.
func consoleHandler(sink config.LogSinkConfig, dst io.Writer) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return attr
		},
	}

	switch sink.Format {
	case "line":
		return slog.NewTextHandler(&colorWriter{dst: dst}, opts), nil
	case "json":
		return slog.NewJSONHandler(dst, opts), nil
	default:
		return nil, fmt.Errorf("unsupported console format %q", sink.Format)
	}
}

// fileHandler creates an append-only file sink handler.
// Params: sink contains path, level, and format.
// Returns: handler, file closer, and error.
func fileHandler(sink config.LogSinkConfig) (slog.Handler, io.Closer, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(sink.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open file %q: %w", sink.Path, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch sink.Format {
	case "line":
		return slog.NewTextHandler(file, opts), file, nil
	case "json":
		return slog.NewJSONHandler(file, opts), file, nil
	default:
		_ = file.Close()
		return nil, nil, fmt.Errorf("unsupported file format %q", sink.Format)
	}
}

// parseLevel converts configuration level into slog.Level.
func parseLevel(value string) (slog.Level, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported level %q", value)
	}
}

// teeHandler fans out one record to several handlers.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range t {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to every enabled handler.
// Params: ctx context and record to write.
// Returns: joined sink errors.
func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range t {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(teeHandler, 0, len(t))
	for _, handler := range t {
		next = append(next, handler.WithAttrs(attrs))
	}
	return next
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	next := make(teeHandler, 0, len(t))
	for _, handler := range t {
		next = append(next, handler.WithGroup(name))
	}
	return next
}

// colorWriter tints console lines by level and highlights quoted values, URLs, and HTTP statuses.
type colorWriter struct {
	dst io.Writer
}

// Write colors one rendered slog line.
// Params: payload is one text-handler line.
// Returns: input length on success so slog sees a full write.
func (w *colorWriter) Write(payload []byte) (int, error) {
	line := string(payload)
	tone := levelTone(line)
	if tone == "" {
		return w.dst.Write(payload)
	}

	if _, err := io.WriteString(w.dst, tone+highlight(line, tone)+ansiReset); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// levelTone maps rendered level token to ANSI code.
func levelTone(line string) string {
	switch {
	case strings.Contains(line, "level=DEBUG"):
		return ansiGray
	case strings.Contains(line, "level=INFO"):
		return ansiBlue
	case strings.Contains(line, "level=WARN"):
		return ansiYellow
	case strings.Contains(line, "level=ERROR"):
		return ansiRed
	default:
		return ""
	}
}

type span struct {
	start, end int
	color      string
	rank       int
}

// highlight colors token spans and restores base tone after each.
// Params: rendered line and its level tone.
// Returns: line with ANSI token highlights.
func highlight(line, base string) string {
	spans := tokenSpans(line)
	if len(spans) == 0 {
		return line
	}

	var builder strings.Builder
	builder.Grow(len(line) + len(spans)*12)
	cursor := 0
	for _, s := range spans {
		builder.WriteString(line[cursor:s.start])
		builder.WriteString(s.color)
		builder.WriteString(line[s.start:s.end])
		builder.WriteString(ansiReset)
		builder.WriteString(base)
		cursor = s.end
	}
	builder.WriteString(line[cursor:])
	return builder.String()
}

// tokenSpans returns sorted non-overlapping spans; on overlap lower rank wins.
func tokenSpans(line string) []span {
	var all []span
	for _, rule := range []struct {
		pattern *regexp.Regexp
		color   string
		rank    int
	}{
		{urlPattern, ansiMagenta, 1},
		{quotedPattern, ansiGreen, 2},
		{statusPattern, ansiYellow, 3},
	} {
		for _, idx := range rule.pattern.FindAllStringIndex(line, -1) {
			all = append(all, span{start: idx[0], end: idx[1], color: rule.color, rank: rule.rank})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		return all[i].rank < all[j].rank
	})

	out := make([]span, 0, len(all))
	cursor := 0
	for _, s := range all {
		if s.start < cursor {
			continue
		}
		out = append(out, s)
		cursor = s.end
	}
	return out
}
