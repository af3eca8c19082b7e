package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName       = "qgnotify"
	defaultHTTPListen        = ":8080"
	defaultHealthPath        = "/healthz"
	defaultReadyPath         = "/readyz"
	defaultIngestPath        = "/analysis"
	defaultMetricsPath       = "/metrics"
	defaultMaxBodyBytes      = 2 << 20
	defaultNATSURL           = "nats://127.0.0.1:4222"
	defaultNATSSubject       = "qgnotify.analyses"
	defaultNATSStream        = "QGNOTIFY_ANALYSES"
	defaultNATSConsumer      = "qgnotify-ingest"
	defaultNATSDeliverGroup  = "qgnotify-workers"
	defaultNATSAckWaitSec    = 30
	defaultNATSNackDelayMS   = 5000
	defaultNATSMaxDeliver    = 5
	defaultNATSMaxAckPending = 256
	defaultWebhookTimeoutSec = 10
)

// Config holds service runtime settings and the raw notification settings namespace.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service  ServiceConfig
	Log      LogConfig
	Ingest   IngestConfig
	Webhook  WebhookConfig
	Message  MessageConfig
	Settings Settings
}

// rawConfig mirrors TOML model before settings flattening.
// Params: decoded sections from one TOML source.
// Returns: raw settings tree keyed by TOML path.
type rawConfig struct {
	Service  ServiceConfig  `toml:"service"`
	Log      LogConfig      `toml:"log"`
	Ingest   IngestConfig   `toml:"ingest"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Message  MessageConfig  `toml:"message"`
	Settings map[string]any `toml:"settings"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	Name string `toml:"name"`
}

// IngestConfig defines inbound analysis event interfaces.
// Params: embedded HTTP and NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig configures the HTTP server and analysis endpoint.
// Params: enable flag, listen address, endpoint paths, and body size limit.
// Returns: HTTP ingest behavior.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	IngestPath   string `toml:"ingest_path"`
	MetricsPath  string `toml:"metrics_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion.
// Params: connection + ack/redelivery policy; stream routing keys are runtime-fixed.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"-"`
	Stream        string   `toml:"-"`
	ConsumerName  string   `toml:"-"`
	DeliverGroup  string   `toml:"-"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// WebhookConfig bounds the outbound webhook HTTP client.
// Params: connect timeout and overall request timeout in seconds.
// Returns: transport limits for the webhook sender.
type WebhookConfig struct {
	ConnectTimeoutSec int `toml:"connect_timeout_sec"`
	TimeoutSec        int `toml:"timeout_sec"`
}

// MessageConfig configures message rendering.
// Params: optional YAML metric-name catalog overriding embedded names.
// Returns: message rendering options.
type MessageConfig struct {
	NamesFile string `toml:"names_file"`
}

// LogConfig contains console/file logging sinks.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	cfg, err := load(src)
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadSettings reads only the settings namespace from one source.
// Params: source selects file or directory mode.
// Returns: flattened settings snapshot or load error.
func LoadSettings(src ConfigSource) (Settings, error) {
	cfg, err := load(src)
	if err != nil {
		return Settings{}, err
	}
	return cfg.Settings, nil
}

func load(src ConfigSource) (Config, error) {
	if src.File != "" {
		return loadFile(src.File)
	}
	return loadDir(src.Dir)
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, err := decode(body)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

func decode(body []byte) (Config, error) {
	var raw rawConfig
	if err := toml.Unmarshal(body, &raw); err != nil {
		return Config{}, err
	}
	settings, err := settingsFromTree(raw.Settings)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Service:  raw.Service,
		Log:      raw.Log,
		Ingest:   raw.Ingest,
		Webhook:  raw.Webhook,
		Message:  raw.Message,
		Settings: settings,
	}, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if hasHTTPIngestConfig(src.Ingest.HTTP) {
		dst.Ingest.HTTP = src.Ingest.HTTP
	}
	if hasNATSIngestConfig(src.Ingest.NATS) {
		dst.Ingest.NATS = src.Ingest.NATS
	}
	if src.Webhook != (WebhookConfig{}) {
		dst.Webhook = src.Webhook
	}
	if src.Message != (MessageConfig{}) {
		dst.Message = src.Message
	}
	dst.Settings = dst.Settings.Merge(src.Settings)
}

func hasHTTPIngestConfig(cfg HTTPIngestConfig) bool {
	return cfg != (HTTPIngestConfig{})
}

func hasNATSIngestConfig(cfg NATSIngestConfig) bool {
	return cfg.Enabled ||
		len(cfg.URL) > 0 ||
		cfg.AckWaitSec != 0 ||
		cfg.NackDelayMS != 0 ||
		cfg.MaxDeliver != 0 ||
		cfg.MaxAckPending != 0
}

// applyDefaults fills omitted config fields with safe defaults.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	httpCfg := &cfg.Ingest.HTTP
	if strings.TrimSpace(httpCfg.Listen) == "" {
		httpCfg.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(httpCfg.HealthPath) == "" {
		httpCfg.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(httpCfg.ReadyPath) == "" {
		httpCfg.ReadyPath = defaultReadyPath
	}
	if strings.TrimSpace(httpCfg.IngestPath) == "" {
		httpCfg.IngestPath = defaultIngestPath
	}
	if strings.TrimSpace(httpCfg.MetricsPath) == "" {
		httpCfg.MetricsPath = defaultMetricsPath
	}
	if httpCfg.MaxBodyBytes <= 0 {
		httpCfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if !httpCfg.Enabled && !cfg.Ingest.NATS.Enabled {
		httpCfg.Enabled = true
	}

	natsCfg := &cfg.Ingest.NATS
	natsCfg.URL = normalizeNATSURLs(natsCfg.URL)
	if len(natsCfg.URL) == 0 {
		natsCfg.URL = []string{defaultNATSURL}
	}
	natsCfg.Subject = defaultNATSSubject
	natsCfg.Stream = defaultNATSStream
	natsCfg.ConsumerName = defaultNATSConsumer
	natsCfg.DeliverGroup = defaultNATSDeliverGroup
	if natsCfg.AckWaitSec <= 0 {
		natsCfg.AckWaitSec = defaultNATSAckWaitSec
	}
	if natsCfg.NackDelayMS <= 0 {
		natsCfg.NackDelayMS = defaultNATSNackDelayMS
	}
	if natsCfg.MaxDeliver == 0 {
		natsCfg.MaxDeliver = defaultNATSMaxDeliver
	}
	if natsCfg.MaxAckPending <= 0 {
		natsCfg.MaxAckPending = defaultNATSMaxAckPending
	}

	if cfg.Webhook.ConnectTimeoutSec <= 0 {
		cfg.Webhook.ConnectTimeoutSec = defaultWebhookTimeoutSec
	}
	if cfg.Webhook.TimeoutSec <= 0 {
		cfg.Webhook.TimeoutSec = defaultWebhookTimeoutSec
	}
}

// validateConfig validates full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	for _, path := range []struct {
		name  string
		value string
	}{
		{"ingest.http.health_path", cfg.Ingest.HTTP.HealthPath},
		{"ingest.http.ready_path", cfg.Ingest.HTTP.ReadyPath},
		{"ingest.http.ingest_path", cfg.Ingest.HTTP.IngestPath},
		{"ingest.http.metrics_path", cfg.Ingest.HTTP.MetricsPath},
	} {
		if !strings.HasPrefix(path.value, "/") {
			return fmt.Errorf("%s must start with /", path.name)
		}
	}
	if cfg.Ingest.NATS.Enabled {
		for i, url := range cfg.Ingest.NATS.URL {
			if url == "" {
				return fmt.Errorf("ingest.nats.url[%d] is empty", i)
			}
		}
		if cfg.Ingest.NATS.MaxDeliver < -1 {
			return errors.New("ingest.nats.max_deliver must be -1 or >0")
		}
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}
	if _, err := cfg.Settings.Bool(KeyEnabled, false); err != nil {
		return err
	}
	if _, err := cfg.Settings.Bool(KeyIncludeBranch, false); err != nil {
		return err
	}
	return nil
}

// validateLogSink validates one log sink section.
// Params: section path, sink config, and whether a file path is required.
// Returns: validation error for unsupported level/format or missing path.
func validateLogSink(path string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", path, sink.Level)
	}
	switch sink.Format {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", path, sink.Format)
	}
	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when %s.enabled=true", path, path)
	}
	return nil
}

// normalizeNATSURLs trims spaces and drops blank entries.
// Params: raw URL list from config.
// Returns: normalized URL list.
func normalizeNATSURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
