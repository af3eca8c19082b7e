package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"qgnotify/internal/config"
	"qgnotify/internal/domain"
)

// Source labels for ingested analyses.
const (
	SourceHTTP = "http"
	SourceNATS = "nats"
)

// AnalysisSink receives decoded analysis events from ingest interfaces.
// Params: request context, source label, and validated analysis.
// Returns: SettingsError for corrupted settings; delivery failures are not errors.
type AnalysisSink interface {
	HandleAnalysis(ctx context.Context, source string, analysis domain.Analysis) error
}

// HTTPHandler decodes JSON analyses and forwards them to sink.
// Params: sink receives validated analyses, max body limits payload size.
// Returns: HTTP handler for ingest endpoint.
type HTTPHandler struct {
	sink        AnalysisSink
	maxBodySize int64
	logger      *slog.Logger
}

// NewHTTPHandler creates ingest HTTP handler.
// Params: sink, max request body size in bytes, and optional logger.
// Returns: configured handler.
func NewHTTPHandler(sink AnalysisSink, maxBodySize int64, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize, logger: logger}
}

// ServeHTTP handles one incoming analysis request.
// Params: HTTP request/response writer pair.
// Returns: 202 when handled, 400 on bad input, 405 on non-POST, 500 on settings corruption.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.Header().Set("Allow", http.MethodPost)
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		http.Error(writer, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	analysis, err := domain.DecodeAnalysis(body)
	if err != nil {
		h.logger.Warn("http ingest decode failed", "remote", request.RemoteAddr, "error", err.Error())
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.sink.HandleAnalysis(request.Context(), SourceHTTP, analysis); err != nil {
		var settingsErr *config.SettingsError
		if errors.As(err, &settingsErr) {
			http.Error(writer, settingsErr.Error(), http.StatusInternalServerError)
			return
		}
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}
