package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"qgnotify/internal/clock"
	"qgnotify/internal/config"
	"qgnotify/internal/domain"
	"qgnotify/internal/engine"
	"qgnotify/internal/message"
	"qgnotify/internal/metrics"
	"qgnotify/internal/notify"
)

// Manager handles one analysis event from settings refresh to webhook delivery.
// Params: settings source, rule resolver, metric namer, sender pool, metrics, logger, and clock.
// Returns: ingest sink safe for concurrent events.
type Manager struct {
	settings config.SettingsSource
	resolver *engine.Resolver
	names    message.MetricNamer
	senders  *notify.Pool
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    clock.Clock
}

// NewManager creates manager with its own resolver.
// Params: settings source, metric namer, sender pool, metrics, logger, and clock.
// Returns: initialized manager; call Prime to validate settings at startup.
func NewManager(
	settings config.SettingsSource,
	names message.MetricNamer,
	senders *notify.Pool,
	m *metrics.Metrics,
	logger *slog.Logger,
	clk clock.Clock,
) *Manager {
	return &Manager{
		settings: settings,
		resolver: engine.NewResolver(logger),
		names:    names,
		senders:  senders,
		metrics:  m,
		logger:   logger,
		clock:    clk,
	}
}

// Prime builds the first rule set so startup fails on corrupted settings.
// Params: settings snapshot loaded with the service config.
// Returns: SettingsError when rules cannot be built.
func (m *Manager) Prime(settings config.Settings) error {
	set, err := m.resolver.Refresh(settings)
	if err != nil {
		return err
	}
	m.metrics.SetRules(set.Len())
	return nil
}

// HandleAnalysis runs the notification flow for one analysis.
// Params: context bounding delivery, ingest source label, and validated analysis.
// Returns: settings errors only; skipped or failed deliveries return nil.
func (m *Manager) HandleAnalysis(ctx context.Context, source string, analysis domain.Analysis) error {
	logger := m.logger.With(
		"delivery_id", uuid.NewString(),
		"project_key", analysis.Project.Key,
		"source", source,
	)
	m.metrics.RecordAnalysis(source)
	logger.Debug("analysis received",
		"task_id", analysis.TaskID,
		"status", analysis.Status,
		"properties", analysis.Properties,
	)

	err := m.deliver(ctx, logger, analysis)
	if err != nil {
		var settingsErr *config.SettingsError
		if errors.As(err, &settingsErr) {
			m.metrics.RecordConfigError()
		}
		logger.Error("notification aborted", "error", err.Error())
	}
	return err
}

func (m *Manager) deliver(ctx context.Context, logger *slog.Logger, analysis domain.Analysis) error {
	settings, err := m.settings.Settings()
	if err != nil {
		return fmt.Errorf("load notification settings: %w", err)
	}
	set, err := m.resolver.Refresh(settings)
	if err != nil {
		return err
	}
	m.metrics.SetRules(set.Len())

	enabled, err := settings.Bool(config.KeyEnabled, false)
	if err != nil {
		return err
	}
	if !enabled {
		m.skip(logger, engine.SkipDisabled)
		return nil
	}

	rule, err := set.Resolve(analysis.Project.Key)
	if err != nil {
		return err
	}
	if skip, reason := engine.ShouldSkip(rule, analysis.QualityGate); skip {
		m.skip(logger, reason, "pattern", rule.KeyPattern)
		return nil
	}

	payload, err := m.buildPayload(logger, settings, rule, analysis)
	if err != nil {
		return err
	}
	target, err := notify.TargetURL(rule, settings)
	if err != nil {
		return err
	}
	proxyCfg, err := notify.ProxyFromSettings(settings)
	if err != nil {
		return err
	}
	sender, err := m.senders.Sender(proxyCfg)
	if err != nil {
		return fmt.Errorf("webhook sender: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	started := m.clock.Now()
	sendErr := sender.Send(ctx, target, body)
	elapsed := clock.Since(m.clock, started)
	attrs := []any{
		"channel", payload.Channel,
		"target", engine.MaskHook(target),
		"proxy", proxyCfg.Protocol,
		"elapsed_ms", elapsed.Milliseconds(),
	}
	if sendErr != nil {
		m.metrics.RecordDelivery(metrics.OutcomeFailed, elapsed)
		var statusErr *notify.StatusError
		if errors.As(sendErr, &statusErr) {
			attrs = append(attrs, "status", statusErr.StatusCode, "body", statusErr.Body)
		}
		logger.Error("webhook delivery failed", append(attrs, "error", sendErr.Error())...)
		return nil
	}
	m.metrics.RecordDelivery(metrics.OutcomeSent, elapsed)
	logger.Info("notification delivered", attrs...)
	return nil
}

// buildPayload gathers global message options and builds the payload.
// Params: logger, settings snapshot, resolved rule, and analysis.
// Returns: payload or settings/build error.
func (m *Manager) buildPayload(
	logger *slog.Logger,
	settings config.Settings,
	rule domain.ProjectRule,
	analysis domain.Analysis,
) (domain.Payload, error) {
	includeBranch, err := settings.Bool(config.KeyIncludeBranch, false)
	if err != nil {
		return domain.Payload{}, err
	}
	locale, err := message.ParseLocale(settings.String(config.KeyLocale, ""))
	if err != nil {
		logger.Warn("invalid notification locale; using English", "error", err.Error())
	}

	payload, err := message.Build(message.BuildParams{
		Rule:          &rule,
		Gate:          analysis.QualityGate,
		ProjectName:   analysis.DisplayName(),
		ProjectURL:    projectURL(settings, analysis),
		Username:      settings.String(config.KeyUser, config.DefaultUser),
		IconURL:       settings.String(config.KeyIcon, ""),
		Branch:        analysis.Branch,
		IncludeBranch: includeBranch,
		Names:         m.names,
		Locale:        locale,
		Logger:        logger,
	})
	if err != nil {
		return domain.Payload{}, fmt.Errorf("build message: %w", err)
	}
	return payload, nil
}

// skip records and logs one suppressed delivery.
func (m *Manager) skip(logger *slog.Logger, reason engine.SkipReason, attrs ...any) {
	m.metrics.RecordSkip(string(reason))
	logger.Info("notification skipped", append([]any{"reason", string(reason)}, attrs...)...)
}

// projectURL picks the dashboard link for the analysis.
// Params: settings snapshot and analysis.
// Returns: event URL, or dashboard URL on the configured or reporting server.
func projectURL(settings config.Settings, analysis domain.Analysis) string {
	if analysis.Project.URL != "" {
		return analysis.Project.URL
	}
	base := settings.String(config.KeyServerBaseURL, analysis.ServerURL)
	if base == "" {
		base = config.DefaultServerBaseURL
	}
	return message.DashboardURL(base, analysis.Project.Key)
}
