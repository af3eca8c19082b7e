package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes recorded by RecordDelivery.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics holds service Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Analyses         *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	Skips            *prometheus.CounterVec
	ConfigErrors     prometheus.Counter
	DeliveryDuration prometheus.Histogram
	Rules            prometheus.Gauge
}

// New creates and registers all collectors.
// Params: none.
// Returns: metrics bound to a fresh registry, including Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qgnotify_analyses_total",
			Help: "Total number of analysis events received",
		}, []string{"source"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qgnotify_deliveries_total",
			Help: "Total number of notification attempts by outcome",
		}, []string{"outcome"}),
		Skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qgnotify_skips_total",
			Help: "Total number of suppressed notifications by reason",
		}, []string{"reason"}),
		ConfigErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qgnotify_config_errors_total",
			Help: "Total number of events aborted by corrupted notification settings",
		}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qgnotify_delivery_duration_seconds",
			Help:    "Duration of webhook delivery attempts",
			Buckets: prometheus.DefBuckets,
		}),
		Rules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qgnotify_rules",
			Help: "Number of configured project rules in the active rule set",
		}),
	}

	m.registry.MustRegister(
		m.Analyses,
		m.Deliveries,
		m.Skips,
		m.ConfigErrors,
		m.DeliveryDuration,
		m.Rules,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordAnalysis counts one received event.
func (m *Metrics) RecordAnalysis(source string) {
	m.Analyses.WithLabelValues(source).Inc()
}

// RecordSkip counts one suppressed delivery.
func (m *Metrics) RecordSkip(reason string) {
	m.Deliveries.WithLabelValues(OutcomeSkipped).Inc()
	m.Skips.WithLabelValues(reason).Inc()
}

// RecordDelivery counts one webhook attempt and its duration.
// Params: outcome label and attempt duration.
// Returns: none.
func (m *Metrics) RecordDelivery(outcome string, elapsed time.Duration) {
	m.Deliveries.WithLabelValues(outcome).Inc()
	m.DeliveryDuration.Observe(elapsed.Seconds())
}

// RecordConfigError counts one event aborted by settings corruption.
func (m *Metrics) RecordConfigError() {
	m.ConfigErrors.Inc()
}

// SetRules publishes size of the active rule set.
func (m *Metrics) SetRules(count int) {
	m.Rules.Set(float64(count))
}

// Registry exposes the private registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
