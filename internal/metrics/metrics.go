package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records what one invocation asked the firewall and what it decided.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	// Firewall queries by endpoint and result
	Queries *prometheus.CounterVec

	// Firewall query latency by endpoint
	QueryLatency *prometheus.HistogramVec

	// Verdicts by outcome
	Verdicts *prometheus.CounterVec

	// Batch decisions by decision and mode
	Decisions *prometheus.CounterVec
}

// New creates a Metrics instance backed by its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipgate_firewall_queries_total",
			Help: "Firewall queries by endpoint and result",
		}, []string{"endpoint", "result"}),

		QueryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipgate_firewall_query_duration_seconds",
			Help:    "Duration of firewall queries by endpoint",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),

		Verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipgate_verdicts_total",
			Help: "Package verdicts by outcome",
		}, []string{"outcome"}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipgate_batch_decisions_total",
			Help: "Batch decisions by decision and mode",
		}, []string{"decision", "mode"}),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveQuery records one firewall query
func (m *Metrics) ObserveQuery(endpoint, result string, d time.Duration) {
	if m != nil {
		m.Queries.WithLabelValues(endpoint, result).Inc()
		m.QueryLatency.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

// IncrementVerdict records a package verdict
func (m *Metrics) IncrementVerdict(outcome string) {
	if m != nil {
		m.Verdicts.WithLabelValues(outcome).Inc()
	}
}

// IncrementDecision records a batch decision
func (m *Metrics) IncrementDecision(decision, mode string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision, mode).Inc()
	}
}

// WriteTextfile writes the current values in the text exposition format, for
// node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
