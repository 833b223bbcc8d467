package idempotency

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector receives coordinator events.
type MetricsCollector interface {
	// RecordDecision is called once per Execute with the decision taken.
	RecordDecision(decision DecisionKind)
	// RecordResult is called once per Execute with its final outcome.
	RecordResult(fromCache bool, err error)
	// ObserveOperation is called after the wrapped operation ran.
	ObserveOperation(duration time.Duration, failed bool)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordDecision(DecisionKind) {}
func (NoopMetrics) RecordResult(bool, error) {}
func (NoopMetrics) ObserveOperation(time.Duration, bool) {}

// PrometheusMetricsConfig configures PrometheusMetrics.
type PrometheusMetricsConfig struct {
	// Namespace for all metrics (default: "reliable").
	Namespace string
	// Registry to register with. If nil, a new registry is created.
	Registry *prometheus.Registry
	// DurationBuckets for the operation histogram.
	DurationBuckets []float64
}

// PrometheusMetrics implements MetricsCollector with Prometheus metrics.
type PrometheusMetrics struct {
	decisionsTotal    *prometheus.CounterVec
	resultsTotal      *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates and registers the idempotency metrics.
func NewPrometheusMetrics(config *PrometheusMetricsConfig) (*PrometheusMetrics, error) {
	// defaults go into a copy, never the caller's struct
	var cfg PrometheusMetricsConfig
	if config != nil {
		cfg = *config
	}
	config = &cfg
	if config.Namespace == "" {
		config.Namespace = "reliable"
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if config.DurationBuckets == nil {
		config.DurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}
	}

	m := &PrometheusMetrics{registry: config.Registry}

	m.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "idempotency",
			Name:      "decisions_total",
			Help:      "Decisions taken for observed idempotency records",
		},
		[]string{"decision"},
	)
	m.resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "idempotency",
			Name:      "results_total",
			Help:      "Idempotent executions by outcome",
		},
		[]string{"outcome"},
	)
	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "idempotency",
			Name:      "operation_duration_seconds",
			Help:      "Duration of wrapped operations in seconds",
			Buckets:   config.DurationBuckets,
		},
		[]string{"status"},
	)

	for _, c := range []prometheus.Collector{m.decisionsTotal, m.resultsTotal, m.operationDuration} {
		if err := config.Registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry the metrics are registered with.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) RecordDecision(decision DecisionKind) {
	m.decisionsTotal.WithLabelValues(decision.String()).Inc()
}

func (m *PrometheusMetrics) RecordResult(fromCache bool, err error) {
	m.resultsTotal.WithLabelValues(outcomeLabel(fromCache, err)).Inc()
}

func (m *PrometheusMetrics) ObserveOperation(duration time.Duration, failed bool) {
	status := "success"
	if failed {
		status = "failure"
	}
	m.operationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func outcomeLabel(fromCache bool, err error) string {
	if err != nil {
		if kind := KindOf(err); kind != 0 {
			return kind.String()
		}
		return "UNKNOWN"
	}
	if fromCache {
		return "cached"
	}
	return "executed"
}
