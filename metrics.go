package reliable

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector receives saga coordinator events.
type MetricsCollector interface {
	// SagaFinished is called once per execution with its final status.
	SagaFinished(kind, status string, duration time.Duration)
	// CompensationsExecuted is called after each rollback.
	CompensationsExecuted(kind string, ran, failed int)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) SagaFinished(string, string, time.Duration) {}
func (NoopMetrics) CompensationsExecuted(string, int, int) {}

// PrometheusMetricsConfig configures PrometheusMetrics.
type PrometheusMetricsConfig struct {
	// Namespace for all metrics (default: "reliable").
	Namespace string
	// Registry to register with. If nil, a new registry is created.
	Registry *prometheus.Registry
	// DurationBuckets for the saga duration histogram.
	DurationBuckets []float64
}

// PrometheusMetrics implements MetricsCollector using Prometheus metrics.
type PrometheusMetrics struct {
	sagasTotal          *prometheus.CounterVec
	sagaDuration        *prometheus.HistogramVec
	compensationsTotal  *prometheus.CounterVec
	compensationsFailed *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates and registers the saga metrics.
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
		config.DurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0}
	}

	m := &PrometheusMetrics{registry: config.Registry}

	m.sagasTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "saga",
			Name:      "executions_total",
			Help:      "Saga executions by kind and final status",
		},
		[]string{"kind", "status"},
	)
	m.sagaDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "saga",
			Name:      "duration_seconds",
			Help:      "Duration of saga executions in seconds",
			Buckets:   config.DurationBuckets,
		},
		[]string{"kind", "status"},
	)
	m.compensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "saga",
			Name:      "compensations_total",
			Help:      "Compensators invoked during rollback",
		},
		[]string{"kind"},
	)
	m.compensationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "saga",
			Name:      "compensations_failed_total",
			Help:      "Compensators that returned an error or panicked",
		},
		[]string{"kind"},
	)

	for _, c := range []prometheus.Collector{
		m.sagasTotal, m.sagaDuration, m.compensationsTotal, m.compensationsFailed,
	} {
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

func (m *PrometheusMetrics) SagaFinished(kind, status string, duration time.Duration) {
	m.sagasTotal.WithLabelValues(kind, status).Inc()
	m.sagaDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) CompensationsExecuted(kind string, ran, failed int) {
	m.compensationsTotal.WithLabelValues(kind).Add(float64(ran))
	m.compensationsFailed.WithLabelValues(kind).Add(float64(failed))
}
