package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the execution service.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	ActiveExecutions   prometheus.Gauge
	AdmissionRejected  prometheus.Counter
	SecurityViolations *prometheus.CounterVec
	ProvisionRetries   prometheus.Counter
	SweepReclaimed     prometheus.Counter
	TestCases          *prometheus.CounterVec
	RequestsInFlight   prometheus.Gauge
	CodeSizeBytes      prometheus.Histogram
	OutputSizeBytes    prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exec",
				Name:      "executions_total",
				Help:      "Total number of code executions by language and final status.",
			},
			[]string{"language", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "exec",
				Name:      "execution_duration_seconds",
				Help:      "End-to-end duration of code executions in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"language"},
		),

		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "exec",
				Name:      "active_executions",
				Help:      "Number of executions currently holding an admission slot.",
			},
		),

		AdmissionRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "exec",
				Name:      "admission_rejected_total",
				Help:      "Requests turned away because no admission slot freed in time.",
			},
		),

		SecurityViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exec",
				Name:      "security_violations_total",
				Help:      "Dangerous patterns flagged by the static scanner, by severity.",
			},
			[]string{"severity"},
		),

		ProvisionRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "exec",
				Name:      "provision_retries_total",
				Help:      "Sandbox provisioning attempts beyond the first.",
			},
		),

		SweepReclaimed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "exec",
				Name:      "sweep_reclaimed_total",
				Help:      "Orphaned containers removed by the background sweeper.",
			},
		),

		TestCases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exec",
				Name:      "test_cases_total",
				Help:      "Test case outcomes across all executions.",
			},
			[]string{"outcome"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "exec",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "exec",
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "exec",
				Name:      "output_size_bytes",
				Help:      "Size of execution output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ActiveExecutions,
		m.AdmissionRejected,
		m.SecurityViolations,
		m.ProvisionRetries,
		m.SweepReclaimed,
		m.TestCases,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordExecution records metrics for a completed execution.
func (m *Metrics) RecordExecution(language, status string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(language, status).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(durationSec)
}
