// Package metrics provides Prometheus metrics export for the chat pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineExporter exports chat pipeline metrics in Prometheus format.
type PipelineExporter struct {
	registry *prometheus.Registry

	// Job metrics
	jobsProcessed *prometheus.CounterVec
	jobsRetried   prometheus.Counter
	jobsFailed    *prometheus.CounterVec
	jobsActive    prometheus.Gauge
	jobLatency    *prometheus.HistogramVec

	// Lock metrics
	lockAcquisitions *prometheus.CounterVec
	lockTakeovers    prometheus.Counter
	lockForceClears  prometheus.Counter

	// Engine metrics
	engineRuns      *prometheus.CounterVec
	engineLatency   *prometheus.HistogramVec
	engineCancelled prometheus.Counter
}

// Config configures the pipeline exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}
}

// NewPipelineExporter creates a new Prometheus metrics exporter.
func NewPipelineExporter(cfg Config) *PipelineExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PipelineExporter{
		registry: registry,
	}

	e.jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadpilot",
			Subsystem: "chat",
			Name:      "jobs_processed_total",
			Help:      "Total chat jobs that reached a terminal state",
		},
		[]string{"outcome"},
	)

	e.jobsRetried = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "leadpilot",
			Subsystem: "chat",
			Name:      "jobs_retried_total",
			Help:      "Total chat job attempts rescheduled for retry",
		},
	)

	e.jobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadpilot",
			Subsystem: "chat",
			Name:      "jobs_failed_total",
			Help:      "Total chat job attempts that failed, by error category",
		},
		[]string{"category"},
	)

	e.jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "leadpilot",
			Subsystem: "chat",
			Name:      "jobs_active",
			Help:      "Number of chat jobs currently being processed",
		},
	)

	e.jobLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "leadpilot",
			Subsystem: "chat",
			Name:      "job_latency_seconds",
			Help:      "Chat job processing latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"outcome"},
	)

	e.lockAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadpilot",
			Subsystem: "chat",
			Name:      "lock_acquisitions_total",
			Help:      "Total thread lock acquisition attempts",
		},
		[]string{"result"},
	)

	e.lockTakeovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "leadpilot",
			Subsystem: "chat",
			Name:      "lock_takeovers_total",
			Help:      "Total thread lock takeovers by a newer message",
		},
	)

	e.lockForceClears = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "leadpilot",
			Subsystem: "chat",
			Name:      "lock_force_clears_total",
			Help:      "Total unconditional thread lock clears",
		},
	)

	e.engineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadpilot",
			Subsystem: "chat",
			Name:      "engine_runs_total",
			Help:      "Total assistant runs dispatched to the engine",
		},
		[]string{"status"},
	)

	e.engineLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "leadpilot",
			Subsystem: "chat",
			Name:      "engine_latency_seconds",
			Help:      "Assistant run wall time in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"status"},
	)

	e.engineCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "leadpilot",
			Subsystem: "chat",
			Name:      "engine_runs_cancelled_total",
			Help:      "Total predecessor runs cancelled during takeover",
		},
	)

	registry.MustRegister(
		e.jobsProcessed,
		e.jobsRetried,
		e.jobsFailed,
		e.jobsActive,
		e.jobLatency,
		e.lockAcquisitions,
		e.lockTakeovers,
		e.lockForceClears,
		e.engineRuns,
		e.engineLatency,
		e.engineCancelled,
	)

	return e
}

// RecordJob records a job reaching a terminal state.
func (e *PipelineExporter) RecordJob(outcome string, latency time.Duration) {
	e.jobsProcessed.WithLabelValues(outcome).Inc()
	e.jobLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// RecordRetry records an attempt rescheduled for retry.
func (e *PipelineExporter) RecordRetry() {
	e.jobsRetried.Inc()
}

// RecordFailure records a failed attempt by error category.
func (e *PipelineExporter) RecordFailure(category string) {
	e.jobsFailed.WithLabelValues(category).Inc()
}

// JobStarted marks a job as in flight.
func (e *PipelineExporter) JobStarted() {
	e.jobsActive.Inc()
}

// JobFinished marks a job as no longer in flight.
func (e *PipelineExporter) JobFinished() {
	e.jobsActive.Dec()
}

// RecordLockAcquisition records a lock acquisition attempt.
func (e *PipelineExporter) RecordLockAcquisition(acquired bool) {
	result := "acquired"
	if !acquired {
		result = "contended"
	}
	e.lockAcquisitions.WithLabelValues(result).Inc()
}

// RecordTakeover records a takeover of a held thread lock.
func (e *PipelineExporter) RecordTakeover() {
	e.lockTakeovers.Inc()
}

// RecordForceClear records an unconditional lock clear.
func (e *PipelineExporter) RecordForceClear() {
	e.lockForceClears.Inc()
}

// RecordEngineRun records a dispatched run and its wall time.
func (e *PipelineExporter) RecordEngineRun(status string, latency time.Duration) {
	e.engineRuns.WithLabelValues(status).Inc()
	e.engineLatency.WithLabelValues(status).Observe(latency.Seconds())
}

// RecordRunCancelled records a predecessor run cancelled during takeover.
func (e *PipelineExporter) RecordRunCancelled() {
	e.engineCancelled.Inc()
}

// Handler returns an HTTP handler serving the exporter's registry.
func (e *PipelineExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *PipelineExporter) Registry() *prometheus.Registry {
	return e.registry
}
