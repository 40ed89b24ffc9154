package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pulseboard/internal/pkg/config"
)

// WorkerMetrics tracks the cron loop: run counts by status, run
// duration, how many endpoints each batch touched, and when the last
// successful run finished. Configuration health comes from the
// embedded ConfigMetrics.
type WorkerMetrics struct {
	*config.ConfigMetrics

	// BatchRunsTotal counts batch runs by status (started, success,
	// failure).
	BatchRunsTotal *prometheus.CounterVec

	// BatchDurationSeconds measures end-to-end batch duration.
	BatchDurationSeconds prometheus.Histogram

	// EndpointsProcessedTotal counts endpoints handled across all runs.
	EndpointsProcessedTotal prometheus.Counter

	// LastSuccessTimestamp is the Unix time of the last successful run.
	LastSuccessTimestamp prometheus.Gauge
}

// NewWorkerMetrics registers the worker metric family with the default
// registry.
func NewWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker"),

		BatchRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_batch_runs_total",
			Help: "Total number of batch fetch runs by status",
		}, []string{"status"}),

		BatchDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_batch_duration_seconds",
			Help:    "Duration of batch fetch runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),

		EndpointsProcessedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worker_endpoints_processed_total",
			Help: "Total number of endpoints processed across all batch runs",
		}),

		LastSuccessTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worker_batch_last_success_timestamp",
			Help: "Unix timestamp of the last successful batch run",
		}),
	}
}

// MustRegister exists for symmetry with explicit-registry setups.
// Registration already happened through promauto in NewWorkerMetrics.
func (m *WorkerMetrics) MustRegister() {}

// RecordBatchRun counts one run with the given status.
func (m *WorkerMetrics) RecordBatchRun(status string) {
	m.BatchRunsTotal.WithLabelValues(status).Inc()
}

// RecordBatchDuration observes one run's duration in seconds.
func (m *WorkerMetrics) RecordBatchDuration(seconds float64) {
	m.BatchDurationSeconds.Observe(seconds)
}

// RecordEndpointsProcessed adds one run's endpoint count to the total.
func (m *WorkerMetrics) RecordEndpointsProcessed(count int) {
	m.EndpointsProcessedTotal.Add(float64(count))
}

// RecordLastSuccess marks now as the last successful run.
func (m *WorkerMetrics) RecordLastSuccess() {
	m.LastSuccessTimestamp.SetToCurrentTime()
}
