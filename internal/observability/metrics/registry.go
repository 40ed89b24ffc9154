// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upstream metrics track calls against third-party APIs
var (
	// UpstreamRequestsTotal counts upstream HTTP attempts by endpoint and status
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total number of upstream HTTP attempts",
		},
		[]string{"endpoint", "status"},
	)

	// UpstreamRequestDuration measures upstream call duration in seconds
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Upstream HTTP call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// UpstreamRateLimitedTotal counts rate-limit responses, split by whether
	// the server supplied a usable Retry-After hint
	UpstreamRateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_rate_limited_total",
			Help: "Total number of rate-limit responses from upstreams",
		},
		[]string{"endpoint", "hinted"},
	)
)

// Fetch pipeline metrics track what consumers actually received
var (
	// FetchOutcomesTotal counts completed fetches by endpoint and outcome
	// (fresh, cached, fallback, unavailable)
	FetchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_outcomes_total",
			Help: "Total number of completed fetches by outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// FetchAttemptsPerCall measures how many attempts one logical fetch needed
	FetchAttemptsPerCall = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_attempts_per_call",
			Help:    "Number of upstream attempts one logical fetch consumed",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
		[]string{"endpoint"},
	)

	// ServedPayloadAgeSeconds measures the age of non-fresh payloads handed
	// to consumers
	ServedPayloadAgeSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "served_payload_age_seconds",
			Help: "Age of cached or fallback payloads handed to consumers",
			Buckets: []float64{
				60, 300, 900, 3600, 14400, 43200, 86400,
				259200, 604800, 2592000, // up to 30 days
			},
		},
		[]string{"endpoint", "outcome"},
	)
)

// Circuit breaker metrics track endpoint isolation
var (
	// CircuitState reports each endpoint's circuit state
	// (0=closed, 1=half-open, 2=open)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_state",
			Help: "Circuit state per endpoint (0=closed, 1=half-open, 2=open)",
		},
		[]string{"endpoint"},
	)

	// CircuitOpenedTotal counts closed-to-open transitions
	CircuitOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_opened_total",
			Help: "Total number of times an endpoint's circuit opened",
		},
		[]string{"endpoint"},
	)

	// CircuitBlockedTotal counts fetches refused without network I/O
	CircuitBlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_blocked_total",
			Help: "Total number of fetches blocked by an open circuit",
		},
		[]string{"endpoint"},
	)
)

// Cache metrics track the response cache and fallback store
var (
	// CacheReadsTotal counts cache lookups by store and result
	// (store: response, fallback; result: hit, miss)
	CacheReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_reads_total",
			Help: "Total number of cache lookups",
		},
		[]string{"store", "result"},
	)

	// ChangeDetectionsTotal counts change-detector verdicts
	// (result: regenerate, skip)
	ChangeDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_detections_total",
			Help: "Total number of change detector verdicts",
		},
		[]string{"result"},
	)
)

// Health probe metrics track preflight checks
var (
	// HealthProbesTotal counts probes by endpoint and result
	HealthProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "health_probes_total",
			Help: "Total number of health probes",
		},
		[]string{"endpoint", "result"},
	)

	// HealthProbeDuration measures probe latency in seconds
	HealthProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "health_probe_duration_seconds",
			Help:    "Health probe latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"endpoint"},
	)
)

// State store metrics track the durable persistence layer
var (
	// StateOpDuration measures state store operation duration
	StateOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "state_op_duration_seconds",
			Help:    "State store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)

	// StateOpErrorsTotal counts failed state store operations
	StateOpErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "state_op_errors_total",
			Help: "Total number of failed state store operations",
		},
		[]string{"operation"},
	)

	// StateVersionConflictsTotal counts compare-and-swap retries caused by
	// concurrent writers
	StateVersionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "state_version_conflicts_total",
			Help: "Total number of version conflicts during state writes",
		},
	)
)

// RecordUpstreamRequest records one upstream HTTP attempt with its metadata
func RecordUpstreamRequest(endpoint, status string, duration time.Duration) {
	UpstreamRequestsTotal.WithLabelValues(endpoint, status).Inc()
	UpstreamRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordStateOp records the duration and outcome of a state store operation
func RecordStateOp(operation string, duration time.Duration, err error) {
	StateOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StateOpErrorsTotal.WithLabelValues(operation).Inc()
	}
}
