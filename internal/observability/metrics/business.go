package metrics

import (
	"pulseboard/internal/domain/entity"
)

// RecordFetchOutcome records the terminal outcome of one logical fetch.
// Attempts is the number of upstream calls the fetch consumed; zero means
// no network I/O happened (cache hit or blocked circuit).
func RecordFetchOutcome(result entity.FetchResult, attempts int) {
	endpoint := result.Endpoint.String()
	FetchOutcomesTotal.WithLabelValues(endpoint, result.Status.String()).Inc()

	if attempts > 0 {
		FetchAttemptsPerCall.WithLabelValues(endpoint).Observe(float64(attempts))
	}
	if result.Status == entity.StatusCached || result.Status == entity.StatusFallback {
		ServedPayloadAgeSeconds.WithLabelValues(endpoint, result.Status.String()).Observe(result.Age.Seconds())
	}
}

// RecordRateLimited records an upstream rate-limit response.
// Hinted indicates whether the server supplied a usable Retry-After value.
func RecordRateLimited(endpoint string, hinted bool) {
	label := "no_hint"
	if hinted {
		label = "hinted"
	}
	UpstreamRateLimitedTotal.WithLabelValues(endpoint, label).Inc()
}

// RecordCircuitBlocked records a fetch refused without network I/O because
// the endpoint's circuit was open.
func RecordCircuitBlocked(endpoint string) {
	CircuitBlockedTotal.WithLabelValues(endpoint).Inc()
}

// RecordCircuitOpened records a closed-to-open transition for an endpoint.
func RecordCircuitOpened(endpoint string) {
	CircuitOpenedTotal.WithLabelValues(endpoint).Inc()
}

// UpdateCircuitState updates the per-endpoint circuit state gauge.
// This gauge should be refreshed periodically from the circuit registry.
func UpdateCircuitState(endpoint string, state entity.CircuitState) {
	var v float64
	switch state {
	case entity.CircuitClosed:
		v = 0
	case entity.CircuitHalfOpen:
		v = 1
	case entity.CircuitOpen:
		v = 2
	}
	CircuitState.WithLabelValues(endpoint).Set(v)
}

// RecordCacheRead records a response cache lookup.
func RecordCacheRead(hit bool) {
	recordRead("response", hit)
}

// RecordFallbackRead records a fallback store lookup.
func RecordFallbackRead(hit bool) {
	recordRead("fallback", hit)
}

func recordRead(store string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheReadsTotal.WithLabelValues(store, result).Inc()
}

// RecordChangeDetection records a change detector verdict.
func RecordChangeDetection(regenerate bool) {
	result := "skip"
	if regenerate {
		result = "regenerate"
	}
	ChangeDetectionsTotal.WithLabelValues(result).Inc()
}

// RecordHealthProbe records the outcome of one preflight probe.
func RecordHealthProbe(result entity.HealthCheckResult) {
	status := "fail"
	if result.OK {
		status = "pass"
	}
	HealthProbesTotal.WithLabelValues(result.Endpoint.String(), status).Inc()
	HealthProbeDuration.WithLabelValues(result.Endpoint.String()).Observe(result.Latency.Seconds())
}

// RecordStateVersionConflict records one compare-and-swap retry caused by a
// concurrent writer.
func RecordStateVersionConflict() {
	StateVersionConflictsTotal.Inc()
}
