// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes all application metrics including:
//   - Upstream HTTP metrics (attempts, duration, rate limiting)
//   - Fetch pipeline metrics (outcomes, attempts per call, payload age)
//   - Circuit breaker and cache metrics
//   - State store operation metrics
//
// All metrics are automatically registered with the Prometheus default registry
// and exposed via the /metrics endpoint of the worker's ops server.
//
// Example usage:
//
//	import "pulseboard/internal/observability/metrics"
//
//	func fetchEndpoint(endpoint string) {
//	    start := time.Now()
//	    // ... call the upstream ...
//
//	    metrics.RecordUpstreamRequest(endpoint, "200", time.Since(start))
//	}
package metrics
