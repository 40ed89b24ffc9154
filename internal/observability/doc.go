// Package observability provides production-grade observability infrastructure
// including structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// This package centralizes observability concerns to enable:
//   - Tracing one logical fetch across circuit, cache, and retry layers
//   - Structured logging with run ID propagation
//   - Prometheus metrics for monitoring
//   - SLO tracking for data availability and freshness
//
// Subpackages:
//   - logging: Structured logging utilities with slog
//   - metrics: Prometheus metrics registry and recorders
//   - slo: Service level objective targets and gauges
//   - tracing: OpenTelemetry tracing integration
//
// Example usage:
//
//	import (
//	    "pulseboard/internal/observability/logging"
//	    "pulseboard/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("worker started")
//
//	    metrics.RecordUpstreamRequest("weather", "200", 120*time.Millisecond)
//	}
package observability
