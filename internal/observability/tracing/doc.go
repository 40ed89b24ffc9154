// Package tracing provides OpenTelemetry tracing integration.
//
// Spans cover two surfaces: the worker's ops HTTP endpoints (via
// Middleware) and the logical fetch of one upstream endpoint (via
// StartFetchSpan). Exporter wiring is left to the deployment; without
// one, spans still propagate context between the two surfaces.
//
// Example usage:
//
//	import "pulseboard/internal/observability/tracing"
//
//	func fetchWeather(ctx context.Context) {
//	    ctx, span := tracing.StartFetchSpan(ctx, "weather")
//	    defer span.End()
//	    // ... circuit check, cache, retries ...
//	}
package tracing
