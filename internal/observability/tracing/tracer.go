package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the global tracer instance for the pulseboard application.
var tracer = otel.Tracer("pulseboard")

// GetTracer returns the global tracer for creating spans.
// This tracer can be used throughout the application to create new spans.
//
// Example usage:
//
//	ctx, span := tracing.GetTracer().Start(ctx, "operation-name")
//	defer span.End()
func GetTracer() trace.Tracer {
	return tracer
}

// StartFetchSpan opens a span covering one logical fetch of an endpoint,
// from circuit check through cache, retries, and fallback. The caller
// must End the returned span.
func StartFetchSpan(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "fetch "+endpoint,
		trace.WithAttributes(attribute.String("endpoint", endpoint)))
}
