// Package runid tags each job invocation with a unique run ID so log
// lines from overlapping runs can be told apart. Jobs are short-lived
// processes or cron ticks rather than HTTP requests, so the ID is
// minted at the start of a run instead of being read from a header.
package runid

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// RunIDKey is the context key for storing run IDs.
const RunIDKey contextKey = "run_id"

// New generates a fresh run ID (UUID v4).
func New() string {
	return uuid.New().String()
}

// FromContext retrieves the run ID from the context.
// Returns an empty string if no run ID is set.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

// NewContext mints a fresh run ID and attaches it to ctx in one step.
func NewContext(ctx context.Context) context.Context {
	return WithRunID(ctx, New())
}
