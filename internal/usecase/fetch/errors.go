// Package fetch provides the resilient data-access pipeline for upstream
// endpoints. A fetch consults the response cache, passes the circuit
// breaker gate, runs bounded retries against the source, and degrades to
// the last known good payload before admitting defeat. Batch runs fan
// out across endpoints with per-endpoint failure isolation.
package fetch

import "errors"

// Sentinel errors for fetch pipeline operations.
var (
	// ErrNoSource indicates that a fetch was requested for an endpoint
	// with no configured source.
	ErrNoSource = errors.New("no source configured for endpoint")

	// ErrProbeFailed marks an endpoint routed straight to degraded
	// serving because its preflight health probe failed.
	ErrProbeFailed = errors.New("preflight probe failed")
)
