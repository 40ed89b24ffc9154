package entity

import (
	"encoding/json"
	"time"
)

// FetchStatus describes how a fetch result was obtained.
type FetchStatus int

const (
	// StatusFresh means the payload came from a successful upstream call.
	StatusFresh FetchStatus = iota

	// StatusCached means the payload was served from the response cache.
	StatusCached

	// StatusFallback means live retrieval failed and the payload is the
	// endpoint's last known good value.
	StatusFallback

	// StatusUnavailable means no payload could be produced at all.
	StatusUnavailable
)

// String returns a string representation of the fetch status.
func (s FetchStatus) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusCached:
		return "cached"
	case StatusFallback:
		return "fallback"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// FetchResult is what the data-access layer hands to consumers. Exactly one
// of the four statuses applies; consumers must handle all four and must not
// assume Fresh always occurs.
type FetchResult struct {
	Endpoint Endpoint
	Status   FetchStatus
	Payload  json.RawMessage

	// Age is how old the payload is. Zero for fresh payloads; for cached
	// and fallback payloads it is derived from the stored timestamp.
	Age time.Duration

	// Err is set only when Status is StatusUnavailable.
	Err error
}

// Fresh builds a result for a payload just fetched from the upstream.
func Fresh(endpoint Endpoint, payload []byte) FetchResult {
	return FetchResult{Endpoint: endpoint, Status: StatusFresh, Payload: payload}
}

// Cached builds a result served from the response cache.
func Cached(endpoint Endpoint, payload []byte, age time.Duration) FetchResult {
	return FetchResult{Endpoint: endpoint, Status: StatusCached, Payload: payload, Age: age}
}

// Fallback builds a degraded result served from the last-known-good store.
func Fallback(endpoint Endpoint, payload []byte, age time.Duration) FetchResult {
	return FetchResult{Endpoint: endpoint, Status: StatusFallback, Payload: payload, Age: age}
}

// Unavailable builds a result for an endpoint that produced no payload.
func Unavailable(endpoint Endpoint, err error) FetchResult {
	return FetchResult{Endpoint: endpoint, Status: StatusUnavailable, Err: err}
}

// Degraded reports whether the payload is stale or absent.
func (r FetchResult) Degraded() bool {
	return r.Status == StatusFallback || r.Status == StatusUnavailable
}

// HasPayload reports whether the result carries a usable payload.
func (r FetchResult) HasPayload() bool {
	return r.Status != StatusUnavailable && len(r.Payload) > 0
}
