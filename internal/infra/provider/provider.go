// Package provider implements the upstream API clients jobs pull from:
// weather conditions, geocoding, music listening history, sleep metrics
// and developer activity feeds. A source performs exactly one classified
// attempt per call; retry, circuit breaking and caching live above it in
// the fetch pipeline.
package provider

import (
	"context"

	"pulseboard/internal/domain/entity"
)

// Source is one upstream API.
type Source interface {
	// Endpoint identifies the upstream this source talks to.
	Endpoint() entity.Endpoint

	// CacheKey identifies the request parameters for response caching.
	// Sources asking for the same thing share cache entries.
	CacheKey() string

	// FetchOnce performs a single upstream attempt and returns the
	// canonical payload, always valid JSON ready for caching and
	// hashing. Failures are typed: NetworkError, HTTPServerError,
	// HTTPClientError and RateLimitError for transport and status
	// problems, ValidationError for malformed or incomplete bodies.
	FetchOnce(ctx context.Context) ([]byte, error)

	// Validate checks a payload against the source's schema. Cached
	// payloads are revalidated with this before being served.
	Validate(payload []byte) error

	// ProbeURL is the target a health check hits for this source.
	ProbeURL() string
}
