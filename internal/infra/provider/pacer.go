package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Pacer spaces outbound requests to one upstream API. Providers enforce
// their own quotas; pacing on our side keeps a burst of jobs from
// tripping them in the first place.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a Pacer allowing requestsPerSecond sustained
// throughput with the given burst.
func NewPacer(requestsPerSecond float64, burst int) *Pacer {
	return &Pacer{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Wait blocks until the next request may proceed or the context is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
