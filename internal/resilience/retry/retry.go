// Package retry executes a single logical fetch with bounded
// exponential backoff. It reports every attempt outcome to the circuit
// breaker registry and honors server-requested rate limit waits.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pulseboard/internal/domain/entity"
)

// Config holds the configuration for retry logic.
type Config struct {
	// MaxRetries is the total attempt budget, counting the first call.
	MaxRetries int

	// InitialDelay is the wait before the second attempt. Each later
	// wait doubles the previous one.
	InitialDelay time.Duration
}

// DefaultConfig returns the standard retry budget for upstream fetches.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 5 * time.Second,
	}
}

// AttemptFunc performs one network call and returns the fetched payload.
// Errors must come from the entity taxonomy so they classify correctly.
type AttemptFunc func(ctx context.Context, attempt int) ([]byte, error)

// Reporter receives the outcome of every attempt. The circuit breaker
// registry implements it; reporting failures here is what eventually
// opens a circuit.
type Reporter interface {
	RecordFailure(ctx context.Context, endpoint entity.Endpoint) error
	RecordSuccess(ctx context.Context, endpoint entity.Endpoint) error
}

// Executor runs attempts sequentially with exponential backoff.
type Executor struct {
	cfg      Config
	reporter Reporter
	sleep    func(ctx context.Context, d time.Duration) error
}

// New returns an Executor. reporter may be nil when no circuit tracking
// is wanted, such as in one-off CLI probes.
func New(cfg Config, reporter Reporter) *Executor {
	return &Executor{cfg: cfg, reporter: reporter, sleep: sleepContext}
}

// Execute runs fn until it succeeds, returns a non-retryable error, or
// the attempt budget is spent. The wait before attempt k+1 is
// InitialDelay doubled k-1 times; a rate limit hint from the server can
// raise a wait but never lower it.
func (e *Executor) Execute(ctx context.Context, endpoint entity.Endpoint, fn AttemptFunc) ([]byte, error) {
	maxAttempts := e.cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		payload, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				slog.Info("fetch succeeded after retry",
					slog.String("endpoint", endpoint.String()),
					slog.Int("attempt", attempt))
			}
			e.reportSuccess(ctx, endpoint)
			return payload, nil
		}

		lastErr = err
		e.reportFailure(ctx, endpoint)

		if !entity.Retryable(err) {
			slog.Warn("non-retryable error, aborting",
				slog.String("endpoint", endpoint.String()),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := e.delayAfter(attempt, err)
		slog.Warn("attempt failed, retrying",
			slog.String("endpoint", endpoint.String()),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxAttempts),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		if err := e.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("retry aborted: %w", err)
		}
	}

	return nil, fmt.Errorf("max retries (%d) exhausted: %w", maxAttempts, lastErr)
}

// Trial runs exactly one attempt with no backoff. The circuit registry
// permits a single probe while half-open, so the full budget must not
// be spent there.
func (e *Executor) Trial(ctx context.Context, endpoint entity.Endpoint, fn AttemptFunc) ([]byte, error) {
	payload, err := fn(ctx, 1)
	if err == nil {
		e.reportSuccess(ctx, endpoint)
		return payload, nil
	}
	e.reportFailure(ctx, endpoint)
	return nil, err
}

// delayAfter computes the wait after failed attempt k. The schedule is
// InitialDelay * 2^(k-1); a server hint wins only when it asks for more.
func (e *Executor) delayAfter(attempt int, err error) time.Duration {
	delay := e.cfg.InitialDelay << (attempt - 1)

	var rl *entity.RateLimitError
	if errors.As(err, &rl) {
		if hint, ok := rl.Hint(); ok && hint > delay {
			return hint
		}
	}
	return delay
}

// Reporter errors are logged, never returned to the caller.
func (e *Executor) reportSuccess(ctx context.Context, endpoint entity.Endpoint) {
	if e.reporter == nil {
		return
	}
	if err := e.reporter.RecordSuccess(ctx, endpoint); err != nil {
		slog.Error("recording fetch success failed",
			slog.String("endpoint", endpoint.String()),
			slog.Any("error", err))
	}
}

func (e *Executor) reportFailure(ctx context.Context, endpoint entity.Endpoint) {
	if e.reporter == nil {
		return
	}
	if err := e.reporter.RecordFailure(ctx, endpoint); err != nil {
		slog.Error("recording fetch failure failed",
			slog.String("endpoint", endpoint.String()),
			slog.Any("error", err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
