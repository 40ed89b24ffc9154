package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"pulseboard/internal/cache"
	"pulseboard/internal/domain/entity"
	"pulseboard/internal/health"
	"pulseboard/internal/infra/provider"
	"pulseboard/internal/observability/logging"
	"pulseboard/internal/observability/metrics"
	"pulseboard/internal/observability/tracing"
	"pulseboard/internal/resilience/circuit"
	"pulseboard/internal/resilience/retry"
)

const defaultParallelism = 4

// TTLConfig sets how long cached responses stay valid. Staleness
// tolerance differs by data volatility, so endpoints override the
// default individually (geocoding results live days, weather an hour).
type TTLConfig struct {
	Default     time.Duration
	PerEndpoint map[entity.Endpoint]time.Duration
}

// For returns the TTL for an endpoint.
func (c TTLConfig) For(endpoint entity.Endpoint) time.Duration {
	if ttl, ok := c.PerEndpoint[endpoint]; ok && ttl > 0 {
		return ttl
	}
	if c.Default > 0 {
		return c.Default
	}
	return time.Hour
}

// Options holds configuration for batch fetch behavior.
type Options struct {
	// Parallelism is the maximum number of endpoints fetched
	// concurrently in FetchAll.
	Parallelism int

	// Preflight probes every endpoint once before a batch. Endpoints
	// whose probe fails are served degraded without burning the retry
	// budget against a dependency that is objectively down.
	Preflight bool
}

// Service runs the fetch pipeline. It orchestrates the response cache,
// the circuit breaker gate, retries against the configured sources, and
// fallback serving.
type Service struct {
	Sources  map[entity.Endpoint]provider.Source
	Circuit  *circuit.Registry
	Retry    *retry.Executor
	Cache    *cache.ResponseCache
	Fallback *cache.FallbackStore
	Health   *health.Checker
	ttls     TTLConfig
	opts     Options
}

// NewService creates a fetch Service with the provided dependencies.
//
// Parameters:
//   - sources: configured sources keyed by endpoint
//   - registry: durable circuit breaker registry, checked before attempts
//   - executor: retry executor reporting attempt outcomes to the registry
//   - responseCache: TTL-bound response cache, consulted before the network
//   - fallbackStore: last-known-good store, the final resort
//   - checker: health prober for batch preflight (can be nil to disable)
//   - ttls: per-endpoint cache TTLs
//   - opts: batch parallelism and preflight switches
func NewService(
	sources map[entity.Endpoint]provider.Source,
	registry *circuit.Registry,
	executor *retry.Executor,
	responseCache *cache.ResponseCache,
	fallbackStore *cache.FallbackStore,
	checker *health.Checker,
	ttls TTLConfig,
	opts Options,
) *Service {
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	return &Service{
		Sources:  sources,
		Circuit:  registry,
		Retry:    executor,
		Cache:    responseCache,
		Fallback: fallbackStore,
		Health:   checker,
		ttls:     ttls,
		opts:     opts,
	}
}

// Fetch runs the full pipeline for one endpoint and always returns a
// result; failures surface as StatusUnavailable with the cause attached,
// never as a bare error. The order is fixed: cache, circuit gate,
// attempts, fallback.
func (s *Service) Fetch(ctx context.Context, endpoint entity.Endpoint) entity.FetchResult {
	ctx, span := tracing.StartFetchSpan(ctx, endpoint.String())
	defer span.End()

	logger := logging.WithEndpoint(logging.FromContext(ctx), endpoint.String())

	source, ok := s.Sources[endpoint]
	if !ok {
		result := entity.Unavailable(endpoint, fmt.Errorf("%s: %w", endpoint, ErrNoSource))
		metrics.RecordFetchOutcome(result, 0)
		return result
	}

	if hit, ok := s.Cache.Get(ctx, source.CacheKey(), source.Validate); ok {
		metrics.RecordCacheRead(true)
		logger.Debug("serving cached payload", slog.Duration("age", hit.Age))
		result := entity.Cached(endpoint, hit.Payload, hit.Age)
		metrics.RecordFetchOutcome(result, 0)
		return result
	}
	metrics.RecordCacheRead(false)

	decision, err := s.Circuit.Check(ctx, endpoint)
	if err != nil {
		// A broken bookkeeping store must not block live fetches.
		logger.Error("circuit check failed, proceeding as allowed", slog.Any("error", err))
		decision = circuit.Decision{State: entity.CircuitClosed, Allowed: true}
	}
	if !decision.Allowed {
		metrics.RecordCircuitBlocked(endpoint.String())
		logger.Warn("circuit blocking calls, serving degraded",
			slog.String("state", decision.State.String()),
			slog.Duration("retry_after", decision.RetryAfter))
		cause := &entity.CircuitOpenError{Endpoint: endpoint, RetryAfter: decision.RetryAfter}
		return s.serveFallback(ctx, logger, endpoint, cause, 0)
	}

	attempts := 0
	attemptFn := func(ctx context.Context, attempt int) ([]byte, error) {
		attempts = attempt
		return source.FetchOnce(ctx)
	}

	var payload []byte
	if decision.State == entity.CircuitHalfOpen {
		payload, err = s.Retry.Trial(ctx, endpoint, attemptFn)
	} else {
		payload, err = s.Retry.Execute(ctx, endpoint, attemptFn)
	}
	if err != nil {
		logger.Warn("attempts exhausted, serving degraded",
			slog.Int("attempts", attempts),
			slog.Any("error", err))
		return s.serveFallback(ctx, logger, endpoint, err, attempts)
	}

	s.storeSuccess(ctx, logger, source, payload)
	result := entity.Fresh(endpoint, payload)
	metrics.RecordFetchOutcome(result, attempts)
	return result
}

// BatchStats contains statistics about one batch run.
type BatchStats struct {
	Endpoints   int
	Fresh       int
	Cached      int
	Fallback    int
	Unavailable int
	Skipped     int
	Duration    time.Duration
}

// FetchAll fetches every configured endpoint. Failures are isolated: one
// endpoint ending Unavailable never aborts the others. The returned
// error is non-nil only when the context is canceled mid-batch.
func (s *Service) FetchAll(ctx context.Context) ([]entity.FetchResult, *BatchStats, error) {
	logger := logging.FromContext(ctx)
	start := time.Now()

	endpoints := make([]entity.Endpoint, 0, len(s.Sources))
	for endpoint := range s.Sources {
		endpoints = append(endpoints, endpoint)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i] < endpoints[j] })

	var unhealthy map[entity.Endpoint]bool
	if s.opts.Preflight && s.Health != nil {
		unhealthy = s.preflight(ctx, logger, endpoints)
	}

	sem := make(chan struct{}, s.opts.Parallelism)
	results := make([]entity.FetchResult, len(endpoints))
	eg, egCtx := errgroup.WithContext(ctx)

	for i, endpoint := range endpoints {
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := egCtx.Err(); err != nil {
				results[i] = entity.Unavailable(endpoint, err)
				return err
			}

			if unhealthy[endpoint] {
				results[i] = s.fetchDegraded(egCtx, endpoint)
			} else {
				results[i] = s.Fetch(egCtx, endpoint)
			}
			return nil
		})
	}
	err := eg.Wait()

	stats := tally(results, unhealthy)
	stats.Duration = time.Since(start)
	logger.Info("batch fetch completed",
		slog.Int("endpoints", stats.Endpoints),
		slog.Int("fresh", stats.Fresh),
		slog.Int("cached", stats.Cached),
		slog.Int("fallback", stats.Fallback),
		slog.Int("unavailable", stats.Unavailable),
		slog.Int("skipped", stats.Skipped),
		slog.Duration("duration", stats.Duration),
	)
	return results, stats, err
}

// preflight probes every endpoint once and returns the set whose probe
// failed. Probes are advisory: they route endpoints around the retry
// budget but never touch circuit state.
func (s *Service) preflight(ctx context.Context, logger *slog.Logger, endpoints []entity.Endpoint) map[entity.Endpoint]bool {
	targets := make([]health.Target, 0, len(endpoints))
	for _, endpoint := range endpoints {
		targets = append(targets, health.Target{Endpoint: endpoint, URL: s.Sources[endpoint].ProbeURL()})
	}

	unhealthy := make(map[entity.Endpoint]bool)
	for _, probe := range s.Health.ProbeAll(ctx, targets) {
		metrics.RecordHealthProbe(probe)
		if !probe.OK {
			unhealthy[probe.Endpoint] = true
			logger.Warn("preflight probe failed, will serve degraded",
				slog.String("endpoint", probe.Endpoint.String()),
				slog.Int("status", probe.StatusCode),
				slog.Duration("latency", probe.Latency))
		}
	}
	return unhealthy
}

// fetchDegraded serves an endpoint without touching the network: cache
// if a valid entry survives, otherwise fallback. Used when preflight
// already established the dependency is down.
func (s *Service) fetchDegraded(ctx context.Context, endpoint entity.Endpoint) entity.FetchResult {
	logger := logging.WithEndpoint(logging.FromContext(ctx), endpoint.String())

	source, ok := s.Sources[endpoint]
	if !ok {
		result := entity.Unavailable(endpoint, fmt.Errorf("%s: %w", endpoint, ErrNoSource))
		metrics.RecordFetchOutcome(result, 0)
		return result
	}

	if hit, ok := s.Cache.Get(ctx, source.CacheKey(), source.Validate); ok {
		metrics.RecordCacheRead(true)
		result := entity.Cached(endpoint, hit.Payload, hit.Age)
		metrics.RecordFetchOutcome(result, 0)
		return result
	}
	metrics.RecordCacheRead(false)

	cause := fmt.Errorf("%s: %w", endpoint, ErrProbeFailed)
	return s.serveFallback(ctx, logger, endpoint, cause, 0)
}

// serveFallback is the last step of every failed pipeline: hand out the
// endpoint's last known good payload with its age, or surface the cause
// when none exists.
func (s *Service) serveFallback(ctx context.Context, logger *slog.Logger, endpoint entity.Endpoint, cause error, attempts int) entity.FetchResult {
	hit, ok := s.Fallback.Get(ctx, endpoint)
	metrics.RecordFallbackRead(ok)
	if !ok {
		logger.Error("no fallback record, endpoint unavailable", slog.Any("cause", cause))
		result := entity.Unavailable(endpoint, cause)
		metrics.RecordFetchOutcome(result, attempts)
		return result
	}

	logger.Info("serving last known good payload",
		slog.Duration("age", hit.Age),
		slog.Time("stored_at", hit.StoredAt))
	result := entity.Fallback(endpoint, hit.Payload, hit.Age)
	metrics.RecordFetchOutcome(result, attempts)
	return result
}

// storeSuccess writes the validated payload to both stores. The cache
// entry expires by TTL; the fallback record is only ever replaced by the
// next success. Write failures are logged, not returned: the payload in
// hand is already a good result.
func (s *Service) storeSuccess(ctx context.Context, logger *slog.Logger, source provider.Source, payload []byte) {
	endpoint := source.Endpoint()
	ttl := s.ttls.For(endpoint)
	if err := s.Cache.Put(ctx, source.CacheKey(), payload, ttl); err != nil {
		logger.Error("caching payload failed", slog.Any("error", err))
	}
	if err := s.Fallback.Put(ctx, endpoint, payload); err != nil {
		logger.Error("storing fallback payload failed", slog.Any("error", err))
	}
}

func tally(results []entity.FetchResult, unhealthy map[entity.Endpoint]bool) *BatchStats {
	stats := &BatchStats{Endpoints: len(results)}
	for _, result := range results {
		switch result.Status {
		case entity.StatusFresh:
			stats.Fresh++
		case entity.StatusCached:
			stats.Cached++
		case entity.StatusFallback:
			stats.Fallback++
		case entity.StatusUnavailable:
			stats.Unavailable++
		}
		if unhealthy[result.Endpoint] {
			stats.Skipped++
		}
	}
	return stats
}
