// Package resilience groups the fault tolerance layers that sit between
// the fetch pipeline and unreliable upstream APIs.
//
// The subpackages cooperate on every fetch:
//   - circuit: per-endpoint circuit breakers persisted in the state store
//   - retry: bounded exponential backoff with rate limit awareness
//   - ratelimit: throttling detection and Retry-After interpretation
//
// A retry executor reports each attempt outcome to the circuit registry,
// so repeated failures open the circuit and later batches skip the
// endpoint until the recovery window elapses.
//
// Example usage:
//
//	registry := circuit.NewRegistry(store, circuit.DefaultConfig(), nil)
//	executor := retry.New(retry.DefaultConfig(), registry)
//
//	payload, err := executor.Execute(ctx, entity.EndpointWeather, func(ctx context.Context, attempt int) ([]byte, error) {
//	    return fetchWeather(ctx)
//	})
package resilience
