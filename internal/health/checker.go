// Package health implements the preflight probe that lets callers skip
// a whole batch of fetches when a dependency is known down. Probes are
// advisory: they bypass the retry executor and never touch circuit
// state, and a passing probe does not guarantee the real fetch
// succeeds.
package health

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"pulseboard/internal/domain/entity"
)

// DefaultProbeTimeout is the per-probe budget. It is deliberately
// separate from the network timeout of real fetches: probes exist to
// fail fast.
const DefaultProbeTimeout = 5 * time.Second

// probeBodyLimit caps how much of a probe response gets drained before
// the connection is returned to the pool.
const probeBodyLimit = 4 << 10

// Target describes one endpoint probe.
type Target struct {
	Endpoint entity.Endpoint
	URL      string
}

// Checker issues single-shot reachability probes.
type Checker struct {
	client  *http.Client
	timeout time.Duration
}

// NewChecker returns a checker using client for its probes. A nil
// client falls back to http.DefaultClient; a non-positive timeout falls
// back to DefaultProbeTimeout.
func NewChecker(client *http.Client, timeout time.Duration) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Checker{client: client, timeout: timeout}
}

// Probe issues one GET against the target and reports the outcome.
// There is exactly one attempt. Any HTTP response below 500 counts as
// reachable: a 4xx proves the dependency is up even when the probe URL
// itself is not servable without authentication.
func (c *Checker) Probe(ctx context.Context, target Target) entity.HealthCheckResult {
	result := entity.HealthCheckResult{Endpoint: target.Endpoint}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		slog.Warn("health probe request invalid",
			slog.String("endpoint", target.Endpoint.String()),
			slog.Any("error", err))
		return result
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		slog.Warn("health probe unreachable",
			slog.String("endpoint", target.Endpoint.String()),
			slog.Duration("latency", result.Latency),
			slog.Any("error", err))
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, probeBodyLimit))

	result.StatusCode = resp.StatusCode
	result.OK = resp.StatusCode < http.StatusInternalServerError
	if !result.OK {
		slog.Warn("health probe failed",
			slog.String("endpoint", target.Endpoint.String()),
			slog.Int("status_code", resp.StatusCode),
			slog.Duration("latency", result.Latency))
	}
	return result
}

// ProbeAll probes every target concurrently and returns results in
// input order. One unreachable endpoint never blocks or fails the
// others.
func (c *Checker) ProbeAll(ctx context.Context, targets []Target) []entity.HealthCheckResult {
	results := make([]entity.HealthCheckResult, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Probe(ctx, target)
		}()
	}
	wg.Wait()

	return results
}

// AllPassed reports whether every probe in results succeeded. An empty
// result set passes.
func AllPassed(results []entity.HealthCheckResult) bool {
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}
