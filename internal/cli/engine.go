package cli

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pulseboard/internal/artifact"
	"pulseboard/internal/cache"
	"pulseboard/internal/config"
	"pulseboard/internal/domain/entity"
	"pulseboard/internal/health"
	"pulseboard/internal/infra/provider"
	"pulseboard/internal/resilience/circuit"
	"pulseboard/internal/resilience/retry"
	"pulseboard/internal/statestore"
	"pulseboard/internal/usecase/fetch"
	"pulseboard/pkg/clock"
)

// Engine holds the pipeline components a command may need. The state
// store is opened lazily so read-only commands like health never touch
// redis or postgres.
type Engine struct {
	Config  *config.Config
	Sources *config.SourcesFile

	store   statestore.Store
	cleanup func()
}

var engine *Engine

// GetEngine loads configuration and the sources file, initializing the
// shared engine on first use.
func GetEngine() (*Engine, error) {
	if engine != nil {
		return engine, nil
	}

	// Commands print to stdout; keep pipeline logging on stderr and
	// quiet unless something is actually wrong.
	logLevel := slog.LevelWarn
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	path := cfg.SourcesPath
	if sourcesPath != "" {
		path = sourcesPath
	}
	sources, err := config.LoadSources(path)
	if err != nil {
		return nil, err
	}

	engine = &Engine{Config: cfg, Sources: sources}
	return engine, nil
}

// Store opens the configured state backend on first use.
func (e *Engine) Store(ctx context.Context) (statestore.Store, error) {
	if e.store != nil {
		return e.store, nil
	}

	store, cleanup, err := openStateStore(ctx, e.Config.State)
	if err != nil {
		return nil, err
	}
	e.store = store
	e.cleanup = cleanup
	return store, nil
}

// Close releases the state backend connection, if one was opened.
func (e *Engine) Close() {
	if e.cleanup != nil {
		e.cleanup()
		e.cleanup = nil
	}
	e.store = nil
}

// openStateStore mirrors the worker's backend selection but reports
// failures as errors so commands can exit cleanly.
func openStateStore(ctx context.Context, cfg config.StateConfig) (statestore.Store, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case "memory":
		return statestore.NewMemoryStore(), noop, nil

	case "file":
		store, err := statestore.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, noop, fmt.Errorf("open file state store %s: %w", cfg.Dir, err)
		}
		return store, noop, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("reach redis at %s: %w", cfg.RedisAddr, err)
		}
		var store statestore.Store = statestore.NewRedisStore(client, cfg.Prefix)
		if cfg.Breaker {
			store = statestore.NewGuardedStore(store, "redis")
		}
		return store, func() { _ = client.Close() }, nil

	case "postgres":
		db, err := statestore.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres: %w", err)
		}
		pg := statestore.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			closePostgres(db)
			return nil, noop, fmt.Errorf("ensure postgres schema: %w", err)
		}
		var store statestore.Store = pg
		if cfg.Breaker {
			store = statestore.NewGuardedStore(store, "postgres")
		}
		return store, func() { closePostgres(db) }, nil

	default:
		return nil, noop, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

func closePostgres(db *sql.DB) {
	_ = db.Close()
}

// buildSources resolves credentials and constructs every configured
// source keyed by endpoint.
func (e *Engine) buildSources(httpClient *http.Client) (map[entity.Endpoint]provider.Source, error) {
	providerConfig, err := e.Sources.Provider()
	if err != nil {
		return nil, err
	}
	factory := provider.NewFactory(providerConfig, httpClient, clock.System())
	return factory.Build(), nil
}

// buildPipeline wires the full fetch service plus the artifact writer
// against the shared state store.
func (e *Engine) buildPipeline(ctx context.Context) (*fetch.Service, *artifact.Writer, error) {
	store, err := e.Store(ctx)
	if err != nil {
		return nil, nil, err
	}

	httpClient := newHTTPClient(e.Config.Network.Timeout)
	built, err := e.buildSources(httpClient)
	if err != nil {
		return nil, nil, err
	}

	registry := e.circuitRegistry(store)
	executor := retry.New(retry.Config{
		MaxRetries:   e.Config.Retry.MaxRetries,
		InitialDelay: e.Config.Retry.InitialDelay,
	}, registry)

	responseCache, err := cache.NewResponseCache(store, nil)
	if err != nil {
		return nil, nil, err
	}
	fallbackStore := cache.NewFallbackStore(store, nil)
	checker := health.NewChecker(httpClient, e.Config.Network.ProbeTimeout)

	fileTTLs := e.Sources.TTLs()
	perEndpoint := make(map[entity.Endpoint]time.Duration)
	for _, endpoint := range e.Sources.Endpoints() {
		perEndpoint[endpoint] = e.Config.Cache.TTLFor(endpoint, fileTTLs[endpoint])
	}

	svc := fetch.NewService(
		built,
		registry,
		executor,
		responseCache,
		fallbackStore,
		checker,
		fetch.TTLConfig{Default: e.Config.Cache.DefaultTTL, PerEndpoint: perEndpoint},
		fetch.Options{Parallelism: e.Config.Fetch.Parallelism, Preflight: e.Config.Fetch.Preflight},
	)

	detector := cache.NewChangeDetector(store, nil)
	writer, err := artifact.NewWriter(e.Config.Artifact.Dir, detector, nil)
	if err != nil {
		return nil, nil, err
	}

	return svc, writer, nil
}

// circuitRegistry builds the registry over an already opened store.
func (e *Engine) circuitRegistry(store statestore.Store) *circuit.Registry {
	return circuit.NewRegistry(store, circuit.Config{
		FailureThreshold: e.Config.Circuit.FailureThreshold,
		RecoveryTimeout:  e.Config.Circuit.RecoveryTimeout,
	}, nil)
}

// knownEndpoint checks name against the configured sources.
func (e *Engine) knownEndpoint(name string) (entity.Endpoint, error) {
	endpoint := entity.Endpoint(name)
	if err := endpoint.Validate(); err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", name, err)
	}
	configured := e.Sources.Endpoints()
	for _, candidate := range configured {
		if candidate == endpoint {
			return endpoint, nil
		}
	}
	names := make([]string, len(configured))
	for i, candidate := range configured {
		names[i] = candidate.String()
	}
	return "", fmt.Errorf("unknown endpoint %q (configured: %s)", name, strings.Join(names, ", "))
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// --- Command Implementations ---

// RunHealth probes every configured source and prints one line per
// probe. It returns an error when any probe fails.
func RunHealth(ctx context.Context) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	httpClient := newHTTPClient(e.Config.Network.Timeout)
	built, err := e.buildSources(httpClient)
	if err != nil {
		return err
	}

	targets := make([]health.Target, 0, len(built))
	for _, endpoint := range e.Sources.Endpoints() {
		source, ok := built[endpoint]
		if !ok {
			continue
		}
		targets = append(targets, health.Target{Endpoint: endpoint, URL: source.ProbeURL()})
	}
	if len(targets) == 0 {
		return fmt.Errorf("no sources configured")
	}

	checker := health.NewChecker(httpClient, e.Config.Network.ProbeTimeout)
	results := checker.ProbeAll(ctx, targets)

	failed := 0
	for _, result := range results {
		mark := "ok"
		if !result.OK {
			mark = "FAIL"
			failed++
		}
		fmt.Printf("%-10s %-5s status=%d latency=%s\n",
			result.Endpoint, mark, result.StatusCode, result.Latency.Round(time.Millisecond))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d probes failed", failed, len(results))
	}
	fmt.Printf("all %d probes passed\n", len(results))
	return nil
}

// RunFetch fetches the named sources (all configured sources when names
// is empty), writes artifacts, and prints one line per result. It
// returns an error when any source ends up unavailable.
func RunFetch(ctx context.Context, names []string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	svc, writer, err := e.buildPipeline(ctx)
	if err != nil {
		return err
	}

	var results []entity.FetchResult
	if len(names) == 0 {
		all, _, err := svc.FetchAll(ctx)
		if err != nil {
			return err
		}
		results = all
	} else {
		endpoints := make([]entity.Endpoint, 0, len(names))
		for _, name := range names {
			endpoint, err := e.knownEndpoint(name)
			if err != nil {
				return err
			}
			endpoints = append(endpoints, endpoint)
		}
		for _, endpoint := range endpoints {
			results = append(results, svc.Fetch(ctx, endpoint))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Endpoint < results[j].Endpoint
	})

	unavailable := 0
	for _, result := range results {
		written, writeErr := writer.Write(ctx, result.Endpoint.String(), result)
		describeResult(result, written, writeErr, writer)
		if result.Status == entity.StatusUnavailable {
			unavailable++
		}
	}

	if unavailable > 0 {
		return fmt.Errorf("%d of %d sources unavailable", unavailable, len(results))
	}
	return nil
}

// describeResult prints one line for a fetch result and its artifact.
func describeResult(result entity.FetchResult, written bool, writeErr error, writer *artifact.Writer) {
	detail := ""
	switch result.Status {
	case entity.StatusFresh:
		detail = fmt.Sprintf("%d bytes", len(result.Payload))
	case entity.StatusCached, entity.StatusFallback:
		detail = fmt.Sprintf("%d bytes, age %s", len(result.Payload), result.Age.Round(time.Second))
	case entity.StatusUnavailable:
		detail = result.Err.Error()
	}

	artifactNote := ""
	switch {
	case writeErr != nil:
		artifactNote = fmt.Sprintf(" (artifact write failed: %v)", writeErr)
	case written:
		artifactNote = fmt.Sprintf(" -> %s", writer.Path(result.Endpoint.String()))
	default:
		artifactNote = " (artifact unchanged)"
	}

	fmt.Printf("%-10s %-12s %s%s\n", result.Endpoint, result.Status, detail, artifactNote)
}

// RunCircuitList prints every recorded circuit state.
func RunCircuitList(ctx context.Context) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	store, err := e.Store(ctx)
	if err != nil {
		return err
	}

	records, err := e.circuitRegistry(store).All(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no circuit state recorded")
		return nil
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Endpoint < records[j].Endpoint
	})

	fmt.Printf("%-12s %-10s %-9s %-25s %s\n", "ENDPOINT", "STATE", "FAILURES", "LAST FAILURE", "UPDATED")
	for _, record := range records {
		lastFailure := "-"
		if !record.LastFailureAt.IsZero() {
			lastFailure = record.LastFailureAt.UTC().Format(time.RFC3339)
		}
		fmt.Printf("%-12s %-10s %-9d %-25s %s\n",
			record.Endpoint,
			record.State,
			record.FailureCount,
			lastFailure,
			record.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// RunCircuitReset forces the circuit for an endpoint back to closed.
func RunCircuitReset(ctx context.Context, name string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	endpoint, err := e.knownEndpoint(name)
	if err != nil {
		return err
	}

	store, err := e.Store(ctx)
	if err != nil {
		return err
	}

	if err := e.circuitRegistry(store).Reset(ctx, endpoint); err != nil {
		return fmt.Errorf("reset circuit for %s: %w", endpoint, err)
	}
	fmt.Printf("circuit for %s reset to closed\n", endpoint)
	return nil
}

// RunCachePurge drops every cached response recorded for an endpoint.
// Fallback copies are not touched.
func RunCachePurge(ctx context.Context, name string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	endpoint, err := e.knownEndpoint(name)
	if err != nil {
		return err
	}

	store, err := e.Store(ctx)
	if err != nil {
		return err
	}
	responseCache, err := cache.NewResponseCache(store, nil)
	if err != nil {
		return err
	}

	keys, err := responseCache.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list cache keys: %w", err)
	}

	prefix := endpoint.String() + ":"
	purged := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := responseCache.Invalidate(ctx, key); err != nil {
			return fmt.Errorf("purge %s: %w", key, err)
		}
		purged++
	}

	if purged == 0 {
		fmt.Printf("no cached responses for %s\n", endpoint)
		return nil
	}
	fmt.Printf("purged %d cached response(s) for %s\n", purged, endpoint)
	return nil
}
