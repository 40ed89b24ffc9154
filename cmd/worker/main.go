package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"pulseboard/internal/artifact"
	"pulseboard/internal/cache"
	"pulseboard/internal/config"
	"pulseboard/internal/domain/entity"
	"pulseboard/internal/health"
	"pulseboard/internal/infra/provider"
	workerPkg "pulseboard/internal/infra/worker"
	"pulseboard/internal/observability/logging"
	"pulseboard/internal/observability/metrics"
	"pulseboard/internal/observability/slo"
	"pulseboard/internal/resilience/circuit"
	"pulseboard/internal/resilience/retry"
	"pulseboard/internal/statestore"
	fetchUC "pulseboard/internal/usecase/fetch"
	"pulseboard/pkg/clock"
	"pulseboard/pkg/runid"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	// Context for graceful shutdown of the ops servers.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load worker configuration (fail-open strategy)
	workerMetrics := workerPkg.NewWorkerMetrics()
	workerMetrics.MustRegister()
	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker configuration loaded",
		slog.String("cron_schedule", workerConfig.CronSchedule),
		slog.String("timezone", workerConfig.Timezone),
		slog.Duration("batch_timeout", workerConfig.BatchTimeout),
		slog.Int("metrics_port", workerConfig.MetricsPort),
		slog.Int("health_port", workerConfig.HealthPort))

	// Pipeline configuration fails hard: a worker with a broken retry
	// or state-store setup must not limp along silently.
	pipeConfig, err := config.Load()
	if err != nil {
		logger.Error("failed to load pipeline configuration", slog.Any("error", err))
		os.Exit(1)
	}

	sources, err := config.LoadSources(pipeConfig.SourcesPath)
	if err != nil {
		logger.Error("failed to load sources file",
			slog.String("path", pipeConfig.SourcesPath),
			slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("sources loaded",
		slog.String("path", pipeConfig.SourcesPath),
		slog.Int("count", len(sources.Endpoints())))

	store, storeCleanup := buildStateStore(ctx, logger, pipeConfig.State)
	defer storeCleanup()

	svc, writer, registry := setupFetchService(logger, pipeConfig, sources, store)

	// Start metrics HTTP server
	startMetricsServer(ctx, logger, registry, workerConfig.MetricsPort)

	// Start health check server
	healthAddr := fmt.Sprintf(":%d", workerConfig.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	logger.Info("health check server started", slog.String("addr", healthAddr))

	// First batch runs immediately so a fresh deployment has artifacts
	// before the first scheduled tick.
	runBatch(logger, svc, writer, registry, workerConfig, workerMetrics)

	startCronWorker(logger, svc, writer, registry, workerConfig, workerMetrics, healthServer)
}

// buildStateStore constructs the durable state backend selected by the
// configuration. The returned cleanup closes any underlying connection.
func buildStateStore(ctx context.Context, logger *slog.Logger, cfg config.StateConfig) (statestore.Store, func()) {
	noop := func() {}

	switch cfg.Backend {
	case "memory":
		logger.Warn("using in-memory state, circuit and cache state will not survive restarts")
		return statestore.NewMemoryStore(), noop

	case "file":
		store, err := statestore.NewFileStore(cfg.Dir)
		if err != nil {
			logger.Error("failed to open file state store",
				slog.String("dir", cfg.Dir),
				slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("state store ready", slog.String("backend", "file"), slog.String("dir", cfg.Dir))
		return store, noop

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("failed to reach redis",
				slog.String("addr", cfg.RedisAddr),
				slog.Any("error", err))
			os.Exit(1)
		}
		var store statestore.Store = statestore.NewRedisStore(client, cfg.Prefix)
		if cfg.Breaker {
			store = statestore.NewGuardedStore(store, "redis")
		}
		logger.Info("state store ready", slog.String("backend", "redis"), slog.String("addr", cfg.RedisAddr))
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis client", slog.Any("error", err))
			}
		}
		return store, cleanup

	case "postgres":
		db, err := statestore.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Error("failed to open postgres", slog.Any("error", err))
			os.Exit(1)
		}
		pg := statestore.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure postgres schema", slog.Any("error", err))
			os.Exit(1)
		}
		var store statestore.Store = pg
		if cfg.Breaker {
			store = statestore.NewGuardedStore(store, "postgres")
		}
		logger.Info("state store ready", slog.String("backend", "postgres"))
		cleanup := func() {
			if err := db.Close(); err != nil {
				logger.Error("failed to close postgres", slog.Any("error", err))
			}
		}
		return store, cleanup

	default:
		// Load() validates the backend name, so this is unreachable.
		logger.Error("unknown state backend", slog.String("backend", cfg.Backend))
		os.Exit(1)
		return nil, noop
	}
}

// setupFetchService wires the full fetch pipeline: providers, circuit
// registry, retry executor, caches, health checker, and the artifact
// writer that renders batch results.
func setupFetchService(logger *slog.Logger, cfg *config.Config, sources *config.SourcesFile, store statestore.Store) (*fetchUC.Service, *artifact.Writer, *circuit.Registry) {
	providerConfig, err := sources.Provider()
	if err != nil {
		logger.Error("failed to resolve source credentials", slog.Any("error", err))
		os.Exit(1)
	}

	httpClient := newHTTPClient(cfg.Network.Timeout)
	factory := provider.NewFactory(providerConfig, httpClient, clock.System())
	built := factory.Build()

	registry := circuit.NewRegistry(store, circuit.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		RecoveryTimeout:  cfg.Circuit.RecoveryTimeout,
	}, nil)

	executor := retry.New(retry.Config{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
	}, registry)

	responseCache, err := cache.NewResponseCache(store, nil)
	if err != nil {
		logger.Error("failed to create response cache", slog.Any("error", err))
		os.Exit(1)
	}
	fallbackStore := cache.NewFallbackStore(store, nil)
	checker := health.NewChecker(httpClient, cfg.Network.ProbeTimeout)

	fileTTLs := sources.TTLs()
	perEndpoint := make(map[entity.Endpoint]time.Duration)
	for _, endpoint := range sources.Endpoints() {
		perEndpoint[endpoint] = cfg.Cache.TTLFor(endpoint, fileTTLs[endpoint])
	}

	svc := fetchUC.NewService(
		built,
		registry,
		executor,
		responseCache,
		fallbackStore,
		checker,
		fetchUC.TTLConfig{Default: cfg.Cache.DefaultTTL, PerEndpoint: perEndpoint},
		fetchUC.Options{Parallelism: cfg.Fetch.Parallelism, Preflight: cfg.Fetch.Preflight},
	)

	detector := cache.NewChangeDetector(store, nil)
	writer, err := artifact.NewWriter(cfg.Artifact.Dir, detector, nil)
	if err != nil {
		logger.Error("failed to create artifact writer",
			slog.String("dir", cfg.Artifact.Dir),
			slog.Any("error", err))
		os.Exit(1)
	}

	return svc, writer, registry
}

// newHTTPClient creates the shared upstream HTTP client with connection
// pooling. TLS 1.2+ is enforced.
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

// startCronWorker starts the cron scheduler and runs the batch job
// periodically. It parks the main goroutine.
func startCronWorker(logger *slog.Logger, svc *fetchUC.Service, writer *artifact.Writer, registry *circuit.Registry, cfg *workerPkg.WorkerConfig, metrics *workerPkg.WorkerMetrics, healthServer *workerPkg.HealthServer) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", cfg.Timezone), slog.Any("error", err))
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))

	_, err = c.AddFunc(cfg.CronSchedule, func() {
		runBatch(logger, svc, writer, registry, cfg, metrics)
	})
	if err != nil {
		logger.Error("failed to add cron job", slog.Any("error", err))
		os.Exit(1)
	}
	c.Start()

	// Mark as ready after cron is set up
	healthServer.SetReady(true)
	logger.Info("worker started", slog.String("schedule", cfg.CronSchedule), slog.String("timezone", cfg.Timezone))
	select {}
}

// runBatch executes a single batch fetch with timeout, renders the
// artifacts, and publishes the run's metrics.
func runBatch(logger *slog.Logger, svc *fetchUC.Service, writer *artifact.Writer, registry *circuit.Registry, cfg *workerPkg.WorkerConfig, metrics *workerPkg.WorkerMetrics) {
	startTime := time.Now()
	metrics.RecordBatchRun("started")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.BatchTimeout)
	defer cancel()

	// Every run gets its own ID so one run's log lines correlate.
	ctx = runid.NewContext(ctx)
	runLogger := logging.WithRunID(ctx, logger)
	ctx = logging.WithLogger(ctx, runLogger)
	runLogger.Info("batch started")

	results, stats, err := svc.FetchAll(ctx)
	if err != nil {
		runLogger.Error("batch failed", slog.Any("error", err))
		metrics.RecordBatchRun("failure")
		metrics.RecordBatchDuration(time.Since(startTime).Seconds())
		return
	}

	artifacts := writer.WriteAll(ctx, results)

	metrics.RecordBatchRun("success")
	metrics.RecordBatchDuration(time.Since(startTime).Seconds())
	metrics.RecordEndpointsProcessed(stats.Endpoints)
	metrics.RecordLastSuccess()

	publishServiceObjectives(results, stats)
	publishCircuitStates(ctx, runLogger, registry)

	runLogger.Info("batch completed",
		slog.Int("endpoints", stats.Endpoints),
		slog.Int("fresh", stats.Fresh),
		slog.Int("cached", stats.Cached),
		slog.Int("fallback", stats.Fallback),
		slog.Int("unavailable", stats.Unavailable),
		slog.Int("skipped_preflight", stats.Skipped),
		slog.Int("artifacts_written", artifacts.Written),
		slog.Int("artifacts_skipped", artifacts.Skipped),
		slog.Int("artifacts_failed", artifacts.Failed),
		slog.Duration("duration", stats.Duration),
	)
}

// publishServiceObjectives derives the SLO gauges from one batch:
// availability (any payload served), freshness (fresh or cached among
// usable), staleness p95, and the unavailable rate.
func publishServiceObjectives(results []entity.FetchResult, stats *fetchUC.BatchStats) {
	if stats.Endpoints == 0 {
		return
	}

	total := float64(stats.Endpoints)
	usable := float64(stats.Fresh + stats.Cached + stats.Fallback)

	slo.UpdateDataAvailability(usable / total)
	slo.UpdateUnavailableRate(float64(stats.Unavailable) / total)
	if usable > 0 {
		slo.UpdateFreshness(float64(stats.Fresh+stats.Cached) / usable)
	}

	ages := make([]float64, 0, len(results))
	for _, result := range results {
		if result.HasPayload() {
			ages = append(ages, result.Age.Seconds())
		}
	}
	if len(ages) > 0 {
		sort.Float64s(ages)
		idx := (len(ages) * 95) / 100
		if idx >= len(ages) {
			idx = len(ages) - 1
		}
		slo.UpdateStalenessP95(ages[idx])
	}
}

// publishCircuitStates refreshes the per-endpoint circuit gauges after
// a batch, so dashboards track transitions even between scrapes of a
// mostly idle worker.
func publishCircuitStates(ctx context.Context, logger *slog.Logger, registry *circuit.Registry) {
	records, err := registry.All(ctx)
	if err != nil {
		logger.Warn("failed to read circuit states", slog.Any("error", err))
		return
	}
	for _, record := range records {
		metrics.UpdateCircuitState(record.Endpoint.String(), record.State)
	}
}
