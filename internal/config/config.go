// Package config loads the data-plane configuration shared by the worker
// and the CLI: retry and circuit policy, network timeouts, cache TTLs,
// state-store backend selection, and the sources file location. Every
// loader falls back to a documented default, so a half-configured
// environment produces a usable (if conservative) pipeline.
package config

import (
	"fmt"
	"time"

	"pulseboard/internal/domain/entity"
	env "pulseboard/pkg/config"
)

// Config is the root pipeline configuration.
type Config struct {
	Retry    RetryConfig
	Circuit  CircuitConfig
	Network  NetworkConfig
	Fetch    FetchConfig
	Cache    CacheConfig
	State    StateConfig
	Artifact ArtifactConfig

	// SourcesPath locates the YAML file describing the upstream
	// sources. Default: "configs/sources.yaml".
	SourcesPath string
}

// RetryConfig bounds the retry loop around one endpoint call.
type RetryConfig struct {
	// MaxRetries is the total attempt budget per invocation, the first
	// attempt included. Default: 3 (PULSE_MAX_RETRIES).
	MaxRetries int

	// InitialDelay seeds the doubling backoff schedule.
	// Default: 5s (PULSE_INITIAL_RETRY_DELAY).
	InitialDelay time.Duration
}

// CircuitConfig sets the per-endpoint breaker policy.
type CircuitConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a
	// circuit. Default: 3 (PULSE_CIRCUIT_THRESHOLD).
	FailureThreshold int

	// RecoveryTimeout is how long an open circuit blocks before one
	// trial call is allowed. Default: 300s (PULSE_CIRCUIT_TIMEOUT).
	RecoveryTimeout time.Duration
}

// NetworkConfig sets the outbound HTTP posture.
type NetworkConfig struct {
	// Timeout bounds each upstream request.
	// Default: 10s (PULSE_NETWORK_TIMEOUT).
	Timeout time.Duration

	// ProbeTimeout bounds each preflight health probe.
	// Default: 5s (PULSE_PROBE_TIMEOUT).
	ProbeTimeout time.Duration
}

// FetchConfig shapes the batch orchestration.
type FetchConfig struct {
	// Parallelism caps the endpoints fetched concurrently in a batch.
	// Default: 4 (PULSE_PARALLELISM).
	Parallelism int

	// Preflight enables the advisory health probe before each batch.
	// Default: true (PULSE_PREFLIGHT).
	Preflight bool
}

// CacheConfig sets response-cache freshness windows.
type CacheConfig struct {
	// DefaultTTL applies to endpoints without an override.
	// Default: 15m (PULSE_CACHE_TTL).
	DefaultTTL time.Duration

	// PerEndpoint holds the env-supplied TTL overrides
	// (PULSE_CACHE_TTL_WEATHER and friends). Only set entries appear.
	PerEndpoint map[entity.Endpoint]time.Duration
}

// StateConfig selects and parameterizes the durable state backend.
type StateConfig struct {
	// Backend is one of "memory", "file", "redis", "postgres".
	// Default: "file" (PULSE_STATE_BACKEND).
	Backend string

	// Dir is the file backend's directory.
	// Default: ".pulseboard/state" (PULSE_STATE_DIR).
	Dir string

	// Prefix namespaces keys on shared backends.
	// Default: "pulseboard" (PULSE_STATE_PREFIX).
	Prefix string

	// Breaker wraps remote backends in a circuit breaker so a dead
	// store degrades to errors instead of hangs.
	// Default: true (PULSE_STATE_BREAKER).
	Breaker bool

	// RedisAddr is the redis backend's host:port.
	// Default: "localhost:6379" (PULSE_REDIS_ADDR).
	RedisAddr string

	// RedisPassword is the redis AUTH password, empty for none
	// (PULSE_REDIS_PASSWORD).
	RedisPassword string

	// RedisDB is the redis database number. Default: 0 (PULSE_REDIS_DB).
	RedisDB int

	// PostgresDSN is the postgres backend's connection string
	// (PULSE_POSTGRES_DSN). Required when Backend is "postgres".
	PostgresDSN string
}

// ArtifactConfig locates the rendered output documents.
type ArtifactConfig struct {
	// Dir receives one JSON document per endpoint.
	// Default: "public/data" (PULSE_ARTIFACT_DIR).
	Dir string
}

// ttlOverrideVars maps each built-in endpoint to its TTL override
// variable. Unset or unparsable values leave the endpoint on DefaultTTL.
var ttlOverrideVars = map[entity.Endpoint]string{
	entity.EndpointWeather:  "PULSE_CACHE_TTL_WEATHER",
	entity.EndpointGeocode:  "PULSE_CACHE_TTL_GEOCODE",
	entity.EndpointMusic:    "PULSE_CACHE_TTL_MUSIC",
	entity.EndpointSleep:    "PULSE_CACHE_TTL_SLEEP",
	entity.EndpointActivity: "PULSE_CACHE_TTL_ACTIVITY",
}

// Load reads the pipeline configuration from the environment. Unset and
// unparsable variables fall back to defaults with a logged warning;
// Load fails only when the resulting configuration is semantically
// invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Retry: RetryConfig{
			MaxRetries:   env.GetEnvInt("PULSE_MAX_RETRIES", 3),
			InitialDelay: env.GetEnvDuration("PULSE_INITIAL_RETRY_DELAY", 5*time.Second),
		},
		Circuit: CircuitConfig{
			FailureThreshold: env.GetEnvInt("PULSE_CIRCUIT_THRESHOLD", 3),
			RecoveryTimeout:  env.GetEnvDuration("PULSE_CIRCUIT_TIMEOUT", 300*time.Second),
		},
		Network: NetworkConfig{
			Timeout:      env.GetEnvDuration("PULSE_NETWORK_TIMEOUT", 10*time.Second),
			ProbeTimeout: env.GetEnvDuration("PULSE_PROBE_TIMEOUT", 5*time.Second),
		},
		Fetch: FetchConfig{
			Parallelism: env.GetEnvInt("PULSE_PARALLELISM", 4),
			Preflight:   env.GetEnvBool("PULSE_PREFLIGHT", true),
		},
		Cache: CacheConfig{
			DefaultTTL:  env.GetEnvDuration("PULSE_CACHE_TTL", 15*time.Minute),
			PerEndpoint: loadTTLOverrides(),
		},
		State: StateConfig{
			Backend:       env.GetEnvString("PULSE_STATE_BACKEND", "file"),
			Dir:           env.GetEnvString("PULSE_STATE_DIR", ".pulseboard/state"),
			Prefix:        env.GetEnvString("PULSE_STATE_PREFIX", "pulseboard"),
			Breaker:       env.GetEnvBool("PULSE_STATE_BREAKER", true),
			RedisAddr:     env.GetEnvString("PULSE_REDIS_ADDR", "localhost:6379"),
			RedisPassword: env.GetEnvString("PULSE_REDIS_PASSWORD", ""),
			RedisDB:       env.GetEnvInt("PULSE_REDIS_DB", 0),
			PostgresDSN:   env.GetEnvString("PULSE_POSTGRES_DSN", ""),
		},
		Artifact: ArtifactConfig{
			Dir: env.GetEnvString("PULSE_ARTIFACT_DIR", "public/data"),
		},
		SourcesPath: env.GetEnvString("PULSE_SOURCES_FILE", "configs/sources.yaml"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}
	return cfg, nil
}

func loadTTLOverrides() map[entity.Endpoint]time.Duration {
	overrides := make(map[entity.Endpoint]time.Duration)
	for endpoint, key := range ttlOverrideVars {
		if ttl := env.GetEnvDuration(key, 0); ttl > 0 {
			overrides[endpoint] = ttl
		}
	}
	return overrides
}

// Validate checks configuration correctness.
func (c *Config) Validate() error {
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("PULSE_MAX_RETRIES must be at least 1")
	}

	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("PULSE_INITIAL_RETRY_DELAY must be positive")
	}

	if c.Circuit.FailureThreshold < 1 {
		return fmt.Errorf("PULSE_CIRCUIT_THRESHOLD must be at least 1")
	}

	if c.Circuit.RecoveryTimeout <= 0 {
		return fmt.Errorf("PULSE_CIRCUIT_TIMEOUT must be positive")
	}

	if c.Network.Timeout <= 0 {
		return fmt.Errorf("PULSE_NETWORK_TIMEOUT must be positive")
	}

	if c.Network.ProbeTimeout <= 0 {
		return fmt.Errorf("PULSE_PROBE_TIMEOUT must be positive")
	}

	if c.Fetch.Parallelism < 1 {
		return fmt.Errorf("PULSE_PARALLELISM must be at least 1")
	}

	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("PULSE_CACHE_TTL must be positive")
	}

	switch c.State.Backend {
	case "memory":
	case "file":
		if c.State.Dir == "" {
			return fmt.Errorf("PULSE_STATE_DIR is required for the file backend")
		}
	case "redis":
		if c.State.RedisAddr == "" {
			return fmt.Errorf("PULSE_REDIS_ADDR is required for the redis backend")
		}
	case "postgres":
		if c.State.PostgresDSN == "" {
			return fmt.Errorf("PULSE_POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("PULSE_STATE_BACKEND must be one of memory, file, redis, postgres (got %q)", c.State.Backend)
	}

	if c.Artifact.Dir == "" {
		return fmt.Errorf("PULSE_ARTIFACT_DIR cannot be empty")
	}

	if c.SourcesPath == "" {
		return fmt.Errorf("PULSE_SOURCES_FILE cannot be empty")
	}

	return nil
}

// TTLFor resolves the cache TTL for one endpoint: the env override if
// present, the sources-file value if given, otherwise DefaultTTL.
func (c *CacheConfig) TTLFor(endpoint entity.Endpoint, fromSources time.Duration) time.Duration {
	if ttl, ok := c.PerEndpoint[endpoint]; ok {
		return ttl
	}
	if fromSources > 0 {
		return fromSources
	}
	return c.DefaultTTL
}
