// Package worker holds the scheduling-side infrastructure of the fetch
// worker: its configuration, its job metrics, and the readiness server
// the orchestrator flips once the scheduler is running.
package worker

import (
	"fmt"
	"log/slog"
	"time"

	"pulseboard/internal/pkg/config"
)

// WorkerConfig controls the cron loop around batch fetches. Values come
// from the environment with validated fallbacks, so a bad deployment
// degrades to defaults instead of refusing to start.
type WorkerConfig struct {
	// CronSchedule is the five-field cron expression for batch runs.
	// Default: "*/15 * * * *" (every fifteen minutes).
	CronSchedule string

	// Timezone is the IANA zone the schedule is evaluated in.
	// Default: "UTC".
	Timezone string

	// BatchTimeout bounds one whole batch, preflight and retries
	// included. Default: 5 minutes.
	BatchTimeout time.Duration

	// MetricsPort serves /metrics, /health, and /health/endpoints.
	// Default: 9090.
	MetricsPort int

	// HealthPort serves the liveness and readiness probes.
	// Default: 9091.
	HealthPort int
}

// DefaultConfig returns the worker defaults: a fifteen-minute refresh in
// UTC with a five-minute batch budget.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		CronSchedule: "*/15 * * * *",
		Timezone:     "UTC",
		BatchTimeout: 5 * time.Minute,
		MetricsPort:  9090,
		HealthPort:   9091,
	}
}

// Validate checks every field and reports all violations at once.
func (c *WorkerConfig) Validate() error {
	var errs []error

	if err := config.ValidateCronSchedule(c.CronSchedule); err != nil {
		errs = append(errs, fmt.Errorf("cron schedule: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if err := config.ValidateDuration(c.BatchTimeout, 30*time.Second, time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("batch timeout: %w", err))
	}
	if err := config.ValidateIntRange(c.MetricsPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("metrics port: %w", err))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}

// LoadConfigFromEnv loads the worker configuration with per-field
// fallbacks. Invalid values keep their defaults, log a warning, and
// bump the config metrics; the returned error is always nil so the
// worker starts even when the environment is broken.
//
// Environment variables:
//   - PULSE_SCHEDULE: cron expression (default "*/15 * * * *")
//   - PULSE_TIMEZONE: IANA zone name (default "UTC")
//   - PULSE_BATCH_TIMEOUT: duration, 30s to 1h (default "5m")
//   - PULSE_METRICS_PORT: 1024-65535 (default 9090)
//   - PULSE_HEALTH_PORT: 1024-65535 (default 9091)
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()
	fallbackApplied := false

	result := config.LoadEnvWithFallback("PULSE_SCHEDULE", cfg.CronSchedule, config.ValidateCronSchedule)
	cfg.CronSchedule = result.Value.(string)
	fallbackApplied = noteFallback(logger, metrics, "cron_schedule", result) || fallbackApplied

	result = config.LoadEnvWithFallback("PULSE_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.Timezone = result.Value.(string)
	fallbackApplied = noteFallback(logger, metrics, "timezone", result) || fallbackApplied

	result = config.LoadEnvDuration("PULSE_BATCH_TIMEOUT", cfg.BatchTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, 30*time.Second, time.Hour)
	})
	cfg.BatchTimeout = result.Value.(time.Duration)
	fallbackApplied = noteFallback(logger, metrics, "batch_timeout", result) || fallbackApplied

	result = config.LoadEnvInt("PULSE_METRICS_PORT", cfg.MetricsPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})
	cfg.MetricsPort = result.Value.(int)
	fallbackApplied = noteFallback(logger, metrics, "metrics_port", result) || fallbackApplied

	result = config.LoadEnvInt("PULSE_HEALTH_PORT", cfg.HealthPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})
	cfg.HealthPort = result.Value.(int)
	fallbackApplied = noteFallback(logger, metrics, "health_port", result) || fallbackApplied

	metrics.SetFallbackActive("", fallbackApplied)
	metrics.RecordLoadTimestamp()

	return &cfg, nil
}

// noteFallback records one field's load result and reports whether a
// fallback was applied.
func noteFallback(logger *slog.Logger, metrics *WorkerMetrics, field string, result config.ConfigLoadResult) bool {
	if !result.FallbackApplied {
		return false
	}
	metrics.RecordValidationError(field)
	metrics.RecordFallback(field, "default")
	for _, warning := range result.Warnings {
		logger.Warn("configuration fallback applied",
			slog.String("field", field),
			slog.String("warning", warning))
	}
	return true
}
