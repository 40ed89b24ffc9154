package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulseboard/internal/domain/entity"
	"pulseboard/internal/observability/tracing"
	"pulseboard/internal/resilience/circuit"
)

// HealthResponse represents a simple health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// EndpointHealthResponse represents the circuit state of all upstream endpoints.
type EndpointHealthResponse struct {
	Healthy   bool             `json:"healthy"`
	Endpoints []EndpointStatus `json:"endpoints"`
}

// EndpointStatus represents the circuit state of a single upstream endpoint.
type EndpointStatus struct {
	Endpoint      string     `json:"endpoint"`
	State         string     `json:"state"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// startMetricsServer starts the Prometheus metrics HTTP server on the given
// port. It runs in a separate goroutine and supports graceful shutdown via
// context.
//
// The server exposes the following endpoints:
//   - GET /metrics - Prometheus metrics endpoint (scraped by Prometheus server)
//   - GET /health - Simple liveness probe (always returns 200 OK)
//   - GET /health/endpoints - Per-endpoint circuit state (503 if any circuit is open)
//
// Graceful shutdown:
//   - When ctx is canceled, the server gracefully shuts down within 5 seconds
//   - All in-flight requests are allowed to complete
//   - Shutdown errors are logged but do not block process termination
func startMetricsServer(ctx context.Context, logger *slog.Logger, registry *circuit.Registry, port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	mux.HandleFunc("/health", healthHandler)
	if registry != nil {
		mux.HandleFunc("/health/endpoints", endpointHealthHandler(logger, registry))
	} else {
		mux.HandleFunc("/health/endpoints", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "circuit registry not initialized",
			})
		})
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      tracing.Middleware(mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in background goroutine
	go func() {
		logger.Info("metrics server starting", slog.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("metrics server shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", slog.Any("error", err))
		} else {
			logger.Info("metrics server stopped")
		}
	}()

	return server
}

// healthHandler handles GET /health requests (liveness probe).
// Always returns 200 OK with {"status": "healthy"}.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
}

// endpointHealthHandler creates a handler for GET /health/endpoints.
// Returns 200 OK while every tracked circuit is closed or half-open.
// Returns 503 Service Unavailable if any circuit is open.
func endpointHealthHandler(logger *slog.Logger, registry *circuit.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := registry.All(r.Context())
		if err != nil {
			logger.Error("failed to read circuit states", slog.Any("error", err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "failed to read circuit states",
			})
			return
		}

		endpoints := make([]EndpointStatus, 0, len(records))
		healthy := true

		for _, record := range records {
			status := EndpointStatus{
				Endpoint:     record.Endpoint.String(),
				State:        record.State.String(),
				FailureCount: record.FailureCount,
				UpdatedAt:    record.UpdatedAt,
			}
			if !record.LastFailureAt.IsZero() {
				lastFailure := record.LastFailureAt
				status.LastFailureAt = &lastFailure
			}
			endpoints = append(endpoints, status)

			if record.State == entity.CircuitOpen {
				healthy = false
			}
		}

		statusCode := http.StatusOK
		if !healthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(EndpointHealthResponse{
			Healthy:   healthy,
			Endpoints: endpoints,
		})
	}
}
