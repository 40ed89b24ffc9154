package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"pulseboard/pkg/runid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewLogger tests the creation of a new JSON logger
func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
	}{
		{
			name:     "default log level (info)",
			logLevel: "",
		},
		{
			name:     "debug log level",
			logLevel: "debug",
		},
		{
			name:     "invalid log level defaults to info",
			logLevel: "invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			if tt.logLevel != "" {
				os.Setenv("LOG_LEVEL", tt.logLevel)
				defer os.Unsetenv("LOG_LEVEL")
			}

			// Act
			logger := NewLogger()

			// Assert
			assert.NotNil(t, logger, "logger should not be nil")
		})
	}
}

// TestNewTextLogger tests the creation of a new text logger
func TestNewTextLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
	}{
		{
			name:     "default log level",
			logLevel: "",
		},
		{
			name:     "debug log level",
			logLevel: "debug",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			if tt.logLevel != "" {
				os.Setenv("LOG_LEVEL", tt.logLevel)
				defer os.Unsetenv("LOG_LEVEL")
			}

			// Act
			logger := NewTextLogger()

			// Assert
			assert.NotNil(t, logger, "logger should not be nil")
		})
	}
}

// TestLogger_LogLevels tests logging at different levels
func TestLogger_LogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(*slog.Logger, string)
		message string
		level   string
	}{
		{
			name:    "info level logging",
			logFunc: func(l *slog.Logger, m string) { l.Info(m) },
			message: "test info message",
			level:   "INFO",
		},
		{
			name:    "debug level logging when enabled",
			logFunc: func(l *slog.Logger, m string) { l.Debug(m) },
			message: "test debug message",
			level:   "DEBUG",
		},
		{
			name:    "warn level logging",
			logFunc: func(l *slog.Logger, m string) { l.Warn(m) },
			message: "test warn message",
			level:   "WARN",
		},
		{
			name:    "error level logging",
			logFunc: func(l *slog.Logger, m string) { l.Error(m) },
			message: "test error message",
			level:   "ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			var buf bytes.Buffer
			handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
				Level: slog.LevelDebug, // Allow all levels for testing
			})
			logger := slog.New(handler)

			// Act
			tt.logFunc(logger, tt.message)

			// Assert
			output := buf.String()
			assert.Contains(t, output, tt.message, "output should contain the message")
			assert.Contains(t, output, tt.level, "output should contain the log level")

			// Verify JSON structure
			var logEntry map[string]interface{}
			err := json.Unmarshal(buf.Bytes(), &logEntry)
			require.NoError(t, err, "output should be valid JSON")
			assert.Equal(t, tt.message, logEntry["msg"], "JSON should contain correct message")
			assert.Equal(t, tt.level, logEntry["level"], "JSON should contain correct level")
			assert.NotEmpty(t, logEntry["time"], "JSON should contain timestamp")
		})
	}
}

// TestLogger_DebugLevelFiltering tests that debug messages are filtered when not enabled
func TestLogger_DebugLevelFiltering(t *testing.T) {
	// Arrange - Create logger with INFO level (default)
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler)

	// Act - Try to log at debug level
	logger.Debug("this should not appear")
	logger.Info("this should appear")

	// Assert
	output := buf.String()
	assert.NotContains(t, output, "this should not appear", "debug message should be filtered")
	assert.Contains(t, output, "this should appear", "info message should be logged")
}

// TestWithRunID tests adding the run ID to the logger
func TestWithRunID(t *testing.T) {
	tests := []struct {
		name  string
		runID string
	}{
		{
			name:  "with plain run ID",
			runID: "run-123",
		},
		{
			name:  "with UUID run ID",
			runID: "550e8400-e29b-41d4-a716-446655440000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			var buf bytes.Buffer
			handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			})
			baseLogger := slog.New(handler)

			ctx := runid.WithRunID(context.Background(), tt.runID)

			// Act
			logger := WithRunID(ctx, baseLogger)
			logger.Info("test message")

			// Assert
			var logEntry map[string]interface{}
			err := json.Unmarshal(buf.Bytes(), &logEntry)
			require.NoError(t, err, "output should be valid JSON")
			assert.Equal(t, tt.runID, logEntry["run_id"], "run_id should match")
		})
	}
}

// TestWithRunID_EmptyRunID tests behavior when the context carries no run ID
func TestWithRunID_EmptyRunID(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	baseLogger := slog.New(handler)

	ctx := context.Background() // No run ID

	// Act
	logger := WithRunID(ctx, baseLogger)
	logger.Info("test message")

	// Assert - Should return the same logger without adding run_id
	output := buf.String()
	assert.Contains(t, output, "test message", "message should be logged")
	assert.NotContains(t, output, "run_id", "should not contain run_id field")
}

// TestWithEndpoint tests scoping a logger to one endpoint
func TestWithEndpoint(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	baseLogger := slog.New(handler)

	// Act
	logger := WithEndpoint(baseLogger, "weather")
	logger.Info("fetch started")

	// Assert
	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err, "output should be valid JSON")
	assert.Equal(t, "weather", logEntry["endpoint"], "endpoint should match")
}

// TestWithFields tests adding structured fields to logger
func TestWithFields(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]interface{}
	}{
		{
			name: "single string field",
			fields: map[string]interface{}{
				"endpoint": "weather",
			},
		},
		{
			name: "multiple mixed fields",
			fields: map[string]interface{}{
				"endpoint": "geocode",
				"outcome":  "fallback",
				"attempts": 3,
				"cached":   true,
			},
		},
		{
			name: "numeric fields",
			fields: map[string]interface{}{
				"failure_count": 2,
				"age_seconds":   7200.0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			var buf bytes.Buffer
			handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			})
			baseLogger := slog.New(handler)

			// Act
			logger := WithFields(baseLogger, tt.fields)
			logger.Info("test message")

			// Assert
			var logEntry map[string]interface{}
			err := json.Unmarshal(buf.Bytes(), &logEntry)
			require.NoError(t, err, "output should be valid JSON")

			for key := range tt.fields {
				assert.Contains(t, logEntry, key, "output should contain field: %s", key)
			}
		})
	}
}

// TestFromContext tests retrieving a logger from the context
func TestFromContext(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	stored := slog.New(handler)

	ctx := WithLogger(context.Background(), stored)

	// Act
	logger := FromContext(ctx)
	logger.Info("from context")

	// Assert - The stored logger should be returned and write to our buffer
	assert.Contains(t, buf.String(), "from context")
}

// TestFromContext_Fallback tests the default logger fallback
func TestFromContext_Fallback(t *testing.T) {
	// Act
	logger := FromContext(context.Background())

	// Assert
	assert.NotNil(t, logger, "should fall back to the default logger")
}
