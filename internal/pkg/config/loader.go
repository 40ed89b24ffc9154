// Package config implements validated environment loading with an
// explicit fallback contract: a loader never returns an error, it
// returns the default plus a warning whenever the set value cannot be
// parsed or fails validation. Components feed the warnings into logs
// and the fallback counters into metrics so a misconfigured deployment
// is visible instead of silently half-applied.
package config

import (
	"fmt"
	"os"
	"time"
)

// ConfigLoadResult carries one loaded value together with the warnings
// produced while loading it. FallbackApplied is true when the default
// replaced a set-but-invalid value; an unset variable is not a
// fallback.
type ConfigLoadResult struct {
	Value           interface{}
	Warnings        []string
	FallbackApplied bool
}

// LoadEnvString returns the variable's value, or defaultValue when
// unset or empty. No validation, no warnings.
func LoadEnvString(envKey, defaultValue string) string {
	value := os.Getenv(envKey)
	if value == "" {
		return defaultValue
	}
	return value
}

// LoadEnvWithFallback loads a string and runs it through validator
// (nil skips validation). Invalid values fall back to defaultValue
// with a warning.
func LoadEnvWithFallback(envKey, defaultValue string, validator func(string) error) ConfigLoadResult {
	value := os.Getenv(envKey)
	if value == "" {
		return ConfigLoadResult{Value: defaultValue}
	}
	if validator != nil {
		if err := validator(value); err != nil {
			return fallbackResult(envKey, value, defaultValue, err)
		}
	}
	return ConfigLoadResult{Value: value}
}

// LoadEnvDuration loads a time.ParseDuration value ("30s", "1h30m")
// and validates it (nil skips validation). Unparseable or invalid
// values fall back to defaultValue with a warning.
func LoadEnvDuration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) ConfigLoadResult {
	valueStr := os.Getenv(envKey)
	if valueStr == "" {
		return ConfigLoadResult{Value: defaultValue}
	}

	parsed, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallbackResult(envKey, valueStr, defaultValue, err)
	}
	if validator != nil {
		if err := validator(parsed); err != nil {
			return fallbackResult(envKey, valueStr, defaultValue, err)
		}
	}
	return ConfigLoadResult{Value: parsed}
}

// LoadEnvInt loads an integer and validates it (nil skips validation).
// Unparseable or invalid values fall back to defaultValue with a
// warning.
func LoadEnvInt(envKey string, defaultValue int, validator func(int) error) ConfigLoadResult {
	valueStr := os.Getenv(envKey)
	if valueStr == "" {
		return ConfigLoadResult{Value: defaultValue}
	}

	var parsed int
	if _, err := fmt.Sscanf(valueStr, "%d", &parsed); err != nil {
		return fallbackResult(envKey, valueStr, defaultValue, fmt.Errorf("invalid integer format"))
	}
	if validator != nil {
		if err := validator(parsed); err != nil {
			return fallbackResult(envKey, valueStr, defaultValue, err)
		}
	}
	return ConfigLoadResult{Value: parsed}
}

// LoadEnvBool loads a boolean. Accepted spellings follow
// strconv.ParseBool ("1", "t", "true", "0", "f", "false" and their
// case variants); anything else falls back to defaultValue with a
// warning.
func LoadEnvBool(envKey string, defaultValue bool) ConfigLoadResult {
	valueStr := os.Getenv(envKey)
	if valueStr == "" {
		return ConfigLoadResult{Value: defaultValue}
	}

	switch valueStr {
	case "1", "t", "T", "true", "TRUE", "True":
		return ConfigLoadResult{Value: true}
	case "0", "f", "F", "false", "FALSE", "False":
		return ConfigLoadResult{Value: false}
	default:
		err := fmt.Errorf("invalid boolean format, expected 'true' or 'false'")
		return fallbackResult(envKey, valueStr, defaultValue, err)
	}
}

func fallbackResult(envKey, raw string, defaultValue interface{}, err error) ConfigLoadResult {
	warning := fmt.Sprintf("Invalid %s='%s': %v, falling back to default '%v'",
		envKey, raw, err, defaultValue)
	return ConfigLoadResult{
		Value:           defaultValue,
		Warnings:        []string{warning},
		FallbackApplied: true,
	}
}
