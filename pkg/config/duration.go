package config

import (
	"fmt"
	"time"
)

// ValidatePositiveDuration validates that a duration is positive (greater
// than zero).
//
// This is commonly used for timeout, TTL, and backoff validation where a
// non-zero, positive value is required.
//
// Example:
//
//	if err := ValidatePositiveDuration(cfg.NetworkTimeout); err != nil {
//	    return fmt.Errorf("invalid network timeout: %w", err)
//	}
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %v", d)
	}
	return nil
}

// ValidateDurationRange validates that a duration is within a specified
// range. The duration must be >= min and <= max (inclusive).
//
// Example:
//
//	// Probe budgets beyond a few seconds defeat their purpose.
//	if err := ValidateDurationRange(cfg.ProbeTimeout, time.Second, 10*time.Second); err != nil {
//	    return fmt.Errorf("invalid probe timeout: %w", err)
//	}
func ValidateDurationRange(d, min, max time.Duration) error {
	if min > max {
		return fmt.Errorf("invalid range: min (%v) cannot be greater than max (%v)", min, max)
	}

	if d < min {
		return fmt.Errorf("duration %v is below minimum %v", d, min)
	}

	if d > max {
		return fmt.Errorf("duration %v exceeds maximum %v", d, max)
	}

	return nil
}

// ValidateNonNegativeDuration validates that a duration is non-negative.
//
// Useful for optional delays where zero disables the behavior but negative
// values are meaningless.
func ValidateNonNegativeDuration(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("duration must be non-negative, got %v", d)
	}
	return nil
}
