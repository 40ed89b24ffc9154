// Package clock provides a small time abstraction so components that make
// time-based decisions (cache expiry, circuit recovery windows, backoff)
// can be tested deterministically.
package clock

import "time"

// Clock abstracts time access for testing.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (c *SystemClock) Now() time.Time {
	return time.Now()
}

// System returns the process-wide system clock.
func System() Clock {
	return &SystemClock{}
}
