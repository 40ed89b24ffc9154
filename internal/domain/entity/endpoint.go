// Package entity defines the core domain types for the resilient data-access
// layer: upstream endpoints, the durable state records shared by independent
// job invocations, fetch results, and the error taxonomy used for retry
// classification.
package entity

import (
	"fmt"
	"regexp"
)

// maxEndpointNameLength bounds endpoint names so they stay usable as state
// keys and metric label values.
const maxEndpointNameLength = 64

var endpointNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Endpoint is the logical name of an upstream dependency (e.g., "weather",
// "geocode"). It is the unit of circuit-breaker and cache partitioning.
// Endpoints are immutable and created at configuration time.
type Endpoint string

// Endpoints wired up by the default configuration. Deployments may
// register additional ones as long as the names pass Validate.
const (
	EndpointWeather  Endpoint = "weather"
	EndpointGeocode  Endpoint = "geocode"
	EndpointMusic    Endpoint = "music"
	EndpointSleep    Endpoint = "sleep"
	EndpointActivity Endpoint = "activity"
)

// String returns the endpoint name.
func (e Endpoint) String() string {
	return string(e)
}

// Validate checks that the endpoint name is usable as a state-store key and
// a metric label: lowercase alphanumerics, underscores, and hyphens only.
func (e Endpoint) Validate() error {
	if e == "" {
		return &ValidationError{Field: "endpoint", Message: "name is required"}
	}
	if len(e) > maxEndpointNameLength {
		return &ValidationError{
			Field:   "endpoint",
			Message: fmt.Sprintf("name must not exceed %d characters", maxEndpointNameLength),
		}
	}
	if !endpointNamePattern.MatchString(string(e)) {
		return &ValidationError{
			Field:   "endpoint",
			Message: "name must match [a-z0-9][a-z0-9_-]*",
		}
	}
	return nil
}
