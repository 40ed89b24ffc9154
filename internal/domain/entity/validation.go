package entity

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// maxURLLength defines the maximum allowed length for upstream base URLs.
const maxURLLength = 2048

// ValidateBaseURL validates the format of an upstream base URL from source
// configuration. It checks that the URL is well-formed, uses the HTTP or
// HTTPS scheme, and has a host. No network lookups are performed; workers
// must be able to validate configuration offline.
func ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return &ValidationError{Field: "base_url", Message: "URL is required"}
	}

	if len(rawURL) > maxURLLength {
		return &ValidationError{
			Field:   "base_url",
			Message: fmt.Sprintf("url must not exceed %d characters", maxURLLength),
		}
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}

	// Only HTTP and HTTPS schemes are allowed.
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return &ValidationError{Field: "base_url", Message: "URL must use http or https scheme"}
	}

	if parsedURL.Host == "" {
		return &ValidationError{Field: "base_url", Message: "URL must have a valid host"}
	}

	return nil
}

// NormalizeCacheKey derives a deterministic cache key from a request
// parameter such as a location query: lowercase, trimmed, with internal
// whitespace runs collapsed to single spaces. "  Berlin,  DE " and
// "berlin, de" map to the same key.
func NormalizeCacheKey(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	lastSpace := false
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		b.WriteRune(unicode.ToLower(r))
	}

	return b.String()
}
