package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pulseboard/internal/domain/entity"
	"pulseboard/internal/infra/provider"
)

// defaultActivityLimit caps the activity feed when the sources file
// does not say otherwise.
const defaultActivityLimit = 20

// Duration is a time.Duration that unmarshals from YAML strings like
// "15m" or "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SourcesFile describes the configured upstream sources. Secrets never
// appear inline: the file names the environment variable that holds
// them. A source section left out of the file stays disabled.
type SourcesFile struct {
	Defaults SourceDefaults `yaml:"defaults"`
	Sources  SourcesSpec    `yaml:"sources"`
}

// SourceDefaults applies to every source's HTTP client.
type SourceDefaults struct {
	UserAgent           string  `yaml:"user_agent"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"`
	Burst               int     `yaml:"burst"`
	Treat503AsRateLimit bool    `yaml:"treat_503_as_rate_limit"`
}

// SourcesSpec holds one optional section per upstream.
type SourcesSpec struct {
	Weather  *WeatherSpec  `yaml:"weather"`
	Geocode  *GeocodeSpec  `yaml:"geocode"`
	Music    *MusicSpec    `yaml:"music"`
	Sleep    *SleepSpec    `yaml:"sleep"`
	Activity *ActivitySpec `yaml:"activity"`
}

// WeatherSpec configures the forecast source.
type WeatherSpec struct {
	BaseURL   string   `yaml:"base_url"`
	Latitude  float64  `yaml:"latitude"`
	Longitude float64  `yaml:"longitude"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// GeocodeSpec configures the place-search source.
type GeocodeSpec struct {
	BaseURL  string   `yaml:"base_url"`
	Query    string   `yaml:"query"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// MusicSpec configures the scrobble source. APIKeyEnv names the
// environment variable holding the API key.
type MusicSpec struct {
	BaseURL   string   `yaml:"base_url"`
	User      string   `yaml:"user"`
	APIKeyEnv string   `yaml:"api_key_env"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// SleepSpec configures the wearable source. TokenEnv names the
// environment variable holding the bearer token.
type SleepSpec struct {
	BaseURL  string   `yaml:"base_url"`
	TokenEnv string   `yaml:"token_env"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// ActivitySpec configures the developer-activity feed source.
type ActivitySpec struct {
	BaseURL  string   `yaml:"base_url"`
	User     string   `yaml:"user"`
	Limit    int      `yaml:"limit"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// LoadSources loads and validates the sources file.
// The path parameter is expected to come from a trusted source
// (environment or CLI flag), not request input.
func LoadSources(path string) (*SourcesFile, error) {
	// #nosec G304 -- path comes from the operator's own configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var sources SourcesFile
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	if err := validateSources(&sources); err != nil {
		return nil, fmt.Errorf("sources file validation failed: %w", err)
	}

	return &sources, nil
}

func validateSources(s *SourcesFile) error {
	configured := 0

	if w := s.Sources.Weather; w != nil {
		configured++
		if w.BaseURL == "" {
			return fmt.Errorf("weather: base_url is required")
		}
		if w.Latitude < -90 || w.Latitude > 90 {
			return fmt.Errorf("weather: latitude must be between -90 and 90")
		}
		if w.Longitude < -180 || w.Longitude > 180 {
			return fmt.Errorf("weather: longitude must be between -180 and 180")
		}
	}

	if g := s.Sources.Geocode; g != nil {
		configured++
		if g.BaseURL == "" {
			return fmt.Errorf("geocode: base_url is required")
		}
		if g.Query == "" {
			return fmt.Errorf("geocode: query is required")
		}
	}

	if m := s.Sources.Music; m != nil {
		configured++
		if m.BaseURL == "" {
			return fmt.Errorf("music: base_url is required")
		}
		if m.User == "" {
			return fmt.Errorf("music: user is required")
		}
		if m.APIKeyEnv == "" {
			return fmt.Errorf("music: api_key_env is required")
		}
	}

	if sl := s.Sources.Sleep; sl != nil {
		configured++
		if sl.BaseURL == "" {
			return fmt.Errorf("sleep: base_url is required")
		}
		if sl.TokenEnv == "" {
			return fmt.Errorf("sleep: token_env is required")
		}
	}

	if a := s.Sources.Activity; a != nil {
		configured++
		if a.BaseURL == "" {
			return fmt.Errorf("activity: base_url is required")
		}
		if a.User == "" {
			return fmt.Errorf("activity: user is required")
		}
		if a.Limit < 0 {
			return fmt.Errorf("activity: limit must not be negative")
		}
	}

	if configured == 0 {
		return fmt.Errorf("no sources configured")
	}

	if s.Defaults.RequestsPerSecond < 0 {
		return fmt.Errorf("defaults: requests_per_second must not be negative")
	}
	if s.Defaults.Burst < 0 {
		return fmt.Errorf("defaults: burst must not be negative")
	}

	return nil
}

// Provider converts the file into the provider factory configuration,
// resolving the environment variables that hold secrets. It fails when
// a named secret variable is unset, so a misdeployed worker surfaces
// the problem at startup instead of collecting 401s.
func (s *SourcesFile) Provider() (provider.Config, error) {
	cfg := provider.Config{
		UserAgent:            s.Defaults.UserAgent,
		RequestsPerSecond:    s.Defaults.RequestsPerSecond,
		Burst:                s.Defaults.Burst,
		Handle503AsRateLimit: s.Defaults.Treat503AsRateLimit,
	}

	if w := s.Sources.Weather; w != nil {
		cfg.Weather = provider.WeatherConfig{
			BaseURL:   w.BaseURL,
			Latitude:  w.Latitude,
			Longitude: w.Longitude,
		}
	}

	if g := s.Sources.Geocode; g != nil {
		cfg.Geocode = provider.GeocodeConfig{
			BaseURL: g.BaseURL,
			Query:   g.Query,
		}
	}

	if m := s.Sources.Music; m != nil {
		apiKey, err := resolveSecret(m.APIKeyEnv, "music api key")
		if err != nil {
			return provider.Config{}, err
		}
		cfg.Music = provider.MusicConfig{
			BaseURL: m.BaseURL,
			User:    m.User,
			APIKey:  apiKey,
		}
	}

	if sl := s.Sources.Sleep; sl != nil {
		token, err := resolveSecret(sl.TokenEnv, "sleep token")
		if err != nil {
			return provider.Config{}, err
		}
		cfg.Sleep = provider.SleepConfig{
			BaseURL: sl.BaseURL,
			Token:   token,
		}
	}

	if a := s.Sources.Activity; a != nil {
		limit := a.Limit
		if limit == 0 {
			limit = defaultActivityLimit
		}
		cfg.Activity = provider.ActivityConfig{
			BaseURL: a.BaseURL,
			User:    a.User,
			Limit:   limit,
		}
	}

	return cfg, nil
}

func resolveSecret(envVar, what string) (string, error) {
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("%s: environment variable %s is not set", what, envVar)
	}
	return value, nil
}

// TTLs returns the per-endpoint cache TTLs the file specifies. Sources
// without a cache_ttl are absent from the map.
func (s *SourcesFile) TTLs() map[entity.Endpoint]time.Duration {
	ttls := make(map[entity.Endpoint]time.Duration)

	if w := s.Sources.Weather; w != nil && w.CacheTTL > 0 {
		ttls[entity.EndpointWeather] = w.CacheTTL.Std()
	}
	if g := s.Sources.Geocode; g != nil && g.CacheTTL > 0 {
		ttls[entity.EndpointGeocode] = g.CacheTTL.Std()
	}
	if m := s.Sources.Music; m != nil && m.CacheTTL > 0 {
		ttls[entity.EndpointMusic] = m.CacheTTL.Std()
	}
	if sl := s.Sources.Sleep; sl != nil && sl.CacheTTL > 0 {
		ttls[entity.EndpointSleep] = sl.CacheTTL.Std()
	}
	if a := s.Sources.Activity; a != nil && a.CacheTTL > 0 {
		ttls[entity.EndpointActivity] = a.CacheTTL.Std()
	}

	return ttls
}

// Endpoints lists the endpoints the file enables, in a stable order.
func (s *SourcesFile) Endpoints() []entity.Endpoint {
	var endpoints []entity.Endpoint
	if s.Sources.Weather != nil {
		endpoints = append(endpoints, entity.EndpointWeather)
	}
	if s.Sources.Geocode != nil {
		endpoints = append(endpoints, entity.EndpointGeocode)
	}
	if s.Sources.Music != nil {
		endpoints = append(endpoints, entity.EndpointMusic)
	}
	if s.Sources.Sleep != nil {
		endpoints = append(endpoints, entity.EndpointSleep)
	}
	if s.Sources.Activity != nil {
		endpoints = append(endpoints, entity.EndpointActivity)
	}
	return endpoints
}
