package provider

import (
	"net/http"

	"pulseboard/internal/domain/entity"
	"pulseboard/internal/resilience/ratelimit"
	"pulseboard/pkg/clock"
)

const (
	defaultRequestsPerSecond = 1.0
	defaultBurst             = 2
)

// Config carries the settings a Factory needs. A source whose BaseURL is
// empty stays disabled and is absent from the built map.
type Config struct {
	UserAgent            string
	RequestsPerSecond    float64
	Burst                int
	Handle503AsRateLimit bool

	Weather  WeatherConfig
	Geocode  GeocodeConfig
	Music    MusicConfig
	Sleep    SleepConfig
	Activity ActivityConfig
}

// WeatherConfig points the weather source at a forecast API.
type WeatherConfig struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
}

// GeocodeConfig points the geocode source at a search API.
type GeocodeConfig struct {
	BaseURL string
	Query   string
}

// MusicConfig points the music source at a scrobble API.
type MusicConfig struct {
	BaseURL string
	User    string
	APIKey  string
}

// SleepConfig points the sleep source at a wearable API.
type SleepConfig struct {
	BaseURL string
	Token   string
}

// ActivityConfig points the activity source at an Atom feed host.
type ActivityConfig struct {
	BaseURL string
	User    string
	Limit   int
}

// Factory builds the configured sources with consistent HTTP machinery:
// one shared transport, one detector, and a pacer per source so each
// upstream's quota is respected independently.
type Factory struct {
	cfg        Config
	httpClient *http.Client
	detector   *ratelimit.Detector
	clock      clock.Clock
}

// NewFactory creates a Factory. A nil httpClient gets the default
// timeout, a nil clk the system clock.
func NewFactory(cfg Config, httpClient *http.Client, clk clock.Clock) *Factory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if clk == nil {
		clk = clock.System()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	return &Factory{
		cfg:        cfg,
		httpClient: httpClient,
		detector:   ratelimit.NewDetector(cfg.Handle503AsRateLimit),
		clock:      clk,
	}
}

// Build returns the enabled sources keyed by endpoint.
func (f *Factory) Build() map[entity.Endpoint]Source {
	sources := make(map[entity.Endpoint]Source)
	if f.cfg.Weather.BaseURL != "" {
		c := f.cfg.Weather
		sources[entity.EndpointWeather] = NewWeatherSource(f.newClient(), c.BaseURL, c.Latitude, c.Longitude)
	}
	if f.cfg.Geocode.BaseURL != "" {
		c := f.cfg.Geocode
		sources[entity.EndpointGeocode] = NewGeocodeSource(f.newClient(), c.BaseURL, c.Query)
	}
	if f.cfg.Music.BaseURL != "" {
		c := f.cfg.Music
		sources[entity.EndpointMusic] = NewMusicSource(f.newClient(), c.BaseURL, c.User, c.APIKey)
	}
	if f.cfg.Sleep.BaseURL != "" {
		c := f.cfg.Sleep
		sources[entity.EndpointSleep] = NewSleepSource(f.newClient(), c.BaseURL, c.Token, f.clock)
	}
	if f.cfg.Activity.BaseURL != "" {
		c := f.cfg.Activity
		sources[entity.EndpointActivity] = NewActivitySource(f.newClient(), c.BaseURL, c.User, c.Limit)
	}
	return sources
}

// newClient gives each source its own pacer over the shared transport.
func (f *Factory) newClient() *Client {
	return NewClient(f.httpClient, NewPacer(f.cfg.RequestsPerSecond, f.cfg.Burst), f.detector, f.cfg.UserAgent)
}
