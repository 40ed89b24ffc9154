package provider_test

import (
	"testing"

	"pulseboard/internal/domain/entity"
	"pulseboard/internal/infra/provider"
)

func TestFactory_Build_OnlyConfiguredSources(t *testing.T) {
	cfg := provider.Config{
		Weather: provider.WeatherConfig{
			BaseURL:   "https://api.example.com",
			Latitude:  52.52,
			Longitude: 13.405,
		},
		Activity: provider.ActivityConfig{
			BaseURL: "https://feeds.example.com",
			User:    "octocat",
		},
	}

	factory := provider.NewFactory(cfg, nil, nil)
	sources := factory.Build()

	if len(sources) != 2 {
		t.Fatalf("sources length = %d, want 2", len(sources))
	}
	if _, ok := sources[entity.EndpointWeather]; !ok {
		t.Error("weather source missing")
	}
	if _, ok := sources[entity.EndpointActivity]; !ok {
		t.Error("activity source missing")
	}
	if _, ok := sources[entity.EndpointMusic]; ok {
		t.Error("music source present despite empty config")
	}
}

func TestFactory_Build_AllSources(t *testing.T) {
	cfg := provider.Config{
		Weather:  provider.WeatherConfig{BaseURL: "https://a.example.com"},
		Geocode:  provider.GeocodeConfig{BaseURL: "https://b.example.com", Query: "Berlin"},
		Music:    provider.MusicConfig{BaseURL: "https://c.example.com", User: "u", APIKey: "k"},
		Sleep:    provider.SleepConfig{BaseURL: "https://d.example.com", Token: "t"},
		Activity: provider.ActivityConfig{BaseURL: "https://e.example.com", User: "u"},
	}

	sources := provider.NewFactory(cfg, nil, nil).Build()

	if len(sources) != 5 {
		t.Fatalf("sources length = %d, want 5", len(sources))
	}
	for endpoint, source := range sources {
		if source.Endpoint() != endpoint {
			t.Errorf("source keyed under %q reports endpoint %q", endpoint, source.Endpoint())
		}
		if source.CacheKey() == "" {
			t.Errorf("%s: CacheKey() is empty", endpoint)
		}
		if source.ProbeURL() == "" {
			t.Errorf("%s: ProbeURL() is empty", endpoint)
		}
	}
}

func TestFactory_Build_Empty(t *testing.T) {
	sources := provider.NewFactory(provider.Config{}, nil, nil).Build()
	if len(sources) != 0 {
		t.Errorf("sources length = %d, want 0", len(sources))
	}
}
