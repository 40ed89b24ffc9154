package slo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SLO targets define the service level objectives for the data-access layer.
// The layer sits in front of third-party APIs, so the objectives are phrased
// in terms of what consumers receive, not in terms of upstream uptime.
const (
	// DataAvailabilitySLO defines the target share of fetches that return a
	// usable payload from any tier (fresh, cached, or fallback): 99.0%
	DataAvailabilitySLO = 99.0

	// FreshnessSLO defines the target share of usable results that are fresh
	// or cached rather than fallback: 95.0%
	FreshnessSLO = 95.0

	// StalenessP95SLO defines the target p95 age in seconds for non-fresh
	// payloads handed to consumers (6 hours)
	StalenessP95SLO = 21600.0

	// UnavailableRateSLO defines the maximum acceptable share of fetches that
	// produce no payload at all (1% = 0.01)
	UnavailableRateSLO = 0.01
)

// SLO tracking metrics
// These gauges are updated periodically (e.g., after every batch run) based
// on recent measurements to track whether the layer is meeting its targets.
var (
	// SLODataAvailability tracks the current usable-result ratio (0-1)
	// calculated as: (total_fetches - unavailable) / total_fetches
	SLODataAvailability = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_data_availability_ratio",
			Help: "Current usable-result ratio (0-1), target: 0.990",
		},
	)

	// SLOFreshness tracks the share of usable results served fresh or cached
	SLOFreshness = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_freshness_ratio",
			Help: "Current fresh-or-cached share of usable results (0-1), target: 0.950",
		},
	)

	// SLOStalenessP95 tracks the current p95 age of non-fresh payloads
	// calculated from the served_payload_age_seconds histogram
	SLOStalenessP95 = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_staleness_p95_seconds",
			Help: "Current p95 age of non-fresh payloads in seconds, target: 21600",
		},
	)

	// SLOUnavailableRate tracks the current no-payload ratio (0-1)
	SLOUnavailableRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_unavailable_rate_ratio",
			Help: "Current unavailable-result ratio (0-1), target: 0.010",
		},
	)
)

// UpdateDataAvailability updates the data availability SLO metric.
// Call this periodically with practical availability over the recent window.
//
// Example calculation:
//
//	total := fetchCount()
//	unavailable := unavailableCount()
//	availability := float64(total-unavailable) / float64(total)
//	slo.UpdateDataAvailability(availability)
func UpdateDataAvailability(ratio float64) {
	SLODataAvailability.Set(ratio)
}

// UpdateFreshness updates the freshness SLO metric.
// Call this periodically with the fresh-or-cached share of usable results.
func UpdateFreshness(ratio float64) {
	SLOFreshness.Set(ratio)
}

// UpdateStalenessP95 updates the staleness SLO metric.
// Call this periodically with the calculated p95 payload age in seconds.
//
// Example using Prometheus query:
//
//	histogram_quantile(0.95, rate(served_payload_age_seconds_bucket[1h]))
func UpdateStalenessP95(seconds float64) {
	SLOStalenessP95.Set(seconds)
}

// UpdateUnavailableRate updates the unavailable rate SLO metric.
// Call this periodically with the calculated no-payload ratio.
func UpdateUnavailableRate(ratio float64) {
	SLOUnavailableRate.Set(ratio)
}
