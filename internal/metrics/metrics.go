package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProviderRequests counts adapter calls by provider and outcome
// (ok, empty, error, rate_limited, skipped).
var ProviderRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lens_provider_requests_total",
		Help: "Adapter calls made by the resolution cascade",
	},
	[]string{"provider", "outcome"},
)

// CacheLookups counts cache reads by cache name and result (hit, miss).
var CacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lens_cache_lookups_total",
		Help: "Market data cache lookups",
	},
	[]string{"cache", "result"},
)

// BreakerTrips counts rate-limit breaker trips per provider family.
var BreakerTrips = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lens_breaker_trips_total",
		Help: "Rate-limit breaker trips",
	},
	[]string{"family"},
)

// UpstreamLatency records HTTP round-trip time per upstream host.
var UpstreamLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "lens_upstream_request_seconds",
		Help:    "Latency of upstream HTTP requests",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"host"},
)

func init() {
	prometheus.MustRegister(ProviderRequests, CacheLookups, BreakerTrips, UpstreamLatency)
}

// CacheResult records a lookup outcome.
func CacheResult(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(cache, result).Inc()
}
