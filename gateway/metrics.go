package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	// requests served, by route and status code
	requests *prometheus.CounterVec
	// cache lookups by result: hit, miss or error
	cacheLookups *prometheus.CounterVec
	// upstream call latency by status code
	upstreamDuration *prometheus.HistogramVec
	// keys rotated after the Clash API rejected one
	keyRotations prometheus.Counter
	// relayed requests by status code
	relayed *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clashkit_gateway_requests_total",
				Help: "Gateway requests by route and status code",
			},
			[]string{"route", "status"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clashkit_gateway_cache_lookups_total",
				Help: "Gateway cache lookups by result",
			},
			[]string{"result"},
		),
		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clashkit_gateway_upstream_duration_seconds",
				Help:    "Clash API call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		keyRotations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "clashkit_gateway_key_rotations_total",
				Help: "API key rotations triggered by rejected keys",
			},
		),
		relayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clashkit_gateway_relay_requests_total",
				Help: "Relayed requests by status code",
			},
			[]string{"status"},
		),
	}
}
