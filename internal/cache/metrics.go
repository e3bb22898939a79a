package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hits tracks cache hits by tier ("redis" or "memory").
	Hits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"tier"},
	)

	// Misses tracks lookups that found no live entry in any tier.
	Misses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// Errors tracks remote tier failures by operation.
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_errors_total",
			Help: "Total number of remote cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "incr"
	)

	// Fallbacks tracks operations served by the memory tier after a remote
	// failure. A sustained climb here means the remote tier is down.
	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_fallbacks_total",
			Help: "Total number of operations that fell back to the local tier",
		},
		[]string{"operation"},
	)
)
