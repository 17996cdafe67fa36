package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_cache_hits_total",
		Help: "Total number of cache lookups served from memory",
	}, []string{"cache"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_cache_misses_total",
		Help: "Total number of cache lookups that required computation",
	}, []string{"cache"})

	cacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parity_cache_entries",
		Help: "Current number of entries per cache",
	}, []string{"cache"})
)
