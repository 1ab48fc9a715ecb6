package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache metrics are labelled by API collection (hotspot, hotspots, oui).
var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_cache_hits_total",
		Help: "Response cache hits by API collection",
	}, []string{"collection"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_cache_misses_total",
		Help: "Response cache misses by API collection",
	}, []string{"collection"})

	cacheStoredBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_cache_stored_bytes_total",
		Help: "Bytes written to the response cache by API collection",
	}, []string{"collection"})

	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_cache_errors_total",
		Help: "Response cache errors by operation",
	}, []string{"operation"})
)
