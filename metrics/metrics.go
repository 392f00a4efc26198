// Package metrics holds the Prometheus collectors shared across
// terrainquery's packages, grounded in the teacher's package-level
// promauto counters in geotifftileset.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RasterCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrainquery_raster_cache_hits_total",
		Help: "The total number of hits on the per-dataset open raster handle cache.",
	})
	RasterCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrainquery_raster_cache_misses_total",
		Help: "The total number of misses on the per-dataset open raster handle cache.",
	})
	RasterCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrainquery_raster_cache_evictions_total",
		Help: "The total number of evictions from the per-dataset open raster handle cache.",
	})

	GridNegativeCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrainquery_grid_negative_cache_hits_total",
		Help: "The total number of uniform-grid tile existence checks served from cache.",
	})
	GridNegativeCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrainquery_grid_negative_cache_misses_total",
		Help: "The total number of uniform-grid tile existence checks that required a stat call.",
	})

	BlockCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrainquery_block_cache_hits_total",
		Help: "The total number of hits on the decoded GeoTIFF block cache.",
	})
	BlockCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrainquery_block_cache_misses_total",
		Help: "The total number of misses on the decoded GeoTIFF block cache.",
	})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrainquery_requests_total",
		Help: "The total number of elevation query requests, by dataset and outcome status.",
	}, []string{"dataset", "status"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terrainquery_query_duration_seconds",
		Help:    "Dataset query engine latency, by dataset.",
		Buckets: prometheus.DefBuckets,
	}, []string{"dataset"})

	PointsPerRequest = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrainquery_points_per_request_total",
		Help:    "Number of points requested per query, across all datasets.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
	})
)
