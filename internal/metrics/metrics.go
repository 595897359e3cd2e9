package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TileRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_requests_total",
		Help: "Total number of tile requests handled by the tile store",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_cache_hits_total",
		Help: "Total number of tiles served from storage",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_cache_misses_total",
		Help: "Total number of tiles rendered because storage had no entry",
	})

	CacheReadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_cache_read_errors_total",
		Help: "Total number of storage reads that failed and were treated as misses",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_store_persist_failures_total",
		Help: "Total number of rendered tiles that could not be written to storage",
	})

	EncodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_store_encode_failures_total",
		Help: "Total number of rendered tiles that could not be encoded",
	})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tile_render_duration_seconds",
		Help:    "Time spent rasterizing one tile",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	EncodedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tile_encoded_bytes",
		Help:    "Size of encoded tiles in bytes",
		Buckets: prometheus.ExponentialBuckets(256, 2, 12),
	})

	// Backend metrics
	BackendOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tile_backend_operation_duration_seconds",
		Help:    "Duration of storage backend operations in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"backend", "operation"})

	BackendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_backend_errors_total",
		Help: "Total number of storage backend errors",
	}, []string{"backend", "operation"})
)
