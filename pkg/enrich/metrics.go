package enrich

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the enrichment pipeline.
var (
	keysProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_keys_processed_total",
		Help: "Keys processed by outcome (fetched, http_status, transport, normalization)",
	}, []string{"outcome"})

	shardRowsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helium_shard_rows_written_total",
		Help: "Rows flushed to shard files",
	})

	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_chunks_total",
		Help: "Chunks processed by result (ok, failed)",
	}, []string{"result"})

	mergeRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helium_merge_rows_total",
		Help: "Rows written to the output by the merger",
	})

	mergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helium_merge_duration_seconds",
		Help:    "Duration of the merge phase in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)
