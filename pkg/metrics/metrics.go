// Package metrics provides the Prometheus registry and HTTP handler for the extractor.
// Metrics are defined in their respective packages (client, cache, ratelimit,
// pagination, enrich) and registered through promauto, which keeps the packages
// independent of each other.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer all extractor metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler that exposes all registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - helium_requests_total{status} (Counter): API requests by outcome (HTTP status, network_error, cache_hit)
//   - helium_request_duration_seconds (Histogram): request duration including retries
//   - helium_errors_total{class} (Counter): errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - helium_retries_total{error_class} (Counter): retry attempts by error class
//   - helium_retry_backoff_seconds{error_class} (Histogram): backoff duration by error class
//   - helium_retry_exhausted_total{error_class} (Counter): requests that exhausted max attempts
//
// Cache Metrics (pkg/cache):
//   - helium_cache_hits_total{collection} (Counter)
//   - helium_cache_misses_total{collection} (Counter)
//   - helium_cache_stored_bytes_total{collection} (Counter)
//   - helium_cache_errors_total{operation} (Counter)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - helium_rate_limit_remaining (Gauge): last advertised remaining requests
//   - helium_rate_limit_waits_total{reason} (Counter): waits by reason (throttle, exhausted)
//
// List Metrics (pkg/pagination):
//   - helium_list_pages_total{collection} (Counter): list pages fetched
//   - helium_list_items_total{collection} (Counter): list items received
//
// Enrichment Metrics (pkg/enrich):
//   - helium_keys_processed_total{outcome} (Counter): keys by outcome (fetched, http_status, transport, normalization)
//   - helium_shard_rows_written_total (Counter): rows flushed to shards
//   - helium_chunks_total{result} (Counter): chunks by result (ok, failed)
//   - helium_merge_rows_total (Counter): rows written by the merger
//   - helium_merge_duration_seconds (Histogram): merge phase duration
//
// Example Prometheus Queries:
//
//   # Share of skipped keys
//   sum(rate(helium_keys_processed_total{outcome!="fetched"}[5m])) /
//   sum(rate(helium_keys_processed_total[5m]))
//
//   # Retry pressure
//   sum by (error_class) (rate(helium_retries_total[5m]))
