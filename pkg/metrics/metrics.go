// Package metrics exposes the Prometheus registry used by the proxy.
// All metrics are defined in their respective packages (client, pagination,
// batch, hoststatus, completion) to keep those packages self-contained.
//
// This package provides the HTTP handler and a reference of every metric.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all package metrics are added to via promauto.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the matching gatherer served on /metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Upstream Metrics (pkg/client):
//   - orders_upstream_requests_total{endpoint, outcome} (Counter): attempts by endpoint and outcome (success, retryable, fatal)
//   - orders_upstream_request_duration_seconds{endpoint} (Histogram): attempt duration
//   - orders_upstream_retries_total{endpoint} (Counter): attempts after the first on an endpoint
//   - orders_upstream_fallbacks_total (Counter): fetches that moved on to the next endpoint
//   - orders_upstream_exhausted_total (Counter): fetches that failed on every endpoint
//
// Pagination Metrics (pkg/pagination):
//   - orders_pages_fetched_total (Counter): pages fetched successfully
//   - orders_walks_total{result} (Counter): walks by result (exhausted, capped, failed)
//
// Batch Metrics (pkg/batch):
//   - orders_batch_identifiers_total (Counter): identifiers walked
//
// Host Metrics (pkg/hoststatus):
//   - orders_host_last_status{endpoint} (Gauge): status of the latest attempt, 0 for transport failures
//   - orders_host_status_write_errors_total (Counter): failed Redis writes
//
// Completion Metrics (pkg/completion):
//   - orders_completion_forwards_total{status} (Counter): forwarded requests by upstream status
//
// Example Prometheus Queries:
//
//   # Share of attempts refused by the upstream
//   sum(rate(orders_upstream_requests_total{outcome="fatal"}[5m])) /
//   sum(rate(orders_upstream_requests_total[5m]))
//
//   # Primary host currently blocked
//   orders_host_last_status{endpoint="primary"} == 403 or orders_host_last_status{endpoint="primary"} == 451
//
//   # P95 attempt latency
//   histogram_quantile(0.95, rate(orders_upstream_request_duration_seconds_bucket[5m]))
