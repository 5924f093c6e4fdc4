package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sternrassler/copytrade-orders/pkg/metrics"
)

// Prometheus metrics for upstream calls.
var (
	upstreamRequestsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "orders_upstream_requests_total",
		Help: "Total upstream attempts by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	upstreamRequestDuration = promauto.With(metrics.Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orders_upstream_request_duration_seconds",
		Help:    "Upstream attempt duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	upstreamRetriesTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "orders_upstream_retries_total",
		Help: "Total retry attempts by endpoint",
	}, []string{"endpoint"})

	upstreamFallbacksTotal = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
		Name: "orders_upstream_fallbacks_total",
		Help: "Total number of times a fetch moved on to the next endpoint",
	})

	upstreamExhaustedTotal = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
		Name: "orders_upstream_exhausted_total",
		Help: "Total number of fetches that failed on every endpoint",
	})
)
