// Package metrics exposes the Prometheus registry shared by the dispatcher
// packages. Metrics are defined next to the code that records them (batch,
// ratelimit) and registered through promauto on the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every dispatcher metric is registered on.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics reference
//
// Requests (pkg/batch):
//   - dispatch_requests_total{method, status} (Counter)
//   - dispatch_request_duration_seconds{method} (Histogram)
//   - dispatch_errors_total{class} (Counter): client, server, rate_limit,
//     network, decode, invalid, blocked
//   - dispatch_batch_size (Histogram): requests per DispatchBatch call
//
// Retries (pkg/batch):
//   - dispatch_retries_total{error_class} (Counter)
//   - dispatch_retry_backoff_seconds{error_class} (Histogram)
//   - dispatch_retry_exhausted_total{error_class} (Counter)
//
// Health (pkg/batch):
//   - dispatch_health_checks_total{status} (Counter): healthy, degraded
//   - dispatch_health_unreachable_endpoints_total (Counter)
//
// Upstream budget (pkg/ratelimit):
//   - dispatch_rate_limit_remaining (Gauge)
//   - dispatch_rate_limit_blocks_total (Counter)
//   - dispatch_rate_limit_throttles_total (Counter)
//
// Example queries:
//
//	# Failure ratio
//	sum(rate(dispatch_errors_total[5m])) / sum(rate(dispatch_requests_total[5m]))
//
//	# P95 latency
//	histogram_quantile(0.95, rate(dispatch_request_duration_seconds_bucket[5m]))
//
//	# Degraded health checks
//	rate(dispatch_health_checks_total{status="degraded"}[5m])
