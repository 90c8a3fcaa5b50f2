package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for dispatcher operations.
var (
	dispatchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_requests_total",
		Help: "Total dispatched requests by method and status",
	}, []string{"method", "status"})

	dispatchRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_request_duration_seconds",
		Help:    "Dispatched request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	dispatchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_errors_total",
		Help: "Total dispatch failures by class",
	}, []string{"class"})

	dispatchBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_batch_size",
		Help:    "Number of requests per batch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
	})

	dispatchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	dispatchRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
	}, []string{"error_class"})

	dispatchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	dispatchHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_health_checks_total",
		Help: "Total health checks by aggregate status",
	}, []string{"status"})

	dispatchHealthUnreachableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_health_unreachable_endpoints_total",
		Help: "Total endpoints found unreachable by health checks",
	})
)
