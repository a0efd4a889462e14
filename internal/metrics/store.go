package metrics

import "github.com/prometheus/client_golang/prometheus"

// Vector store Prometheus metrics.
var (
	StoreRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "store_requests_total",
			Help:      "Total number of vector store calls by outcome",
		},
		[]string{"backend", "op", "outcome"},
	)

	StoreRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "store_request_duration_seconds",
			Help:      "Vector store call duration in seconds, retries included",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend", "op"},
	)

	StoreRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "store_retries_total",
			Help:      "Retried vector store attempts",
		},
		[]string{"backend", "op"},
	)

	StoreBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "store_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"backend"},
	)

	StorePoolRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "store_pool_rejected_total",
			Help:      "Calls rejected because no connection slot was free in time",
		},
		[]string{"backend"},
	)
)

var storeMetricsRegistered bool

// RegisterStoreMetrics registers vector store metrics. Must be called once from main.
func RegisterStoreMetrics() {
	if storeMetricsRegistered {
		return
	}
	prometheus.MustRegister(StoreRequestsTotal)
	prometheus.MustRegister(StoreRequestDuration)
	prometheus.MustRegister(StoreRetriesTotal)
	prometheus.MustRegister(StoreBreakerState)
	prometheus.MustRegister(StorePoolRejectedTotal)
	storeMetricsRegistered = true
}
