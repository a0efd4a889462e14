package metrics

import "github.com/prometheus/client_golang/prometheus"

// Query pipeline Prometheus metrics.
var (
	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pipeline_runs_total",
			Help:      "Query pipeline runs by outcome (ok or error kind)",
		},
		[]string{"outcome"},
	)

	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Query pipeline stage duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	PipelineResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pipeline_results",
			Help:      "Number of results returned per successful run",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50, 100},
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers query pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(PipelineRunsTotal)
	prometheus.MustRegister(PipelineStageDuration)
	prometheus.MustRegister(PipelineResults)
	pipelineMetricsRegistered = true
}
