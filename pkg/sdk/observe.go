package semsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/semsearch/internal/metrics"
)

// outcomeCanceled labels calls the caller abandoned; they are not failures of the client.
const outcomeCanceled = "canceled"

// clientMetrics are the SDK-side counterparts of the HTTP metrics, labelled by error kind.
type clientMetrics struct {
	calls      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	results    prometheus.Histogram
	batchItems *prometheus.CounterVec
}

func newClientMetrics(reg prometheus.Registerer) (*clientMetrics, error) {
	m := &clientMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "sdk",
			Name:      "calls_total",
			Help:      "SDK calls by operation and outcome (ok, canceled or an error kind).",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "sdk",
			Name:      "call_duration_seconds",
			Help:      "SDK call latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "outcome"}),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "sdk",
			Name:      "search_results",
			Help:      "Results returned per successful query, after min_score filtering.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 25, 50, 100},
		}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "sdk",
			Name:      "batch_items_total",
			Help:      "Individual batch queries by outcome.",
		}, []string{"outcome"}),
	}
	if err := registerOrReuse(reg, &m.calls); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.latency); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.results); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.batchItems); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers c, or points it at an identical collector already in reg,
// so several clients can share one registry.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return fmt.Errorf("semsearch: register metric: %w", err)
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return fmt.Errorf("semsearch: metric already registered as %T", are.ExistingCollector)
	}
	*c = existing
	return nil
}

// outcome maps err onto the same vocabulary the HTTP layer reports.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return outcomeCanceled
	default:
		return ErrorKind(err)
	}
}

// observer records logs and metrics for client calls. A nil observer is a no-op.
type observer struct {
	logger  *slog.Logger
	metrics *clientMetrics
}

func newObserver(logger *slog.Logger, reg prometheus.Registerer) (*observer, error) {
	o := &observer{logger: logger}
	if reg != nil {
		m, err := newClientMetrics(reg)
		if err != nil {
			return nil, err
		}
		o.metrics = m
	}
	return o, nil
}

func (o *observer) observe(op string, start time.Time, err error) {
	if o == nil {
		return
	}
	dur := time.Since(start)
	out := outcome(err)

	if o.metrics != nil {
		o.metrics.calls.WithLabelValues(op, out).Inc()
		o.metrics.latency.WithLabelValues(op, out).Observe(dur.Seconds())
	}
	if o.logger == nil {
		return
	}
	switch out {
	case "ok":
		o.logger.Debug("semsearch call completed", "op", op, "duration", dur)
	case outcomeCanceled:
		o.logger.Debug("semsearch call canceled", "op", op, "duration", dur)
	case ErrorKind(ErrInvalidInput):
		o.logger.Info("semsearch call rejected", "op", op, "kind", out, "error", err)
	default:
		o.logger.Warn("semsearch call failed", "op", op, "kind", out, "duration", dur, "error", err)
	}
}

// observeResults records the size of one successful response.
func (o *observer) observeResults(n int) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.results.Observe(float64(n))
}

// observeBatch records per-item outcomes; the batch call itself succeeds even when items fail.
func (o *observer) observeBatch(items []BatchResponse) {
	if o == nil {
		return
	}
	failed := 0
	for _, it := range items {
		out := outcome(it.Err)
		if it.Err == nil {
			o.observeResults(len(it.Response.Results))
		} else {
			failed++
		}
		if o.metrics != nil {
			o.metrics.batchItems.WithLabelValues(out).Inc()
		}
	}
	if failed > 0 && o.logger != nil {
		o.logger.Info("semsearch batch had failed items", "failed", failed, "total", len(items))
	}
}
