package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/hit"
	"github.com/kailas-cloud/semsearch/internal/domain/search/query"
	"github.com/kailas-cloud/semsearch/internal/domain/search/rank"
	"github.com/kailas-cloud/semsearch/internal/domain/search/response"
	"github.com/kailas-cloud/semsearch/internal/logger"
	"github.com/kailas-cloud/semsearch/internal/metrics"
)

var errInterrupted = errors.New("query did not complete")

// MaxBatchSize bounds the number of queries accepted by RunBatch callers.
const MaxBatchSize = 32

// Pipeline stage names used in metrics.
const (
	stageEmbed  = "embed"
	stageSearch = "search"
	stageRank   = "rank"
	stageFormat = "format"
)

// Config holds pipeline settings.
type Config struct {
	// Timeout bounds a whole Run, embedding and store retries included.
	Timeout  time.Duration
	Defaults query.Defaults
	// Workers sizes the RunBatch pool.
	Workers int
}

// BatchResult is the outcome of one query in a batch: either a payload or an error.
type BatchResult struct {
	Payload response.Payload
	Err     error
}

// Pipeline runs embed → search → rank → format. Stateless between runs, safe for concurrent use.
type Pipeline struct {
	embed  Embedder
	store  VectorStore
	format Formatter
	cfg    Config
	pool   *ants.Pool
}

// New creates a pipeline. Close releases the batch worker pool.
func New(embed Embedder, store VectorStore, format Formatter, cfg Config, log *zap.Logger) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p any) {
		log.Error("Batch query panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create batch pool: %w", err)
	}
	return &Pipeline{embed: embed, store: store, format: format, cfg: cfg, pool: pool}, nil
}

// Close releases the worker pool.
func (p *Pipeline) Close() {
	p.pool.Release()
}

// Run executes one query. An empty result is a success; every failure keeps its sentinel.
func (p *Pipeline) Run(ctx context.Context, q query.Query) (response.Payload, error) {
	start := time.Now()
	payload, k, err := p.run(ctx, q)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	metrics.PipelineRunsTotal.WithLabelValues(outcome).Inc()

	l := logger.FromContext(ctx)
	if err != nil {
		l.Warn("Search failed",
			zap.String("outcome", outcome),
			zap.Int("k", k),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return response.Payload{}, err
	}

	metrics.PipelineResults.Observe(float64(len(payload.Results)))
	l.Info("Search completed",
		zap.Int("k", k),
		zap.Int("results", len(payload.Results)),
		zap.Duration("duration", elapsed),
	)
	return payload, nil
}

func (p *Pipeline) run(ctx context.Context, q query.Query) (response.Payload, int, error) {
	if err := q.Validate(); err != nil {
		return response.Payload{}, 0, err
	}
	q = q.WithDefaults(p.cfg.Defaults)

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	var vec []float32
	err := observe(stageEmbed, func() (err error) {
		vec, err = p.embed.Embed(ctx, q.Text())
		return err
	})
	if err != nil {
		return response.Payload{}, q.K(), domain.DeadlineError(ctx, fmt.Errorf("embed query: %w", err))
	}

	var hits []hit.Hit
	err = observe(stageSearch, func() (err error) {
		hits, err = p.store.Search(ctx, vec, q.K(), q.Filter())
		return err
	})
	if err != nil {
		return response.Payload{}, q.K(), domain.DeadlineError(ctx, fmt.Errorf("search store: %w", err))
	}

	var ranked []hit.Hit
	_ = observe(stageRank, func() error {
		ranked = rank.Truncate(rank.Rank(hits, q.MinScore()), q.K())
		return nil
	})

	var payload response.Payload
	_ = observe(stageFormat, func() error {
		payload = p.format.Format(ranked)
		return nil
	})
	return payload, q.K(), nil
}

func observe(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.PipelineStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return err
}

// RunBatch executes independent queries on the worker pool.
// Results are positional; one failed query does not affect the others.
func (p *Pipeline) RunBatch(ctx context.Context, queries []query.Query) []BatchResult {
	results := make([]BatchResult, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			results[i] = BatchResult{Err: errInterrupted}
			qctx := logger.With(ctx, zap.Int("batch_index", i), zap.Int("batch_size", len(queries)))
			payload, err := p.Run(qctx, q)
			results[i] = BatchResult{Payload: payload, Err: err}
		})
		if err != nil {
			wg.Done()
			results[i] = BatchResult{Err: fmt.Errorf("submit query %d: %w", i, err)}
		}
	}
	wg.Wait()
	return results
}
