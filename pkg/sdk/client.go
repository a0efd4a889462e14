package semsearch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/app"
	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/query"
	"github.com/kailas-cloud/semsearch/internal/domain/search/response"
	searchuc "github.com/kailas-cloud/semsearch/internal/usecase/search"
)

// customProvider labels embedding metrics when the caller supplies its own Embedder.
const customProvider = "custom"

// Внутренние интерфейсы для подмены в тестах.
type pipelineRunner interface {
	Run(ctx context.Context, q query.Query) (response.Payload, error)
	RunBatch(ctx context.Context, queries []query.Query) []searchuc.BatchResult
}

type vectorStore interface {
	Upsert(ctx context.Context, doc domain.Document, vec []float32) error
	Ping(ctx context.Context) error
}

// Client is the semsearch SDK entry point. Safe for concurrent use.
type Client struct {
	pipeline  pipelineRunner
	store     vectorStore
	healthSvc healthUseCase
	closeFn   func()
	obs       *observer
}

// New builds the search pipeline in-process.
// The provided context bounds the store connection and the embedding model probe.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cc := defaultClientConfig()
	for _, o := range opts {
		o.apply(cc)
	}

	if cc.cfg.Store.Driver == "" {
		return nil, errors.New("semsearch: vector store required (use WithRedis, WithValkey, WithPostgres or WithLocalStore)")
	}
	cc.cfg.ApplyDefaults()
	if err := cc.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("semsearch: invalid configuration: %w", err)
	}

	obs, err := newObserver(cc.logger, cc.metricsReg)
	if err != nil {
		return nil, err
	}

	logger := cc.zapLogger
	if logger == nil {
		logger = zap.NewNop()
	}

	var provider domain.Embedder
	if cc.embedder != nil {
		provider = adaptEmbedder(cc.embedder)
		cc.cfg.Embedding.Provider = customProvider
	}

	a, err := app.BuildWith(ctx, cc.cfg, provider, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("semsearch: %w", err)
	}

	return &Client{
		pipeline:  a.Pipeline,
		store:     a.Store,
		healthSvc: a.Health,
		closeFn:   a.Close,
		obs:       obs,
	}, nil
}

// Close releases all resources.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
		c.closeFn = nil
	}
}

// Ping checks vector store connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Search embeds text and returns the ranked, formatted results.
// An empty result set is not an error.
func (c *Client) Search(ctx context.Context, text string, opts ...SearchOption) (_ Response, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search", start, err) }()

	q, err := buildQuery(text, opts)
	if err != nil {
		return Response{}, err
	}
	payload, err := c.pipeline.Run(ctx, q)
	if err != nil {
		return Response{}, err
	}
	resp := fromPayload(payload)
	c.obs.observeResults(len(resp.Results))
	return resp, nil
}

// SearchBatch runs up to 32 queries concurrently. Items fail independently:
// an invalid query only fails its own BatchResponse.
func (c *Client) SearchBatch(ctx context.Context, queries []BatchQuery) (_ []BatchResponse, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search_batch", start, err) }()

	if len(queries) == 0 {
		return nil, domain.Invalidf("at least one query is required")
	}
	if len(queries) > searchuc.MaxBatchSize {
		return nil, domain.Invalidf("too many queries (max %d)", searchuc.MaxBatchSize)
	}

	out := make([]BatchResponse, len(queries))
	valid := make([]query.Query, 0, len(queries))
	positions := make([]int, 0, len(queries))
	for i, bq := range queries {
		q, qerr := buildQuery(bq.Text, bq.Options)
		if qerr != nil {
			out[i].Err = qerr
			continue
		}
		valid = append(valid, q)
		positions = append(positions, i)
	}
	if len(valid) == 0 {
		c.obs.observeBatch(out)
		return out, nil
	}

	for j, r := range c.pipeline.RunBatch(ctx, valid) {
		i := positions[j]
		if r.Err != nil {
			out[i].Err = r.Err
			continue
		}
		out[i].Response = fromPayload(r.Payload)
	}
	c.obs.observeBatch(out)
	return out, nil
}

// Upsert writes doc with its precomputed embedding. The vector length must
// match the store dimensionality.
func (c *Client) Upsert(ctx context.Context, doc Document, vector []float32) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("upsert", start, err) }()

	return c.store.Upsert(ctx, domain.Document{ID: doc.ID, Text: doc.Text, Metadata: doc.Metadata}, vector)
}
