// Package vectorstore wraps a vector database backend with bounded connections,
// retries with exponential backoff and a circuit breaker.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/semsearch/internal/domain/search/hit"
	"github.com/kailas-cloud/semsearch/internal/domain/search/rank"
	"github.com/kailas-cloud/semsearch/internal/metrics"
)

// Backend is a concrete vector database. Implementations classify their failures as
// domain.ErrStoreUnavailable (transient) or domain.ErrStoreQuery (request rejected)
// and return scores normalized to [0, 1], higher is better.
type Backend interface {
	Name() string
	Search(ctx context.Context, vec []float32, k int, f filter.Expression) ([]hit.Hit, error)
	Upsert(ctx context.Context, doc domain.Document, vec []float32) error
	Dimensions() int
	Ping(ctx context.Context) error
	Close() error
}

// Config holds resilience settings.
type Config struct {
	PoolSize       int
	AcquireTimeout time.Duration
	// Timeout bounds a single attempt.
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BreakerFailures consecutive transient failures open the breaker.
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:           16,
		AcquireTimeout:     500 * time.Millisecond,
		Timeout:            2 * time.Second,
		MaxRetries:         3,
		InitialBackoff:     50 * time.Millisecond,
		MaxBackoff:         time.Second,
		BreakerFailures:    5,
		BreakerOpenTimeout: 30 * time.Second,
	}
}

// Client is the vector store facade used by the query pipeline. Safe for concurrent use.
type Client struct {
	backend Backend
	cfg     Config
	pool    *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// New wraps backend. Zero config fields fall back to DefaultConfig values.
func New(backend Backend, cfg Config, logger *zap.Logger) *Client {
	cfg = withDefaults(cfg)
	name := backend.Name()

	c := &Client{
		backend: backend,
		cfg:     cfg,
		pool:    semaphore.NewWeighted(int64(cfg.PoolSize)),
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "vectorstore-" + name,
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Rejected queries and callers giving up say nothing about backend health.
			return err == nil || errors.Is(err, context.Canceled) || !isTransient(err)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			metrics.StoreBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("Vector store circuit breaker state changed",
				zap.String("backend", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = d.PoolSize
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = d.AcquireTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = d.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = d.MaxBackoff
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = d.BreakerFailures
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = d.BreakerOpenTimeout
	}
	return cfg
}

// Dimensions returns the vector length the store expects.
func (c *Client) Dimensions() int { return c.backend.Dimensions() }

// Backend returns the backend name.
func (c *Client) Backend() string { return c.backend.Name() }

// Search returns at most k nearest hits for vec, optionally pre-filtered by metadata.
func (c *Client) Search(ctx context.Context, vec []float32, k int, f filter.Expression) ([]hit.Hit, error) {
	if k < 1 {
		return nil, domain.Invalidf("k must be at least 1, got %d", k)
	}
	if err := domain.CheckDimensions(vec, c.Dimensions()); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreQuery, err)
	}

	var hits []hit.Hit
	err := c.call(ctx, "search", func(ctx context.Context) error {
		var err error
		hits, err = c.backend.Search(ctx, vec, k, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rank.Truncate(hits, k), nil
}

// Upsert writes doc with its vector. Repeating the call with the same document is harmless.
func (c *Client) Upsert(ctx context.Context, doc domain.Document, vec []float32) error {
	if doc.ID == "" {
		return domain.Invalidf("document id is required")
	}
	if err := domain.CheckDimensions(vec, c.Dimensions()); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreQuery, err)
	}
	return c.call(ctx, "upsert", func(ctx context.Context) error {
		return c.backend.Upsert(ctx, doc, vec)
	})
}

// Ping checks backend connectivity once, bypassing retries and the breaker.
func (c *Client) Ping(ctx context.Context) error {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return normalize(actx, c.backend.Ping(actx))
}

// Close releases backend resources.
func (c *Client) Close() error {
	return c.backend.Close()
}

// call runs fn holding a pool slot, retrying transient failures.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	name := c.backend.Name()
	start := time.Now()
	err := c.callWithRetry(ctx, op, fn)
	metrics.StoreRequestDuration.WithLabelValues(name, op).Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = "canceled"
		c.logger.Debug("Vector store call canceled by caller",
			zap.String("backend", name),
			zap.String("op", op),
		)
	default:
		outcome = string(domain.KindOf(err))
		c.logger.Warn("Vector store call failed",
			zap.String("backend", name),
			zap.String("op", op),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	}
	metrics.StoreRequestsTotal.WithLabelValues(name, op, outcome).Inc()
	return err
}

func (c *Client) callWithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.pool.Release(1)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialBackoff
	exp.MaxInterval = c.cfg.MaxBackoff
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.cfg.MaxRetries)), ctx)

	var lastErr error
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			metrics.StoreRetriesTotal.WithLabelValues(c.backend.Name(), op).Inc()
		}

		err := c.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !isTransient(err) {
			return backoff.Permanent(err)
		}
		c.logger.Debug("Retrying vector store call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}, policy)
	if err == nil {
		return nil
	}

	// Retry reports the bare context error when the caller gives up mid-backoff.
	if ctx.Err() != nil && lastErr != nil && errors.Is(err, ctx.Err()) {
		err = lastErr
	}
	return domain.DeadlineError(ctx, err)
}

func (c *Client) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := c.breaker.Execute(func() (any, error) {
		actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		return nil, normalize(actx, fn(actx))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}

// acquire takes a pool slot, failing fast with ErrStoreUnavailable when none frees up in time.
func (c *Client) acquire(ctx context.Context) error {
	actx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
	defer cancel()
	if err := c.pool.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return domain.DeadlineError(ctx, fmt.Errorf("acquire store connection: %w", ctx.Err()))
		}
		metrics.StorePoolRejectedTotal.WithLabelValues(c.backend.Name()).Inc()
		return fmt.Errorf("%w: connection pool exhausted", domain.ErrStoreUnavailable)
	}
	return nil
}

// normalize guarantees every backend failure carries a store sentinel.
// A cancelled caller is passed through untagged.
func normalize(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) && errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, domain.ErrStoreQuery) || errors.Is(err, domain.ErrInvalidInput) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, domain.ErrTimeout) {
			return err
		}
		return fmt.Errorf("%w: store: %w", domain.ErrTimeout, err)
	}
	if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrTimeout) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrTimeout)
}
