package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/semsearch/internal/domain"
)

// probeText is embedded once at startup to verify the model is reachable.
const probeText = "semantic search readiness probe"

// Config holds the embedding service settings.
type Config struct {
	Provider string
	Model    string
	// Dimensions is the expected vector length; the store must agree.
	Dimensions int
	// MaxConcurrency bounds in-flight inference calls. 1 fully serializes the model,
	// which caps throughput at one query at a time.
	MaxConcurrency int
	Timeout        time.Duration
}

// Service turns text into vectors with bounded concurrency and classified errors.
// Safe for concurrent use.
type Service struct {
	provider domain.Embedder
	cfg      Config
	sem      *semaphore.Weighted
	logger   *zap.Logger
}

// Load probes the provider and returns a ready Service.
// Any failure, including a dimension mismatch, is ErrModelUnavailable.
func Load(ctx context.Context, provider domain.Embedder, cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", domain.ErrModelUnavailable)
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}

	s := &Service{
		provider: provider,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger:   logger,
	}

	vec, err := s.Embed(ctx, probeText)
	if err != nil {
		return nil, fmt.Errorf("%w: probe %s: %w", domain.ErrModelUnavailable, cfg.Model, err)
	}

	logger.Info("Embedding model loaded",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", len(vec)),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
	)
	return s, nil
}

// Dimensions returns the vector length produced by the model.
func (s *Service) Dimensions() int { return s.cfg.Dimensions }

// Model returns the model identifier.
func (s *Service) Model() string { return s.cfg.Model }

// Embed converts one text into a vector.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.Invalidf("text to embed is empty")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, s.classify(ctx, err)
	}
	defer s.sem.Release(1)

	res, err := s.provider.Embed(ctx, text)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	if err := s.checkVector(res.Embedding); err != nil {
		return nil, err
	}
	return res.Embedding, nil
}

// EmbedMany converts texts into vectors, preserving order. Any failure fails the whole call.
func (s *Service) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, domain.Invalidf("text %d to embed is empty", i)
		}
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if be, ok := s.provider.(domain.BatchEmbedder); ok {
		return s.embedBatch(ctx, be, texts)
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, t := range texts {
		g.Go(func() error {
			vec, err := s.Embed(gctx, t)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) embedBatch(ctx context.Context, be domain.BatchEmbedder, texts []string) ([][]float32, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, s.classify(ctx, err)
	}
	defer s.sem.Release(1)

	res, err := be.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts",
			domain.ErrEmbeddingFailure, len(res.Embeddings), len(texts))
	}
	for i, vec := range res.Embeddings {
		if err := s.checkVector(vec); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}
	return res.Embeddings, nil
}

// HealthCheck verifies provider availability when the provider supports it.
func (s *Service) HealthCheck(ctx context.Context) error {
	if hc, ok := s.provider.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
		}
	}
	return nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) checkVector(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrEmbeddingFailure)
	}
	if err := domain.CheckDimensions(vec, s.cfg.Dimensions); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
	}
	return nil
}

// classify maps provider and context errors onto the embedding error taxonomy.
func (s *Service) classify(ctx context.Context, err error) error {
	if errors.Is(err, domain.ErrTimeout) || errors.Is(err, domain.ErrEmbeddingFailure) ||
		errors.Is(err, domain.ErrInvalidInput) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: embedding: %w", domain.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("embedding: %w", err)
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
}
