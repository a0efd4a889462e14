// Package langchain adapts langchaingo embeddings to domain.Embedder.
// It targets OpenAI-compatible servers that need no API key, such as a local
// text-embeddings server hosting a sentence-transformers model.
package langchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/metrics"
)

// healthText is embedded by HealthCheck; the local servers expose no models endpoint.
const healthText = "ping"

// Config holds the provider settings.
type Config struct {
	BaseURL string
	// Token defaults to "none" for servers without authentication.
	Token     string
	Model     string
	BatchSize int
	Provider  string
	Logger    *zap.Logger
}

// Embedder implements domain.Embedder and domain.BatchEmbedder over langchaingo.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	provider string
	logger   *zap.Logger
}

// NewEmbedder creates the provider. No request is made until the first Embed.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("langchain embedder: base url is required")
	}
	if cfg.Token == "" {
		cfg.Token = "none"
	}
	if cfg.Provider == "" {
		cfg.Provider = "langchain"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.Token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("langchain embedder: create client: %w", err)
	}

	opts := []embeddings.Option{embeddings.WithStripNewLines(true)}
	if cfg.BatchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(cfg.BatchSize))
	}
	emb, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain embedder: %w", err)
	}

	return &Embedder{embedder: emb, model: cfg.Model, provider: cfg.Provider, logger: cfg.Logger}, nil
}

// Embed implements domain.Embedder. Token usage is not reported by langchaingo.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embeddings[0]}, nil
}

// BatchEmbed implements domain.BatchEmbedder.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	start := time.Now()
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, e.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, e.model, "api_error").Inc()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("embedding request: %w", err)
		}
		return domain.BatchEmbeddingResult{}, fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
	}
	if len(vecs) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, e.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, e.model, "count_mismatch").Inc()
		return domain.BatchEmbeddingResult{}, fmt.Errorf("got %d embeddings for %d inputs: %w",
			len(vecs), len(texts), domain.ErrEmbeddingFailure)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, e.model).Observe(duration.Seconds())

	e.logger.Debug("Embedded via langchain",
		zap.String("model", e.model),
		zap.Int("texts", len(texts)),
		zap.Duration("duration", duration),
	)
	return domain.BatchEmbeddingResult{Embeddings: vecs}, nil
}

// HealthCheck embeds a short probe text.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.Embed(ctx, healthText); err != nil {
		return fmt.Errorf("langchain health check: %w", err)
	}
	return nil
}
