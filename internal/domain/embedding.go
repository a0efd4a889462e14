package domain

import (
	"context"
	"fmt"
	"strings"
)

// Embedder is the provider-level text vectorization contract.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single provider call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// BatchFallback вызывает Embed по одному для каждого текста, для провайдеров без нативного batch.
func BatchFallback(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	embeddings := make([][]float32, len(texts))
	var totalPrompt, totalTokens int

	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		embeddings[i] = res.Embedding
		totalPrompt += res.PromptTokens
		totalTokens += res.TotalTokens
	}

	return BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: totalPrompt,
		TotalTokens:  totalTokens,
	}, nil
}

// QueryPrefixEmbedder prepends a model-specific query prefix (e.g. "query: " for E5 models)
// and collapses newlines before the text reaches the provider.
type QueryPrefixEmbedder struct {
	inner  Embedder
	prefix string
}

// NewQueryPrefixEmbedder creates the decorator. An empty prefix only normalizes whitespace.
func NewQueryPrefixEmbedder(inner Embedder, prefix string) *QueryPrefixEmbedder {
	return &QueryPrefixEmbedder{inner: inner, prefix: prefix}
}

func (e *QueryPrefixEmbedder) prepare(text string) string {
	return e.prefix + strings.ReplaceAll(text, "\n", " ")
}

// Embed prepares the text and delegates to the inner embedder.
func (e *QueryPrefixEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	result, err := e.inner.Embed(ctx, e.prepare(text))
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("prefix embed: %w", err)
	}
	return result, nil
}

// BatchEmbed prepares every text and delegates to the inner BatchEmbedder.
// Если inner не поддерживает batch, используется поштучный Embed.
func (e *QueryPrefixEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	prepared := make([]string, len(texts))
	for i, t := range texts {
		prepared[i] = e.prepare(t)
	}

	if be, ok := e.inner.(BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, prepared)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("prefix batch embed: %w", err)
		}
		return res, nil
	}

	res, err := BatchFallback(ctx, e.inner, prepared)
	if err != nil {
		return BatchEmbeddingResult{}, fmt.Errorf("prefix batch embed fallback: %w", err)
	}
	return res, nil
}

// HealthCheck delegates to the inner embedder when it supports health checks.
func (e *QueryPrefixEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := e.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// CheckDimensions verifies that vec has exactly want components.
func CheckDimensions(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrVectorDimMismatch, len(vec), want)
	}
	return nil
}
