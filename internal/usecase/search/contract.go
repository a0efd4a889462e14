package search

import (
	"context"

	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/semsearch/internal/domain/search/hit"
	"github.com/kailas-cloud/semsearch/internal/domain/search/response"
)

// Embedder vectorizes query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore returns the nearest stored items for a vector.
type VectorStore interface {
	Search(ctx context.Context, vec []float32, k int, f filter.Expression) ([]hit.Hit, error)
}

// Formatter shapes ranked hits into the response payload.
type Formatter interface {
	Format(ranked []hit.Hit) response.Payload
}
