package semsearch

import (
	"context"

	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/query"
	"github.com/kailas-cloud/semsearch/internal/domain/search/response"
	healthuc "github.com/kailas-cloud/semsearch/internal/usecase/health"
	searchuc "github.com/kailas-cloud/semsearch/internal/usecase/search"
)

// --- pipelineRunner mock ---

type mockPipeline struct {
	runFn      func(ctx context.Context, q query.Query) (response.Payload, error)
	runBatchFn func(ctx context.Context, queries []query.Query) []searchuc.BatchResult
}

func (m *mockPipeline) Run(ctx context.Context, q query.Query) (response.Payload, error) {
	return m.runFn(ctx, q)
}

func (m *mockPipeline) RunBatch(ctx context.Context, queries []query.Query) []searchuc.BatchResult {
	return m.runBatchFn(ctx, queries)
}

// --- vectorStore mock ---

type mockStore struct {
	upsertFn func(ctx context.Context, doc domain.Document, vec []float32) error
	pingErr  error
}

func (m *mockStore) Upsert(ctx context.Context, doc domain.Document, vec []float32) error {
	return m.upsertFn(ctx, doc, vec)
}

func (m *mockStore) Ping(context.Context) error { return m.pingErr }

// --- healthUseCase mock ---

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

// --- Embedder mocks ---

type mockEmbedder struct {
	fn func(ctx context.Context, text string) (EmbeddingResult, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	return m.fn(ctx, text)
}

type mockBatchEmbedder struct {
	mockEmbedder
	batchFn func(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

func (m *mockBatchEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	return m.batchFn(ctx, texts)
}

// tableEmbedder returns fixed vectors by text and a unit vector on axis 0 otherwise.
func tableEmbedder(dims int, vectors map[string][]float32) *mockEmbedder {
	return &mockEmbedder{fn: func(_ context.Context, text string) (EmbeddingResult, error) {
		if v, ok := vectors[text]; ok {
			return EmbeddingResult{Embedding: v}, nil
		}
		v := make([]float32, dims)
		v[0] = 1
		return EmbeddingResult{Embedding: v}, nil
	}}
}
