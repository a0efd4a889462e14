package redisvec

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/db"
	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/semsearch/internal/domain/search/score"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	pingFn        func(ctx context.Context) error
	hsetFn        func(ctx context.Context, key string, fields map[string]string) error
	createIndexFn func(ctx context.Context, def *db.IndexDefinition) error
	indexExistsFn func(ctx context.Context, name string) (bool, error)
	searchKNNFn   func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	closed        bool
}

func (m *mockStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	return nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	return false, nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) Close() { m.closed = true }

func testConfig() Config {
	return Config{
		Prefix:     "kb:",
		IndexName:  "kb:idx",
		Dimensions: 4,
		Metric:     score.Cosine,
		TagFields:  []string{"source"},
	}
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	repo, err := New(ms, testConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return repo, ms
}

func testVector() []float32 {
	return []float32{0.1, 0.1, 0.1, 0.1}
}

func mustMatch(t *testing.T, key, value string) filter.Condition {
	t.Helper()
	c, err := filter.NewMatch(key, value)
	if err != nil {
		t.Fatalf("NewMatch: %v", err)
	}
	return c
}

func mustExpression(t *testing.T, must, should, mustNot []filter.Condition) filter.Expression {
	t.Helper()
	e, err := filter.NewExpression(must, should, mustNot)
	if err != nil {
		t.Fatalf("NewExpression: %v", err)
	}
	return e
}
