package redisvec

import (
	"context"
	"errors"
	"maps"
	"math"
	"slices"
	"testing"

	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/db"
	"github.com/kailas-cloud/semsearch/internal/db/redis"
	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/semsearch/internal/domain/search/score"
)

// --- Search ---

func TestSearch_HappyPath(t *testing.T) {
	repo, ms := newTestRepo(t)
	ctx := context.Background()

	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.IndexName != "kb:idx" {
			t.Errorf("unexpected index: %s", q.IndexName)
		}
		if q.VectorField != FieldVector {
			t.Errorf("unexpected vector field: %s", q.VectorField)
		}
		if q.K != 2 {
			t.Errorf("unexpected K: %d", q.K)
		}
		if want := []string{FieldContent, FieldMetadata, "source"}; !slices.Equal(q.ReturnFields, want) {
			t.Errorf("expected return fields %v, got %v", want, q.ReturnFields)
		}
		return &db.SearchResult{
			Total: 2,
			Entries: []db.SearchEntry{
				{
					Key:      "kb:C",
					Distance: 0.1,
					Fields: map[string]string{
						FieldContent: "diet and exercise",
						FieldVector:  "\x00\x00\x80\x3f",
						"source":     "who.int",
					},
				},
				{
					Key:      "kb:A",
					Distance: 0.25,
					Fields:   map[string]string{FieldContent: "insulin"},
				},
			},
		}, nil
	}

	hits, err := repo.Search(ctx, testVector(), 2, filter.Expression{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "C" || hits[1].ID != "A" {
		t.Fatalf("unexpected ids: %s, %s", hits[0].ID, hits[1].ID)
	}
	if math.Abs(hits[0].Score-0.9) > 1e-9 {
		t.Errorf("expected normalized score 0.9, got %f", hits[0].Score)
	}
	if hits[0].Content != "diet and exercise" {
		t.Errorf("unexpected content %q", hits[0].Content)
	}
	if _, ok := hits[0].Metadata[FieldVector]; ok {
		t.Error("vector must not leak into metadata")
	}
	if hits[0].Metadata["source"] != "who.int" {
		t.Errorf("expected source metadata, got %v", hits[0].Metadata)
	}
}

func TestSearch_MetadataBlob(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return &db.SearchResult{Total: 2, Entries: []db.SearchEntry{
			{
				Key:      "kb:A",
				Distance: 0.1,
				Fields: map[string]string{
					FieldContent:  "insulin",
					FieldMetadata: `{"source":"nih.gov","topic":"diabetes"}`,
					"source":      "nih.gov",
				},
			},
			{Key: "kb:B", Distance: 0.2, Fields: map[string]string{FieldMetadata: "null"}},
		}}, nil
	}

	hits, err := repo.Search(context.Background(), testVector(), 2, filter.Expression{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{"source": "nih.gov", "topic": "diabetes"}
	if !maps.Equal(hits[0].Metadata, want) {
		t.Errorf("expected metadata %v, got %v", want, hits[0].Metadata)
	}
	if len(hits[1].Metadata) != 0 {
		t.Errorf("expected empty metadata, got %v", hits[1].Metadata)
	}
}

func TestReturnFields_Dedup(t *testing.T) {
	cfg := testConfig()
	cfg.TagFields = []string{"source", "topic"}
	cfg.NumericFields = []string{"year", "source"}

	got := returnFields(cfg)
	want := []string{FieldContent, FieldMetadata, "source", "topic", "year"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSearch_L2Normalization(t *testing.T) {
	ms := &mockStore{}
	cfg := testConfig()
	cfg.Metric = score.L2
	repo, err := New(ms, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return &db.SearchResult{Total: 1, Entries: []db.SearchEntry{{Key: "kb:x", Distance: 1}}}, nil
	}

	hits, err := repo.Search(context.Background(), testVector(), 1, filter.Expression{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits[0].Score != 0.5 {
		t.Errorf("expected 1/(1+1)=0.5, got %f", hits[0].Score)
	}
}

func TestSearch_PassesFilter(t *testing.T) {
	repo, ms := newTestRepo(t)
	expr := mustExpression(t, []filter.Condition{mustMatch(t, "source", "who.int")}, nil, nil)

	var got filter.Expression
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		got = q.Filters
		return &db.SearchResult{}, nil
	}

	hits, err := repo.Search(context.Background(), testVector(), 3, expr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
	if len(got.Must()) != 1 || got.Must()[0].Key() != "source" {
		t.Errorf("filter not forwarded: %+v", got)
	}
}

func TestSearch_TransportErrorIsUnavailable(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return nil, &db.Error{Op: db.OpSearch, Err: errors.New("dial tcp: connection refused")}
	}

	_, err := repo.Search(context.Background(), testVector(), 3, filter.Expression{})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSearch_ServerErrorIsQueryError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.SEARCH" })).
		Return(mock.Result(mock.RedisError("Unknown index name")))

	repo, err := New(redis.NewStoreForTest(c), testConfig(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = repo.Search(context.Background(), testVector(), 3, filter.Expression{})
	if !errors.Is(err, domain.ErrStoreQuery) {
		t.Fatalf("expected ErrStoreQuery, got %v", err)
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatal("server reply must not be classified as unavailable")
	}
}

// --- Upsert ---

func TestUpsert_WritesHash(t *testing.T) {
	repo, ms := newTestRepo(t)

	var key string
	var fields map[string]string
	ms.hsetFn = func(_ context.Context, k string, f map[string]string) error {
		key, fields = k, f
		return nil
	}

	doc := domain.Document{ID: "A", Text: "insulin", Metadata: map[string]string{"source": "nih.gov"}}
	if err := repo.Upsert(context.Background(), doc, testVector()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "kb:A" {
		t.Errorf("unexpected key %q", key)
	}
	if fields[FieldContent] != "insulin" || fields["source"] != "nih.gov" {
		t.Errorf("unexpected fields %v", fields)
	}
	if fields[FieldMetadata] != `{"source":"nih.gov"}` {
		t.Errorf("unexpected metadata blob %q", fields[FieldMetadata])
	}
	if len(fields[FieldVector]) != 16 {
		t.Errorf("expected 16-byte vector blob, got %d", len(fields[FieldVector]))
	}
}

func TestUpsert_ReservedMetadataKey(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hsetFn = func(_ context.Context, _ string, _ map[string]string) error {
		t.Fatal("HSet must not be called")
		return nil
	}

	doc := domain.Document{ID: "A", Text: "x", Metadata: map[string]string{"__vector": "evil"}}
	err := repo.Upsert(context.Background(), doc, testVector())
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

// --- EnsureIndex ---

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	repo, ms := newTestRepo(t)

	var created *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		created = def
		return nil
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil {
		t.Fatal("expected CreateIndex call")
	}
	if created.Name != "kb:idx" || created.Prefixes[0] != "kb:" {
		t.Errorf("unexpected definition %+v", created)
	}
	last := created.Fields[len(created.Fields)-1]
	if last.Name != FieldVector || last.VectorAlgo != db.VectorHNSW || last.VectorDim != 4 {
		t.Errorf("unexpected vector field %+v", last)
	}
}

func TestEnsureIndex_SkipsExisting(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) { return true, nil }
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		t.Fatal("CreateIndex must not be called")
		return nil
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_RaceIsTolerated(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		return &db.Error{Op: db.OpCreateIndex, Err: db.ErrIndexExists}
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_Flat(t *testing.T) {
	ms := &mockStore{}
	cfg := testConfig()
	cfg.Algorithm = "flat"
	repo, err := New(ms, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	var created *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		created = def
		return nil
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Fields[len(created.Fields)-1].VectorAlgo != db.VectorFlat {
		t.Error("expected FLAT vector field")
	}
}

// --- misc ---

func TestNew_Defaults(t *testing.T) {
	repo, err := New(&mockStore{}, Config{Dimensions: 384}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if repo.cfg.Prefix != "semsearch:kb:" || repo.cfg.IndexName != "semsearch:kb:idx" {
		t.Errorf("unexpected defaults %+v", repo.cfg)
	}
	if repo.Name() != "redis" || repo.Dimensions() != 384 {
		t.Errorf("unexpected name/dims %s/%d", repo.Name(), repo.Dimensions())
	}

	if _, err := New(&mockStore{}, Config{}, zap.NewNop()); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

func TestPingAndClose(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.pingFn = func(_ context.Context) error { return errors.New("eof") }

	if err := repo.Ping(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if err := repo.Close(); err != nil || !ms.closed {
		t.Error("expected store to be closed")
	}
}
