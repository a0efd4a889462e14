package redis

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/semsearch/internal/db"
	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
)

// --- client.go tests ---

func TestPing_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	s := NewStoreForTest(c)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	s := NewStoreForTest(c)
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestIsServerError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "k")).
		Return(mock.Result(mock.RedisError("WRONGTYPE Operation against a key")))

	s := NewStoreForTest(c)
	_, err := s.Get(context.Background(), "k")
	if !IsServerError(err) {
		t.Errorf("expected server error, got %v", err)
	}
	if IsServerError(&db.Error{Op: db.OpGet, Err: errors.New("connection refused")}) {
		t.Error("transport error must not be a server error")
	}
	if IsServerError(nil) {
		t.Error("nil must not be a server error")
	}
}

// --- hash.go tests ---

func TestHSet_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "HSET" && cmd[1] == "kb:doc-1" && slices.Contains(cmd, "__content")
		})).
		Return(mock.Result(mock.RedisInt64(2)))

	s := NewStoreForTest(c)
	err := s.HSet(context.Background(), "kb:doc-1", map[string]string{"__content": "text", "source": "who.int"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHSet_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "HSET" })).
		Return(mock.ErrorResult(errors.New("connection reset")))

	s := NewStoreForTest(c)
	err := s.HSet(context.Background(), "k", map[string]string{"f": "v"})
	if !isDBError(err) {
		t.Errorf("expected db.Error, got %T", err)
	}
}

// --- kv.go tests ---

func TestGet_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "mykey")).
		Return(mock.Result(mock.RedisBlobString("value")))

	data, err := NewStoreForTest(c).Get(context.Background(), "mykey")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "value" {
		t.Errorf("unexpected data: %s", data)
	}
}

func TestGet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "mykey")).
		Return(mock.Result(mock.RedisNil()))

	_, err := NewStoreForTest(c).Get(context.Background(), "mykey")
	if !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestGet_NetworkError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "mykey")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	_, err := NewStoreForTest(c).Get(context.Background(), "mykey")
	if errors.Is(err, db.ErrKeyNotFound) {
		t.Error("should not be ErrKeyNotFound for network errors")
	}
	if !isDBError(err) {
		t.Errorf("expected db.Error, got %T", err)
	}
}

func TestSetWithTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return len(cmd) == 5 && cmd[0] == "SET" && cmd[1] == "mykey" && cmd[2] == "myvalue" && cmd[3] == "EX"
		})).
		Return(mock.Result(mock.RedisString("OK")))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "other", "v")).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c)
	if err := s.SetWithTTL(context.Background(), "mykey", []byte("myvalue"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetWithTTL(context.Background(), "other", []byte("v"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- index.go tests ---

func TestCreateIndex_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.CREATE" && cmd[1] == "kb:idx" && slices.Contains(cmd, "HNSW")
		})).
		Return(mock.Result(mock.RedisString("OK")))

	idx, err := db.NewIndex("kb:idx").
		Prefix("kb:").
		Tag("source").
		VectorHNSW("__vector", 384, db.DistanceCosine, 16, 200).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := NewStoreForTest(c).CreateIndex(context.Background(), idx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateIndex_AlreadyExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.CREATE" })).
		Return(mock.Result(mock.RedisError("Index already exists")))

	idx := &db.IndexDefinition{
		Name:   "kb:idx",
		Fields: []db.IndexField{{Name: "f", Type: db.IndexFieldTag}},
	}
	err := NewStoreForTest(c).CreateIndex(context.Background(), idx)
	if !errors.Is(err, db.ErrIndexExists) {
		t.Errorf("expected ErrIndexExists, got %v", err)
	}
}

func TestIndexExists(t *testing.T) {
	tests := []struct {
		name   string
		result rueidis.RedisResult
		want   bool
	}{
		{"present", mock.Result(mock.RedisArray(mock.RedisString("index_name"), mock.RedisString("kb:idx"))), true},
		{"redis missing", mock.Result(mock.RedisError("Unknown Index name")), false},
		{"valkey missing", mock.Result(mock.RedisError("Index with name 'kb:idx' not found")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			c := mock.NewClient(ctrl)

			c.EXPECT().Do(gomock.Any(), mock.Match("FT.INFO", "kb:idx")).Return(tt.result)

			got, err := NewStoreForTest(c).IndexExists(context.Background(), "kb:idx")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IndexExists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildFieldArgs_AllTypes(t *testing.T) {
	tests := []struct {
		name  string
		field db.IndexField
		want  string
	}{
		{"tag", db.IndexField{Name: "f", Type: db.IndexFieldTag}, "TAG"},
		{"tag_case_sensitive", db.IndexField{Name: "f", Type: db.IndexFieldTag, TagCaseSensitive: true}, "CASESENSITIVE"},
		{"numeric", db.IndexField{Name: "f", Type: db.IndexFieldNumeric}, "NUMERIC"},
		{"vector_flat", db.IndexField{
			Name: "f", Type: db.IndexFieldVector,
			VectorDim: 128, VectorAlgo: db.VectorFlat,
		}, "FLAT"},
		{"vector_hnsw", db.IndexField{
			Name: "f", Type: db.IndexFieldVector,
			VectorDim: 384, VectorAlgo: db.VectorHNSW,
			VectorM: 16, VectorEFConstruct: 200,
		}, "EF_CONSTRUCTION"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			args, err := buildFieldArgs(&tc.field)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertContains(t, args, tc.want)
		})
	}
}

func TestBuildFieldArgs_Errors(t *testing.T) {
	if _, err := buildFieldArgs(&db.IndexField{Name: "", Type: db.IndexFieldTag}); err == nil {
		t.Error("expected error for empty field name")
	}
	if _, err := buildFieldArgs(&db.IndexField{Name: "f", Type: db.IndexFieldType(99)}); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := buildFieldArgs(&db.IndexField{Name: "f", Type: db.IndexFieldVector}); err == nil {
		t.Error("expected error for zero vector dim")
	}
}

func assertContains(t *testing.T, args []string, want string) {
	t.Helper()
	if !slices.Contains(args, want) {
		t.Errorf("expected %q in args %v", want, args)
	}
}

// --- search.go tests ---

func TestSearchKNN_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH" &&
				cmd[1] == "kb:idx" &&
				cmd[2] == "(@source:{who\\.int})=>[KNN 2 @__vector $BLOB AS __vector_score]" &&
				slices.Contains(cmd, "SORTBY") &&
				slices.Contains(cmd, "DIALECT")
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(2),
			mock.RedisString("kb:C"),
			mock.RedisArray(
				mock.RedisString("__vector_score"),
				mock.RedisString("0.1"),
				mock.RedisString("__content"),
				mock.RedisString("diet"),
			),
			mock.RedisString("kb:A"),
			mock.RedisArray(
				mock.RedisString("__vector_score"),
				mock.RedisString("0.25"),
			),
		)))

	src, _ := filter.NewMatch("source", "who.int")
	expr, _ := filter.NewExpression([]filter.Condition{src}, nil, nil)

	result, err := NewStoreForTest(c).SearchKNN(context.Background(), &db.KNNQuery{
		IndexName:   "kb:idx",
		VectorField: "__vector",
		Filters:     expr,
		Vector:      []float32{0.1, 0.2},
		K:           2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 2 || len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got total=%d len=%d", result.Total, len(result.Entries))
	}
	first := result.Entries[0]
	if first.Key != "kb:C" || first.Distance != 0.1 || first.Fields["__content"] != "diet" {
		t.Errorf("unexpected first entry: %+v", first)
	}
	if _, ok := first.Fields["__vector_score"]; ok {
		t.Error("score field must be stripped from fields")
	}
}

func TestSearchKNN_MissingScoreIsNaN(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.SEARCH" })).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(1),
			mock.RedisString("kb:A"),
			mock.RedisArray(mock.RedisString("__content"), mock.RedisString("x")),
		)))

	result, err := NewStoreForTest(c).SearchKNN(context.Background(), &db.KNNQuery{
		IndexName: "kb:idx", Vector: []float32{1}, K: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !math.IsNaN(result.Entries[0].Distance) {
		t.Errorf("expected NaN distance, got %v", result.Entries[0].Distance)
	}
}

func TestSearchKNN_Empty(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH" && cmd[2] == "*=>[KNN 10 @vector $BLOB AS __vector_score]"
		})).
		Return(mock.Result(mock.RedisArray(mock.RedisInt64(0))))

	result, err := NewStoreForTest(c).SearchKNN(context.Background(), &db.KNNQuery{
		IndexName: "idx",
		Vector:    []float32{0.1},
		K:         10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Entries) != 0 {
		t.Errorf("expected 0 entries, got %d", len(result.Entries))
	}
}

func TestSearchKNN_ServerError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.SEARCH" })).
		Return(mock.Result(mock.RedisError("Syntax error at offset 3")))

	_, err := NewStoreForTest(c).SearchKNN(context.Background(), &db.KNNQuery{
		IndexName: "idx", Vector: []float32{0.1}, K: 10,
	})
	if !isDBError(err) || !IsServerError(err) {
		t.Fatalf("expected wrapped server error, got %v", err)
	}
}

func TestSearchKNN_Validation(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	if _, err := s.SearchKNN(ctx, &db.KNNQuery{Vector: []float32{0.1}, K: 10}); err == nil {
		t.Error("expected error for empty index name")
	}
	if _, err := s.SearchKNN(ctx, &db.KNNQuery{IndexName: "idx", K: 10}); err == nil {
		t.Error("expected error for empty vector")
	}
	if _, err := s.SearchKNN(ctx, &db.KNNQuery{IndexName: "idx", Vector: []float32{0.1}}); err == nil {
		t.Error("expected error for k=0")
	}
}

// --- Filter building tests ---

func TestBuildFilter(t *testing.T) {
	gte, lte := 2020.0, 2024.0
	rng, _ := filter.NewRangeFilter(nil, &gte, nil, &lte)
	year, _ := filter.NewRange("year", rng)
	src, _ := filter.NewMatch("source", "who.int")
	cat, _ := filter.NewIn("category", []string{"diet", "sleep hygiene"})
	draft, _ := filter.NewMatch("status", "draft")

	tests := []struct {
		name string
		expr func() filter.Expression
		want string
	}{
		{"empty", func() filter.Expression { return filter.Expression{} }, ""},
		{"must tag", func() filter.Expression {
			e, _ := filter.NewExpression([]filter.Condition{src}, nil, nil)
			return e
		}, `@source:{who\.int}`},
		{"must in", func() filter.Expression {
			e, _ := filter.NewExpression([]filter.Condition{cat}, nil, nil)
			return e
		}, `@category:{diet | sleep\ hygiene}`},
		{"must numeric", func() filter.Expression {
			e, _ := filter.NewExpression([]filter.Condition{year}, nil, nil)
			return e
		}, `@year:[2020 2024]`},
		{"should", func() filter.Expression {
			e, _ := filter.NewExpression(nil, []filter.Condition{src, cat}, nil)
			return e
		}, `(@source:{who\.int} | @category:{diet | sleep\ hygiene})`},
		{"combined", func() filter.Expression {
			e, _ := filter.NewExpression([]filter.Condition{src}, nil, []filter.Condition{draft})
			return e
		}, `@source:{who\.int} -@status:{draft}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildFilter(tt.expr()); got != tt.want {
				t.Errorf("buildFilter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildNumericFilter_OpenBounds(t *testing.T) {
	gt, lt := 5.0, 100.0
	r1, _ := filter.NewRangeFilter(&gt, nil, nil, nil)
	if got := buildNumericFilter("price", r1); got != `@price:[(5 +inf]` {
		t.Errorf("unexpected filter: %q", got)
	}
	r2, _ := filter.NewRangeFilter(nil, nil, &lt, nil)
	if got := buildNumericFilter("price", r2); got != `@price:[-inf (100]` {
		t.Errorf("unexpected filter: %q", got)
	}
}

func TestVectorBytesRoundTrip(t *testing.T) {
	v := []float32{1.0, -2.5, 0.125}
	b := VectorToBytes(v)
	if len(b) != 12 {
		t.Fatalf("expected 12 bytes, got %d", len(b))
	}
	back, err := BytesToVector(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(v, back) {
		t.Errorf("round trip mismatch: %v vs %v", v, back)
	}
	if _, err := BytesToVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

// --- helpers ---

// isDBError is a test helper for checking wrapped db.Error.
func isDBError(err error) bool {
	var dbErr *db.Error
	return errors.As(err, &dbErr)
}

func TestSearchKNN_ReturnFields(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			i := slices.Index(cmd, "RETURN")
			return i > 0 && i+4 < len(cmd) &&
				cmd[i+1] == "3" &&
				cmd[i+2] == "__content" &&
				cmd[i+3] == "__metadata" &&
				cmd[i+4] == "__vector_score" &&
				!slices.Contains(cmd, "__vector")
		})).
		Return(mock.Result(mock.RedisArray(mock.RedisInt64(0))))

	_, err := NewStoreForTest(c).SearchKNN(context.Background(), &db.KNNQuery{
		IndexName:    "kb:idx",
		VectorField:  "__vector",
		ReturnFields: []string{"__content", "__metadata"},
		Vector:       []float32{0.1, 0.2},
		K:            1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
