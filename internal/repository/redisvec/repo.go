// Package redisvec is the Redis 8 / Valkey vector store backend.
// Documents are stored as hashes under a key prefix and searched with FT.SEARCH KNN.
package redisvec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/db"
	"github.com/kailas-cloud/semsearch/internal/db/redis"
	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/semsearch/internal/domain/search/hit"
	"github.com/kailas-cloud/semsearch/internal/domain/search/score"
)

// Hash fields reserved for storage internals.
const (
	FieldContent  = domain.ReservedPrefix + "content"
	FieldVector   = domain.ReservedPrefix + "vector"
	FieldMetadata = domain.ReservedPrefix + "metadata"
)

// store is the consumer interface for the backend (ISP).
type store interface {
	Ping(ctx context.Context) error
	HSet(ctx context.Context, key string, fields map[string]string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	Close()
}

// Config describes the index layout.
type Config struct {
	// Driver is "redis" or "valkey"; both speak the same FT.* dialect.
	Driver     string
	Prefix     string
	IndexName  string
	Dimensions int
	Metric     score.Metric
	// Algorithm is "hnsw" or "flat".
	Algorithm     string
	TagFields     []string
	NumericFields []string
	HNSWM         int
	HNSWEFConstr  int
}

// Repo implements vectorstore.Backend over FT.SEARCH.
type Repo struct {
	store  store
	cfg    Config
	logger *zap.Logger
	// returned lists the hash fields FT.SEARCH sends back; the vector is never among them.
	returned []string
}

// New creates a Redis vector backend.
func New(s store, cfg Config, logger *zap.Logger) (*Repo, error) {
	if cfg.Dimensions <= 0 {
		return nil, errors.New("redisvec: dimensions must be positive")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "semsearch:kb:"
	}
	if cfg.IndexName == "" {
		cfg.IndexName = strings.TrimSuffix(cfg.Prefix, ":") + ":idx"
	}
	if cfg.Metric == "" {
		cfg.Metric = score.Cosine
	}
	if cfg.Driver == "" {
		cfg.Driver = "redis"
	}
	if cfg.HNSWM <= 0 {
		cfg.HNSWM = 16
	}
	if cfg.HNSWEFConstr <= 0 {
		cfg.HNSWEFConstr = 200
	}
	return &Repo{store: s, cfg: cfg, logger: logger, returned: returnFields(cfg)}, nil
}

func returnFields(cfg Config) []string {
	fields := []string{FieldContent, FieldMetadata}
	seen := map[string]bool{FieldContent: true, FieldMetadata: true}
	for _, group := range [][]string{cfg.TagFields, cfg.NumericFields} {
		for _, name := range group {
			if !seen[name] {
				seen[name] = true
				fields = append(fields, name)
			}
		}
	}
	return fields
}

// Name returns the driver name used in metrics and logs.
func (r *Repo) Name() string { return r.cfg.Driver }

// Dimensions returns the indexed vector length.
func (r *Repo) Dimensions() int { return r.cfg.Dimensions }

// EnsureIndex creates the KNN index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.cfg.IndexName)
	if err != nil {
		return classify(fmt.Errorf("check index %s: %w", r.cfg.IndexName, err))
	}
	if exists {
		return nil
	}

	def, err := r.indexDefinition()
	if err != nil {
		return err
	}
	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return classify(fmt.Errorf("create index %s: %w", r.cfg.IndexName, err))
	}

	r.logger.Info("Vector index created",
		zap.String("index", r.cfg.IndexName),
		zap.String("prefix", r.cfg.Prefix),
		zap.Int("dimensions", r.cfg.Dimensions),
		zap.String("metric", string(r.cfg.Metric)),
	)
	return nil
}

func (r *Repo) indexDefinition() (*db.IndexDefinition, error) {
	distance, err := db.ParseDistance(string(r.cfg.Metric))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreQuery, err)
	}

	b := db.NewIndex(r.cfg.IndexName).Prefix(r.cfg.Prefix)
	for _, name := range r.cfg.TagFields {
		b.Tag(name)
	}
	for _, name := range r.cfg.NumericFields {
		b.Numeric(name)
	}
	if strings.EqualFold(r.cfg.Algorithm, "flat") {
		b.VectorFlat(FieldVector, r.cfg.Dimensions, distance)
	} else {
		b.VectorHNSW(FieldVector, r.cfg.Dimensions, distance, r.cfg.HNSWM, r.cfg.HNSWEFConstr)
	}

	def, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreQuery, err)
	}
	return def, nil
}

// Search runs a KNN query with an optional metadata pre-filter.
func (r *Repo) Search(ctx context.Context, vec []float32, k int, f filter.Expression) ([]hit.Hit, error) {
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.cfg.IndexName,
		VectorField:  FieldVector,
		ReturnFields: r.returned,
		Filters:      f,
		Vector:       vec,
		K:            k,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("search knn %s: %w", r.cfg.IndexName, err))
	}
	return r.parseHits(sr), nil
}

// parseHits converts db.SearchResult into hits with normalized scores.
func (r *Repo) parseHits(sr *db.SearchResult) []hit.Hit {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}

	hits := make([]hit.Hit, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		h := hit.Hit{
			ID:       strings.TrimPrefix(entry.Key, r.cfg.Prefix),
			Score:    score.FromDistance(r.cfg.Metric, entry.Distance),
			Metadata: make(map[string]string, len(entry.Fields)),
		}
		if raw, ok := entry.Fields[FieldMetadata]; ok && raw != "" {
			var meta map[string]string
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				r.logger.Warn("Skipping malformed metadata blob",
					zap.String("key", entry.Key), zap.Error(err))
			}
			for k, v := range meta {
				h.Metadata[k] = v
			}
		}
		for k, v := range entry.Fields {
			switch {
			case k == FieldContent:
				h.Content = v
			case domain.IsReservedField(k):
				// vectors and other internals stay in storage
			default:
				h.Metadata[k] = v
			}
		}
		hits = append(hits, h)
	}
	return hits
}

// Upsert writes the document hash. HSET overwrites fields, so repeating it is harmless.
func (r *Repo) Upsert(ctx context.Context, doc domain.Document, vec []float32) error {
	fields := make(map[string]string, len(doc.Metadata)+3)
	for k, v := range doc.Metadata {
		if domain.IsReservedField(k) {
			return domain.Invalidf("metadata key %q uses reserved prefix %q", k, domain.ReservedPrefix)
		}
		fields[k] = v
	}
	// Searches RETURN only indexed fields, so the full metadata also travels as one blob.
	blob, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %w", domain.ErrInvalidInput, err)
	}
	fields[FieldMetadata] = string(blob)
	fields[FieldContent] = doc.Text
	fields[FieldVector] = string(redis.VectorToBytes(vec))

	if err := r.store.HSet(ctx, r.cfg.Prefix+doc.ID, fields); err != nil {
		return classify(fmt.Errorf("upsert %s: %w", doc.ID, err))
	}
	return nil
}

// Ping checks server connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Repo) Close() error {
	r.store.Close()
	return nil
}

// classify separates server replies (the request was rejected) from transport failures.
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrStoreQuery), errors.Is(err, domain.ErrStoreUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	case redis.IsServerError(err):
		return fmt.Errorf("%w: %w", domain.ErrStoreQuery, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
}
