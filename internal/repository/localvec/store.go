// Package localvec is an embedded vector backend for local development and tests.
// Records are persisted in bbolt and searched exhaustively in memory.
package localvec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/semsearch/internal/domain/search/hit"
	"github.com/kailas-cloud/semsearch/internal/domain/search/rank"
	"github.com/kailas-cloud/semsearch/internal/domain/search/score"
)

var bucketDocuments = []byte("documents")

type storedDocument struct {
	Text     string            `json:"t"`
	Metadata map[string]string `json:"m,omitempty"`
	Vector   []float32         `json:"v"`
}

type record struct {
	id       string
	text     string
	metadata map[string]string
	vector   []float32
}

// Store implements vectorstore.Backend with exact cosine search.
type Store struct {
	db     *bbolt.DB
	dims   int
	logger *zap.Logger

	mu      sync.RWMutex
	records []record
	slots   map[string]uint32
	// postings[key][value] holds the slots whose metadata has key=value.
	postings map[string]map[string]*roaring.Bitmap
	closed   bool
}

// Open opens (or creates) the bbolt file at path.
func Open(path string, dims int, logger *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("localvec: open %s: %w", path, err)
	}
	s, err := New(db, dims, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New loads all records from db into memory.
func New(db *bbolt.DB, dims int, logger *zap.Logger) (*Store, error) {
	if dims <= 0 {
		return nil, errors.New("localvec: dimensions must be positive")
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDocuments)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("localvec: create bucket: %w", err)
	}

	s := &Store{
		db:       db,
		dims:     dims,
		logger:   logger,
		slots:    make(map[string]uint32),
		postings: make(map[string]map[string]*roaring.Bitmap),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("localvec: load: %w", err)
	}

	logger.Info("Local vector store loaded",
		zap.String("path", db.Path()),
		zap.Int("documents", len(s.records)),
		zap.Int("dimensions", dims),
	)
	return s, nil
}

func (s *Store) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEach(func(k, v []byte) error {
			var doc storedDocument
			if err := json.Unmarshal(v, &doc); err != nil {
				s.logger.Warn("Skipping corrupted document", zap.ByteString("id", k), zap.Error(err))
				return nil
			}
			if len(doc.Vector) != s.dims {
				s.logger.Warn("Skipping document with foreign dimensions",
					zap.ByteString("id", k), zap.Int("dimensions", len(doc.Vector)))
				return nil
			}
			s.put(record{id: string(k), text: doc.Text, metadata: doc.Metadata, vector: doc.Vector})
			return nil
		})
	})
}

// put stores rec in memory. Caller holds the write lock (or is the loader).
func (s *Store) put(rec record) {
	slot, ok := s.slots[rec.id]
	if ok {
		for k, v := range s.records[slot].metadata {
			if bm := s.postings[k][v]; bm != nil {
				bm.Remove(slot)
			}
		}
		s.records[slot] = rec
	} else {
		slot = uint32(len(s.records))
		s.records = append(s.records, rec)
		s.slots[rec.id] = slot
	}

	for k, v := range rec.metadata {
		byValue, ok := s.postings[k]
		if !ok {
			byValue = make(map[string]*roaring.Bitmap)
			s.postings[k] = byValue
		}
		bm, ok := byValue[v]
		if !ok {
			bm = roaring.New()
			byValue[v] = bm
		}
		bm.Add(slot)
	}
}

// Name returns the backend name used in metrics and logs.
func (s *Store) Name() string { return "local" }

// Dimensions returns the stored vector length.
func (s *Store) Dimensions() int { return s.dims }

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Search scores every candidate with cosine similarity and returns the k best.
func (s *Store) Search(ctx context.Context, vec []float32, k int, f filter.Expression) ([]hit.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("%w: local store is closed", domain.ErrStoreUnavailable)
	}
	if len(vec) != s.dims {
		return nil, fmt.Errorf("%w: %w: got %d, want %d",
			domain.ErrStoreQuery, domain.ErrVectorDimMismatch, len(vec), s.dims)
	}

	hits := make([]hit.Hit, 0, k)
	var ctxErr error
	s.candidates(f).Iterate(func(slot uint32) bool {
		if ctxErr = ctx.Err(); ctxErr != nil {
			return false
		}
		rec := s.records[slot]
		if !f.Matches(rec.metadata) {
			return true
		}
		hits = append(hits, hit.Hit{
			ID:       rec.id,
			Score:    score.FromSimilarity(score.CosineSimilarity(vec, rec.vector)),
			Content:  rec.text,
			Metadata: copyMetadata(rec.metadata),
		})
		return true
	})
	if ctxErr != nil {
		return nil, ctxErr
	}

	return rank.Truncate(rank.Rank(hits, nil), k), nil
}

// candidates narrows the scan with the posting lists of must Match/In conditions.
// Remaining conditions are checked per record.
func (s *Store) candidates(f filter.Expression) *roaring.Bitmap {
	all := roaring.New()
	all.AddRange(0, uint64(len(s.records)))

	result := all
	for _, c := range f.Must() {
		var values []string
		switch c.Kind() {
		case filter.KindMatch:
			values = []string{c.Match()}
		case filter.KindIn:
			values = c.Values()
		default:
			continue
		}

		union := roaring.New()
		for _, v := range values {
			if bm := s.postings[c.Key()][v]; bm != nil {
				union.Or(bm)
			}
		}
		result = roaring.And(result, union)
		if result.IsEmpty() {
			break
		}
	}
	return result
}

// Upsert persists doc and replaces any previous version in memory.
func (s *Store) Upsert(_ context.Context, doc domain.Document, vec []float32) error {
	if len(vec) != s.dims {
		return fmt.Errorf("%w: %w: got %d, want %d",
			domain.ErrStoreQuery, domain.ErrVectorDimMismatch, len(vec), s.dims)
	}
	for k := range doc.Metadata {
		if domain.IsReservedField(k) {
			return domain.Invalidf("metadata key %q uses reserved prefix %q", k, domain.ReservedPrefix)
		}
	}

	meta := copyMetadata(doc.Metadata)
	vector := append([]float32(nil), vec...)
	data, err := json.Marshal(storedDocument{Text: doc.Text, Metadata: meta, Vector: vector})
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", domain.ErrStoreQuery, doc.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: local store is closed", domain.ErrStoreUnavailable)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocuments).Put([]byte(doc.ID), data)
	})
	if err != nil {
		return fmt.Errorf("%w: persist %s: %w", domain.ErrStoreUnavailable, doc.ID, err)
	}

	s.put(record{id: doc.ID, text: doc.Text, metadata: meta, vector: vector})
	return nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: local store is closed", domain.ErrStoreUnavailable)
	}
	return nil
}

// Close closes the bbolt file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
