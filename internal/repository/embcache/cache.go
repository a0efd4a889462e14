package embcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/db"
	redisdb "github.com/kailas-cloud/semsearch/internal/db/redis"
)

// Cache is a vector cache tier. Faults are absorbed by the tier: Get reports a miss
// and Put is best-effort.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Put(ctx context.Context, key string, vec []float32)
}

// LRU is an in-process cache tier. Safe for concurrent use.
type LRU struct {
	entries *lru.Cache[string, []float32]
}

// NewLRU creates an in-process tier holding at most size vectors.
func NewLRU(size int) (*LRU, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &LRU{entries: c}, nil
}

// Get returns a copy of the cached vector.
func (l *LRU) Get(_ context.Context, key string) ([]float32, bool) {
	vec, ok := l.entries.Get(key)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

// Put stores a copy of vec.
func (l *LRU) Put(_ context.Context, key string, vec []float32) {
	l.entries.Add(key, append([]float32(nil), vec...))
}

// Len returns the number of cached vectors.
func (l *LRU) Len() int { return l.entries.Len() }

// kvStore is the consumer interface for the shared cache tier (ISP).
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// KV is a shared cache tier backed by Redis/Valkey.
type KV struct {
	store  kvStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewKV creates a shared tier. ttl == 0 keeps entries without expiry.
func NewKV(s kvStore, ttl time.Duration, logger *zap.Logger) *KV {
	return &KV{store: s, ttl: ttl, logger: logger}
}

// Get returns the cached vector; store faults count as misses.
func (k *KV) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := k.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			k.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	vec, err := redisdb.BytesToVector(data)
	if err != nil {
		k.logger.Warn("Failed to parse cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return vec, true
}

// Put stores vec; store faults are logged.
func (k *KV) Put(ctx context.Context, key string, vec []float32) {
	if err := k.store.SetWithTTL(ctx, key, redisdb.VectorToBytes(vec), k.ttl); err != nil {
		k.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}

// Tiered consults tiers in order and back-fills faster tiers on a hit in a slower one.
type Tiered []Cache

// Get returns the first hit.
func (t Tiered) Get(ctx context.Context, key string) ([]float32, bool) {
	for i, c := range t {
		vec, ok := c.Get(ctx, key)
		if !ok {
			continue
		}
		for j := range i {
			t[j].Put(ctx, key, vec)
		}
		return vec, true
	}
	return nil, false
}

// Put writes to every tier.
func (t Tiered) Put(ctx context.Context, key string, vec []float32) {
	for _, c := range t {
		c.Put(ctx, key, vec)
	}
}
