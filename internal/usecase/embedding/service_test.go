package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/domain"
)

// textEmbedder returns a deterministic vector derived from the text and counts calls.
type textEmbedder struct {
	dims  int
	err   error
	delay time.Duration
	calls atomic.Int32

	mu       sync.Mutex
	inflight int
	peak     int
}

func (e *textEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.inflight++
	e.peak = max(e.peak, e.inflight)
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inflight--
		e.mu.Unlock()
	}()

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return domain.EmbeddingResult{}, ctx.Err()
		}
	}
	if e.err != nil {
		return domain.EmbeddingResult{}, e.err
	}
	vec := make([]float32, e.dims)
	for i := range vec {
		vec[i] = float32(len(text)+i) / 100
	}
	return domain.EmbeddingResult{Embedding: vec}, nil
}

func testConfig() Config {
	return Config{Provider: "test", Model: "all-MiniLM-L6-v2", Dimensions: 4, MaxConcurrency: 2, Timeout: time.Second}
}

func loadService(t *testing.T, p domain.Embedder, cfg Config) *Service {
	t.Helper()
	s, err := Load(context.Background(), p, cfg, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestLoad_Success(t *testing.T) {
	s := loadService(t, &textEmbedder{dims: 4}, testConfig())
	assert.Equal(t, 4, s.Dimensions())
	assert.Equal(t, "all-MiniLM-L6-v2", s.Model())
}

func TestLoad_DimensionMismatch(t *testing.T) {
	_, err := Load(context.Background(), &textEmbedder{dims: 3}, testConfig(), zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	assert.ErrorIs(t, err, domain.ErrVectorDimMismatch)
}

func TestLoad_ProviderDown(t *testing.T) {
	_, err := Load(context.Background(), &textEmbedder{dims: 4, err: errors.New("connection refused")}, testConfig(), zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestEmbed_Deterministic(t *testing.T) {
	s := loadService(t, &textEmbedder{dims: 4}, testConfig())
	a, err := s.Embed(context.Background(), "blood sugar control")
	require.NoError(t, err)
	b, err := s.Embed(context.Background(), "blood sugar control")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 4)
}

func TestEmbed_EmptyTextSkipsProvider(t *testing.T) {
	p := &textEmbedder{dims: 4}
	s := loadService(t, p, testConfig())
	before := p.calls.Load()

	_, err := s.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, before, p.calls.Load())
}

func TestEmbed_ProviderFailure(t *testing.T) {
	p := &textEmbedder{dims: 4}
	s := loadService(t, p, testConfig())
	p.err = errors.New("inference crashed")

	_, err := s.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailure)
	assert.Equal(t, domain.KindEmbeddingFailure, domain.KindOf(err))
}

func TestEmbed_Timeout(t *testing.T) {
	p := &textEmbedder{dims: 4}
	cfg := testConfig()
	s := loadService(t, p, cfg)
	s.cfg.Timeout = 10 * time.Millisecond
	p.delay = time.Second

	_, err := s.Embed(context.Background(), "slow")
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestEmbed_BoundedConcurrency(t *testing.T) {
	p := &textEmbedder{dims: 4}
	cfg := testConfig()
	cfg.MaxConcurrency = 1
	s := loadService(t, p, cfg)
	p.delay = 5 * time.Millisecond

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Embed(context.Background(), fmt.Sprintf("q%d", i))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, p.peak)
}

func TestEmbedMany_Fanout(t *testing.T) {
	p := &textEmbedder{dims: 4}
	s := loadService(t, p, testConfig())

	vecs, err := s.EmbedMany(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	single, _ := s.Embed(context.Background(), "bb")
	assert.Equal(t, single, vecs[1])
}

func TestEmbedMany_RejectsEmptyItem(t *testing.T) {
	s := loadService(t, &textEmbedder{dims: 4}, testConfig())
	_, err := s.EmbedMany(context.Background(), []string{"a", ""})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEmbedMany_NativeBatch(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 2, 3, 4}}}
	s := loadService(t, inner, testConfig())

	vecs, err := s.EmbedMany(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 1, inner.batchCalls)
}

func TestHealthCheck(t *testing.T) {
	s := loadService(t, &textEmbedder{dims: 4}, testConfig())
	assert.NoError(t, s.HealthCheck(context.Background()))
}
