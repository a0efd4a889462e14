package score

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	for _, s := range []string{"cosine", "ip", "l2"} {
		m, err := ParseMetric(s)
		require.NoError(t, err)
		assert.Equal(t, Metric(s), m)
	}
	_, err := ParseMetric("hamming")
	assert.Error(t, err)
}

func TestFromDistance(t *testing.T) {
	assert.InDelta(t, 0.8, FromDistance(Cosine, 0.2), 1e-9)
	assert.Equal(t, 0.0, FromDistance(Cosine, 1.7))
	assert.Equal(t, 1.0, FromDistance(Cosine, -0.1))
	assert.InDelta(t, 0.5, FromDistance(L2, 1), 1e-9)
	assert.Equal(t, 1.0, FromDistance(L2, 0))
	assert.True(t, math.IsNaN(FromDistance(Cosine, math.NaN())))
}

func TestFromSimilarity(t *testing.T) {
	assert.Equal(t, 0.0, FromSimilarity(-0.4))
	assert.InDelta(t, 0.93, FromSimilarity(0.93), 1e-9)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
