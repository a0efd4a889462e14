// Package score normalizes native backend metrics to a similarity in [0, 1], higher is better.
package score

import (
	"fmt"
	"math"
)

// Metric is a vector distance function supported by the stores.
type Metric string

// Supported metrics.
const (
	Cosine Metric = "cosine"
	IP     Metric = "ip"
	L2     Metric = "l2"
)

// ParseMetric validates a configured metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case Cosine, IP, L2:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported distance metric %q", s)
	}
}

// FromDistance converts a distance reported by the store into a normalized similarity.
func FromDistance(m Metric, d float64) float64 {
	if math.IsNaN(d) {
		return math.NaN()
	}
	switch m {
	case L2:
		if d < 0 {
			d = 0
		}
		return 1 / (1 + d)
	default:
		return Clamp(1 - d)
	}
}

// FromSimilarity converts a raw similarity (cosine in [-1, 1]) into a normalized similarity.
func FromSimilarity(s float64) float64 {
	if math.IsNaN(s) {
		return math.NaN()
	}
	return Clamp(s)
}

// Clamp limits v to [0, 1].
func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// CosineSimilarity returns the cosine similarity of a and b, 0 when either is a zero vector.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
