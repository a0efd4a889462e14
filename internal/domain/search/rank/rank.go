// Package rank orders store hits into the final result sequence.
package rank

import (
	"math"
	"slices"
	"strings"

	"github.com/kailas-cloud/semsearch/internal/domain/search/hit"
)

// Rank drops hits below minScore (and NaN scores), sorts the rest by score descending
// with ties broken by ascending ID, and keeps only the first occurrence of each ID.
// The input slice is not modified.
func Rank(hits []hit.Hit, minScore *float64) []hit.Hit {
	out := make([]hit.Hit, 0, len(hits))
	for _, h := range hits {
		if math.IsNaN(h.Score) {
			continue
		}
		if minScore != nil && h.Score < *minScore {
			continue
		}
		out = append(out, h)
	}

	slices.SortStableFunc(out, func(a, b hit.Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})

	seen := make(map[string]struct{}, len(out))
	unique := out[:0]
	for _, h := range out {
		if _, dup := seen[h.ID]; dup {
			continue
		}
		seen[h.ID] = struct{}{}
		unique = append(unique, h)
	}
	return unique
}

// Truncate returns at most k leading hits.
func Truncate(hits []hit.Hit, k int) []hit.Hit {
	if k < 0 {
		k = 0
	}
	if len(hits) > k {
		return hits[:k]
	}
	return hits
}
