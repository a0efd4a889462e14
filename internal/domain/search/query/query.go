package query

import (
	"math"
	"strings"

	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
)

// Query parameter limits.
const (
	// MaxTextLength is the maximum allowed query text length in bytes.
	MaxTextLength = 4096
	DefaultK      = 3
	MaxK          = 100
)

// Defaults are applied to parameters the caller left unset.
type Defaults struct {
	K        int
	MinScore *float64
}

// Query is a validated search request. Immutable.
type Query struct {
	text     string
	k        int
	minScore *float64
	filter   filter.Expression
}

// New validates and normalizes search parameters.
// k == 0 means "use the default", k above MaxK is clamped, minScore nil means "use the default".
func New(text string, k int, minScore *float64, f filter.Expression) (Query, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Query{}, domain.Invalidf("query text is required")
	}
	if len(text) > MaxTextLength {
		return Query{}, domain.Invalidf("query too long (max %d bytes)", MaxTextLength)
	}
	if k < 0 {
		return Query{}, domain.Invalidf("k must be positive, got %d", k)
	}
	if k > MaxK {
		k = MaxK
	}
	if minScore != nil {
		if err := validateMinScore(*minScore); err != nil {
			return Query{}, err
		}
		v := *minScore
		minScore = &v
	}
	return Query{text: text, k: k, minScore: minScore, filter: f}, nil
}

func validateMinScore(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return domain.Invalidf("min_score must be between 0 and 1")
	}
	return nil
}

// WithDefaults fills unset K and MinScore from d.
func (q Query) WithDefaults(d Defaults) Query {
	if q.k == 0 {
		q.k = d.K
		if q.k <= 0 {
			q.k = DefaultK
		}
		if q.k > MaxK {
			q.k = MaxK
		}
	}
	if q.minScore == nil && d.MinScore != nil {
		v := *d.MinScore
		q.minScore = &v
	}
	return q
}

// Validate re-checks the invariants; it rejects a zero Query.
func (q Query) Validate() error {
	if strings.TrimSpace(q.text) == "" {
		return domain.Invalidf("query text is required")
	}
	if len(q.text) > MaxTextLength {
		return domain.Invalidf("query too long (max %d bytes)", MaxTextLength)
	}
	if q.k < 0 || q.k > MaxK {
		return domain.Invalidf("k must be between 1 and %d", MaxK)
	}
	if q.minScore != nil {
		return validateMinScore(*q.minScore)
	}
	return nil
}

// Text returns the trimmed query text.
func (q Query) Text() string { return q.text }

// K returns the maximum number of results (0 until defaults are applied).
func (q Query) K() int { return q.k }

// MinScore returns the minimum score threshold, nil when unset.
func (q Query) MinScore() *float64 { return q.minScore }

// Filter returns the metadata pre-filter.
func (q Query) Filter() filter.Expression { return q.filter }
