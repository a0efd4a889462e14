package filter

import (
	"strconv"

	"github.com/kailas-cloud/semsearch/internal/domain"
)

// MaxConditionsPerGroup is the maximum number of conditions per filter group.
const MaxConditionsPerGroup = 32

// MaxInValues bounds the value list of a single In condition.
const MaxInValues = 64

// Expression is a metadata pre-filter with must/should/must_not boolean semantics.
// The zero value matches everything.
type Expression struct {
	must    []Condition
	should  []Condition
	mustNot []Condition
}

// NewExpression validates and creates a filter Expression.
func NewExpression(must, should, mustNot []Condition) (Expression, error) {
	if len(must) > MaxConditionsPerGroup {
		return Expression{}, domain.Invalidf("too many must conditions (max %d)", MaxConditionsPerGroup)
	}
	if len(should) > MaxConditionsPerGroup {
		return Expression{}, domain.Invalidf("too many should conditions (max %d)", MaxConditionsPerGroup)
	}
	if len(mustNot) > MaxConditionsPerGroup {
		return Expression{}, domain.Invalidf("too many must_not conditions (max %d)", MaxConditionsPerGroup)
	}
	return Expression{must: must, should: should, mustNot: mustNot}, nil
}

// Must returns the must conditions.
func (e Expression) Must() []Condition { return e.must }

// Should returns the should conditions.
func (e Expression) Should() []Condition { return e.should }

// MustNot returns the must-not conditions.
func (e Expression) MustNot() []Condition { return e.mustNot }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool {
	return len(e.must) == 0 && len(e.should) == 0 && len(e.mustNot) == 0
}

// Keys returns the distinct metadata keys referenced by the expression, in first-seen order.
func (e Expression) Keys() []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, group := range [][]Condition{e.must, e.should, e.mustNot} {
		for _, c := range group {
			if _, ok := seen[c.key]; ok {
				continue
			}
			seen[c.key] = struct{}{}
			keys = append(keys, c.key)
		}
	}
	return keys
}

// Matches evaluates the expression against a metadata map.
// All must conditions hold, at least one should condition holds (when any are given),
// and no must_not condition holds.
func (e Expression) Matches(metadata map[string]string) bool {
	for _, c := range e.must {
		if !c.Matches(metadata) {
			return false
		}
	}
	for _, c := range e.mustNot {
		if c.Matches(metadata) {
			return false
		}
	}
	if len(e.should) == 0 {
		return true
	}
	for _, c := range e.should {
		if c.Matches(metadata) {
			return true
		}
	}
	return false
}

// Kind discriminates condition variants.
type Kind int

// Condition kinds.
const (
	KindMatch Kind = iota + 1
	KindIn
	KindRange
)

// Condition is a single filter clause: equality, set membership or a numeric range.
type Condition struct {
	kind      Kind
	key       string
	match     string
	values    []string
	rangeExpr *Range
}

// NewMatch creates an exact equality condition.
func NewMatch(key, match string) (Condition, error) {
	if key == "" {
		return Condition{}, domain.Invalidf("filter key is required")
	}
	if match == "" {
		return Condition{}, domain.Invalidf("match value is required for key %q", key)
	}
	return Condition{kind: KindMatch, key: key, match: match}, nil
}

// NewIn creates a set membership condition.
func NewIn(key string, values []string) (Condition, error) {
	if key == "" {
		return Condition{}, domain.Invalidf("filter key is required")
	}
	if len(values) == 0 {
		return Condition{}, domain.Invalidf("in values are required for key %q", key)
	}
	if len(values) > MaxInValues {
		return Condition{}, domain.Invalidf("too many in values for key %q (max %d)", key, MaxInValues)
	}
	for _, v := range values {
		if v == "" {
			return Condition{}, domain.Invalidf("empty in value for key %q", key)
		}
	}
	return Condition{kind: KindIn, key: key, values: append([]string(nil), values...)}, nil
}

// NewRange creates a numeric range condition.
func NewRange(key string, r Range) (Condition, error) {
	if key == "" {
		return Condition{}, domain.Invalidf("filter key is required")
	}
	return Condition{kind: KindRange, key: key, rangeExpr: &r}, nil
}

// Kind returns the condition variant.
func (c Condition) Kind() Kind { return c.kind }

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// Match returns the exact match value.
func (c Condition) Match() string { return c.match }

// Values returns the set of an In condition.
func (c Condition) Values() []string { return c.values }

// Range returns the numeric range expression.
func (c Condition) Range() *Range { return c.rangeExpr }

// IsMatch reports whether this is a match condition.
func (c Condition) IsMatch() bool { return c.kind == KindMatch }

// IsIn reports whether this is a set membership condition.
func (c Condition) IsIn() bool { return c.kind == KindIn }

// IsRange reports whether this is a range condition.
func (c Condition) IsRange() bool { return c.kind == KindRange }

// Matches evaluates the condition against metadata. A missing key never matches.
func (c Condition) Matches(metadata map[string]string) bool {
	v, ok := metadata[c.key]
	if !ok {
		return false
	}
	switch c.kind {
	case KindMatch:
		return v == c.match
	case KindIn:
		for _, want := range c.values {
			if v == want {
				return true
			}
		}
		return false
	case KindRange:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return false
		}
		return c.rangeExpr.Contains(f)
	default:
		return false
	}
}

// Range is a numeric range with gt/gte/lt/lte boundaries.
type Range struct {
	gt  *float64
	gte *float64
	lt  *float64
	lte *float64
}

// NewRangeFilter validates and creates a Range.
// At least one boundary required. gt/gte and lt/lte are mutually exclusive.
func NewRangeFilter(gt, gte, lt, lte *float64) (Range, error) {
	if gt == nil && gte == nil && lt == nil && lte == nil {
		return Range{}, domain.Invalidf("at least one range boundary is required")
	}
	if gt != nil && gte != nil {
		return Range{}, domain.Invalidf("cannot specify both gt and gte")
	}
	if lt != nil && lte != nil {
		return Range{}, domain.Invalidf("cannot specify both lt and lte")
	}
	return Range{gt: gt, gte: gte, lt: lt, lte: lte}, nil
}

// GT returns the lower exclusive bound.
func (r Range) GT() *float64 { return r.gt }

// GTE returns the lower inclusive bound.
func (r Range) GTE() *float64 { return r.gte }

// LT returns the upper exclusive bound.
func (r Range) LT() *float64 { return r.lt }

// LTE returns the upper inclusive bound.
func (r Range) LTE() *float64 { return r.lte }

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	switch {
	case r.gt != nil && v <= *r.gt:
		return false
	case r.gte != nil && v < *r.gte:
		return false
	case r.lt != nil && v >= *r.lt:
		return false
	case r.lte != nil && v > *r.lte:
		return false
	}
	return true
}
