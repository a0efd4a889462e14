package semsearch

// Document is an indexed text item.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Result is one ranked hit. Content is empty unless the client includes it.
type Result struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]any
}

// Response is the formatted outcome of one search.
type Response struct {
	Results []Result
	// Context joins the result contents; set only when the client includes it.
	Context string
	Sources []string
}

// BatchQuery is one query of a SearchBatch call.
type BatchQuery struct {
	Text    string
	Options []SearchOption
}

// BatchResponse is the outcome of one query in a batch. Exactly one of Response and Err is meaningful.
type BatchResponse struct {
	Response Response
	Err      error
}

// FilterExpression is a set of must/should/must_not filter conditions.
type FilterExpression struct {
	Must    []FilterCondition
	Should  []FilterCondition
	MustNot []FilterCondition
}

// FilterCondition is a single filter clause. Set exactly one of Match, In and Range.
type FilterCondition struct {
	Key   string
	Match string       // non-empty for equality
	In    []string     // non-empty for set membership
	Range *RangeFilter // non-nil for numeric range
}

// RangeFilter defines numeric range boundaries.
type RangeFilter struct {
	GT  *float64
	GTE *float64
	LT  *float64
	LTE *float64
}

// SearchOption adjusts a single search.
type SearchOption func(*searchParams)

type searchParams struct {
	k        int
	minScore *float64
	filter   *FilterExpression
}

// TopK limits the number of results. Zero uses the client default.
func TopK(k int) SearchOption {
	return func(p *searchParams) { p.k = k }
}

// MinScore drops results scoring below v, in [0, 1].
func MinScore(v float64) SearchOption {
	return func(p *searchParams) { p.minScore = &v }
}

// Filter restricts the search to documents whose metadata satisfies f.
func Filter(f FilterExpression) SearchOption {
	return func(p *searchParams) { p.filter = &f }
}
