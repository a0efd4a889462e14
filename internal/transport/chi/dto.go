package chi

import (
	"fmt"

	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/semsearch/internal/domain/search/query"
	"github.com/kailas-cloud/semsearch/internal/domain/search/response"
)

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query    string            `json:"query"`
	K        *int              `json:"k,omitempty"`
	MinScore *float64          `json:"min_score,omitempty"`
	Filter   *FilterExpression `json:"filter,omitempty"`
}

// FilterExpression is the JSON form of filter.Expression.
type FilterExpression struct {
	Must    []FilterCondition `json:"must,omitempty"`
	Should  []FilterCondition `json:"should,omitempty"`
	MustNot []FilterCondition `json:"must_not,omitempty"`
}

// FilterCondition holds exactly one of Match, In or Range.
type FilterCondition struct {
	Key   string       `json:"key"`
	Match *string      `json:"match,omitempty"`
	In    []string     `json:"in,omitempty"`
	Range *RangeFilter `json:"range,omitempty"`
}

// RangeFilter is a numeric range; at least one bound is required.
type RangeFilter struct {
	GT  *float64 `json:"gt,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

// BatchSearchRequest is the body of POST /search/batch.
type BatchSearchRequest struct {
	Queries []SearchRequest `json:"queries"`
}

// BatchSearchResponse holds one item per query, in request order.
type BatchSearchResponse struct {
	Items []BatchItem `json:"items"`
}

// BatchItem is either a payload or an error.
type BatchItem struct {
	*response.Payload
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse is the error body of every endpoint.
type ErrorResponse struct {
	Code    domain.Kind `json:"code"`
	Message string      `json:"message"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]string      `json:"checks"`
	Errors map[string]domain.Kind `json:"errors,omitempty"`
}

func queryFromRequest(req SearchRequest) (query.Query, error) {
	k := 0
	if req.K != nil {
		if *req.K < 1 {
			return query.Query{}, domain.Invalidf("k must be at least 1, got %d", *req.K)
		}
		k = *req.K
	}
	f, err := filterFromRequest(req.Filter)
	if err != nil {
		return query.Query{}, err
	}
	q, err := query.New(req.Query, k, req.MinScore, f)
	if err != nil {
		return query.Query{}, fmt.Errorf("parse query: %w", err)
	}
	return q, nil
}

func filterFromRequest(f *FilterExpression) (filter.Expression, error) {
	if f == nil {
		return filter.Expression{}, nil
	}

	must, err := conditionsFromRequest(f.Must)
	if err != nil {
		return filter.Expression{}, err
	}
	should, err := conditionsFromRequest(f.Should)
	if err != nil {
		return filter.Expression{}, err
	}
	mustNot, err := conditionsFromRequest(f.MustNot)
	if err != nil {
		return filter.Expression{}, err
	}

	expr, err := filter.NewExpression(must, should, mustNot)
	if err != nil {
		return filter.Expression{}, fmt.Errorf("new expression: %w", err)
	}
	return expr, nil
}

func conditionsFromRequest(cs []FilterCondition) ([]filter.Condition, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	out := make([]filter.Condition, 0, len(cs))
	for _, c := range cs {
		cond, err := conditionFromRequest(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func conditionFromRequest(c FilterCondition) (filter.Condition, error) {
	set := 0
	if c.Match != nil {
		set++
	}
	if c.In != nil {
		set++
	}
	if c.Range != nil {
		set++
	}
	if set != 1 {
		return filter.Condition{},
			domain.Invalidf("filter condition for %q must have exactly one of match, in or range", c.Key)
	}

	switch {
	case c.Match != nil:
		return filter.NewMatch(c.Key, *c.Match)
	case c.In != nil:
		return filter.NewIn(c.Key, c.In)
	default:
		r, err := filter.NewRangeFilter(c.Range.GT, c.Range.GTE, c.Range.LT, c.Range.LTE)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("range filter: %w", err)
		}
		return filter.NewRange(c.Key, r)
	}
}
