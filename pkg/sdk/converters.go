package semsearch

import (
	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/semsearch/internal/domain/search/query"
	"github.com/kailas-cloud/semsearch/internal/domain/search/response"
)

func buildQuery(text string, opts []SearchOption) (query.Query, error) {
	var p searchParams
	for _, o := range opts {
		o(&p)
	}
	var expr filter.Expression
	if p.filter != nil {
		var err error
		if expr, err = toFilter(*p.filter); err != nil {
			return query.Query{}, err
		}
	}
	return query.New(text, p.k, p.minScore, expr)
}

func toFilter(f FilterExpression) (filter.Expression, error) {
	must, err := toConditions(f.Must)
	if err != nil {
		return filter.Expression{}, err
	}
	should, err := toConditions(f.Should)
	if err != nil {
		return filter.Expression{}, err
	}
	mustNot, err := toConditions(f.MustNot)
	if err != nil {
		return filter.Expression{}, err
	}
	return filter.NewExpression(must, should, mustNot)
}

func toConditions(in []FilterCondition) ([]filter.Condition, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]filter.Condition, 0, len(in))
	for _, c := range in {
		cond, err := toCondition(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func toCondition(c FilterCondition) (filter.Condition, error) {
	set := 0
	if c.Match != "" {
		set++
	}
	if len(c.In) > 0 {
		set++
	}
	if c.Range != nil {
		set++
	}
	if set != 1 {
		return filter.Condition{}, domain.Invalidf("filter on %q must set exactly one of match, in, range", c.Key)
	}

	switch {
	case c.Match != "":
		return filter.NewMatch(c.Key, c.Match)
	case len(c.In) > 0:
		return filter.NewIn(c.Key, c.In)
	default:
		r, err := filter.NewRangeFilter(c.Range.GT, c.Range.GTE, c.Range.LT, c.Range.LTE)
		if err != nil {
			return filter.Condition{}, err
		}
		return filter.NewRange(c.Key, r)
	}
}

func fromPayload(p response.Payload) Response {
	out := Response{
		Results: make([]Result, 0, len(p.Results)),
		Context: p.Context,
		Sources: p.Sources,
	}
	for _, rec := range p.Results {
		r := Result{ID: rec.ID(), Score: rec.Score()}
		for k, v := range rec {
			switch k {
			case response.FieldID, response.FieldScore:
			case response.FieldContent:
				r.Content, _ = v.(string)
			default:
				if r.Metadata == nil {
					r.Metadata = make(map[string]any)
				}
				r.Metadata[k] = v
			}
		}
		out.Results = append(out.Results, r)
	}
	return out
}
