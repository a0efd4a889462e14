package pgvector

import (
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
)

// numericPattern guards the float cast so non-numeric values fail the predicate instead of the query.
const numericPattern = `'^[-+]?[0-9]*\.?[0-9]+([eE][-+]?[0-9]+)?$'`

// buildWhere renders expr as a WHERE clause over the metadata column.
// Placeholders continue after the existing args. A missing key never matches.
func buildWhere(expr filter.Expression, args []any) (string, []any) {
	if expr.IsEmpty() {
		return "", args
	}

	var parts []string
	for _, c := range expr.Must() {
		var s string
		s, args = buildCondition(c, args)
		parts = append(parts, s)
	}
	for _, c := range expr.MustNot() {
		var s string
		s, args = buildCondition(c, args)
		parts = append(parts, "NOT "+s)
	}
	if should := expr.Should(); len(should) > 0 {
		or := make([]string, 0, len(should))
		for _, c := range should {
			var s string
			s, args = buildCondition(c, args)
			or = append(or, s)
		}
		parts = append(parts, "("+strings.Join(or, " OR ")+")")
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func buildCondition(c filter.Condition, args []any) (string, []any) {
	args = append(args, c.Key())
	key := placeholder(len(args))
	field := "metadata->>" + key

	var pred string
	switch c.Kind() {
	case filter.KindMatch:
		args = append(args, c.Match())
		pred = field + " = " + placeholder(len(args))
	case filter.KindIn:
		args = append(args, pq.Array(c.Values()))
		pred = field + " = ANY(" + placeholder(len(args)) + ")"
	case filter.KindRange:
		pred, args = buildRange(field, *c.Range(), args)
	default:
		pred = "false"
	}
	return "COALESCE((" + pred + "), false)", args
}

func buildRange(field string, r filter.Range, args []any) (string, []any) {
	num := "(CASE WHEN " + field + " ~ " + numericPattern + " THEN (" + field + ")::float8 END)"
	bounds := []struct {
		v  *float64
		op string
	}{
		{r.GT(), " > "},
		{r.GTE(), " >= "},
		{r.LT(), " < "},
		{r.LTE(), " <= "},
	}

	var parts []string
	for _, b := range bounds {
		if b.v == nil {
			continue
		}
		args = append(args, *b.v)
		parts = append(parts, num+b.op+placeholder(len(args)))
	}
	if len(parts) == 0 {
		return field + " IS NOT NULL", args
	}
	return strings.Join(parts, " AND "), args
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
