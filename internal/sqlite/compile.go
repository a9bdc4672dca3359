package sqlite

import (
	"fmt"
	"strings"

	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/provider"
	"github.com/roach88/vlayer/internal/schema"
)

// compilePredicate compiles a provider.Predicate to a SQL WHERE fragment.
// Returns (sql, params, error).
// CRITICAL: Values are NEVER interpolated - always ? placeholders.
func compilePredicate(p provider.Predicate, fields schema.Fields) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case provider.Equals:
		return compileEquals(pred, fields)
	case *provider.Equals:
		return compileEquals(*pred, fields)
	case provider.And:
		return compileAnd(pred, fields)
	case *provider.And:
		return compileAnd(*pred, fields)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals compiles an Equals predicate.
//
// Values are compared by canonical text so that int64(5) matches "5", the
// same rule feature.ValuesEqual applies in memory. A null value never
// matches.
func compileEquals(eq provider.Equals, fields schema.Fields) (string, []any, error) {
	idx := fields.IndexFromName(eq.Field)
	if idx < 0 {
		return "", nil, &provider.UnknownFieldError{Field: eq.Field}
	}
	key, ok := feature.CanonicalKey(eq.Value)
	if !ok {
		return "0 = 1", nil, nil
	}
	col := quoteIdent(fields[idx].Name)
	if fields[idx].Type == schema.TypeReal {
		// REAL columns render 5.0 as "5.0"; compare numerically instead.
		return fmt.Sprintf("%s = CAST(? AS REAL)", col), []any{key}, nil
	}
	return fmt.Sprintf("CAST(%s AS TEXT) = ?", col), []any{key}, nil
}

// compileAnd compiles an And predicate to "(p1) AND (p2) AND ...".
// Empty And compiles to "1 = 1" (vacuous truth).
func compileAnd(and provider.And, fields schema.Fields) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	var parts []string
	var params []any
	for i, sub := range and.Predicates {
		sql, subParams, err := compilePredicate(sub, fields)
		if err != nil {
			return "", nil, fmt.Errorf("and[%d]: %w", i, err)
		}
		parts = append(parts, "("+sql+")")
		params = append(params, subParams...)
	}

	return strings.Join(parts, " AND "), params, nil
}

// queryParts holds the WHERE clause of a scan, excluding keyset paging.
type queryParts struct {
	where  []string
	params []any
}

func (q *queryParts) add(clause string, params ...any) {
	q.where = append(q.where, clause)
	q.params = append(q.params, params...)
}

func (q *queryParts) clause() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

// buildScan returns the filter clauses for req and the subset filter.
func buildScan(req feature.Request, subset provider.Predicate, fields schema.Fields) (*queryParts, error) {
	q := &queryParts{}
	switch req.FilterType() {
	case feature.FilterFid:
		q.add("fid = ?", req.Fid())
	case feature.FilterRect:
		r := req.Rect()
		q.add("maxx >= ? AND minx <= ? AND maxy >= ? AND miny <= ?", r[0], r[2], r[1], r[3])
	}
	if subset != nil {
		sql, params, err := compilePredicate(subset, fields)
		if err != nil {
			return nil, fmt.Errorf("compile subset filter: %w", err)
		}
		q.add("("+sql+")", params...)
	}
	return q, nil
}
