package query

import (
	"strings"

	"github.com/rzpsarthak13/strata/internal/core"
)

// Predicate reports whether a row matches.
type Predicate func(row core.Row) bool

// MatchAll is the predicate of an absent where clause.
func MatchAll(core.Row) bool { return true }

// Compile binds a where tree against a schema and compiles it into a pure
// evaluator. A nil tree matches every row.
func Compile(w *core.Where, s *core.Schema) (Predicate, error) {
	bound, err := Bind(w, s)
	if err != nil {
		return nil, err
	}
	return CompileBound(bound), nil
}

// CompileBound compiles a tree returned by Bind.
func CompileBound(w *core.Where) Predicate {
	if w == nil {
		return MatchAll
	}

	if w.IsGroup() {
		children := make([]Predicate, len(w.Children))
		for i, c := range w.Children {
			children[i] = CompileBound(c)
		}
		if w.Group == core.GroupOr {
			return func(row core.Row) bool {
				for _, p := range children {
					if p(row) {
						return true
					}
				}
				return false
			}
		}
		return func(row core.Row) bool {
			for _, p := range children {
				if !p(row) {
					return false
				}
			}
			return true
		}
	}

	column, want := w.Column, w.Value
	switch w.Operator {
	case core.OpIsNull:
		return func(row core.Row) bool { return row[column] == nil }
	case core.OpIsNotNull:
		return func(row core.Row) bool { return row[column] != nil }
	case core.OpNotIn:
		list, _ := want.([]interface{})
		if len(list) == 0 {
			return MatchAll
		}
		return func(row core.Row) bool {
			v := row[column]
			return v != nil && !contains(list, v)
		}
	case core.OpIn:
		list, _ := want.([]interface{})
		return func(row core.Row) bool {
			v := row[column]
			return v != nil && contains(list, v)
		}
	case core.OpContains, core.OpNotContains:
		needle, _ := want.(string)
		negate := w.Operator == core.OpNotContains
		return func(row core.Row) bool {
			s, ok := row[column].(string)
			if !ok {
				return false
			}
			return strings.Contains(s, needle) != negate
		}
	}

	var test func(c int) bool
	switch w.Operator {
	case core.OpEquals:
		test = func(c int) bool { return c == 0 }
	case core.OpNotEquals:
		test = func(c int) bool { return c != 0 }
	case core.OpLt:
		test = func(c int) bool { return c < 0 }
	case core.OpLte:
		test = func(c int) bool { return c <= 0 }
	case core.OpGt:
		test = func(c int) bool { return c > 0 }
	case core.OpGte:
		test = func(c int) bool { return c >= 0 }
	default:
		return func(core.Row) bool { return false }
	}
	return func(row core.Row) bool {
		v := row[column]
		if v == nil {
			return false
		}
		return test(Compare(v, want))
	}
}

func contains(list []interface{}, v interface{}) bool {
	for _, item := range list {
		if Compare(v, item) == 0 {
			return true
		}
	}
	return false
}
