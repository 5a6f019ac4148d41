package strata

import (
	"reflect"

	"github.com/rzpsarthak13/strata/internal/core"
)

// ColumnRef builds conditions on one column:
//
//	strata.And(strata.Col("projectId").In("p1", "p2"), strata.Col("done").Equals(false))
type ColumnRef string

// Col refers to a column by name.
func Col(name string) ColumnRef {
	return ColumnRef(name)
}

func (c ColumnRef) cond(op core.Operator, value interface{}) *Where {
	return core.Cond(string(c), op, value)
}

func (c ColumnRef) Equals(v interface{}) *Where    { return c.cond(core.OpEquals, v) }
func (c ColumnRef) NotEquals(v interface{}) *Where { return c.cond(core.OpNotEquals, v) }
func (c ColumnRef) Lt(v interface{}) *Where        { return c.cond(core.OpLt, v) }
func (c ColumnRef) Lte(v interface{}) *Where       { return c.cond(core.OpLte, v) }
func (c ColumnRef) Gt(v interface{}) *Where        { return c.cond(core.OpGt, v) }
func (c ColumnRef) Gte(v interface{}) *Where       { return c.cond(core.OpGte, v) }

// In matches rows whose value is one of values. A single slice argument is
// taken as the list itself, so In("a", "b") and In([]string{"a", "b"}) agree.
func (c ColumnRef) In(values ...interface{}) *Where { return c.cond(core.OpIn, listOf(values)) }

// NotIn matches rows whose non-null value is none of values.
func (c ColumnRef) NotIn(values ...interface{}) *Where { return c.cond(core.OpNotIn, listOf(values)) }

func listOf(values []interface{}) interface{} {
	if len(values) != 1 || values[0] == nil {
		return values
	}
	rv := reflect.ValueOf(values[0])
	switch {
	case rv.Kind() == reflect.Array:
		return values[0]
	case rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8:
		return values[0]
	}
	return values
}

// Contains is a case-sensitive substring test on a text column.
func (c ColumnRef) Contains(s string) *Where    { return c.cond(core.OpContains, s) }
func (c ColumnRef) NotContains(s string) *Where { return c.cond(core.OpNotContains, s) }

func (c ColumnRef) IsNull() *Where    { return c.cond(core.OpIsNull, nil) }
func (c ColumnRef) IsNotNull() *Where { return c.cond(core.OpIsNotNull, nil) }

// Asc orders by the column ascending.
func (c ColumnRef) Asc() *OrderBy { return &OrderBy{Column: string(c), Direction: core.Asc} }

// Desc orders by the column descending.
func (c ColumnRef) Desc() *OrderBy { return &OrderBy{Column: string(c), Direction: core.Desc} }

// And matches rows every condition matches. With no conditions it matches
// every row.
func And(conditions ...*Where) *Where {
	return core.And(conditions...)
}

// Or matches rows at least one condition matches. With no conditions it
// matches no row.
func Or(conditions ...*Where) *Where {
	return core.Or(conditions...)
}

// Filter is a plan with only a where clause.
func Filter(where *Where) Plan {
	return Plan{Where: where}
}
