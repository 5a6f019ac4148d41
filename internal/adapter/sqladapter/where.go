package sqladapter

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/schema"
)

var mapper = schema.NewTypeMapper()

// predicate translates a bound where tree into a WHERE clause. SQL
// three-valued logic already gives NULL the required semantics: a NULL
// operand fails every comparison, IN, NOT IN and INSTR test. A nil tree
// matches everything.
func (d *dialect) predicate(w *core.Where, s *core.Schema) (sq.Sqlizer, error) {
	if w == nil {
		return sq.Expr("1=1"), nil
	}

	if w.IsGroup() {
		children := make([]sq.Sqlizer, 0, len(w.Children))
		for _, child := range w.Children {
			c, err := d.predicate(child, s)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		if w.Group == core.GroupOr {
			return sq.Or(children), nil
		}
		return sq.And(children), nil
	}

	column, ok := s.Column(w.Column)
	if !ok {
		return nil, core.ErrUnknownColumn.With(s.TableName, w.Column)
	}
	name := d.quote(column.Name)

	switch w.Operator {
	case core.OpIsNull:
		return sq.Expr(name + " IS NULL"), nil
	case core.OpIsNotNull:
		return sq.Expr(name + " IS NOT NULL"), nil
	case core.OpIn, core.OpNotIn:
		return d.list(name, column, w)
	}

	value, err := mapper.ToSQL(w.Value, column.Type)
	if err != nil {
		return nil, err
	}
	switch w.Operator {
	case core.OpEquals:
		return sq.Expr(name+" = ?", value), nil
	case core.OpNotEquals:
		return sq.Expr(name+" <> ?", value), nil
	case core.OpLt:
		return sq.Expr(name+" < ?", value), nil
	case core.OpLte:
		return sq.Expr(name+" <= ?", value), nil
	case core.OpGt:
		return sq.Expr(name+" > ?", value), nil
	case core.OpGte:
		return sq.Expr(name+" >= ?", value), nil
	case core.OpContains:
		return sq.Expr("INSTR("+name+", ?) > 0", value), nil
	case core.OpNotContains:
		return sq.Expr("INSTR("+name+", ?) = 0", value), nil
	}
	return nil, core.Errorf(core.ErrUnsupportedOperator, "unknown operator %q", w.Operator).With(s.TableName, column.Name)
}

func (d *dialect) list(name string, column core.Column, w *core.Where) (sq.Sqlizer, error) {
	values, ok := w.Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unbound %s list on %s", w.Operator, column.Name)
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		converted, err := mapper.ToSQL(v, column.Type)
		if err != nil {
			return nil, err
		}
		args[i] = converted
	}

	// sq.Eq renders an empty list as (1=0) and sq.NotEq as (1=1).
	if w.Operator == core.OpIn {
		return sq.Eq{name: args}, nil
	}
	return sq.NotEq{name: args}, nil
}
