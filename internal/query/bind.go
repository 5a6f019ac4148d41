// Package query evaluates the where-clause intermediate representation
// outside of any engine: binding against a schema, predicate compilation,
// value ordering and order-preserving key encoding.
package query

import (
	"reflect"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/schema"
)

var mapper = schema.NewTypeMapper()

// Bind validates a where tree against a table schema and returns a copy
// whose values are normalized to their column types. Binding rewrites
// equals(nil) to isNull, notEquals(nil) to isNotNull, and drops NULL
// elements from in/notIn lists. A nil tree binds to nil.
func Bind(w *core.Where, s *core.Schema) (*core.Where, error) {
	if w == nil {
		return nil, nil
	}

	if w.IsGroup() {
		if w.Group != core.GroupAnd && w.Group != core.GroupOr {
			return nil, core.Errorf(core.ErrInvalidPlan, "unknown group operator %q", w.Group)
		}
		bound := &core.Where{Group: w.Group, Children: make([]*core.Where, 0, len(w.Children))}
		for _, child := range w.Children {
			if child == nil {
				continue
			}
			c, err := Bind(child, s)
			if err != nil {
				return nil, err
			}
			bound.Children = append(bound.Children, c)
		}
		return bound, nil
	}

	return bindCondition(w, s)
}

func bindCondition(w *core.Where, s *core.Schema) (*core.Where, error) {
	column, ok := s.Column(w.Column)
	if !ok {
		return nil, core.ErrUnknownColumn.With(s.TableName, w.Column)
	}
	if !w.Operator.Valid() {
		return nil, core.Errorf(core.ErrUnsupportedOperator, "unknown operator %q", w.Operator).With(s.TableName, w.Column)
	}

	op := w.Operator
	switch {
	case op == core.OpEquals && w.Value == nil:
		op = core.OpIsNull
	case op == core.OpNotEquals && w.Value == nil:
		op = core.OpIsNotNull
	}

	bound := &core.Where{Column: w.Column, Operator: op}
	switch {
	case op.IsUnary():
		return bound, nil

	case op == core.OpContains || op == core.OpNotContains:
		if column.Type != core.TypeText {
			return nil, core.Errorf(core.ErrUnsupportedOperator, "%s requires a text column, %q is %s",
				op, column.Name, column.Type).With(s.TableName, column.Name)
		}
		v, err := normalize(s, column, w.Value)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, core.Errorf(core.ErrInvalidValue, "%s requires a value", op).With(s.TableName, column.Name)
		}
		bound.Value = v
		return bound, nil

	case op.IsList():
		values, err := normalizeList(s, column, w.Value)
		if err != nil {
			return nil, err
		}
		bound.Value = values
		return bound, nil

	default:
		if op.IsOrdering() && !column.Type.Orderable() {
			return nil, core.Errorf(core.ErrUnsupportedOperator, "%s is not defined on %s columns",
				op, column.Type).With(s.TableName, column.Name)
		}
		v, err := normalize(s, column, w.Value)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, core.Errorf(core.ErrInvalidValue, "%s requires a value", op).With(s.TableName, column.Name)
		}
		bound.Value = v
		return bound, nil
	}
}

func normalize(s *core.Schema, column core.Column, value interface{}) (interface{}, error) {
	v, err := mapper.Normalize(value, column.Type)
	if err != nil {
		return nil, &core.Error{
			Kind:   core.KindQuery,
			Code:   core.ErrInvalidValue.Code,
			Table:  s.TableName,
			Column: column.Name,
			Value:  value,
			Err:    err,
		}
	}
	return v, nil
}

func normalizeList(s *core.Schema, column core.Column, value interface{}) ([]interface{}, error) {
	if value == nil {
		return []interface{}{}, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, core.Errorf(core.ErrInvalidValue, "list operator needs a slice, got %T", value).With(s.TableName, column.Name)
	}
	// []byte is a single json or text value, not a list.
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, core.Errorf(core.ErrInvalidValue, "list operator needs a slice, got %T", value).With(s.TableName, column.Name)
	}

	out := make([]interface{}, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, err := normalize(s, column, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
