package core

import (
	"fmt"
	"strings"
)

// Operator is a comparison applied by a condition node.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "notIn"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpIsNull      Operator = "isNull"
	OpIsNotNull   Operator = "isNotNull"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpLt, OpLte, OpGt, OpGte, OpIn, OpNotIn,
		OpContains, OpNotContains, OpIsNull, OpIsNotNull:
		return true
	}
	return false
}

// IsOrdering reports whether op relies on the order of values.
func (op Operator) IsOrdering() bool {
	return op == OpLt || op == OpLte || op == OpGt || op == OpGte
}

// IsList reports whether op takes a list of values.
func (op Operator) IsList() bool {
	return op == OpIn || op == OpNotIn
}

// IsUnary reports whether op ignores its value.
func (op Operator) IsUnary() bool {
	return op == OpIsNull || op == OpIsNotNull
}

// GroupOperator joins the children of a boolean group.
type GroupOperator string

const (
	GroupAnd GroupOperator = "and"
	GroupOr  GroupOperator = "or"
)

// Where is the predicate intermediate representation: either a condition
// (Column, Operator, Value) or a boolean group (Group, Children).
// The zero Group marks a condition. Where nodes serialize to JSON as is.
type Where struct {
	Column   string        `json:"column,omitempty"`
	Operator Operator      `json:"operator,omitempty"`
	Value    interface{}   `json:"value,omitempty"`
	Group    GroupOperator `json:"group,omitempty"`
	Children []*Where      `json:"children,omitempty"`
}

// Cond builds a condition node.
func Cond(column string, op Operator, value interface{}) *Where {
	return &Where{Column: column, Operator: op, Value: value}
}

// And builds a conjunction. Nil children are skipped.
func And(children ...*Where) *Where {
	return &Where{Group: GroupAnd, Children: compact(children)}
}

// Or builds a disjunction. Nil children are skipped.
func Or(children ...*Where) *Where {
	return &Where{Group: GroupOr, Children: compact(children)}
}

func compact(nodes []*Where) []*Where {
	out := make([]*Where, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// IsGroup reports whether the node is a boolean group.
func (w *Where) IsGroup() bool {
	return w != nil && w.Group != ""
}

// And conjoins w with others. A nil receiver yields the conjunction of others.
func (w *Where) And(others ...*Where) *Where {
	return And(append([]*Where{w}, others...)...)
}

// Or disjoins w with others.
func (w *Where) Or(others ...*Where) *Where {
	return Or(append([]*Where{w}, others...)...)
}

// Conjoin returns the conjunction of a and b, collapsing nil operands.
func Conjoin(a, b *Where) *Where {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return And(a, b)
	}
}

// String renders the node for logs and error messages.
func (w *Where) String() string {
	if w == nil {
		return "<all>"
	}
	if w.IsGroup() {
		parts := make([]string, len(w.Children))
		for i, c := range w.Children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " "+strings.ToUpper(string(w.Group))+" ") + ")"
	}
	if w.Operator.IsUnary() {
		return fmt.Sprintf("%s %s", w.Column, w.Operator)
	}
	return fmt.Sprintf("%s %s %v", w.Column, w.Operator, w.Value)
}

// Direction is the order of a scan or sort.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// OrderBy selects the single ordering key of a query.
type OrderBy struct {
	Table     string    `json:"table,omitempty"`
	Column    string    `json:"column"`
	Direction Direction `json:"direction,omitempty"`
}

// Descending reports whether the ordering is reversed.
func (o *OrderBy) Descending() bool {
	return o != nil && o.Direction == Desc
}

// Plan describes one query. Missing fields mean no filter, natural
// (primary key) order, no limit and no offset.
type Plan struct {
	Where   *Where   `json:"where,omitempty"`
	OrderBy *OrderBy `json:"order_by,omitempty"`
	Limit   *int     `json:"limit,omitempty"`
	Offset  *int     `json:"offset,omitempty"`
}

// Window returns the offset and the limit of the plan. A negative limit
// means unbounded.
func (p Plan) Window() (offset, limit int) {
	limit = -1
	if p.Limit != nil {
		limit = *p.Limit
	}
	if p.Offset != nil {
		offset = *p.Offset
	}
	return offset, limit
}

// WithLimit returns a copy of the plan with the limit set.
func (p Plan) WithLimit(n int) Plan {
	p.Limit = &n
	return p
}

// WithOffset returns a copy of the plan with the offset set.
func (p Plan) WithOffset(n int) Plan {
	p.Offset = &n
	return p
}

// Unbounded reports whether the plan neither orders nor paginates, so a
// write can be applied to every matching row directly.
func (p Plan) Unbounded() bool {
	return p.OrderBy == nil && p.Limit == nil && (p.Offset == nil || *p.Offset == 0)
}
