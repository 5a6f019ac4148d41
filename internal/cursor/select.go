package cursor

import (
	"context"
	"iter"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/query"
)

// Source is a table that can open engine cursors.
type Source interface {
	Schema() *core.Schema
	OpenCursor(ctx context.Context, index string, dir core.Direction) (core.Cursor, error)
}

// Prepared is a validated plan ready to run against a Source.
type Prepared struct {
	Predicate query.Predicate

	// Index is the cursor to scan: "" for the primary key, or an indexed
	// column. Materialize is set when the order needs an in-memory sort.
	Index       string
	Direction   core.Direction
	Materialize bool

	Offset int
	Limit  int

	order *core.OrderBy
}

// Prepare validates a plan and applies the ordering policy: the primary
// key and indexed columns are scanned natively, any other column is left
// to engines that order natively, sorted in memory when the adapter allows
// it and rejected otherwise.
func Prepare(s *core.Schema, plan core.Plan, caps core.Capabilities) (*Prepared, error) {
	offset, limit := plan.Window()
	if plan.Limit != nil && *plan.Limit < 0 {
		return nil, core.Errorf(core.ErrInvalidPlan, "limit must not be negative").With(s.TableName, "")
	}
	if offset < 0 {
		return nil, core.Errorf(core.ErrInvalidPlan, "offset must not be negative").With(s.TableName, "")
	}

	bound, err := query.Bind(plan.Where, s)
	if err != nil {
		return nil, err
	}

	p := &Prepared{
		Predicate: query.CompileBound(bound),
		Direction: core.Asc,
		Offset:    offset,
		Limit:     limit,
		order:     plan.OrderBy,
	}

	order := plan.OrderBy
	if order == nil {
		return p, nil
	}
	if order.Table != "" && order.Table != s.TableName {
		return nil, core.Errorf(core.ErrInvalidPlan, "cannot order by a column of table %q", order.Table).With(s.TableName, order.Column)
	}
	if order.Direction != "" && order.Direction != core.Asc && order.Direction != core.Desc {
		return nil, core.Errorf(core.ErrInvalidPlan, "unknown direction %q", order.Direction).With(s.TableName, order.Column)
	}
	column, ok := s.Column(order.Column)
	if !ok {
		return nil, core.ErrUnknownColumn.With(s.TableName, order.Column)
	}
	if !column.Type.Orderable() {
		return nil, core.Errorf(core.ErrUnorderableColumn, "%s columns have no order", column.Type).With(s.TableName, column.Name)
	}
	if order.Descending() {
		p.Direction = core.Desc
	}

	switch {
	case column.PrimaryKey:
	case s.IsIndexed(column.Name):
		p.Index = column.Name
	case caps.NativeOrdering:
		// The engine orders by the column itself.
	case caps.MaterializeOrdering:
		p.Materialize = true
	default:
		return nil, core.ErrUnorderableColumn.With(s.TableName, column.Name)
	}
	return p, nil
}

// Select runs a plan against a source and yields the matching rows in
// plan order.
func Select(ctx context.Context, src Source, plan core.Plan, caps core.Capabilities) iter.Seq2[core.Row, error] {
	p, err := Prepare(src.Schema(), plan, caps)
	if err != nil {
		return Fail(err)
	}
	return p.Run(ctx, src)
}

// Run executes a prepared plan.
func (p *Prepared) Run(ctx context.Context, src Source) iter.Seq2[core.Row, error] {
	if !p.Materialize {
		scan := Rows(ctx, func(ctx context.Context) (core.Cursor, error) {
			return src.OpenCursor(ctx, p.Index, p.Direction)
		})
		return Filter(scan, p.Predicate, p.Offset, p.Limit)
	}

	return func(yield func(core.Row, error) bool) {
		scan := Rows(ctx, func(ctx context.Context) (core.Cursor, error) {
			return src.OpenCursor(ctx, "", core.Asc)
		})
		rows, err := Collect(Filter(scan, p.Predicate, 0, -1))
		if err != nil {
			yield(nil, err)
			return
		}
		query.SortRows(rows, src.Schema(), p.order)

		for row, err := range Filter(fromSlice(rows), nil, p.Offset, p.Limit) {
			if !yield(row, err) {
				return
			}
		}
	}
}

func fromSlice(rows []core.Row) iter.Seq2[core.Row, error] {
	return func(yield func(core.Row, error) bool) {
		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}
