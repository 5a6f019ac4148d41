package memory

import (
	"context"
	"iter"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/cursor"
	"github.com/rzpsarthak13/strata/internal/schema"
)

// handle is a table of a transaction. It resolves the working table on
// every call because writes may swap it.
type handle struct {
	tx   *transaction
	name string
}

var _ core.Table = (*handle)(nil)

func (h *handle) table() (*table, error) {
	if h.tx.done {
		return nil, core.ErrTransactionClosed
	}
	t, ok := h.tx.tables[h.name]
	if !ok {
		return nil, core.TableNotFound(h.name)
	}
	return t, nil
}

func (h *handle) writable() (*table, error) {
	t, err := h.table()
	if err != nil {
		return nil, err
	}
	if h.tx.mode != core.ReadWrite {
		return nil, core.ErrReadOnly.With(h.name, "")
	}
	return t, nil
}

// atomically runs fn and restores the table when it fails, so a failed
// batch leaves no partial writes.
func (h *handle) atomically(fn func() error) error {
	t, err := h.writable()
	if err != nil {
		return err
	}
	snapshot := t.clone()
	if err := fn(); err != nil {
		h.tx.tables[h.name] = snapshot
		return err
	}
	return nil
}

func (h *handle) Schema() *core.Schema {
	t, err := h.table()
	if err != nil {
		return nil
	}
	return t.schema
}

func (h *handle) Select(ctx context.Context, plan core.Plan) iter.Seq2[core.Row, error] {
	if _, err := h.table(); err != nil {
		return cursor.Fail(err)
	}
	return cursor.Select(ctx, h, plan, h.tx.a.Capabilities())
}

func (h *handle) Insert(ctx context.Context, row core.Row) (core.Row, error) {
	rows, err := h.InsertMany(ctx, []core.Row{row})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (h *handle) InsertMany(ctx context.Context, rows []core.Row) ([]core.Row, error) {
	out := make([]core.Row, 0, len(rows))
	err := h.atomically(func() error {
		t := h.tx.tables[h.name]
		validator := schema.NewSchemaValidator(t.schema)
		for _, row := range rows {
			normalized, err := validator.ValidateRecord(row)
			if err != nil {
				return err
			}
			if err := t.insert(normalized); err != nil {
				return err
			}
			out = append(out, normalized.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *handle) Update(ctx context.Context, plan core.Plan, patch core.Row) ([]core.Row, error) {
	t, err := h.writable()
	if err != nil {
		return nil, err
	}
	validated, err := schema.NewSchemaValidator(t.schema).ValidatePatch(patch)
	if err != nil {
		return nil, err
	}

	var out []core.Row
	err = h.atomically(func() error {
		out, err = cursor.Modify(ctx, h, plan, h.tx.a.Capabilities(),
			func(ctx context.Context, c core.Cursor) (core.Row, error) {
				return c.Update(ctx, validated)
			})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *handle) Delete(ctx context.Context, plan core.Plan) error {
	return h.atomically(func() error {
		_, err := cursor.Modify(ctx, h, plan, h.tx.a.Capabilities(),
			func(ctx context.Context, c core.Cursor) (core.Row, error) {
				return nil, c.Delete(ctx)
			})
		return err
	})
}

func (h *handle) DeleteAll(ctx context.Context) error {
	t, err := h.writable()
	if err != nil {
		return err
	}
	h.tx.tables[h.name] = newTable(t.schema)
	return nil
}

func (h *handle) OpenCursor(ctx context.Context, index string, dir core.Direction) (core.Cursor, error) {
	t, err := h.table()
	if err != nil {
		return nil, err
	}
	tree, ok := t.tree(index)
	if !ok {
		return nil, core.ErrIndexNotFound.With(h.name, index)
	}

	c := &memCursor{h: h, index: index, desc: dir == core.Desc}
	first, found := tree.Min()
	if c.desc {
		first, found = tree.Max()
	}
	if found {
		c.position(t, first)
	}
	return c, nil
}

// memCursor remembers the key of its current entry and seeks past it on
// Next, so it tolerates writes to the tree it scans.
type memCursor struct {
	h      *handle
	index  string
	desc   bool
	cur    entry
	row    core.Row
	closed bool
}

var _ core.Cursor = (*memCursor)(nil)

func (c *memCursor) position(t *table, e entry) {
	c.cur = e
	c.row, _ = t.get(e.ref)
}

func (c *memCursor) Value() core.Row {
	if c.closed || c.row == nil {
		return nil
	}
	return c.row.Clone()
}

func (c *memCursor) Next(ctx context.Context) error {
	if c.closed {
		return core.ErrTransactionClosed
	}
	if c.row == nil {
		return nil
	}
	t, err := c.h.table()
	if err != nil {
		return err
	}
	tree, ok := t.tree(c.index)
	if !ok {
		return core.ErrIndexNotFound.With(c.h.name, c.index)
	}

	var (
		next  entry
		found bool
	)
	visit := func(e entry) bool {
		if e.key == c.cur.key {
			return true
		}
		next, found = e, true
		return false
	}
	if c.desc {
		tree.DescendLessOrEqual(c.cur, visit)
	} else {
		tree.AscendGreaterOrEqual(c.cur, visit)
	}

	if !found {
		c.row = nil
		return nil
	}
	c.position(t, next)
	return nil
}

func (c *memCursor) Update(ctx context.Context, patch core.Row) (core.Row, error) {
	if c.closed || c.row == nil {
		return nil, core.Errorf(core.ErrInvalidPlan, "cursor is not positioned on a row")
	}
	t, err := c.h.writable()
	if err != nil {
		return nil, err
	}
	validated, err := schema.NewSchemaValidator(t.schema).ValidatePatch(patch)
	if err != nil {
		return nil, err
	}
	updated := schema.Apply(c.row, validated)
	if err := t.replace(c.row, updated); err != nil {
		return nil, err
	}
	c.row = updated
	return updated.Clone(), nil
}

func (c *memCursor) Delete(ctx context.Context) error {
	if c.closed || c.row == nil {
		return core.Errorf(core.ErrInvalidPlan, "cursor is not positioned on a row")
	}
	t, err := c.h.writable()
	if err != nil {
		return err
	}
	return t.remove(c.row)
}

func (c *memCursor) Close() error {
	c.closed = true
	return nil
}
