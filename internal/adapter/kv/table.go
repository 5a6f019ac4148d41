package kv

import (
	"context"
	"iter"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/cursor"
	"github.com/rzpsarthak13/strata/internal/schema"
)

// handle is a table of a transaction.
type handle struct {
	tx   *transaction
	name string
}

var _ core.Table = (*handle)(nil)

func (h *handle) schema() (*core.Schema, error) {
	if h.tx.done {
		return nil, core.ErrTransactionClosed
	}
	s, ok := h.tx.schemas[h.name]
	if !ok {
		return nil, core.TableNotFound(h.name)
	}
	return s, nil
}

func (h *handle) writable() (*core.Schema, error) {
	s, err := h.schema()
	if err != nil {
		return nil, err
	}
	if h.tx.mode != core.ReadWrite {
		return nil, core.ErrReadOnly.With(h.name, "")
	}
	return s, nil
}

func (h *handle) Schema() *core.Schema {
	s, err := h.schema()
	if err != nil {
		return nil
	}
	return s
}

func (h *handle) Select(ctx context.Context, plan core.Plan) iter.Seq2[core.Row, error] {
	if _, err := h.schema(); err != nil {
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
	s, err := h.writable()
	if err != nil {
		return nil, err
	}
	validator := schema.NewSchemaValidator(s)
	out := make([]core.Row, 0, len(rows))
	err = h.tx.atomically(func() error {
		for _, row := range rows {
			normalized, err := validator.ValidateRecord(row)
			if err != nil {
				return err
			}
			if err := h.tx.insertRow(ctx, s, normalized); err != nil {
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
	s, err := h.writable()
	if err != nil {
		return nil, err
	}
	validated, err := schema.NewSchemaValidator(s).ValidatePatch(patch)
	if err != nil {
		return nil, err
	}

	var out []core.Row
	err = h.tx.atomically(func() error {
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
	if _, err := h.writable(); err != nil {
		return err
	}
	return h.tx.atomically(func() error {
		_, err := cursor.Modify(ctx, h, plan, h.tx.a.Capabilities(),
			func(ctx context.Context, c core.Cursor) (core.Row, error) {
				return nil, c.Delete(ctx)
			})
		return err
	})
}

func (h *handle) DeleteAll(ctx context.Context) error {
	if _, err := h.writable(); err != nil {
		return err
	}
	return h.tx.atomically(func() error {
		return h.tx.deleteRange(ctx, h.tx.keys.tablePrefix(h.name))
	})
}

func (h *handle) OpenCursor(ctx context.Context, index string, dir core.Direction) (core.Cursor, error) {
	s, err := h.schema()
	if err != nil {
		return nil, err
	}

	c := &kvCursor{h: h, s: s, desc: dir == core.Desc}
	if index == "" || index == s.PrimaryKey {
		c.prefix = h.tx.keys.rowPrefix(h.name)
	} else {
		if !s.IsIndexed(index) {
			return nil, core.ErrIndexNotFound.With(h.name, index)
		}
		c.prefix = h.tx.keys.indexPrefix(h.name, index)
		c.byRef = true
	}

	if err := c.advance(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// kvCursor walks a row or index prefix in pages. It remembers the key of
// its current entry and rescans past it whenever the transaction has
// written since the page was read.
type kvCursor struct {
	h      *handle
	s      *core.Schema
	prefix string
	byRef  bool
	desc   bool

	page       []core.KVPair
	generation int
	drained    bool

	key    string
	row    core.Row
	closed bool
}

var _ core.Cursor = (*kvCursor)(nil)

func (c *kvCursor) advance(ctx context.Context) error {
	tx := c.h.tx
	for {
		if c.generation != tx.generation {
			c.page, c.drained = nil, false
		}
		if len(c.page) == 0 {
			if c.drained {
				c.row = nil
				return nil
			}
			page, err := tx.scan(ctx, c.prefix, c.key, c.desc, scanBatch)
			if err != nil {
				return err
			}
			c.page, c.generation = page, tx.generation
			c.drained = len(page) < scanBatch
			if len(page) == 0 {
				c.row = nil
				return nil
			}
		}

		p := c.page[0]
		c.page = c.page[1:]
		c.key = p.Key

		if !c.byRef {
			row, err := tx.a.translator.Decode(p.Value, c.s)
			if err != nil {
				return core.EngineError("decode row", err)
			}
			c.row = row
			return nil
		}
		row, ok, err := tx.getRow(ctx, c.s, string(p.Value))
		if err != nil {
			return err
		}
		if ok {
			c.row = row
			return nil
		}
	}
}

func (c *kvCursor) Value() core.Row {
	if c.closed || c.row == nil {
		return nil
	}
	return c.row.Clone()
}

func (c *kvCursor) Next(ctx context.Context) error {
	if c.closed {
		return core.ErrTransactionClosed
	}
	if c.row == nil {
		return nil
	}
	if c.h.tx.done {
		return core.ErrTransactionClosed
	}
	return c.advance(ctx)
}

func (c *kvCursor) Update(ctx context.Context, patch core.Row) (core.Row, error) {
	if c.closed || c.row == nil {
		return nil, core.Errorf(core.ErrInvalidPlan, "cursor is not positioned on a row")
	}
	s, err := c.h.writable()
	if err != nil {
		return nil, err
	}
	validated, err := schema.NewSchemaValidator(s).ValidatePatch(patch)
	if err != nil {
		return nil, err
	}
	updated := schema.Apply(c.row, validated)
	if err := c.h.tx.replaceRow(ctx, s, c.row, updated); err != nil {
		return nil, err
	}
	c.row = updated
	return updated.Clone(), nil
}

func (c *kvCursor) Delete(ctx context.Context) error {
	if c.closed || c.row == nil {
		return core.Errorf(core.ErrInvalidPlan, "cursor is not positioned on a row")
	}
	s, err := c.h.writable()
	if err != nil {
		return err
	}
	return c.h.tx.removeRow(s, c.row)
}

func (c *kvCursor) Close() error {
	c.closed = true
	c.page = nil
	return nil
}
