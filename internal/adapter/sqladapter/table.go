package sqladapter

import (
	"context"
	"iter"
	"math"

	sq "github.com/Masterminds/squirrel"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/cursor"
	"github.com/rzpsarthak13/strata/internal/query"
	"github.com/rzpsarthak13/strata/internal/schema"
)

// keyChunk bounds the number of primary keys bound in one IN list.
const keyChunk = 500

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

// selectQuery builds the SELECT of a plan over the given columns.
func (h *handle) selectQuery(s *core.Schema, plan core.Plan, columns ...string) (sq.SelectBuilder, error) {
	p, err := cursor.Prepare(s, plan, h.tx.a.Capabilities())
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	bound, err := query.Bind(plan.Where, s)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	d := h.tx.a.dialect
	pred, err := d.predicate(bound, s)
	if err != nil {
		return sq.SelectBuilder{}, err
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.quote(c)
	}
	b := h.tx.a.builder.Select(quoted...).From(d.quote(s.TableName)).Where(pred)

	dir := "ASC"
	if p.Direction == core.Desc {
		dir = "DESC"
	}
	if plan.OrderBy != nil && plan.OrderBy.Column != s.PrimaryKey {
		b = b.OrderBy(d.quote(plan.OrderBy.Column) + " " + dir)
	}
	b = b.OrderBy(d.quote(s.PrimaryKey) + " " + dir)

	switch {
	case p.Limit >= 0:
		b = b.Limit(uint64(p.Limit))
	case p.Offset > 0:
		b = b.Limit(math.MaxInt64)
	}
	if p.Offset > 0 {
		b = b.Offset(uint64(p.Offset))
	}
	return b, nil
}

// Select runs the plan in one statement. The result is read completely
// before the first row is yielded, so the caller may issue statements on
// the transaction while iterating.
func (h *handle) Select(ctx context.Context, plan core.Plan) iter.Seq2[core.Row, error] {
	return func(yield func(core.Row, error) bool) {
		rows, err := h.fetch(ctx, plan)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

func (h *handle) fetch(ctx context.Context, plan core.Plan) ([]core.Row, error) {
	s, err := h.schema()
	if err != nil {
		return nil, err
	}
	if plan.Limit != nil && *plan.Limit == 0 {
		return nil, nil
	}
	columns := s.ColumnNames()
	b, err := h.selectQuery(s, plan, columns...)
	if err != nil {
		return nil, err
	}
	rows, err := h.tx.query(ctx, b)
	if err != nil {
		return nil, translate(err, s, nil)
	}
	defer rows.Close()

	var out []core.Row
	for rows.Next() {
		row, err := scanRow(rows, s, columns)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, s, nil)
	}
	return out, nil
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
	columns := s.ColumnNames()
	d := h.tx.a.dialect
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.quote(c)
	}

	out := make([]core.Row, 0, len(rows))
	err = h.tx.atomically(ctx, func() error {
		for _, row := range rows {
			normalized, err := validator.ValidateRecord(row)
			if err != nil {
				return err
			}
			values, err := rowValues(s, columns, normalized)
			if err != nil {
				return err
			}
			_, err = h.tx.exec(ctx, h.tx.a.builder.
				Insert(d.quote(s.TableName)).
				Columns(quoted...).
				Values(values...))
			if err != nil {
				return translate(err, s, func(column string) interface{} { return normalized[column] })
			}
			out = append(out, normalized)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// keysOf selects the primary keys of the rows a plan selects, in plan
// order.
func (h *handle) keysOf(ctx context.Context, s *core.Schema, plan core.Plan) ([]interface{}, error) {
	if plan.Limit != nil && *plan.Limit == 0 {
		return nil, nil
	}
	b, err := h.selectQuery(s, plan, s.PrimaryKey)
	if err != nil {
		return nil, err
	}
	rows, err := h.tx.query(ctx, b)
	if err != nil {
		return nil, translate(err, s, nil)
	}
	defer rows.Close()

	var keys []interface{}
	for rows.Next() {
		row, err := scanRow(rows, s, []string{s.PrimaryKey})
		if err != nil {
			return nil, err
		}
		keys = append(keys, row[s.PrimaryKey])
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, s, nil)
	}
	return keys, nil
}

// byKeys returns a predicate selecting the rows whose primary key is in
// keys.
func (h *handle) byKeys(s *core.Schema, keys []interface{}) (sq.Sqlizer, error) {
	return h.tx.a.dialect.predicate(core.Cond(s.PrimaryKey, core.OpIn, keys), s)
}

func chunks(keys []interface{}) [][]interface{} {
	var out [][]interface{}
	for len(keys) > keyChunk {
		out = append(out, keys[:keyChunk])
		keys = keys[keyChunk:]
	}
	if len(keys) > 0 {
		out = append(out, keys)
	}
	return out
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

	out := []core.Row{}
	err = h.tx.atomically(ctx, func() error {
		keys, err := h.keysOf(ctx, s, plan)
		if err != nil || len(keys) == 0 {
			return err
		}
		if len(validated) > 0 {
			if err := h.updateKeys(ctx, s, keys, validated); err != nil {
				return err
			}
		}
		out, err = h.rowsByKeys(ctx, s, keys)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *handle) updateKeys(ctx context.Context, s *core.Schema, keys []interface{}, patch core.Row) error {
	d := h.tx.a.dialect
	set := make(map[string]interface{}, len(patch))
	for name, value := range patch {
		v, err := mapper.ToSQL(value, s.Columns[name].Type)
		if err != nil {
			return err
		}
		set[d.quote(name)] = v
	}
	for _, chunk := range chunks(keys) {
		pred, err := h.byKeys(s, chunk)
		if err != nil {
			return err
		}
		_, err = h.tx.exec(ctx, h.tx.a.builder.
			Update(d.quote(s.TableName)).
			SetMap(set).
			Where(pred))
		if err != nil {
			return translate(err, s, func(column string) interface{} { return patch[column] })
		}
	}
	return nil
}

// rowsByKeys reads the rows with the given primary keys, in key order.
func (h *handle) rowsByKeys(ctx context.Context, s *core.Schema, keys []interface{}) ([]core.Row, error) {
	found := make(map[string]core.Row, len(keys))
	for _, chunk := range chunks(keys) {
		rows, err := h.fetch(ctx, core.Plan{Where: core.Cond(s.PrimaryKey, core.OpIn, chunk)})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			k, err := query.EncodeKey(row[s.PrimaryKey])
			if err != nil {
				return nil, err
			}
			found[k] = row
		}
	}

	out := make([]core.Row, 0, len(keys))
	for _, key := range keys {
		k, err := query.EncodeKey(key)
		if err != nil {
			return nil, err
		}
		if row, ok := found[k]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (h *handle) Delete(ctx context.Context, plan core.Plan) error {
	s, err := h.writable()
	if err != nil {
		return err
	}
	d := h.tx.a.dialect

	if plan.Unbounded() {
		bound, err := query.Bind(plan.Where, s)
		if err != nil {
			return err
		}
		pred, err := d.predicate(bound, s)
		if err != nil {
			return err
		}
		_, err = h.tx.exec(ctx, h.tx.a.builder.Delete(d.quote(s.TableName)).Where(pred))
		if err != nil {
			return translate(err, s, nil)
		}
		return nil
	}

	return h.tx.atomically(ctx, func() error {
		keys, err := h.keysOf(ctx, s, plan)
		if err != nil {
			return err
		}
		return h.deleteKeys(ctx, s, keys)
	})
}

func (h *handle) deleteKeys(ctx context.Context, s *core.Schema, keys []interface{}) error {
	d := h.tx.a.dialect
	for _, chunk := range chunks(keys) {
		pred, err := h.byKeys(s, chunk)
		if err != nil {
			return err
		}
		if _, err := h.tx.exec(ctx, h.tx.a.builder.Delete(d.quote(s.TableName)).Where(pred)); err != nil {
			return translate(err, s, nil)
		}
	}
	return nil
}

func (h *handle) DeleteAll(ctx context.Context) error {
	s, err := h.writable()
	if err != nil {
		return err
	}
	_, err = h.tx.exec(ctx, h.tx.a.builder.Delete(h.tx.a.dialect.quote(s.TableName)))
	if err != nil {
		return translate(err, s, nil)
	}
	return nil
}

// OpenCursor snapshots the primary keys in index order and reads each row
// when the cursor reaches it. Rows deleted in the meantime are skipped.
func (h *handle) OpenCursor(ctx context.Context, index string, dir core.Direction) (core.Cursor, error) {
	s, err := h.schema()
	if err != nil {
		return nil, err
	}
	if index == "" {
		index = s.PrimaryKey
	}
	if index != s.PrimaryKey && !s.IsIndexed(index) {
		return nil, core.ErrIndexNotFound.With(h.name, index)
	}

	keys, err := h.keysOf(ctx, s, core.Plan{OrderBy: &core.OrderBy{Column: index, Direction: dir}})
	if err != nil {
		return nil, err
	}
	c := &sqlCursor{h: h, keys: keys, pos: -1}
	if err := c.Next(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

type sqlCursor struct {
	h      *handle
	keys   []interface{}
	pos    int
	row    core.Row
	closed bool
}

var _ core.Cursor = (*sqlCursor)(nil)

func (c *sqlCursor) Value() core.Row {
	if c.closed || c.row == nil {
		return nil
	}
	return c.row.Clone()
}

func (c *sqlCursor) Next(ctx context.Context) error {
	if c.closed {
		return core.ErrTransactionClosed
	}
	s, err := c.h.schema()
	if err != nil {
		return err
	}
	c.row = nil
	for c.pos+1 < len(c.keys) {
		c.pos++
		rows, err := c.h.fetch(ctx, core.Plan{Where: core.Cond(s.PrimaryKey, core.OpEquals, c.keys[c.pos])})
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			c.row = rows[0]
			return nil
		}
	}
	c.pos = len(c.keys)
	return nil
}

func (c *sqlCursor) Update(ctx context.Context, patch core.Row) (core.Row, error) {
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
	if len(validated) > 0 {
		if err := c.h.updateKeys(ctx, s, []interface{}{c.keys[c.pos]}, validated); err != nil {
			return nil, err
		}
	}
	c.row = schema.Apply(c.row, validated)
	return c.row.Clone(), nil
}

func (c *sqlCursor) Delete(ctx context.Context) error {
	if c.closed || c.row == nil {
		return core.Errorf(core.ErrInvalidPlan, "cursor is not positioned on a row")
	}
	s, err := c.h.writable()
	if err != nil {
		return err
	}
	return c.h.deleteKeys(ctx, s, []interface{}{c.keys[c.pos]})
}

func (c *sqlCursor) Close() error {
	c.closed = true
	c.keys = nil
	return nil
}
