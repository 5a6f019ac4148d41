package strata

import (
	"context"
	"errors"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/cursor"
)

// ErrStop ends Iterate early without an error.
var ErrStop = errors.New("strata: stop iteration")

// Table is the query surface of one table. Every call runs in its own
// transaction unless the table is bound to one with In.
type Table struct {
	db     *Database
	schema *core.Schema
	tx     *Tx
}

// Name is the table name.
func (t *Table) Name() string { return t.schema.TableName }

// Schema is the declared schema.
func (t *Table) Schema() *Schema { return t.schema }

// In returns the table bound to tx. Calls on the result join tx instead of
// opening their own transaction.
func (t *Table) In(tx *Tx) *Table {
	return &Table{db: t.db, schema: t.schema, tx: tx}
}

func (t *Table) run(ctx context.Context, mode core.TxMode, fn func(tx *Tx, h core.Table) error) error {
	if t.tx != nil {
		h, err := t.tx.table(ctx, t.Name())
		if err != nil {
			return err
		}
		return fn(t.tx, h)
	}
	return t.db.transact(ctx, []string{t.Name()}, mode, func(tx *Tx) error {
		h, err := tx.table(ctx, t.Name())
		if err != nil {
			return err
		}
		return fn(tx, h)
	})
}

// FindFirst returns the first row of the plan's matches, ignoring its
// limit and offset.
func (t *Table) FindFirst(ctx context.Context, plan Plan) (Row, bool, error) {
	rows, err := t.FindMany(ctx, plan.WithLimit(1).WithOffset(0))
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	return rows[0], true, nil
}

// FindMany returns the rows matching the plan.
func (t *Table) FindMany(ctx context.Context, plan Plan) ([]Row, error) {
	var rows []Row
	err := t.run(ctx, core.ReadOnly, func(_ *Tx, h core.Table) error {
		var err error
		rows, err = cursor.Collect(h.Select(ctx, plan))
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Iterate calls fn for each matching row while the transaction is open,
// without collecting the rows. Return ErrStop from fn to end early.
func (t *Table) Iterate(ctx context.Context, plan Plan, fn func(Row) error) error {
	return t.run(ctx, core.ReadOnly, func(_ *Tx, h core.Table) error {
		for row, err := range h.Select(ctx, plan) {
			if err != nil {
				return err
			}
			if err := fn(row); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}
		return nil
	})
}

// Insert inserts one row and returns it as stored.
func (t *Table) Insert(ctx context.Context, row Row) (Row, error) {
	var out Row
	err := t.run(ctx, core.ReadWrite, func(tx *Tx, h core.Table) error {
		var err error
		if out, err = h.Insert(ctx, row); err != nil {
			return err
		}
		tx.record(t.Name(), core.ChangeInsert, []interface{}{out[t.schema.PrimaryKey]})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertMany inserts every row or none of them.
func (t *Table) InsertMany(ctx context.Context, rows []Row) ([]Row, error) {
	var out []Row
	err := t.run(ctx, core.ReadWrite, func(tx *Tx, h core.Table) error {
		var err error
		if out, err = h.InsertMany(ctx, rows); err != nil {
			return err
		}
		if len(out) > 0 {
			tx.record(t.Name(), core.ChangeInsert, t.keys(out))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies patch to the rows matching the plan and returns them
// updated. The primary key cannot be patched.
func (t *Table) Update(ctx context.Context, plan Plan, patch Row) ([]Row, error) {
	if _, ok := patch[t.schema.PrimaryKey]; ok {
		return nil, core.Errorf(core.ErrPrimaryKeyImmutable, "the primary key cannot be updated").With(t.Name(), t.schema.PrimaryKey)
	}
	var out []Row
	err := t.run(ctx, core.ReadWrite, func(tx *Tx, h core.Table) error {
		var err error
		if out, err = h.Update(ctx, plan, patch); err != nil {
			return err
		}
		if len(out) > 0 {
			tx.record(t.Name(), core.ChangeUpdate, t.keys(out))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the rows matching the plan.
func (t *Table) Delete(ctx context.Context, plan Plan) error {
	return t.run(ctx, core.ReadWrite, func(tx *Tx, h core.Table) error {
		if err := h.Delete(ctx, plan); err != nil {
			return err
		}
		tx.record(t.Name(), core.ChangeDelete, nil)
		return nil
	})
}

// DeleteAll empties the table. Deleting from an empty table is not an
// error.
func (t *Table) DeleteAll(ctx context.Context) error {
	return t.run(ctx, core.ReadWrite, func(tx *Tx, h core.Table) error {
		if err := h.DeleteAll(ctx); err != nil {
			return err
		}
		tx.record(t.Name(), core.ChangeDeleteAll, nil)
		return nil
	})
}

func (t *Table) keys(rows []Row) []interface{} {
	keys := make([]interface{}, len(rows))
	for i, row := range rows {
		keys[i] = row[t.schema.PrimaryKey]
	}
	return keys
}
