package strata

import (
	"context"

	"github.com/rzpsarthak13/strata/internal/core"
)

// Tx is an explicit transaction handed to the functions passed to
// Database.Update and Database.View. Bind tables to it with Table.In.
// A Tx is not safe for concurrent use and is invalid once fn returns.
type Tx struct {
	db      *Database
	tx      core.Transaction
	changes []core.Change
}

// ReadOnly reports whether the transaction refuses writes.
func (tx *Tx) ReadOnly() bool {
	return tx.tx.Mode() == core.ReadOnly
}

func (tx *Tx) table(ctx context.Context, name string) (core.Table, error) {
	return tx.tx.Table(ctx, name)
}

func (tx *Tx) record(table string, op core.ChangeOp, keys []interface{}) {
	tx.changes = append(tx.changes, core.Change{Table: table, Op: op, Keys: keys})
}
