package core

import (
	"context"
	"iter"
)

// TxMode is the access mode of a transaction.
type TxMode int

const (
	ReadOnly TxMode = iota
	ReadWrite
)

func (m TxMode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// Capabilities documents the quirks of a backend instead of forking code
// paths per backend.
type Capabilities struct {
	// Name identifies the backend, e.g. "memory", "kv/redis", "sqlite".
	Name string

	// NativeOrdering is true when the engine orders by any column itself.
	NativeOrdering bool

	// MaterializeOrdering is true when ordering by a non-indexed column is
	// served by sorting all matches in memory. When both flags are false
	// such queries fail with QueryError: UnorderableColumn.
	MaterializeOrdering bool

	// ConcurrentTransactions is true when several read-write transactions
	// may be in flight at once. Otherwise they queue.
	ConcurrentTransactions bool
}

// Adapter defines the minimal capability every storage engine provides.
type Adapter interface {
	// Capabilities describes backend quirks.
	Capabilities() Capabilities

	// OpenDatabase opens (creating if needed) the named database and
	// returns an upgrade transaction when version is newer than the
	// applied version, or nil when the database is current.
	OpenDatabase(ctx context.Context, name string, version int) (UpgradeTransaction, error)

	// BeginUpgrade starts another upgrade transaction on an open database.
	BeginUpgrade(ctx context.Context) (UpgradeTransaction, error)

	// OpenTransaction starts a transaction scoped to the named tables.
	OpenTransaction(ctx context.Context, tables []string, mode TxMode) (Transaction, error)

	// AppliedVersion reads the persisted applied migration version.
	AppliedVersion(ctx context.Context) (int, error)

	// Close releases the engine.
	Close() error
}

// Transaction owns table handles opened against one connection. It is
// committed or rolled back exactly once and is not safe for concurrent use.
type Transaction interface {
	Mode() TxMode
	Table(ctx context.Context, name string) (Table, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UpgradeTransaction is a read-write transaction that may also change the
// physical schema. It is only handed out while migrating.
type UpgradeTransaction interface {
	Transaction

	// OldVersion is the applied version when the transaction started.
	OldVersion() int

	CreateTable(ctx context.Context, schema *Schema) error
	DropTable(ctx context.Context, name string) error
	CreateIndex(ctx context.Context, table, column string, unique bool) error
	AddColumn(ctx context.Context, table string, column Column) error

	// SetVersion records the applied version in the __migrations system
	// table as part of this transaction.
	SetVersion(ctx context.Context, version int) error
}

// Table is an adapter's handle on one table inside a transaction.
// Handles must not be used after their transaction ends.
type Table interface {
	Schema() *Schema

	// Select yields the rows matching the plan. The sequence must be
	// drained or abandoned before the transaction commits.
	Select(ctx context.Context, plan Plan) iter.Seq2[Row, error]

	Insert(ctx context.Context, row Row) (Row, error)
	InsertMany(ctx context.Context, rows []Row) ([]Row, error)
	Update(ctx context.Context, plan Plan, patch Row) ([]Row, error)
	Delete(ctx context.Context, plan Plan) error
	DeleteAll(ctx context.Context) error

	// OpenCursor opens a cursor over the table (index == "" or the primary
	// key) or over the named index column.
	OpenCursor(ctx context.Context, index string, dir Direction) (Cursor, error)
}

// Cursor is a stateful single-direction iterator native to an engine.
// It must be closed on every exit path.
type Cursor interface {
	// Value returns the current row, or nil once the cursor is exhausted.
	Value() Row

	// Next advances to the following row.
	Next(ctx context.Context) error

	// Update replaces the current row with the patched row.
	Update(ctx context.Context, patch Row) (Row, error)

	// Delete removes the current row. The cursor stays on its position
	// until Next is called.
	Delete(ctx context.Context) error

	Close() error
}
