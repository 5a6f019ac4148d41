package core

import (
	"context"
)

// Database is a SQL engine addressed through statement text and bound
// parameters. MySQL, SQLite and the WASM-hosted SQLite implement it.
type Database interface {
	// Query executes a SELECT query and returns rows.
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)

	// Exec executes a non-query statement and returns a result.
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)

	// BeginTx starts a new transaction.
	BeginTx(ctx context.Context, readOnly bool) (Tx, error)

	// Dialect names the SQL flavour spoken by the engine.
	Dialect() string

	// Close closes the database connection.
	Close() error
}

// Tx is a transaction on a Database.
type Tx interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
	Commit() error
	Rollback() error
}

// Rows is a result set. Scan only needs to support *interface{} targets.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Result reports the outcome of Exec.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
