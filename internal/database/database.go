// Package database wraps the SQL engines behind core.Database: MySQL and
// SQLite through database/sql, and SQLite compiled to WebAssembly through
// a single native connection. Drivers differ in how they report constraint
// failures, so each wrapper translates them into core engine errors.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
)

// Dialect names.
const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
)

// SQLiteConfig configures the sqlite and wasm engines.
type SQLiteConfig struct {
	// Path is the database file. Empty or ":memory:" opens a private
	// in-memory database.
	Path string

	// BusyTimeout is how long a statement waits on a locked database.
	BusyTimeout time.Duration
}

// InMemory reports whether the configuration opens an in-memory database.
func (c SQLiteConfig) InMemory() bool {
	return c.Path == "" || c.Path == ":memory:"
}

// MySQLConfig configures the mysql engine.
type MySQLConfig struct {
	Host              string
	Port              int
	Database          string
	Username          string
	Password          string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	ConnectionTimeout time.Duration
}

// translator turns a driver error into a core engine error, or returns it
// unchanged.
type translator func(err error) error

// sqlDatabase is the database/sql based implementation shared by the MySQL
// and SQLite engines.
type sqlDatabase struct {
	db        *sql.DB
	dialect   string
	logger    *zap.Logger
	translate translator
	closed    bool
}

var _ core.Database = (*sqlDatabase)(nil)

// Query executes a SELECT query and returns rows.
func (d *sqlDatabase) Query(ctx context.Context, query string, args ...interface{}) (core.Rows, error) {
	if d.closed {
		return nil, fmt.Errorf("database is closed")
	}
	d.logger.Debug("query", zap.String("sql", query), zap.Any("args", args))
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, d.translate(fmt.Errorf("failed to execute query: %w", err))
	}
	return &sqlRows{rows: rows}, nil
}

// Exec executes a non-query statement and returns a result.
func (d *sqlDatabase) Exec(ctx context.Context, query string, args ...interface{}) (core.Result, error) {
	if d.closed {
		return nil, fmt.Errorf("database is closed")
	}
	d.logger.Debug("exec", zap.String("sql", query), zap.Any("args", args))
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, d.translate(fmt.Errorf("failed to execute statement: %w", err))
	}
	return result, nil
}

// BeginTx starts a new transaction.
func (d *sqlDatabase) BeginTx(ctx context.Context, readOnly bool) (core.Tx, error) {
	if d.closed {
		return nil, fmt.Errorf("database is closed")
	}
	var opts *sql.TxOptions
	if readOnly && d.dialect == DialectMySQL {
		opts = &sql.TxOptions{ReadOnly: true}
	}
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, d.translate(fmt.Errorf("failed to begin transaction: %w", err))
	}
	return &sqlTx{tx: tx, logger: d.logger, translate: d.translate}, nil
}

// Dialect names the SQL flavour of the engine.
func (d *sqlDatabase) Dialect() string { return d.dialect }

// Close closes the database connection.
func (d *sqlDatabase) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// sqlRows wraps sql.Rows to implement core.Rows.
type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool                     { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...interface{}) error { return r.rows.Scan(dest...) }
func (r *sqlRows) Close() error                   { return r.rows.Close() }
func (r *sqlRows) Err() error                     { return r.rows.Err() }

// sqlTx wraps sql.Tx to implement core.Tx.
type sqlTx struct {
	tx        *sql.Tx
	logger    *zap.Logger
	translate translator
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...interface{}) (core.Rows, error) {
	t.logger.Debug("query", zap.String("sql", query), zap.Any("args", args))
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, t.translate(err)
	}
	return &sqlRows{rows: rows}, nil
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...interface{}) (core.Result, error) {
	t.logger.Debug("exec", zap.String("sql", query), zap.Any("args", args))
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, t.translate(err)
	}
	return result, nil
}

func (t *sqlTx) Commit() error {
	return t.translate(t.tx.Commit())
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}

// uniqueError reports a unique constraint failure on the "table.column"
// (or bare constraint name) target.
func uniqueError(target string, err error) error {
	e := &core.Error{Kind: core.ErrEngineUnique.Kind, Code: core.ErrEngineUnique.Code, Err: err}
	if table, column, ok := strings.Cut(target, "."); ok {
		e.Table, e.Column = table, column
	} else {
		e.Column = target
	}
	return e
}

func undefinedTableError(table string, err error) error {
	return &core.Error{
		Kind:  core.ErrEngineUndefinedTable.Kind,
		Code:  core.ErrEngineUndefinedTable.Code,
		Table: table,
		Err:   err,
	}
}
