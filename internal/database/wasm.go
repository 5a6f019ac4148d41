package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
)

// WASMDatabase runs SQLite compiled to WebAssembly inside the process. It
// owns one connection; a transaction holds it until it ends, and
// statements outside a transaction take it for their own duration.
type WASMDatabase struct {
	conn   *sqlite3.Conn
	logger *zap.Logger

	// slot is a one-token semaphore guarding conn. Unlike a mutex, taking
	// it can be abandoned when the context ends.
	slot   chan struct{}
	closed bool
}

var _ core.Database = (*WASMDatabase)(nil)

// NewWASMDatabase opens the database file, or a private in-memory
// database when the path is empty.
func NewWASMDatabase(ctx context.Context, config SQLiteConfig, logger *zap.Logger) (*WASMDatabase, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	path := config.Path
	if config.InMemory() {
		path = ":memory:"
	}
	conn, err := sqlite3.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if config.BusyTimeout > 0 {
		if err := conn.BusyTimeout(config.BusyTimeout); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	logger.Info("opened wasm sqlite database", zap.String("path", config.Path))
	return &WASMDatabase{
		conn:   conn,
		logger: logger.Named("wasm"),
		slot:   make(chan struct{}, 1),
	}, nil
}

func (d *WASMDatabase) acquire(ctx context.Context) error {
	select {
	case d.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if d.closed {
		d.release()
		return fmt.Errorf("database is closed")
	}
	return nil
}

func (d *WASMDatabase) release() { <-d.slot }

// Query executes a SELECT query and returns all rows.
func (d *WASMDatabase) Query(ctx context.Context, query string, args ...interface{}) (core.Rows, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()
	return d.query(ctx, query, args)
}

// Exec executes a non-query statement and returns a result.
func (d *WASMDatabase) Exec(ctx context.Context, query string, args ...interface{}) (core.Result, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()
	return d.exec(ctx, query, args)
}

// BeginTx starts a transaction that holds the connection until it ends.
func (d *WASMDatabase) BeginTx(ctx context.Context, readOnly bool) (core.Tx, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	begin := "BEGIN IMMEDIATE"
	if readOnly {
		begin = "BEGIN"
	}
	if _, err := d.exec(ctx, begin, nil); err != nil {
		d.release()
		return nil, err
	}
	return &wasmTx{d: d}, nil
}

// Dialect returns "sqlite".
func (d *WASMDatabase) Dialect() string { return DialectSQLite }

// Close closes the connection once no statement holds it.
func (d *WASMDatabase) Close() error {
	d.slot <- struct{}{}
	defer d.release()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.conn.Close()
}

func (d *WASMDatabase) prepare(ctx context.Context, query string, args []interface{}) (*sqlite3.Stmt, error) {
	d.conn.SetInterrupt(ctx)
	stmt, _, err := d.conn.Prepare(query)
	if err != nil {
		return nil, translateWASMError(err)
	}
	for i, arg := range args {
		if err := bind(stmt, i+1, arg); err != nil {
			_ = stmt.Close()
			return nil, err
		}
	}
	return stmt, nil
}

// query reads the whole result, so the connection is free again when it
// returns.
func (d *WASMDatabase) query(ctx context.Context, query string, args []interface{}) (core.Rows, error) {
	d.logger.Debug("query", zap.String("sql", query), zap.Any("args", args))
	stmt, err := d.prepare(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	rows := &wasmRows{pos: -1}
	for stmt.Step() {
		n := stmt.ColumnCount()
		record := make([]interface{}, n)
		for i := 0; i < n; i++ {
			record[i] = columnValue(stmt, i)
		}
		rows.records = append(rows.records, record)
	}
	if err := stmt.Err(); err != nil {
		return nil, translateWASMError(err)
	}
	return rows, nil
}

func (d *WASMDatabase) exec(ctx context.Context, query string, args []interface{}) (core.Result, error) {
	d.logger.Debug("exec", zap.String("sql", query), zap.Any("args", args))
	stmt, err := d.prepare(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	if err := stmt.Exec(); err != nil {
		return nil, translateWASMError(err)
	}
	return wasmResult{
		lastInsertID: d.conn.LastInsertRowID(),
		rowsAffected: d.conn.Changes(),
	}, nil
}

func bind(stmt *sqlite3.Stmt, i int, arg interface{}) error {
	switch v := arg.(type) {
	case nil:
		return stmt.BindNull(i)
	case int64:
		return stmt.BindInt64(i, v)
	case int:
		return stmt.BindInt64(i, int64(v))
	case float64:
		return stmt.BindFloat(i, v)
	case bool:
		return stmt.BindBool(i, v)
	case string:
		return stmt.BindText(i, v)
	case []byte:
		return stmt.BindBlob(i, v)
	case time.Duration:
		return stmt.BindInt64(i, int64(v))
	default:
		return fmt.Errorf("cannot bind parameter %d of type %T", i, arg)
	}
}

func columnValue(stmt *sqlite3.Stmt, i int) interface{} {
	switch stmt.ColumnType(i) {
	case sqlite3.INTEGER:
		return stmt.ColumnInt64(i)
	case sqlite3.FLOAT:
		return stmt.ColumnFloat(i)
	case sqlite3.TEXT:
		return stmt.ColumnText(i)
	case sqlite3.BLOB:
		return stmt.ColumnBlob(i, nil)
	default:
		return nil
	}
}

func translateWASMError(err error) error {
	var sqliteErr *sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.ExtendedCode() {
	case sqlite3.CONSTRAINT_UNIQUE, sqlite3.CONSTRAINT_PRIMARYKEY:
		return uniqueError(constraintTarget(sqliteErr.Error()), err)
	}
	if table, ok := missingTable(sqliteErr.Error()); ok {
		return undefinedTableError(table, err)
	}
	return err
}

type wasmTx struct {
	d    *WASMDatabase
	done bool
}

func (t *wasmTx) Query(ctx context.Context, query string, args ...interface{}) (core.Rows, error) {
	if t.done {
		return nil, core.ErrTransactionClosed
	}
	return t.d.query(ctx, query, args)
}

func (t *wasmTx) Exec(ctx context.Context, query string, args ...interface{}) (core.Result, error) {
	if t.done {
		return nil, core.ErrTransactionClosed
	}
	return t.d.exec(ctx, query, args)
}

func (t *wasmTx) Commit() error {
	return t.end("COMMIT")
}

func (t *wasmTx) Rollback() error {
	return t.end("ROLLBACK")
}

func (t *wasmTx) end(statement string) error {
	if t.done {
		return core.ErrTransactionClosed
	}
	t.done = true
	defer t.d.release()

	_, err := t.d.exec(context.Background(), statement, nil)
	if err != nil && statement == "COMMIT" {
		_, _ = t.d.exec(context.Background(), "ROLLBACK", nil)
	}
	return err
}

// wasmRows is a materialized result set.
type wasmRows struct {
	records [][]interface{}
	pos     int
}

func (r *wasmRows) Next() bool {
	r.pos++
	return r.pos < len(r.records)
}

func (r *wasmRows) Scan(dest ...interface{}) error {
	if r.pos < 0 || r.pos >= len(r.records) {
		return fmt.Errorf("scan called without a current row")
	}
	record := r.records[r.pos]
	if len(dest) != len(record) {
		return fmt.Errorf("expected %d destinations, got %d", len(record), len(dest))
	}
	for i, d := range dest {
		target, ok := d.(*interface{})
		if !ok {
			return fmt.Errorf("destination %d must be *interface{}, got %T", i, d)
		}
		*target = record[i]
	}
	return nil
}

func (r *wasmRows) Close() error { return nil }
func (r *wasmRows) Err() error   { return nil }

type wasmResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r wasmResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r wasmResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }
