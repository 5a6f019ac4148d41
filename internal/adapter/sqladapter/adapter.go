// Package sqladapter implements the adapter for SQL engines. Predicates,
// ordering and pagination are pushed down into statements built with
// squirrel; table schemas live in the __tables system table and the
// applied migration version in __migrations.
package sqladapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
)

// Adapter stores tables in a SQL database.
type Adapter struct {
	db      core.Database
	name    string
	dialect *dialect
	builder sq.StatementBuilderType
	logger  *zap.Logger

	// concurrent is set for engines that run transactions in parallel.
	concurrent bool

	mu       sync.Mutex
	database string
	schemas  map[string]*core.Schema
	open     bool
	closed   bool
}

var _ core.Adapter = (*Adapter)(nil)

// New creates an adapter over db. name identifies the backend in
// Capabilities, e.g. "sqlite", "wasm" or "mysql". The adapter closes db on
// Close.
func New(db core.Database, name string, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d, err := dialectFor(db.Dialect())
	if err != nil {
		return nil, err
	}
	return &Adapter{
		db:         db,
		name:       name,
		dialect:    d,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Question),
		logger:     logger.Named(name),
		concurrent: d == mysqlDialect,
	}, nil
}

// Capabilities describes the SQL adapter.
func (a *Adapter) Capabilities() core.Capabilities {
	return core.Capabilities{
		Name:                   a.name,
		NativeOrdering:         true,
		ConcurrentTransactions: a.concurrent,
	}
}

// OpenDatabase creates the system tables when missing, loads the table
// schemas and returns an upgrade transaction when version is ahead of the
// applied version.
func (a *Adapter) OpenDatabase(ctx context.Context, name string, version int) (core.UpgradeTransaction, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil, core.ErrDatabaseNotFound
	}

	for _, s := range []*core.Schema{core.MigrationsSchema(), core.TablesSchema()} {
		if _, err := a.db.Exec(ctx, a.dialect.createTableIfMissing(s)); err != nil {
			return nil, core.EngineError("create system table", err)
		}
	}

	schemas, err := a.loadSchemas(ctx, a.db)
	if err != nil {
		return nil, err
	}
	applied, err := a.readVersion(ctx, a.db)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.database, a.schemas, a.open = name, schemas, true
	a.mu.Unlock()
	a.logger.Debug("database opened", zap.String("name", name), zap.Int("applied", applied), zap.Int("version", version))

	switch {
	case version < applied:
		return nil, core.Errorf(core.ErrSchemaMismatch, "database %q is at version %d, newer than %d", name, applied, version)
	case version == applied:
		return nil, nil
	}
	return a.BeginUpgrade(ctx)
}

// querier is what both a database and a transaction offer.
type querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (core.Rows, error)
	Exec(ctx context.Context, query string, args ...interface{}) (core.Result, error)
}

func (a *Adapter) loadSchemas(ctx context.Context, q querier) (map[string]*core.Schema, error) {
	query, args, err := a.builder.
		Select(a.dialect.quote("definition")).
		From(a.dialect.quote(core.TablesTable)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, core.EngineError("load schemas", err)
	}
	defer rows.Close()

	schemas := make(map[string]*core.Schema)
	for rows.Next() {
		var raw interface{}
		if err := rows.Scan(&raw); err != nil {
			return nil, core.EngineError("load schemas", err)
		}
		var data []byte
		switch v := raw.(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		}
		var s core.Schema
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, core.EngineError("decode schema", err)
		}
		schemas[s.TableName] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, core.EngineError("load schemas", err)
	}
	return schemas, nil
}

func (a *Adapter) readVersion(ctx context.Context, q querier) (int, error) {
	query, args, err := a.builder.
		Select(a.dialect.quote("version")).
		From(a.dialect.quote(core.MigrationsTable)).
		Where(sq.Expr(a.dialect.quote("id")+" = ?", core.MigrationsRowID)).
		ToSql()
	if err != nil {
		return 0, err
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return 0, core.EngineError("read version", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, rows.Err()
	}
	var raw interface{}
	if err := rows.Scan(&raw); err != nil {
		return 0, core.EngineError("read version", err)
	}
	version, err := mapper.FromSQL(raw, core.TypeInteger)
	if err != nil {
		return 0, core.EngineError("read version", err)
	}
	return int(version.(int64)), nil
}

// BeginUpgrade starts an upgrade transaction.
func (a *Adapter) BeginUpgrade(ctx context.Context) (core.UpgradeTransaction, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	tx, err := a.begin(ctx, nil, core.ReadWrite)
	if err != nil {
		return nil, err
	}
	old, err := a.readVersion(ctx, tx.tx)
	if err != nil {
		_ = tx.tx.Rollback()
		return nil, err
	}
	return &upgradeTransaction{transaction: tx, oldVersion: old}, nil
}

// OpenTransaction starts a transaction on the named tables.
func (a *Adapter) OpenTransaction(ctx context.Context, names []string, mode core.TxMode) (core.Transaction, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	scope := make(map[string]bool, len(names))
	a.mu.Lock()
	for _, name := range names {
		if core.IsReserved(name) {
			a.mu.Unlock()
			return nil, core.ErrReservedTable.With(name, "")
		}
		if _, ok := a.schemas[name]; !ok {
			a.mu.Unlock()
			return nil, core.TableNotFound(name)
		}
		scope[name] = true
	}
	a.mu.Unlock()

	return a.begin(ctx, scope, mode)
}

// begin starts an engine transaction. A nil scope sees every table.
func (a *Adapter) begin(ctx context.Context, scope map[string]bool, mode core.TxMode) (*transaction, error) {
	tx, err := a.db.BeginTx(ctx, mode == core.ReadOnly)
	if err != nil {
		return nil, core.EngineError("begin transaction", err)
	}

	a.mu.Lock()
	schemas := make(map[string]*core.Schema, len(a.schemas))
	for name, s := range a.schemas {
		if scope == nil || scope[name] {
			schemas[name] = s
		}
	}
	a.mu.Unlock()

	return &transaction{
		a:       a,
		tx:      tx,
		mode:    mode,
		scope:   scope,
		schemas: schemas,
	}, nil
}

// AppliedVersion reads the version stored in __migrations.
func (a *Adapter) AppliedVersion(ctx context.Context) (int, error) {
	if err := a.checkOpen(); err != nil {
		return 0, err
	}
	return a.readVersion(ctx, a.db)
}

// Close closes the database.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.schemas = nil
	return a.db.Close()
}

func (a *Adapter) checkOpen() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || !a.open {
		return core.ErrDatabaseNotFound
	}
	return nil
}

// translate maps engine errors of a statement on table s. value resolves
// the offending value of a column, when known.
func translate(err error, s *core.Schema, value func(column string) interface{}) error {
	var e *core.Error
	if !errors.As(err, &e) {
		return core.EngineError("statement", err)
	}
	switch {
	case errors.Is(e, core.ErrEngineUnique):
		column := constraintColumn(s, e.Column)
		var v interface{}
		if value != nil {
			v = value(column)
		}
		out := core.UniqueViolation(s.TableName, column, v)
		out.Err = e.Err
		return out
	case errors.Is(e, core.ErrEngineUndefinedTable):
		return core.TableNotFound(s.TableName)
	}
	return err
}

// constraintColumn resolves the column behind a constraint name reported
// by the engine: a column name, PRIMARY or a unique index name.
func constraintColumn(s *core.Schema, name string) string {
	if name == "" || name == "PRIMARY" {
		return s.PrimaryKey
	}
	if _, ok := s.Columns[name]; ok {
		return name
	}
	for _, c := range s.Columns {
		if name == indexName(s.TableName, c.Name, true) {
			return c.Name
		}
	}
	return name
}

func encodeSchema(s *core.Schema) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode schema: %w", err)
	}
	return string(data), nil
}

// rowValues converts a normalized row into statement arguments in column
// order.
func rowValues(s *core.Schema, columns []string, row core.Row) ([]interface{}, error) {
	out := make([]interface{}, len(columns))
	for i, name := range columns {
		v, err := mapper.ToSQL(row[name], s.Columns[name].Type)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// scanRow reads one row of a SELECT over columns.
func scanRow(rows core.Rows, s *core.Schema, columns []string) (core.Row, error) {
	raw := make([]interface{}, len(columns))
	dest := make([]interface{}, len(columns))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, core.EngineError("scan row", err)
	}
	row := make(core.Row, len(columns))
	for i, name := range columns {
		v, err := mapper.FromSQL(raw[i], s.Columns[name].Type)
		if err != nil {
			return nil, core.EngineError("decode column "+name, err)
		}
		row[name] = v
	}
	return row, nil
}
