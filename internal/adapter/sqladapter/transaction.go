package sqladapter

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/schema"
)

// transaction wraps one engine transaction.
type transaction struct {
	a       *Adapter
	tx      core.Tx
	mode    core.TxMode
	scope   map[string]bool // nil for upgrade transactions
	schemas map[string]*core.Schema
	done    bool

	savepoints int
}

var _ core.Transaction = (*transaction)(nil)

func (tx *transaction) Mode() core.TxMode { return tx.mode }

func (tx *transaction) Table(ctx context.Context, name string) (core.Table, error) {
	if tx.done {
		return nil, core.ErrTransactionClosed
	}
	if core.IsReserved(name) {
		return nil, core.ErrReservedTable.With(name, "")
	}
	if tx.scope != nil && !tx.scope[name] {
		return nil, core.ErrTableNotInScope.With(name, "")
	}
	if _, ok := tx.schemas[name]; !ok {
		return nil, core.TableNotFound(name)
	}
	return &handle{tx: tx, name: name}, nil
}

func (tx *transaction) Commit(ctx context.Context) error {
	if tx.done {
		return core.ErrTransactionClosed
	}
	tx.done = true

	if err := tx.tx.Commit(); err != nil {
		return core.EngineError("commit", err)
	}
	if tx.scope == nil {
		tx.a.mu.Lock()
		tx.a.schemas = tx.schemas
		tx.a.mu.Unlock()
	}
	tx.a.logger.Debug("transaction committed", zap.Stringer("mode", tx.mode))
	return nil
}

func (tx *transaction) Rollback(ctx context.Context) error {
	if tx.done {
		return core.ErrTransactionClosed
	}
	tx.done = true
	if err := tx.tx.Rollback(); err != nil {
		return core.EngineError("rollback", err)
	}
	return nil
}

func (tx *transaction) exec(ctx context.Context, b sq.Sqlizer) (core.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build statement: %w", err)
	}
	return tx.tx.Exec(ctx, query, args...)
}

func (tx *transaction) query(ctx context.Context, b sq.Sqlizer) (core.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build statement: %w", err)
	}
	return tx.tx.Query(ctx, query, args...)
}

// atomically runs fn inside a savepoint and rolls back to it when fn
// fails, so a failed batch leaves no partial writes.
func (tx *transaction) atomically(ctx context.Context, fn func() error) error {
	tx.savepoints++
	name := fmt.Sprintf("sp_%d", tx.savepoints)

	if _, err := tx.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return core.EngineError("savepoint", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return core.EngineError("rollback to savepoint", rbErr)
		}
		_, _ = tx.tx.Exec(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}
	if _, err := tx.tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return core.EngineError("release savepoint", err)
	}
	return nil
}

// upgradeTransaction may change the physical schema. MySQL commits DDL
// implicitly, so there only the data statements are transactional.
type upgradeTransaction struct {
	*transaction
	oldVersion int
}

var _ core.UpgradeTransaction = (*upgradeTransaction)(nil)

func (tx *upgradeTransaction) OldVersion() int { return tx.oldVersion }

func (tx *upgradeTransaction) ddl(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		tx.a.logger.Debug("ddl", zap.String("sql", stmt))
		if _, err := tx.tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (tx *upgradeTransaction) CreateTable(ctx context.Context, s *core.Schema) error {
	if tx.done {
		return core.ErrTransactionClosed
	}
	if s != nil && core.IsReserved(s.TableName) {
		return core.ErrReservedTable.With(s.TableName, "")
	}
	if err := schema.CheckDefinition(s); err != nil {
		return err
	}
	if _, exists := tx.schemas[s.TableName]; exists {
		return core.ErrTableExists.With(s.TableName, "")
	}
	s = s.Clone()

	d := tx.a.dialect
	statements := append([]string{d.createTable(s)}, d.indexStatements(s)...)
	if err := tx.ddl(ctx, statements...); err != nil {
		return core.EngineError("create table "+s.TableName, err)
	}

	definition, err := encodeSchema(s)
	if err != nil {
		return err
	}
	_, err = tx.exec(ctx, tx.a.builder.
		Insert(d.quote(core.TablesTable)).
		Columns(d.quote("name"), d.quote("definition")).
		Values(s.TableName, definition))
	if err != nil {
		return core.EngineError("record table "+s.TableName, err)
	}
	tx.schemas[s.TableName] = s
	return nil
}

func (tx *upgradeTransaction) DropTable(ctx context.Context, name string) error {
	if _, err := tx.userTable(name); err != nil {
		return err
	}
	d := tx.a.dialect
	if err := tx.ddl(ctx, d.dropTable(name)); err != nil {
		return core.EngineError("drop table "+name, err)
	}
	_, err := tx.exec(ctx, tx.a.builder.
		Delete(d.quote(core.TablesTable)).
		Where(sq.Expr(d.quote("name")+" = ?", name)))
	if err != nil {
		return core.EngineError("forget table "+name, err)
	}
	delete(tx.schemas, name)
	return nil
}

func (tx *upgradeTransaction) CreateIndex(ctx context.Context, name, column string, unique bool) error {
	s, err := tx.userTable(name)
	if err != nil {
		return err
	}
	c, ok := s.Column(column)
	if !ok {
		return core.Errorf(core.ErrInvalidColumn, "unknown column").With(name, column)
	}
	if c.PrimaryKey {
		return nil
	}
	if !c.Type.Orderable() {
		return core.Errorf(core.ErrInvalidColumn, "%s columns cannot be indexed", c.Type).With(name, column)
	}

	updated := c
	updated.Indexed = true
	updated.Unique = c.Unique || unique
	if updated == c {
		return nil
	}

	d := tx.a.dialect
	var statements []string
	if narrow := d.narrowColumn(name, c, updated); narrow != "" {
		statements = append(statements, narrow)
	}
	// An index that becomes unique keeps its plain index.
	statements = append(statements, d.createIndex(name, column, updated.Unique && !c.Unique))
	if err := tx.ddl(ctx, statements...); err != nil {
		return translate(err, s, nil)
	}
	return tx.saveSchema(ctx, schema.WithColumn(s, updated))
}

func (tx *upgradeTransaction) AddColumn(ctx context.Context, name string, column core.Column) error {
	s, err := tx.userTable(name)
	if err != nil {
		return err
	}
	c, err := schema.CheckNewColumn(s, column)
	if err != nil {
		return err
	}

	d := tx.a.dialect
	statements := []string{d.addColumn(name, c)}
	if c.Indexed {
		statements = append(statements, d.createIndex(name, c.Name, c.Unique))
	}
	if err := tx.ddl(ctx, statements...); err != nil {
		return core.EngineError("add column "+c.Name, err)
	}
	return tx.saveSchema(ctx, schema.WithColumn(s, c))
}

func (tx *upgradeTransaction) saveSchema(ctx context.Context, s *core.Schema) error {
	definition, err := encodeSchema(s)
	if err != nil {
		return err
	}
	d := tx.a.dialect
	_, err = tx.exec(ctx, tx.a.builder.
		Update(d.quote(core.TablesTable)).
		Set(d.quote("definition"), definition).
		Where(sq.Expr(d.quote("name")+" = ?", s.TableName)))
	if err != nil {
		return core.EngineError("record table "+s.TableName, err)
	}
	tx.schemas[s.TableName] = s
	return nil
}

func (tx *upgradeTransaction) SetVersion(ctx context.Context, version int) error {
	if tx.done {
		return core.ErrTransactionClosed
	}
	d := tx.a.dialect
	_, err := tx.exec(ctx, tx.a.builder.
		Delete(d.quote(core.MigrationsTable)).
		Where(sq.Expr(d.quote("id")+" = ?", core.MigrationsRowID)))
	if err != nil {
		return core.EngineError("set version", err)
	}
	_, err = tx.exec(ctx, tx.a.builder.
		Insert(d.quote(core.MigrationsTable)).
		Columns(d.quote("id"), d.quote("version")).
		Values(core.MigrationsRowID, int64(version)))
	if err != nil {
		return core.EngineError("set version", err)
	}
	return nil
}

func (tx *upgradeTransaction) userTable(name string) (*core.Schema, error) {
	if tx.done {
		return nil, core.ErrTransactionClosed
	}
	if core.IsReserved(name) {
		return nil, core.ErrReservedTable.With(name, "")
	}
	s, ok := tx.schemas[name]
	if !ok {
		return nil, core.TableNotFound(name)
	}
	return s, nil
}
