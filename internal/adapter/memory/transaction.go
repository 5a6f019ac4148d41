package memory

import (
	"context"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/query"
	"github.com/rzpsarthak13/strata/internal/schema"
)

// transaction works on private clones of the tables it writes and swaps
// them into the catalog on commit.
type transaction struct {
	a       *Adapter
	mode    core.TxMode
	scope   map[string]*table // nil when every table is in scope
	tables  map[string]*table
	release func()
	done    bool
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
	if tx.scope != nil {
		if _, ok := tx.scope[name]; !ok {
			return nil, core.ErrTableNotInScope.With(name, "")
		}
	}
	if _, ok := tx.tables[name]; !ok {
		return nil, core.TableNotFound(name)
	}
	return &handle{tx: tx, name: name}, nil
}

func (tx *transaction) Commit(ctx context.Context) error {
	if tx.done {
		return core.ErrTransactionClosed
	}
	tx.done = true
	defer tx.release()

	if tx.mode != core.ReadWrite {
		return nil
	}

	tx.a.mu.Lock()
	defer tx.a.mu.Unlock()

	if tx.a.closed {
		return core.ErrDatabaseNotFound
	}
	if tx.scope == nil {
		tx.a.tables = tx.tables
	} else {
		for name, t := range tx.tables {
			tx.a.tables[name] = t
		}
	}
	tx.a.logger.Debug("transaction committed", zap.Int("tables", len(tx.tables)))
	return nil
}

func (tx *transaction) Rollback(ctx context.Context) error {
	if tx.done {
		return core.ErrTransactionClosed
	}
	tx.done = true
	tx.release()
	return nil
}

// upgradeTransaction sees the whole catalog and may change it.
type upgradeTransaction struct {
	*transaction
	oldVersion int
}

var _ core.UpgradeTransaction = (*upgradeTransaction)(nil)

func (tx *upgradeTransaction) OldVersion() int { return tx.oldVersion }

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
	if _, exists := tx.tables[s.TableName]; exists {
		return core.ErrTableExists.With(s.TableName, "")
	}
	tx.tables[s.TableName] = newTable(s.Clone())
	return nil
}

func (tx *upgradeTransaction) DropTable(ctx context.Context, name string) error {
	if tx.done {
		return core.ErrTransactionClosed
	}
	if core.IsReserved(name) {
		return core.ErrReservedTable.With(name, "")
	}
	if _, exists := tx.tables[name]; !exists {
		return core.TableNotFound(name)
	}
	delete(tx.tables, name)
	return nil
}

func (tx *upgradeTransaction) CreateIndex(ctx context.Context, name, column string, unique bool) error {
	t, err := tx.userTable(name)
	if err != nil {
		return err
	}
	c, ok := t.schema.Column(column)
	if !ok {
		return core.Errorf(core.ErrInvalidColumn, "unknown column").With(name, column)
	}
	if c.PrimaryKey {
		return nil
	}
	if !c.Type.Orderable() {
		return core.Errorf(core.ErrInvalidColumn, "%s columns cannot be indexed", c.Type).With(name, column)
	}
	c.Indexed = true
	c.Unique = c.Unique || unique

	updated, err := t.withIndex(c)
	if err != nil {
		return err
	}
	tx.tables[name] = updated
	return nil
}

func (tx *upgradeTransaction) AddColumn(ctx context.Context, name string, column core.Column) error {
	t, err := tx.userTable(name)
	if err != nil {
		return err
	}
	c, err := schema.CheckNewColumn(t.schema, column)
	if err != nil {
		return err
	}
	updated, err := t.withColumn(c)
	if err != nil {
		return err
	}
	tx.tables[name] = updated
	return nil
}

func (tx *upgradeTransaction) SetVersion(ctx context.Context, version int) error {
	if tx.done {
		return core.ErrTransactionClosed
	}
	ref, err := versionRef()
	if err != nil {
		return err
	}
	t := tx.tables[core.MigrationsTable]
	t.rows.ReplaceOrInsert(entry{key: ref, ref: ref, row: core.Row{
		"id":      core.MigrationsRowID,
		"version": int64(version),
	}})
	return nil
}

func (tx *upgradeTransaction) userTable(name string) (*table, error) {
	if tx.done {
		return nil, core.ErrTransactionClosed
	}
	if core.IsReserved(name) {
		return nil, core.ErrReservedTable.With(name, "")
	}
	t, ok := tx.tables[name]
	if !ok {
		return nil, core.TableNotFound(name)
	}
	return t, nil
}

func versionRef() (string, error) {
	return query.EncodeKey(core.MigrationsRowID)
}
