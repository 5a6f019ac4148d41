// Package memory implements an ephemeral adapter over in-process B-trees.
// It backs tests and fixtures.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/adapter"
	"github.com/rzpsarthak13/strata/internal/adapter/lockset"
	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/registry"
)

func init() {
	adapter.RegisterFactory(&Factory{})
	registry.RegisterAdapterValidator(&ConfigValidator{})
}

// Factory creates memory adapters.
type Factory struct{}

// Type returns "memory".
func (f *Factory) Type() string { return "memory" }

// Validate accepts any configuration.
func (f *Factory) Validate(config adapter.Config) error { return nil }

// Create creates an empty memory adapter.
func (f *Factory) Create(ctx context.Context, config adapter.Config) (core.Adapter, error) {
	return New(config.LoggerOrNop()), nil
}

// ConfigValidator accepts every configuration selecting the memory adapter.
type ConfigValidator struct{}

func (v *ConfigValidator) Type() string { return "memory" }

func (v *ConfigValidator) Validate(config *registry.InternalConfig) error { return nil }

// Adapter is a map of tables held in memory.
type Adapter struct {
	logger *zap.Logger
	locks  *lockset.LockSet

	mu     sync.Mutex
	name   string
	tables map[string]*table
	open   bool
	closed bool
}

var _ core.Adapter = (*Adapter)(nil)

// New creates an empty memory adapter.
func New(logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		logger: logger.Named("memory"),
		locks:  lockset.New(),
		tables: map[string]*table{
			core.MigrationsTable: newTable(core.MigrationsSchema()),
		},
	}
}

// Capabilities describes the memory adapter.
func (a *Adapter) Capabilities() core.Capabilities {
	return core.Capabilities{
		Name:                "memory",
		MaterializeOrdering: true,
	}
}

// OpenDatabase opens the database and returns an upgrade transaction when
// version is ahead of the applied version.
func (a *Adapter) OpenDatabase(ctx context.Context, name string, version int) (core.UpgradeTransaction, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, core.ErrDatabaseNotFound
	}
	a.name, a.open = name, true
	a.mu.Unlock()

	applied, err := a.AppliedVersion(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("database opened", zap.String("name", name), zap.Int("applied", applied), zap.Int("version", version))

	switch {
	case version < applied:
		return nil, core.Errorf(core.ErrSchemaMismatch, "database %q is at version %d, newer than %d", name, applied, version)
	case version == applied:
		return nil, nil
	}
	return a.BeginUpgrade(ctx)
}

// BeginUpgrade starts an upgrade transaction. It holds the catalog lock
// until it ends.
func (a *Adapter) BeginUpgrade(ctx context.Context) (core.UpgradeTransaction, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	release := a.locks.AcquireCatalog()

	a.mu.Lock()
	tables := make(map[string]*table, len(a.tables))
	for name, t := range a.tables {
		tables[name] = t.clone()
	}
	a.mu.Unlock()

	old, err := readVersion(tables[core.MigrationsTable])
	if err != nil {
		release()
		return nil, err
	}
	return &upgradeTransaction{
		transaction: &transaction{
			a:       a,
			mode:    core.ReadWrite,
			tables:  tables,
			release: release,
		},
		oldVersion: old,
	}, nil
}

// OpenTransaction starts a transaction on the named tables.
func (a *Adapter) OpenTransaction(ctx context.Context, names []string, mode core.TxMode) (core.Transaction, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	for _, name := range names {
		if core.IsReserved(name) {
			return nil, core.ErrReservedTable.With(name, "")
		}
	}
	return a.begin(names, mode)
}

func (a *Adapter) begin(names []string, mode core.TxMode) (*transaction, error) {
	release := a.locks.Acquire(names, mode == core.ReadWrite)

	a.mu.Lock()
	defer a.mu.Unlock()

	tables := make(map[string]*table, len(names))
	for _, name := range names {
		t, ok := a.tables[name]
		if !ok {
			release()
			return nil, core.TableNotFound(name)
		}
		if mode == core.ReadWrite {
			t = t.clone()
		}
		tables[name] = t
	}
	return &transaction{
		a:       a,
		mode:    mode,
		scope:   tables,
		tables:  tables,
		release: release,
	}, nil
}

// AppliedVersion reads the version stored in __migrations.
func (a *Adapter) AppliedVersion(ctx context.Context) (int, error) {
	if err := a.checkOpen(); err != nil {
		return 0, err
	}
	tx, err := a.begin([]string{core.MigrationsTable}, core.ReadOnly)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	return readVersion(tx.tables[core.MigrationsTable])
}

// Close drops every table.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	a.tables = nil
	return nil
}

func (a *Adapter) checkOpen() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || !a.open {
		return core.ErrDatabaseNotFound
	}
	return nil
}

func readVersion(t *table) (int, error) {
	ref, err := versionRef()
	if err != nil {
		return 0, err
	}
	row, ok := t.get(ref)
	if !ok {
		return 0, nil
	}
	return int(row["version"].(int64)), nil
}
