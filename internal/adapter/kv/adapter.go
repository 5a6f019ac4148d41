// Package kv implements the adapter for ordered key-value stores. Rows,
// secondary indexes and unique constraints are laid out as keys of one
// core.KVStore (Redis, DynamoDB or the in-process B-tree), and every
// transaction buffers its writes in an ordered overlay that is applied
// atomically on commit.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/adapter"
	"github.com/rzpsarthak13/strata/internal/adapter/lockset"
	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/kvstore"
	"github.com/rzpsarthak13/strata/internal/query"
	"github.com/rzpsarthak13/strata/internal/registry"
	"github.com/rzpsarthak13/strata/internal/schema"
)

// scanBatch is the page size of key scans.
const scanBatch = 64

// DefaultNamespace prefixes the keys of every database when no namespace
// is configured.
const DefaultNamespace = "strata"

func init() {
	adapter.RegisterFactory(&Factory{})
	registry.RegisterAdapterValidator(&ConfigValidator{})
}

// Factory creates kv adapters over the configured KV store.
type Factory struct{}

// Type returns "kv".
func (f *Factory) Type() string { return "kv" }

// Validate checks the KV store section.
func (f *Factory) Validate(config adapter.Config) error {
	if config.KVStore.Type == "" {
		return fmt.Errorf("kvstore type is required")
	}
	if !kvstore.IsTypeRegistered(config.KVStore.Type) {
		return fmt.Errorf("unsupported KV store type: %s", config.KVStore.Type)
	}
	return nil
}

// Create connects to the KV store. The adapter closes the store on Close.
func (f *Factory) Create(ctx context.Context, config adapter.Config) (core.Adapter, error) {
	storeConfig := config.KVStore
	if storeConfig.Logger == nil {
		storeConfig.Logger = config.LoggerOrNop()
	}
	store, err := kvstore.Create(ctx, storeConfig)
	if err != nil {
		return nil, err
	}
	a := New(store, config.Namespace, config.LoggerOrNop())
	a.ownsStore = true
	return a, nil
}

// ConfigValidator validates configurations that select the kv adapter by
// delegating to the validator of the KV store type.
type ConfigValidator struct{}

// Type returns "kv".
func (v *ConfigValidator) Type() string { return "kv" }

// Validate validates the kvstore section.
func (v *ConfigValidator) Validate(config *registry.InternalConfig) error {
	if config.KVStore.Type == "" {
		return fmt.Errorf("kvstore.type is required")
	}
	validator, ok := registry.GetValidator(config.KVStore.Type)
	if !ok {
		return fmt.Errorf("unsupported KV store type: %s", config.KVStore.Type)
	}
	return validator.Validate(config)
}

// Adapter stores tables in a KV store.
type Adapter struct {
	store      core.KVStore
	namespace  string
	logger     *zap.Logger
	translator *schema.Translator
	locks      *lockset.LockSet
	ownsStore  bool

	mu      sync.Mutex
	keys    keyspace
	schemas map[string]*core.Schema
	open    bool
	closed  bool
}

var _ core.Adapter = (*Adapter)(nil)

// New creates an adapter over store. Keys are prefixed with namespace and
// the database name.
func New(store core.KVStore, namespace string, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Adapter{
		store:      store,
		namespace:  namespace,
		logger:     logger.Named("kv"),
		translator: schema.NewTranslator(),
		locks:      lockset.New(),
	}
}

// Capabilities describes the kv adapter.
func (a *Adapter) Capabilities() core.Capabilities {
	return core.Capabilities{
		Name:                "kv",
		MaterializeOrdering: true,
	}
}

// OpenDatabase loads the persisted schemas of the database and returns an
// upgrade transaction when version is ahead of the applied version.
func (a *Adapter) OpenDatabase(ctx context.Context, name string, version int) (core.UpgradeTransaction, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, core.ErrDatabaseNotFound
	}
	a.mu.Unlock()

	release := a.locks.AcquireCatalog()
	keys := newKeyspace(a.namespace, name)
	schemas, err := a.loadSchemas(ctx, keys)
	release()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.keys, a.schemas, a.open = keys, schemas, true
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

// loadSchemas reads every schema key and creates the __migrations table on
// first open.
func (a *Adapter) loadSchemas(ctx context.Context, keys keyspace) (map[string]*core.Schema, error) {
	schemas := make(map[string]*core.Schema)
	prefix := keys.schemaPrefix()
	after := ""
	for {
		page, err := a.store.ScanPage(ctx, prefix, after, false, scanBatch)
		if err != nil {
			return nil, core.EngineError("load schemas", err)
		}
		for _, p := range page {
			var s core.Schema
			if err := json.Unmarshal(p.Value, &s); err != nil {
				return nil, core.EngineError("decode schema", err)
			}
			schemas[s.TableName] = &s
		}
		if len(page) < scanBatch {
			break
		}
		after = page[len(page)-1].Key
	}

	if _, ok := schemas[core.MigrationsTable]; !ok {
		s := core.MigrationsSchema()
		data, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		if err := a.store.Apply(ctx, []core.Mutation{{Key: keys.schemaKey(s.TableName), Value: data}}); err != nil {
			return nil, core.EngineError("create migrations table", err)
		}
		schemas[s.TableName] = s
	}
	return schemas, nil
}

// BeginUpgrade starts an upgrade transaction. It holds the catalog lock
// until it ends.
func (a *Adapter) BeginUpgrade(ctx context.Context) (core.UpgradeTransaction, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	release := a.locks.AcquireCatalog()

	a.mu.Lock()
	schemas := make(map[string]*core.Schema, len(a.schemas))
	for name, s := range a.schemas {
		schemas[name] = s
	}
	keys := a.keys
	a.mu.Unlock()

	tx := a.newTransaction(keys, core.ReadWrite, nil, schemas, release)
	old, err := tx.readVersion(ctx)
	if err != nil {
		release()
		return nil, err
	}
	return &upgradeTransaction{transaction: tx, oldVersion: old}, nil
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

	scope := make(map[string]bool, len(names))
	schemas := make(map[string]*core.Schema, len(names))
	for _, name := range names {
		s, ok := a.schemas[name]
		if !ok {
			release()
			return nil, core.TableNotFound(name)
		}
		scope[name] = true
		schemas[name] = s
	}
	return a.newTransaction(a.keys, mode, scope, schemas, release), nil
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

	return tx.readVersion(ctx)
}

// Close closes the store when the adapter created it.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.schemas = nil
	if a.ownsStore {
		return a.store.Close()
	}
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

func (tx *transaction) readVersion(ctx context.Context) (int, error) {
	ref, err := query.EncodeKey(core.MigrationsRowID)
	if err != nil {
		return 0, err
	}
	row, ok, err := tx.getRow(ctx, tx.schemas[core.MigrationsTable], ref)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	version, ok := row["version"].(int64)
	if !ok {
		return 0, core.EngineError("read version", errors.New("version is not an integer"))
	}
	return int(version), nil
}
