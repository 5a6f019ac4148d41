package strata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/adapter"
	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/migrate"
)

// ErrNoChangeFeed is returned by Subscribe when the database publishes its
// changes somewhere other than an in-process feed.
var ErrNoChangeFeed = errors.New("strata: database has no change feed")

// Option configures Open.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	manifest  *migrate.Manifest
	publisher core.ChangePublisher
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMigrations sets the steps applied when the database opens.
func WithMigrations(manifest *Manifest) Option {
	return func(o *options) {
		o.manifest = manifest
	}
}

// WithPublisher receives a change for every committed write.
func WithPublisher(publisher ChangePublisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Database is an opened, migrated database. It is safe for concurrent use
// and is meant to be created once and passed to whatever needs it.
type Database struct {
	adapter   core.Adapter
	name      string
	version   int
	logger    *zap.Logger
	publisher core.ChangePublisher

	closers   []io.Closer
	closeOnce sync.Once
	closeErr  error
}

// NewAdapter builds an adapter of the configured type.
func NewAdapter(ctx context.Context, config AdapterConfig) (Adapter, error) {
	return adapter.Create(ctx, config)
}

// Open builds an adapter and opens the named database on it. Close
// releases the adapter.
func Open(ctx context.Context, config AdapterConfig, name string, opts ...Option) (*Database, error) {
	if config.Logger == nil {
		config.Logger = newOptions(opts).logger
	}
	a, err := adapter.Create(ctx, config)
	if err != nil {
		return nil, err
	}
	db, err := OpenAdapter(ctx, a, name, opts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	db.closers = append(db.closers, a)
	return db, nil
}

// OpenAdapter opens the named database on an existing adapter and applies
// the pending migrations. The caller keeps ownership of the adapter.
func OpenAdapter(ctx context.Context, a Adapter, name string, opts ...Option) (*Database, error) {
	if a == nil {
		return nil, fmt.Errorf("adapter cannot be nil")
	}
	o := newOptions(opts)

	result, err := migrate.NewRunner(a, o.manifest, o.logger).Run(ctx, name)
	if err != nil {
		return nil, err
	}

	o.logger.Info("database opened",
		zap.String("database", name),
		zap.String("adapter", a.Capabilities().Name),
		zap.Int("version", result.To))

	return &Database{
		adapter:   a,
		name:      name,
		version:   result.To,
		logger:    o.logger,
		publisher: o.publisher,
	}, nil
}

// Name is the name the database was opened with.
func (db *Database) Name() string { return db.name }

// Version is the applied migration version.
func (db *Database) Version() int { return db.version }

// Capabilities describes the adapter underneath.
func (db *Database) Capabilities() core.Capabilities { return db.adapter.Capabilities() }

// Table returns the façade of a table. The declared schema must equal the
// stored one, which catches code and data drifting apart after an upgrade.
func (db *Database) Table(ctx context.Context, s *Schema) (*Table, error) {
	if s == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	tx, err := db.adapter.OpenTransaction(ctx, []string{s.TableName}, core.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	h, err := tx.Table(ctx, s.TableName)
	if err != nil {
		return nil, err
	}
	if !h.Schema().Equal(s) {
		return nil, core.Errorf(core.ErrSchemaMismatch, "declared schema differs from the stored one").With(s.TableName, "")
	}
	return &Table{db: db, schema: s}, nil
}

// Update runs fn in one read-write transaction over the named tables.
// The transaction commits when fn returns nil and rolls back otherwise.
// Changes are published once it commits.
func (db *Database) Update(ctx context.Context, tables []string, fn func(tx *Tx) error) error {
	return db.transact(ctx, tables, core.ReadWrite, fn)
}

// View runs fn in one read-only transaction over the named tables.
func (db *Database) View(ctx context.Context, tables []string, fn func(tx *Tx) error) error {
	return db.transact(ctx, tables, core.ReadOnly, fn)
}

func (db *Database) transact(ctx context.Context, tables []string, mode core.TxMode, fn func(tx *Tx) error) error {
	raw, err := db.adapter.OpenTransaction(ctx, tables, mode)
	if err != nil {
		return err
	}
	tx := &Tx{db: db, tx: raw}

	committed := false
	defer func() {
		if !committed {
			if err := raw.Rollback(ctx); err != nil && !errors.Is(err, core.ErrTransactionClosed) {
				db.logger.Error("rollback failed", zap.Strings("tables", tables), zap.Error(err))
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := raw.Commit(ctx); err != nil {
		return err
	}
	committed = true

	db.publish(ctx, tx.changes)
	return nil
}

// publish hands committed changes to the publisher. The writes are
// durable already, so a failure is only logged.
func (db *Database) publish(ctx context.Context, changes []core.Change) {
	if db.publisher == nil || len(changes) == 0 {
		return
	}
	now := time.Now().UTC()
	for i := range changes {
		changes[i].Timestamp = now
	}
	if err := db.publisher.Publish(ctx, changes...); err != nil {
		db.logger.Warn("failed to publish changes", zap.Int("count", len(changes)), zap.Error(err))
	}
}

// Subscribe follows the changes of the given tables, or of all tables.
// The returned function ends the subscription.
func (db *Database) Subscribe(buffer int, tables ...string) (<-chan Change, func(), error) {
	feed, ok := db.publisher.(interface {
		Subscribe(buffer int, tables ...string) (<-chan core.Change, func())
	})
	if !ok {
		return nil, nil, ErrNoChangeFeed
	}
	ch, cancel := feed.Subscribe(buffer, tables...)
	return ch, cancel, nil
}

// Close releases what Open acquired. Databases opened on an existing
// adapter leave it open.
func (db *Database) Close() error {
	db.closeOnce.Do(func() {
		var errs []error
		for i := len(db.closers) - 1; i >= 0; i-- {
			if err := db.closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		db.closeErr = errors.Join(errs...)
		db.logger.Info("database closed", zap.String("database", db.name))
	})
	return db.closeErr
}
