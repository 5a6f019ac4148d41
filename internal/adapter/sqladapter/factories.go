package sqladapter

import (
	"context"
	"fmt"

	"github.com/rzpsarthak13/strata/internal/adapter"
	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/database"
	"github.com/rzpsarthak13/strata/internal/registry"
)

func init() {
	for _, f := range []*Factory{sqliteFactory, wasmFactory, mysqlFactory} {
		adapter.RegisterFactory(f)
		registry.RegisterAdapterValidator(&ConfigValidator{kind: f.kind})
	}
}

// Factory creates SQL adapters of one kind.
type Factory struct {
	kind     string
	validate func(config adapter.Config) error
	open     func(ctx context.Context, config adapter.Config) (core.Database, error)
}

var (
	sqliteFactory = &Factory{
		kind:     "sqlite",
		validate: func(config adapter.Config) error { return validateSQLite(config.SQLite.Path) },
		open: func(ctx context.Context, config adapter.Config) (core.Database, error) {
			return database.NewSQLiteDatabase(ctx, config.SQLite, config.LoggerOrNop())
		},
	}

	wasmFactory = &Factory{
		kind:     "wasm",
		validate: func(config adapter.Config) error { return validateSQLite(config.SQLite.Path) },
		open: func(ctx context.Context, config adapter.Config) (core.Database, error) {
			return database.NewWASMDatabase(ctx, config.SQLite, config.LoggerOrNop())
		},
	}

	mysqlFactory = &Factory{
		kind: "mysql",
		validate: func(config adapter.Config) error {
			return validateMySQL(config.MySQL.Host, config.MySQL.Port, config.MySQL.Database)
		},
		open: func(ctx context.Context, config adapter.Config) (core.Database, error) {
			return database.NewMySQLDatabase(ctx, config.MySQL, config.LoggerOrNop())
		},
	}
)

// Type returns the adapter type.
func (f *Factory) Type() string { return f.kind }

// Validate checks the section read by this kind.
func (f *Factory) Validate(config adapter.Config) error { return f.validate(config) }

// Create opens the database. The adapter closes it on Close.
func (f *Factory) Create(ctx context.Context, config adapter.Config) (core.Adapter, error) {
	db, err := f.open(ctx, config)
	if err != nil {
		return nil, err
	}
	a, err := New(db, f.kind, config.LoggerOrNop())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// ConfigValidator validates the file configuration of a SQL adapter.
type ConfigValidator struct {
	kind string
}

func (v *ConfigValidator) Type() string { return v.kind }

func (v *ConfigValidator) Validate(config *registry.InternalConfig) error {
	switch v.kind {
	case "sqlite":
		return validateSQLite(config.SQLite.Path)
	case "wasm":
		return validateSQLite(config.WASM.Path)
	}
	return validateMySQL(config.MySQL.Host, config.MySQL.Port, config.MySQL.Database)
}

func validateSQLite(path string) error {
	if path == "" {
		return fmt.Errorf("sqlite path is required")
	}
	return nil
}

func validateMySQL(host string, port int, name string) error {
	if host == "" {
		return fmt.Errorf("mysql host is required")
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("mysql port must be between 1 and 65535")
	}
	if name == "" {
		return fmt.Errorf("mysql database is required")
	}
	return nil
}
