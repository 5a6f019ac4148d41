package strata

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/adapter"
	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/database"
	"github.com/rzpsarthak13/strata/internal/kvstore"
	"github.com/rzpsarthak13/strata/internal/logging"
	"github.com/rzpsarthak13/strata/internal/notify"
	"github.com/rzpsarthak13/strata/internal/registry"
	"github.com/rzpsarthak13/strata/internal/schema"
)

// Config is the file and environment configuration of a database, see
// DefaultConfig for the defaults.
type Config = registry.InternalConfig

type (
	// TableConfig declares a table in a configuration file.
	TableConfig = registry.InternalTableConfig
	// ColumnConfig declares a column of a TableConfig.
	ColumnConfig = registry.InternalColumnConfig
)

// DefaultConfig returns an in-memory database without a change queue.
func DefaultConfig() *Config {
	return registry.DefaultConfig()
}

// LoadConfig reads a YAML or JSON file over the defaults. STRATA_*
// environment variables override both. An empty path reads the
// environment only.
func LoadConfig(path string) (*Config, error) {
	cm := registry.NewConfigManager()
	var err error
	if path == "" {
		err = cm.LoadFromEnv()
	} else {
		err = cm.LoadFromFile(path)
	}
	if err != nil {
		return nil, err
	}
	return cm.GetConfig(), nil
}

// OpenFromConfig builds the adapter and the change notifier a configuration
// describes and opens its database. Without WithMigrations, the declared
// tables are created one migration step each. Without WithLogger, the
// logger follows the logging section.
func OpenFromConfig(ctx context.Context, config *Config, opts ...Option) (*Database, error) {
	if err := registry.ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	o := newOptions(opts)
	logger := o.logger
	if !hasLogger(opts) {
		var err error
		if logger, err = logging.New(config.Logging.Level, config.Logging.Development); err != nil {
			return nil, err
		}
	}

	extra := []Option{WithLogger(logger)}
	if o.manifest == nil {
		schemas, err := SchemasFromConfig(config)
		if err != nil {
			return nil, err
		}
		manifest := NewManifest()
		for _, s := range schemas {
			manifest.CreateTable(s)
		}
		extra = append(extra, WithMigrations(manifest))
	}

	var notifier *notify.Notifier
	if o.publisher == nil {
		var err error
		if notifier, err = notify.New(NotifyConfig(config), logger); err != nil {
			return nil, err
		}
		extra = append(extra, WithPublisher(notifier))
	}

	db, err := Open(ctx, AdapterConfigFrom(config, logger), config.Database.Name, append(opts, extra...)...)
	if err != nil {
		if notifier != nil {
			_ = notifier.Close()
		}
		return nil, err
	}
	if notifier != nil {
		notifier.Start(context.WithoutCancel(ctx))
		db.closers = append(db.closers, notifier)
	}
	return db, nil
}

func hasLogger(opts []Option) bool {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o.logger != nil
}

// AdapterConfigFrom maps a configuration onto the adapter it selects.
func AdapterConfigFrom(config *Config, logger *zap.Logger) AdapterConfig {
	ac := adapter.Config{
		Type:      config.Database.Adapter,
		Logger:    logger,
		Namespace: config.KVStore.Namespace,
	}
	switch config.Database.Adapter {
	case "kv":
		ac.KVStore = kvstore.StoreConfig(config)
		ac.KVStore.Logger = logger
	case "sqlite":
		ac.SQLite = database.SQLiteConfig{Path: config.SQLite.Path, BusyTimeout: config.SQLite.BusyTimeout}
	case "wasm":
		ac.SQLite = database.SQLiteConfig{Path: config.WASM.Path, BusyTimeout: config.WASM.BusyTimeout}
	case "mysql":
		m := config.MySQL
		ac.MySQL = database.MySQLConfig{
			Host:              m.Host,
			Port:              m.Port,
			Database:          m.Database,
			Username:          m.Username,
			Password:          m.Password,
			MaxOpenConns:      m.MaxOpenConns,
			MaxIdleConns:      m.MaxIdleConns,
			ConnMaxLifetime:   m.ConnMaxLifetime,
			ConnMaxIdleTime:   m.ConnMaxIdleTime,
			ConnectionTimeout: m.ConnectionTimeout,
		}
	}
	return ac
}

// NotifyConfig maps the notify section onto a notifier configuration.
func NotifyConfig(config *Config) notify.Config {
	n := config.Notify
	k := n.KafkaConfig
	relay := notify.DefaultRelayConfig()
	relay.DrainRate = n.DrainRate
	relay.BatchSize = n.BatchSize
	return notify.Config{
		QueueType:  n.QueueType,
		BufferSize: n.QueueBufferSize,
		Relay:      relay,
		Kafka: notify.KafkaConfig{
			Brokers:         k.Brokers,
			Topic:           k.Topic,
			GroupID:         k.GroupID,
			BatchSize:       k.BatchSize,
			BatchTimeout:    k.BatchTimeout,
			WriteTimeout:    k.WriteTimeout,
			ReadTimeout:     k.ReadTimeout,
			RequiredAcks:    k.RequiredAcks,
			MaxMessageBytes: k.MaxMessageBytes,
			MinBytes:        k.MinBytes,
			MaxBytes:        k.MaxBytes,
			MaxWait:         k.MaxWait,
		},
	}
}

// SchemasFromConfig builds the declared tables, in declaration order.
func SchemasFromConfig(config *Config) ([]*Schema, error) {
	schemas := make([]*Schema, 0, len(config.Tables))
	for _, table := range config.Tables {
		names := make([]string, 0, len(table.Columns))
		for name := range table.Columns {
			names = append(names, name)
		}
		sort.Strings(names)

		columns := make(Columns, len(table.Columns))
		for _, name := range names {
			c := table.Columns[name]
			kind := core.DataType(c.Type)
			if !kind.Valid() {
				return nil, core.Errorf(core.ErrInvalidColumn, "unknown column type %q", c.Type).With(table.Name, name)
			}
			b := schema.Column(kind)
			if c.PrimaryKey {
				b = b.PrimaryKey()
			}
			if c.Nullable {
				b = b.Nullable()
			}
			if c.Indexed {
				b = b.Indexed()
			}
			if c.Unique {
				b = b.Unique()
			}
			columns[name] = b
		}

		s, err := schema.DefineTable(table.Name, columns)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", table.Name, err)
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}
