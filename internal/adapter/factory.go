// Package adapter holds the registry of storage adapter factories. Each
// backend registers itself from its init function, so importing a backend
// package makes it available to Create.
package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/database"
	"github.com/rzpsarthak13/strata/internal/kvstore"
)

// Factory is the Strategy interface for creating adapters.
type Factory interface {
	// Create builds an adapter from the configuration.
	Create(ctx context.Context, config Config) (core.Adapter, error)

	// Type returns the type identifier for this factory (e.g., "memory", "sqlite").
	Type() string

	// Validate validates the configuration specific to this adapter type.
	Validate(config Config) error
}

// Config carries everything a factory may need. Only the section matching
// Type is read.
type Config struct {
	Type   string
	Logger *zap.Logger

	// KVStore configures the engine behind the "kv" adapter.
	KVStore kvstore.KVStoreConfig

	// Namespace prefixes every key written by the "kv" adapter.
	Namespace string

	// SQLite configures the "sqlite" and "wasm" adapters.
	SQLite database.SQLiteConfig

	// MySQL configures the "mysql" adapter.
	MySQL database.MySQLConfig
}

// LoggerOrNop returns the configured logger or a no-op logger.
func (c Config) LoggerOrNop() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

var (
	factoryRegistry = make(map[string]Factory)
	registryMutex   sync.RWMutex
)

// RegisterFactory registers an adapter factory. Called from init functions.
func RegisterFactory(factory Factory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}
	factoryRegistry[factory.Type()] = factory
}

// Create creates an adapter using the factory registered for config.Type.
func Create(ctx context.Context, config Config) (core.Adapter, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("adapter type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported adapter type: %s", config.Type)
	}
	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}
	return factory.Create(ctx, config)
}

// GetRegisteredTypes returns the registered adapter types in sorted order.
func GetRegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsTypeRegistered checks if an adapter type is registered.
func IsTypeRegistered(adapterType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[adapterType]
	return exists
}
