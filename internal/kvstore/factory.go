package kvstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/registry"
)

// KVStoreFactory is the Strategy interface for creating KV store implementations.
// Each backend (Redis, DynamoDB, etc.) implements this interface to provide
// its own factory method.
type KVStoreFactory interface {
	// Create creates a new KV store instance based on the provided configuration.
	Create(ctx context.Context, config KVStoreConfig) (core.KVStore, error)

	// Type returns the type identifier for this factory (e.g., "redis", "dynamodb").
	Type() string

	// Validate validates the configuration specific to this KV store type.
	Validate(config KVStoreConfig) error
}

// KVStoreConfig represents the configuration needed to create a KV store.
// Supports multiple backends (Redis, DynamoDB, in-process) through a plugin-based architecture.
type KVStoreConfig struct {
	Type   string
	Logger *zap.Logger

	// KeyPrefix separates the keys of several stores sharing one server.
	KeyPrefix string

	Endpoints    []string
	ClusterMode  bool
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DynamoDB-specific fields
	Region          string
	TableName       string
	Endpoint        string // Optional, for LocalStack
	AccessKeyID     string // Optional, can use IAM role instead
	SecretAccessKey string // Optional, can use IAM role instead
}

// DefaultKeyPrefix is used when KeyPrefix is empty.
const DefaultKeyPrefix = "strata"

func (c KVStoreConfig) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c KVStoreConfig) keyPrefix() string {
	if c.KeyPrefix == "" {
		return DefaultKeyPrefix
	}
	return c.KeyPrefix
}

// StoreConfig maps the kvstore section of a configuration onto a KVStoreConfig.
func StoreConfig(config *registry.InternalConfig) KVStoreConfig {
	kv := config.KVStore
	return KVStoreConfig{
		Type:            kv.Type,
		KeyPrefix:       kv.KeyPrefix,
		Endpoints:       kv.RedisConfig.Endpoints,
		ClusterMode:     kv.RedisConfig.ClusterMode,
		Password:        kv.RedisConfig.Password,
		DB:              kv.RedisConfig.DB,
		MaxRetries:      kv.MaxRetries,
		PoolSize:        kv.RedisConfig.PoolSize,
		MinIdleConns:    kv.RedisConfig.MinIdleConns,
		DialTimeout:     kv.DialTimeout,
		ReadTimeout:     kv.ReadTimeout,
		WriteTimeout:    kv.WriteTimeout,
		Region:          kv.DynamoDBConfig.Region,
		TableName:       kv.DynamoDBConfig.TableName,
		Endpoint:        kv.DynamoDBConfig.Endpoint,
		AccessKeyID:     kv.DynamoDBConfig.AccessKeyID,
		SecretAccessKey: kv.DynamoDBConfig.SecretAccessKey,
	}
}

var (
	// factoryRegistry stores all registered KV store factories.
	factoryRegistry = make(map[string]KVStoreFactory)

	// registryMutex protects the registries from concurrent access.
	registryMutex sync.RWMutex
)

// RegisterFactory registers a KV store factory.
// This is called automatically by each implementation's init() function.
func RegisterFactory(factory KVStoreFactory) {
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

// Create creates a KV store instance using the appropriate factory based on config.Type.
func Create(ctx context.Context, config KVStoreConfig) (core.KVStore, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("kvstore type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported KV store type: %s", config.Type)
	}

	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}

	return factory.Create(ctx, config)
}

// GetRegisteredTypes returns the registered KV store types in sorted order.
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

// IsTypeRegistered checks if a KV store type is registered.
func IsTypeRegistered(storeType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[storeType]
	return exists
}
