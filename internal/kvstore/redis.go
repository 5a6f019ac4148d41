package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/registry"
)

// RedisKVStore implements the core.KVStore interface using Redis.
//
// Values live in plain string keys; a sorted set with every score at zero
// lists the keys so that ZRANGEBYLEX yields them in byte order. Both share
// one hash tag, so MULTI/EXEC commits also work on a cluster.
type RedisKVStore struct {
	client    redis.UniversalClient
	logger    *zap.Logger
	directory string
	dataKey   string
	closed    bool
}

var _ core.KVStore = (*RedisKVStore)(nil)

// NewRedisKVStore connects to Redis and checks the connection.
func NewRedisKVStore(ctx context.Context, config KVStoreConfig) (*RedisKVStore, error) {
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	var client redis.UniversalClient
	if config.ClusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        config.Endpoints,
			Password:     config.Password,
			MaxRetries:   config.MaxRetries,
			PoolSize:     config.PoolSize,
			MinIdleConns: config.MinIdleConns,
			DialTimeout:  config.DialTimeout,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         config.Endpoints[0],
			Password:     config.Password,
			DB:           config.DB,
			MaxRetries:   config.MaxRetries,
			PoolSize:     config.PoolSize,
			MinIdleConns: config.MinIdleConns,
			DialTimeout:  config.DialTimeout,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		})
	}

	pingCtx := ctx
	if config.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisKVStoreFromClient(client, config.keyPrefix(), config.logger()), nil
}

// NewRedisKVStoreFromClient wraps an existing client. Keys are stored
// under prefix.
func NewRedisKVStoreFromClient(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisKVStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	tag := "{" + prefix + "}"
	return &RedisKVStore{
		client:    client,
		logger:    logger.Named("kvstore.redis"),
		directory: tag + ":keys",
		dataKey:   tag + ":d:",
	}
}

// Get retrieves a value by key from the store.
func (r *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.closed {
		return nil, fmt.Errorf("KV store is closed")
	}

	val, err := r.client.Get(ctx, r.dataKey+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	r.logger.Debug("get", zap.ByteString("key", []byte(key)), zap.Int("size", len(val)))
	return val, nil
}

// Exists checks if a key exists in the store.
func (r *RedisKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if r.closed {
		return false, fmt.Errorf("KV store is closed")
	}

	count, err := r.client.Exists(ctx, r.dataKey+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %q: %w", key, err)
	}
	return count > 0, nil
}

// ScanPage walks the key directory with ZRANGEBYLEX and fetches the values
// of the page with one MGET.
func (r *RedisKVStore) ScanPage(ctx context.Context, prefix, after string, reverse bool, limit int) ([]core.KVPair, error) {
	if r.closed {
		return nil, fmt.Errorf("KV store is closed")
	}
	if limit <= 0 {
		return nil, nil
	}

	lower, upper := "-", "+"
	if prefix != "" {
		lower = "[" + prefix
	}
	if end := core.PrefixEnd(prefix); end != "" {
		upper = "(" + end
	}

	var (
		keys []string
		err  error
	)
	if reverse {
		if after != "" {
			upper = "(" + after
		}
		keys, err = r.client.ZRevRangeByLex(ctx, r.directory, &redis.ZRangeBy{Min: lower, Max: upper, Count: int64(limit)}).Result()
	} else {
		if after != "" {
			lower = "(" + after
		}
		keys, err = r.client.ZRangeByLex(ctx, r.directory, &redis.ZRangeBy{Min: lower, Max: upper, Count: int64(limit)}).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	dataKeys := make([]string, len(keys))
	for i, k := range keys {
		dataKeys[i] = r.dataKey + k
	}
	values, err := r.client.MGet(ctx, dataKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get %d keys: %w", len(keys), err)
	}

	out := make([]core.KVPair, 0, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // removed between the two reads
		}
		out = append(out, core.KVPair{Key: keys[i], Value: []byte(s)})
	}
	r.logger.Debug("scan", zap.ByteString("prefix", []byte(prefix)), zap.Bool("reverse", reverse), zap.Int("count", len(out)))
	return out, nil
}

// Apply writes all mutations in one MULTI/EXEC transaction.
func (r *RedisKVStore) Apply(ctx context.Context, mutations []core.Mutation) error {
	if r.closed {
		return fmt.Errorf("KV store is closed")
	}
	if len(mutations) == 0 {
		return nil
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range mutations {
			if m.Delete {
				pipe.Del(ctx, r.dataKey+m.Key)
				pipe.ZRem(ctx, r.directory, m.Key)
				continue
			}
			pipe.Set(ctx, r.dataKey+m.Key, m.Value, 0)
			pipe.ZAdd(ctx, r.directory, redis.Z{Score: 0, Member: m.Key})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply %d mutations: %w", len(mutations), err)
	}
	r.logger.Debug("mutations applied", zap.Int("count", len(mutations)))
	return nil
}

// Close closes the connection to the KV store.
func (r *RedisKVStore) Close() error {
	if r.closed {
		return nil
	}

	r.closed = true
	return r.client.Close()
}

// GetClient returns the underlying Redis client for advanced operations.
func (r *RedisKVStore) GetClient() redis.UniversalClient {
	return r.client
}

// RedisKVStoreFactory implements the KVStoreFactory interface for Redis.
type RedisKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *RedisKVStoreFactory) Type() string {
	return "redis"
}

// Validate validates the Redis-specific configuration.
func (f *RedisKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "redis" {
		return fmt.Errorf("invalid type for Redis factory: %s", config.Type)
	}
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if config.DB < 0 || config.DB > 15 {
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", config.DB)
	}
	if config.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got: %d", config.PoolSize)
	}
	if config.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", config.MinIdleConns)
	}
	if config.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be greater than 0, got: %v", config.DialTimeout)
	}
	if config.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be greater than 0, got: %v", config.ReadTimeout)
	}
	if config.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be greater than 0, got: %v", config.WriteTimeout)
	}
	return nil
}

// Create creates a new Redis KV store instance based on the provided configuration.
func (f *RedisKVStoreFactory) Create(ctx context.Context, config KVStoreConfig) (core.KVStore, error) {
	redisStore, err := NewRedisKVStore(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis KV store: %w", err)
	}
	return redisStore, nil
}

// RedisConfigValidator implements the ConfigValidator interface for Redis.
type RedisConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *RedisConfigValidator) Type() string {
	return "redis"
}

// Validate validates the Redis-specific configuration in the internal config.
func (v *RedisConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	kvConfig := config.KVStore
	if kvConfig.Type != "redis" {
		return fmt.Errorf("invalid type for Redis validator: %s", kvConfig.Type)
	}
	return (&RedisKVStoreFactory{}).Validate(StoreConfig(config))
}

// init auto-registers the Redis factory and validator on package initialization.
func init() {
	RegisterFactory(&RedisKVStoreFactory{})
	registry.RegisterValidator(&RedisConfigValidator{})
}
