package kvstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/registry"
)

func TestMemoryKVStore(t *testing.T) {
	t.Parallel()

	testStore(t, NewMemoryKVStore(zap.NewNop()))
}

func TestRedisKVStore(t *testing.T) {
	t.Parallel()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	store := NewRedisKVStoreFromClient(client, "test", zap.NewNop())
	defer store.Close()

	testStore(t, store)

	assert.True(t, server.Exists("{test}:keys"))
}

func TestRedisKVStore_Factory(t *testing.T) {
	t.Parallel()

	server := miniredis.RunT(t)
	store, err := Create(context.Background(), KVStoreConfig{
		Type:         "redis",
		Endpoints:    []string{server.Addr()},
		PoolSize:     2,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Apply(context.Background(), []core.Mutation{{Key: "a", Value: []byte("1")}}))
	assert.True(t, server.Exists("{strata}:d:a"))
}

// TestDynamoDBKVStore runs against a real table, e.g. on LocalStack:
// STRATA_TEST_DYNAMODB_TABLE=kv STRATA_TEST_DYNAMODB_ENDPOINT=http://localhost:4566.
func TestDynamoDBKVStore(t *testing.T) {
	table := os.Getenv("STRATA_TEST_DYNAMODB_TABLE")
	if table == "" {
		t.Skip("STRATA_TEST_DYNAMODB_TABLE is not set")
	}

	store, err := NewDynamoDBKVStore(context.Background(), KVStoreConfig{
		Type:            "dynamodb",
		Region:          "us-east-1",
		TableName:       table,
		KeyPrefix:       "test-" + time.Now().Format("150405.000000"),
		Endpoint:        os.Getenv("STRATA_TEST_DYNAMODB_ENDPOINT"),
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	defer store.Close()

	testStore(t, store)
}

func testStore(t *testing.T, store core.KVStore) {
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrKeyNotFound))

	keys := []string{"t:a\x00\x01", "t:a\x00\xff", "t:b", "t:b\x00", "t:c\xff", "u:a"}
	var mutations []core.Mutation
	for i, k := range keys {
		mutations = append(mutations, core.Mutation{Key: k, Value: []byte{byte('0' + i)}})
	}
	require.NoError(t, store.Apply(ctx, mutations))

	value, err := store.Get(ctx, "t:b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), value)

	ok, err := store.Exists(ctx, "t:c\xff")
	require.NoError(t, err)
	assert.True(t, ok)

	scan := func(prefix string, reverse bool, page int) []string {
		var (
			out   []string
			after string
		)
		for {
			pairs, err := store.ScanPage(ctx, prefix, after, reverse, page)
			require.NoError(t, err)
			for _, p := range pairs {
				out = append(out, p.Key)
			}
			if len(pairs) < page {
				return out
			}
			after = pairs[len(pairs)-1].Key
		}
	}

	forward := keys[:5]
	backward := []string{keys[4], keys[3], keys[2], keys[1], keys[0]}
	for _, page := range []int{1, 2, 10} {
		assert.Equal(t, forward, scan("t:", false, page), "page %d", page)
		assert.Equal(t, backward, scan("t:", true, page), "page %d", page)
	}
	assert.Equal(t, []string{keys[0], keys[1]}, scan("t:a\x00", false, 1))
	assert.Equal(t, []string{keys[3], keys[2]}, scan("t:b", true, 1))
	assert.Empty(t, scan("v:", false, 3))

	require.NoError(t, store.Apply(ctx, []core.Mutation{
		{Key: "t:b", Delete: true},
		{Key: "t:c\xff", Value: []byte("new")},
	}))
	assert.Equal(t, []string{keys[0], keys[1], keys[3], keys[4]}, scan("t:", false, 3))

	value, err = store.Get(ctx, "t:c\xff")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), value)

	ok, err = store.Exists(ctx, "t:b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFactoryRegistry(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"dynamodb", "memory", "redis"}, GetRegisteredTypes())
	assert.True(t, IsTypeRegistered("redis"))
	assert.False(t, IsTypeRegistered("cassandra"))

	_, err := Create(context.Background(), KVStoreConfig{})
	assert.Error(t, err)

	_, err = Create(context.Background(), KVStoreConfig{Type: "cassandra"})
	assert.Error(t, err)

	_, err = Create(context.Background(), KVStoreConfig{Type: "redis"})
	assert.ErrorContains(t, err, "endpoint")

	_, err = Create(context.Background(), KVStoreConfig{Type: "dynamodb", Region: "eu-west-1"})
	assert.ErrorContains(t, err, "table_name")

	store, err := Create(context.Background(), KVStoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestConfigValidators(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		Name   string
		Modify func(c *registry.InternalConfig)
		Err    string
	}{
		{"Memory", func(c *registry.InternalConfig) {}, ""},
		{"Redis defaults", func(c *registry.InternalConfig) { c.KVStore.Type = "redis" }, ""},
		{"Redis bad db", func(c *registry.InternalConfig) {
			c.KVStore.Type = "redis"
			c.KVStore.RedisConfig.DB = 16
		}, "between 0 and 15"},
		{"Redis no timeout", func(c *registry.InternalConfig) {
			c.KVStore.Type = "redis"
			c.KVStore.ReadTimeout = 0
		}, "read_timeout"},
		{"DynamoDB missing region", func(c *registry.InternalConfig) {
			c.KVStore.Type = "dynamodb"
			c.KVStore.DynamoDBConfig.TableName = "kv"
		}, "region"},
		{"DynamoDB", func(c *registry.InternalConfig) {
			c.KVStore.Type = "dynamodb"
			c.KVStore.DynamoDBConfig = registry.InternalDynamoDBConfig{Region: "eu-west-1", TableName: "kv"}
		}, ""},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			config := registry.DefaultConfig()
			aTestCase.Modify(config)

			validator, ok := registry.GetValidator(config.KVStore.Type)
			require.True(t, ok)

			err := validator.Validate(config)
			if aTestCase.Err == "" {
				require.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, aTestCase.Err)
		})
	}
}
