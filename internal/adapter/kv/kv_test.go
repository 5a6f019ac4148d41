package kv_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rzpsarthak13/strata/internal/adapter"
	"github.com/rzpsarthak13/strata/internal/adapter/adaptertest"
	"github.com/rzpsarthak13/strata/internal/adapter/kv"
	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/kvstore"
)

func TestConformance_Memory(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T) core.Adapter {
		logger := zaptest.NewLogger(t)
		a := kv.New(kvstore.NewMemoryKVStore(logger), "test", logger)
		t.Cleanup(func() { _ = a.Close() })
		return a
	})
}

func TestConformance_Redis(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T) core.Adapter {
		server := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: server.Addr()})
		store := kvstore.NewRedisKVStoreFromClient(client, "test", zaptest.NewLogger(t))
		t.Cleanup(func() { _ = store.Close() })

		a := kv.New(store, "", zaptest.NewLogger(t))
		t.Cleanup(func() { _ = a.Close() })
		return a
	})
}

func TestFactory(t *testing.T) {
	assert.True(t, adapter.IsTypeRegistered("kv"))

	_, err := adapter.Create(context.Background(), adapter.Config{Type: "kv"})
	assert.ErrorContains(t, err, "kvstore type is required")

	_, err = adapter.Create(context.Background(), adapter.Config{
		Type:    "kv",
		KVStore: kvstore.KVStoreConfig{Type: "etcd"},
	})
	assert.ErrorContains(t, err, "unsupported KV store type")

	a, err := adapter.Create(context.Background(), adapter.Config{
		Type:    "kv",
		KVStore: kvstore.KVStoreConfig{Type: "memory"},
	})
	require.NoError(t, err)
	assert.Equal(t, "kv", a.Capabilities().Name)
	require.NoError(t, a.Close())
}

// Schemas and rows outlive the adapter that wrote them.
func TestReopen(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryKVStore(nil)

	first := kv.New(store, "", nil)
	require.NoError(t, adaptertest.Migrate(ctx, first))

	tx, err := first.OpenTransaction(ctx, []string{adaptertest.Projects.TableName}, core.ReadWrite)
	require.NoError(t, err)
	h, err := tx.Table(ctx, adaptertest.Projects.TableName)
	require.NoError(t, err)
	project := adaptertest.NewDataGen(7).Project()
	_, err = h.Insert(ctx, project)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, first.Close())

	second := kv.New(store, "", nil)
	upgrade, err := second.OpenDatabase(ctx, adaptertest.Database, adaptertest.Version)
	require.NoError(t, err)
	assert.Nil(t, upgrade, "already at the current version")

	tx, err = second.OpenTransaction(ctx, []string{adaptertest.Projects.TableName}, core.ReadOnly)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	h, err = tx.Table(ctx, adaptertest.Projects.TableName)
	require.NoError(t, err)
	assert.True(t, h.Schema().Equal(adaptertest.Projects))

	var rows []core.Row
	for row, err := range h.Select(ctx, core.Plan{}) {
		require.NoError(t, err)
		rows = append(rows, row)
	}
	require.Len(t, rows, 1)
	assert.Equal(t, project["id"], rows[0]["id"])
}

// Databases and namespaces do not see each other's keys.
func TestNamespaces(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryKVStore(nil)

	a := kv.New(store, "one", nil)
	require.NoError(t, adaptertest.Migrate(ctx, a))

	b := kv.New(store, "two", nil)
	upgrade, err := b.OpenDatabase(ctx, adaptertest.Database, adaptertest.Version)
	require.NoError(t, err)
	require.NotNil(t, upgrade)
	assert.Equal(t, 0, upgrade.OldVersion())
	require.NoError(t, upgrade.Rollback(ctx))
}

// Uncommitted writes interleave with stored rows in key order.
func TestPendingWritesMerge(t *testing.T) {
	ctx := context.Background()
	a := kv.New(kvstore.NewMemoryKVStore(nil), "", nil)
	require.NoError(t, adaptertest.Migrate(ctx, a))
	gen := adaptertest.NewDataGen(11)
	project := func(id string) core.Row {
		row := gen.Project()
		row["id"] = id
		return row
	}

	tx, err := a.OpenTransaction(ctx, []string{adaptertest.Projects.TableName}, core.ReadWrite)
	require.NoError(t, err)
	h, err := tx.Table(ctx, adaptertest.Projects.TableName)
	require.NoError(t, err)
	_, err = h.InsertMany(ctx, []core.Row{project("p1"), project("p3"), project("p5")})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tx, err = a.OpenTransaction(ctx, []string{adaptertest.Projects.TableName}, core.ReadWrite)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	h, err = tx.Table(ctx, adaptertest.Projects.TableName)
	require.NoError(t, err)
	_, err = h.InsertMany(ctx, []core.Row{project("p2"), project("p4"), project("p6")})
	require.NoError(t, err)
	require.NoError(t, h.Delete(ctx, core.Plan{Where: core.Cond("id", core.OpEquals, "p3")}))

	keys := func(plan core.Plan) []string {
		var out []string
		for row, err := range h.Select(ctx, plan) {
			require.NoError(t, err)
			out = append(out, row["id"].(string))
		}
		return out
	}
	assert.Equal(t, []string{"p1", "p2", "p4", "p5", "p6"}, keys(core.Plan{}))
	assert.Equal(t, []string{"p6", "p5", "p4", "p2", "p1"},
		keys(core.Plan{OrderBy: &core.OrderBy{Column: "id", Direction: core.Desc}}))
}
