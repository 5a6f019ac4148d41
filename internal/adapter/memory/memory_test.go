package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rzpsarthak13/strata/internal/adapter"
	"github.com/rzpsarthak13/strata/internal/adapter/adaptertest"
	"github.com/rzpsarthak13/strata/internal/adapter/memory"
	"github.com/rzpsarthak13/strata/internal/core"
)

func TestConformance(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T) core.Adapter {
		a := memory.New(zaptest.NewLogger(t))
		t.Cleanup(func() { _ = a.Close() })
		return a
	})
}

func TestFactory(t *testing.T) {
	assert.True(t, adapter.IsTypeRegistered("memory"))

	a, err := adapter.Create(context.Background(), adapter.Config{Type: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", a.Capabilities().Name)
	require.NoError(t, a.Close())
}

func TestClosedAdapter(t *testing.T) {
	ctx := context.Background()
	a := memory.New(nil)

	_, err := a.OpenTransaction(ctx, []string{"tasks"}, core.ReadOnly)
	assert.True(t, errors.Is(err, core.ErrDatabaseNotFound), "not opened yet")

	require.NoError(t, adaptertest.Migrate(ctx, a))
	require.NoError(t, a.Close())

	_, err = a.OpenDatabase(ctx, "conformance", 1)
	assert.True(t, errors.Is(err, core.ErrDatabaseNotFound))
}

// Writers on the same table queue; each sees the previous commit.
func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	a := memory.New(nil)
	require.NoError(t, adaptertest.Migrate(ctx, a))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			tx, err := a.OpenTransaction(ctx, []string{"projects"}, core.ReadWrite)
			if !assert.NoError(t, err) {
				return
			}
			h, err := tx.Table(ctx, "projects")
			if !assert.NoError(t, err) {
				return
			}
			row := adaptertest.NewDataGen(int64(i)).Project()
			row["id"] = string(rune('a' + i))
			row["name"] = row["id"]
			_, err = h.Insert(ctx, row)
			assert.NoError(t, err)
			assert.NoError(t, tx.Commit(ctx))
		}(i)
	}
	wg.Wait()

	tx, err := a.OpenTransaction(ctx, []string{"projects"}, core.ReadOnly)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	h, err := tx.Table(ctx, "projects")
	require.NoError(t, err)
	var n int
	for _, err := range h.Select(ctx, core.Plan{}) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, writers, n)
}
