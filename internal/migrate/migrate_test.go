package migrate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rzpsarthak13/strata/internal/adapter"
	"github.com/rzpsarthak13/strata/internal/adapter/memory"
	_ "github.com/rzpsarthak13/strata/internal/adapter/sqladapter"
	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/database"
	"github.com/rzpsarthak13/strata/internal/migrate"
	"github.com/rzpsarthak13/strata/internal/schema"
)

var (
	users = schema.MustDefineTable("users", schema.Columns{
		"id":    schema.Integer().PrimaryKey(),
		"email": schema.Text().Unique(),
	})
	posts = schema.MustDefineTable("posts", schema.Columns{
		"id":     schema.Integer().PrimaryKey(),
		"userId": schema.Integer().Indexed(),
	})
)

func adapters(t *testing.T) map[string]func(t *testing.T) core.Adapter {
	return map[string]func(t *testing.T) core.Adapter{
		"memory": func(t *testing.T) core.Adapter {
			return memory.New(zaptest.NewLogger(t))
		},
		"sqlite": func(t *testing.T) core.Adapter {
			a, err := adapter.Create(context.Background(), adapter.Config{
				Type:   "sqlite",
				SQLite: database.SQLiteConfig{Path: ":memory:"},
			})
			require.NoError(t, err)
			t.Cleanup(func() { _ = a.Close() })
			return a
		},
	}
}

func tableExists(t *testing.T, ctx context.Context, a core.Adapter, name string) bool {
	tx, err := a.OpenTransaction(ctx, []string{name}, core.ReadOnly)
	if errors.Is(err, core.ErrTableNotFound) {
		return false
	}
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	return true
}

func TestRun(t *testing.T) {
	for name, open := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := open(t)

			manifest := migrate.NewManifest().CreateTable(users).CreateTable(posts)
			runner := migrate.NewRunner(a, manifest, zaptest.NewLogger(t))

			result, err := runner.Run(ctx, "app")
			require.NoError(t, err)
			assert.Equal(t, 0, result.From)
			assert.Equal(t, 2, result.To)
			assert.Equal(t, []string{"create users", "create posts"}, result.Applied)

			state, err := runner.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, migrate.Current, state)

			// A second run finds nothing to do.
			result, err = runner.Run(ctx, "app")
			require.NoError(t, err)
			assert.Empty(t, result.Applied)
			assert.Equal(t, 2, result.To)

			assert.True(t, tableExists(t, ctx, a, "users"))
			assert.True(t, tableExists(t, ctx, a, "posts"))
		})
	}
}

// A failing step leaves the earlier steps applied; the next run resumes at
// the failed step and never repeats the earlier ones.
func TestResumption(t *testing.T) {
	for name, open := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := open(t)
			calls := map[string]int{}

			counted := func(name string, fn migrate.ApplyFunc) migrate.Step {
				return migrate.Step{Name: name, Apply: func(ctx context.Context, tx core.UpgradeTransaction) error {
					calls[name]++
					return fn(ctx, tx)
				}}
			}
			createUsers := counted("users", func(ctx context.Context, tx core.UpgradeTransaction) error {
				return tx.CreateTable(ctx, users)
			})
			seedUsers := counted("seed", func(ctx context.Context, tx core.UpgradeTransaction) error {
				h, err := tx.Table(ctx, "users")
				if err != nil {
					return err
				}
				_, err = h.InsertMany(ctx, []core.Row{{"id": 1, "email": "a@x"}, {"id": 2, "email": "b@x"}})
				return err
			})
			broken := counted("posts", func(ctx context.Context, tx core.UpgradeTransaction) error {
				if err := tx.CreateTable(ctx, posts); err != nil {
					return err
				}
				return errors.New("boom")
			})

			_, err := migrate.NewRunner(a, migrate.NewManifest(createUsers, seedUsers, broken), nil).Run(ctx, "app")
			var merr *migrate.Error
			require.True(t, errors.As(err, &merr), "got %v", err)
			assert.Equal(t, 2, merr.Step)
			assert.Equal(t, "posts", merr.Name)
			assert.Equal(t, 2, merr.Applied)
			assert.EqualError(t, errors.Unwrap(err), "boom")

			applied, err := a.AppliedVersion(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, applied)
			assert.False(t, tableExists(t, ctx, a, "posts"), "failed step is rolled back")

			runner := migrate.NewRunner(a, migrate.NewManifest(createUsers, seedUsers, counted("posts-fixed", func(ctx context.Context, tx core.UpgradeTransaction) error {
				return tx.CreateTable(ctx, posts)
			})), nil)
			state, err := runner.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, migrate.Pending, state)

			result, err := runner.Run(ctx, "app")
			require.NoError(t, err)
			assert.Equal(t, 2, result.From)
			assert.Equal(t, []string{"posts-fixed"}, result.Applied)
			assert.Equal(t, map[string]int{"users": 1, "seed": 1, "posts": 1, "posts-fixed": 1}, calls)
			assert.True(t, tableExists(t, ctx, a, "posts"))
		})
	}
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	a := memory.New(nil)
	_, err := migrate.NewRunner(a, migrate.NewManifest(migrate.Step{Name: "empty"}), nil).Run(ctx, "app")
	assert.ErrorContains(t, err, "has no apply function")

	manifest := migrate.NewManifest().CreateTable(users).CreateTable(posts)
	_, err = migrate.NewRunner(a, manifest, nil).Run(ctx, "app")
	require.NoError(t, err)

	// Downgrades are refused.
	_, err = migrate.NewRunner(a, migrate.NewManifest().CreateTable(users), nil).Run(ctx, "app")
	assert.True(t, errors.Is(err, core.ErrSchemaMismatch), "got %v", err)
}

func TestErrorMessage(t *testing.T) {
	err := &migrate.Error{Step: 3, Name: "add index", Applied: 3, Err: errors.New("disk full")}
	assert.Equal(t, "migration step 3 (add index) failed, database remains at version 3: disk full", err.Error())
	assert.Equal(t, "pending", migrate.Pending.String())
	assert.Equal(t, "current", migrate.Current.String())
}
