package strata_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rzpsarthak13/strata/pkg/strata"
)

const configYAML = `
database:
  name: app
  adapter: sqlite
sqlite:
  path: ":memory:"
notify:
  queue_type: memory
  queue_buffer_size: 16
  drain_rate: 1000
  batch_size: 8
tables:
  - name: projects
    columns:
      id: {type: text, primary_key: true}
  - name: tasks
    columns:
      id: {type: text, primary_key: true}
      projectId: {type: text, indexed: true}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestOpenFromConfig(t *testing.T) {
	ctx := context.Background()
	config, err := strata.LoadConfig(writeConfig(t, configYAML))
	require.NoError(t, err)

	db, err := strata.OpenFromConfig(ctx, config, strata.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "app", db.Name())
	assert.Equal(t, 2, db.Version())
	assert.Equal(t, "sqlite", db.Capabilities().Name)

	// The declared schemas are the ones created.
	schemas, err := strata.SchemasFromConfig(config)
	require.NoError(t, err)
	require.Len(t, schemas, 2)
	assert.True(t, schemas[0].Equal(projects))
	assert.True(t, schemas[1].Equal(tasks))

	changes, cancel, err := db.Subscribe(4, "tasks")
	require.NoError(t, err)
	defer cancel()

	tk := table(t, db, tasks)
	_, err = tk.Insert(ctx, strata.Row{"id": "t1", "projectId": "p1"})
	require.NoError(t, err)

	select {
	case change := <-changes:
		assert.Equal(t, "tasks", change.Table)
		assert.Equal(t, strata.ChangeInsert, change.Op)
		assert.Equal(t, []interface{}{"t1"}, change.Keys)
	case <-time.After(2 * time.Second):
		t.Fatal("no change was relayed")
	}
}

func TestOpenFromConfigErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(c *strata.Config)
		want   string
	}{
		{
			name:   "unknown adapter",
			mutate: func(c *strata.Config) { c.Database.Adapter = "oracle" },
			want:   "unsupported adapter type",
		},
		{
			name: "unknown column type",
			mutate: func(c *strata.Config) {
				c.Tables = []strata.TableConfig{{Name: "t", Columns: map[string]strata.ColumnConfig{"id": {Type: "money", PrimaryKey: true}}}}
			},
			want: "unknown column type",
		},
		{
			name: "no primary key",
			mutate: func(c *strata.Config) {
				c.Tables = []strata.TableConfig{{Name: "t", Columns: map[string]strata.ColumnConfig{"id": {Type: "text"}}}}
			},
			want: "MissingPrimaryKey",
		},
		{
			name: "duplicate table",
			mutate: func(c *strata.Config) {
				table := strata.TableConfig{Name: "t", Columns: map[string]strata.ColumnConfig{"id": {Type: "text", PrimaryKey: true}}}
				c.Tables = []strata.TableConfig{table, table}
			},
			want: "declared twice",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			config := strata.DefaultConfig()
			tt.mutate(config)
			_, err := strata.OpenFromConfig(ctx, config)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("STRATA_DATABASE_ADAPTER", "wasm")
	t.Setenv("STRATA_WASM_PATH", ":memory:")

	config, err := strata.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "wasm", config.Database.Adapter)

	db, err := strata.OpenFromConfig(context.Background(), config, strata.WithMigrations(strata.NewManifest().CreateTable(projects)))
	require.NoError(t, err)
	defer db.Close()

	p := table(t, db, projects)
	_, err = p.Insert(context.Background(), strata.Row{"id": "p1"})
	require.NoError(t, err)
	_, err = db.Table(context.Background(), tasks)
	assert.True(t, errors.Is(err, strata.ErrTableNotFound), "got %v", err)
}
