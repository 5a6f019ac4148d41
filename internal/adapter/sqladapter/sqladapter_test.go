package sqladapter

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rzpsarthak13/strata/internal/adapter"
	"github.com/rzpsarthak13/strata/internal/adapter/adaptertest"
	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/database"
	"github.com/rzpsarthak13/strata/internal/query"
	"github.com/rzpsarthak13/strata/internal/schema"
)

func TestConformance_SQLite(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T) core.Adapter {
		a, err := adapter.Create(context.Background(), adapter.Config{
			Type:   "sqlite",
			Logger: zaptest.NewLogger(t),
			SQLite: database.SQLiteConfig{Path: ":memory:"},
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close() })
		return a
	})
}

func TestConformance_WASM(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T) core.Adapter {
		a, err := adapter.Create(context.Background(), adapter.Config{
			Type:   "wasm",
			Logger: zaptest.NewLogger(t),
			SQLite: database.SQLiteConfig{Path: ":memory:", BusyTimeout: time.Second},
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close() })
		return a
	})
}

// TestConformance_MySQL runs against a real server, e.g.
// STRATA_TEST_MYSQL=root:secret@tcp(localhost:3306)/strata. Every subtest
// starts from an empty database.
func TestConformance_MySQL(t *testing.T) {
	dsn := os.Getenv("STRATA_TEST_MYSQL")
	if dsn == "" {
		t.Skip("STRATA_TEST_MYSQL is not set")
	}
	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	host, portText, err := net.SplitHostPort(parsed.Addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	config := database.MySQLConfig{
		Host:              host,
		Port:              port,
		Database:          parsed.DBName,
		Username:          parsed.User,
		Password:          parsed.Passwd,
		MaxOpenConns:      4,
		ConnectionTimeout: 5 * time.Second,
	}

	adaptertest.Run(t, func(t *testing.T) core.Adapter {
		ctx := context.Background()
		db, err := database.NewMySQLDatabase(ctx, config, zaptest.NewLogger(t))
		require.NoError(t, err)
		for _, name := range []string{"projects", "tasks", core.TablesTable, core.MigrationsTable} {
			_, err := db.Exec(ctx, "DROP TABLE IF EXISTS `"+name+"`")
			require.NoError(t, err)
		}

		a, err := New(db, "mysql", zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close() })
		return a
	})
}

func TestFactories(t *testing.T) {
	for _, kind := range []string{"sqlite", "wasm", "mysql"} {
		assert.True(t, adapter.IsTypeRegistered(kind), kind)
	}

	_, err := adapter.Create(context.Background(), adapter.Config{Type: "sqlite"})
	assert.ErrorContains(t, err, "sqlite path is required")

	_, err = adapter.Create(context.Background(), adapter.Config{
		Type:  "mysql",
		MySQL: database.MySQLConfig{Host: "localhost", Port: 3306},
	})
	assert.ErrorContains(t, err, "mysql database is required")

	a, err := adapter.Create(context.Background(), adapter.Config{
		Type:   "wasm",
		SQLite: database.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	caps := a.Capabilities()
	assert.Equal(t, "wasm", caps.Name)
	assert.True(t, caps.NativeOrdering)
	assert.False(t, caps.ConcurrentTransactions)
	require.NoError(t, a.Close())
}

// Schemas, rows and the applied version survive reopening the file.
func TestReopen(t *testing.T) {
	ctx := context.Background()
	config := adapter.Config{
		Type:   "sqlite",
		SQLite: database.SQLiteConfig{Path: filepath.Join(t.TempDir(), "strata.db")},
	}

	first, err := adapter.Create(ctx, config)
	require.NoError(t, err)
	require.NoError(t, adaptertest.Migrate(ctx, first))

	tx, err := first.OpenTransaction(ctx, []string{adaptertest.Projects.TableName}, core.ReadWrite)
	require.NoError(t, err)
	h, err := tx.Table(ctx, adaptertest.Projects.TableName)
	require.NoError(t, err)
	project, err := h.Insert(ctx, adaptertest.NewDataGen(3).Project())
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, first.Close())

	second, err := adapter.Create(ctx, config)
	require.NoError(t, err)
	defer second.Close()

	upgrade, err := second.OpenDatabase(ctx, adaptertest.Database, adaptertest.Version)
	require.NoError(t, err)
	assert.Nil(t, upgrade)

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
	assert.Equal(t, project, rows[0])
}

func TestDialectDDL(t *testing.T) {
	s := schema.MustDefineTable("notes", schema.Columns{
		"id":    schema.Integer().PrimaryKey(),
		"title": schema.Text().Unique(),
		"body":  schema.Text().Nullable(),
		"tag":   schema.Text().Indexed(),
	})

	assert.Equal(t,
		`CREATE TABLE "notes" ("id" INTEGER PRIMARY KEY, "body" TEXT, "tag" TEXT NOT NULL, "title" TEXT NOT NULL)`,
		sqliteDialect.createTable(s))
	assert.ElementsMatch(t, []string{
		`CREATE INDEX "ix_notes_tag" ON "notes" ("tag")`,
		`CREATE UNIQUE INDEX "uq_notes_title" ON "notes" ("title")`,
	}, sqliteDialect.indexStatements(s))

	assert.Equal(t,
		"CREATE TABLE `notes` (`id` BIGINT PRIMARY KEY, "+
			"`body` LONGTEXT CHARACTER SET utf8mb4 COLLATE utf8mb4_bin, "+
			"`tag` VARCHAR(768) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL, "+
			"`title` VARCHAR(768) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL)",
		mysqlDialect.createTable(s))
	assert.Equal(t,
		"ALTER TABLE `notes` ADD COLUMN `due` CHAR(10) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin",
		mysqlDialect.addColumn("notes", core.Column{Name: "due", Type: core.TypeDate, Nullable: true}))
}

func TestDialectTextColumns(t *testing.T) {
	body := core.Column{Name: "body", Type: core.TypeText, Nullable: true}
	indexed := body
	indexed.Indexed = true

	assert.Equal(t, "LONGTEXT CHARACTER SET utf8mb4 COLLATE utf8mb4_bin", mysqlDialect.columnType(body))
	assert.Equal(t, "VARCHAR(768) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin", mysqlDialect.columnType(indexed))
	assert.Equal(t, "TEXT", sqliteDialect.columnType(indexed))

	assert.Equal(t,
		"ALTER TABLE `notes` MODIFY COLUMN `body` VARCHAR(768) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin",
		mysqlDialect.narrowColumn("notes", body, indexed))
	assert.Empty(t, mysqlDialect.narrowColumn("notes", indexed, indexed))
	assert.Empty(t, sqliteDialect.narrowColumn("notes", body, indexed))
}

func TestPredicate(t *testing.T) {
	s := schema.MustDefineTable("notes", schema.Columns{
		"id":    schema.Integer().PrimaryKey(),
		"title": schema.Text(),
		"done":  schema.Boolean(),
	})

	tests := []struct {
		name  string
		where *core.Where
		sql   string
		args  []interface{}
	}{
		{"nil", nil, "1=1", nil},
		{"equals", core.Cond("title", core.OpEquals, "a"), `"title" = ?`, []interface{}{"a"}},
		{"null", core.Cond("title", core.OpEquals, nil), `"title" IS NULL`, nil},
		{"boolean", core.Cond("done", core.OpEquals, true), `"done" = ?`, []interface{}{int64(1)}},
		{"contains", core.Cond("title", core.OpContains, "x"), `INSTR("title", ?) > 0`, []interface{}{"x"}},
		{"empty in", core.Cond("id", core.OpIn, []interface{}{}), "(1=0)", nil},
		{"empty notIn", core.Cond("id", core.OpNotIn, []interface{}{}), "(1=1)", nil},
		{
			"group",
			core.Or(core.Cond("id", core.OpLt, 2), core.Cond("id", core.OpGte, 9)),
			`("id" < ? OR "id" >= ?)`,
			[]interface{}{int64(2), int64(9)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bound, err := query.Bind(tt.where, s)
			require.NoError(t, err)
			pred, err := sqliteDialect.predicate(bound, s)
			require.NoError(t, err)
			sql, args, err := pred.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			if len(tt.args) == 0 {
				assert.Empty(t, args)
				return
			}
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestTranslate(t *testing.T) {
	s := schema.MustDefineTable("notes", schema.Columns{
		"id":    schema.Integer().PrimaryKey(),
		"title": schema.Text().Unique(),
	})
	engine := &core.Error{Kind: core.ErrEngineUnique.Kind, Code: core.ErrEngineUnique.Code, Column: "uq_notes_title", Err: errors.New("duplicate")}

	err := translate(engine, s, func(column string) interface{} { return "dup-" + column })
	var e *core.Error
	require.True(t, errors.As(err, &e))
	assert.True(t, errors.Is(err, core.ErrUniqueViolation))
	assert.Equal(t, "notes", e.Table)
	assert.Equal(t, "title", e.Column)
	assert.Equal(t, "dup-title", e.Value)

	assert.Equal(t, "id", constraintColumn(s, "PRIMARY"))
	assert.Equal(t, "id", constraintColumn(s, ""))
	assert.Equal(t, "title", constraintColumn(s, "title"))
}
