package database

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
)

func TestSQLiteDatabase(t *testing.T) {
	t.Parallel()

	db, err := NewSQLiteDatabase(context.Background(), SQLiteConfig{}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	testEngine(t, db)
}

func TestWASMDatabase(t *testing.T) {
	t.Parallel()

	db, err := NewWASMDatabase(context.Background(), SQLiteConfig{BusyTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	testEngine(t, db)
}

// TestMySQLDatabase runs against a real server, e.g.
// STRATA_TEST_MYSQL=root:secret@localhost:3306/strata.
func TestMySQLDatabase(t *testing.T) {
	dsn := os.Getenv("STRATA_TEST_MYSQL")
	if dsn == "" {
		t.Skip("STRATA_TEST_MYSQL is not set")
	}
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)

	host, portText, err := net.SplitHostPort(cfg.Addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	db, err := NewMySQLDatabase(context.Background(), MySQLConfig{
		Host:              host,
		Port:              port,
		Database:          cfg.DBName,
		Username:          cfg.User,
		Password:          cfg.Passwd,
		MaxOpenConns:      4,
		MaxIdleConns:      2,
		ConnectionTimeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	_, _ = db.Exec(context.Background(), "DROP TABLE IF EXISTS items")
	testEngine(t, db)
}

func testEngine(t *testing.T, db core.Database) {
	ctx := context.Background()

	_, err := db.Exec(ctx, "CREATE TABLE items (id BIGINT PRIMARY KEY, code VARCHAR(32), price DOUBLE)")
	require.NoError(t, err)
	_, err = db.Exec(ctx, "CREATE UNIQUE INDEX uq_items_code ON items (code)")
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, false)
	require.NoError(t, err)
	res, err := tx.Exec(ctx, "INSERT INTO items (id, code, price) VALUES (?, ?, ?), (?, ?, ?)",
		int64(1), "a", 1.5, int64(2), nil, nil)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = tx.Exec(ctx, "INSERT INTO items (id, code) VALUES (?, ?)", int64(3), "a")
	assert.True(t, errors.Is(err, core.ErrEngineUnique), "got %v", err)
	var engineErr *core.Error
	require.True(t, errors.As(err, &engineErr))
	assert.Contains(t, []string{"code", "uq_items_code"}, engineErr.Column)

	_, err = tx.Exec(ctx, "INSERT INTO items (id) VALUES (?)", int64(1))
	assert.True(t, errors.Is(err, core.ErrEngineUnique), "got %v", err)
	require.NoError(t, tx.Commit())

	rows, err := db.Query(ctx, "SELECT id, code, price FROM items ORDER BY id")
	require.NoError(t, err)
	var got [][]interface{}
	for rows.Next() {
		var id, code, price interface{}
		require.NoError(t, rows.Scan(&id, &code, &price))
		got = append(got, []interface{}{id, code, price})
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0][0])
	assert.Nil(t, got[1][1])

	tx, err = db.BeginTx(ctx, false)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "DELETE FROM items")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	rows, err = db.Query(ctx, "SELECT COUNT(*) FROM items")
	require.NoError(t, err)
	require.True(t, rows.Next())
	var count interface{}
	require.NoError(t, rows.Scan(&count))
	assert.EqualValues(t, 2, count)
	require.NoError(t, rows.Close())

	_, err = db.Query(ctx, "SELECT * FROM missing")
	assert.True(t, errors.Is(err, core.ErrEngineUndefinedTable), "got %v", err)
}

func TestTranslateMySQLError(t *testing.T) {
	t.Parallel()

	err := translateMySQLError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'tasks.uq_tasks_code'"})
	var e *core.Error
	require.True(t, errors.As(err, &e))
	assert.True(t, errors.Is(err, core.ErrEngineUnique))
	assert.Equal(t, "tasks", e.Table)
	assert.Equal(t, "uq_tasks_code", e.Column)

	err = translateMySQLError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'PRIMARY'"})
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "PRIMARY", e.Column)

	err = translateMySQLError(&mysql.MySQLError{Number: 1146, Message: "Table 'strata.tasks' doesn't exist"})
	require.True(t, errors.As(err, &e))
	assert.True(t, errors.Is(err, core.ErrEngineUndefinedTable))
	assert.Equal(t, "tasks", e.Table)

	other := errors.New("boom")
	assert.Equal(t, other, translateMySQLError(other))
}

func TestConstraintTarget(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tasks.code", constraintTarget("sqlite3: constraint failed: UNIQUE constraint failed: tasks.code"))
	assert.Equal(t, "t.a", constraintTarget("UNIQUE constraint failed: t.a, t.b"))
	assert.Equal(t, "", constraintTarget("disk I/O error"))
}
