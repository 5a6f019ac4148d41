package adaptertest

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/cursor"
	"github.com/rzpsarthak13/strata/internal/query"
)

// Opener returns a fresh, empty adapter. It registers its own cleanup.
type Opener func(t *testing.T) core.Adapter

// Run runs the conformance suite.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		Name string
		Test func(t *testing.T, ctx context.Context, a core.Adapter)
	}{
		{"Migrate", testMigrate},
		{"RoundTrip", testRoundTrip},
		{"LongText", testLongText},
		{"UniqueViolation", testUniqueViolation},
		{"InsertManyAtomic", testInsertManyAtomic},
		{"ReadYourWrites", testReadYourWrites},
		{"Rollback", testRollback},
		{"Ordering", testOrdering},
		{"PaginationLaw", testPaginationLaw},
		{"WhereMatchesPredicate", testWhereMatchesPredicate},
		{"Update", testUpdate},
		{"Delete", testDelete},
		{"Cursor", testCursor},
		{"TransactionErrors", testTransactionErrors},
		{"Upgrade", testUpgrade},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			var (
				ctx = context.Background()
				a   = open(t)
			)
			require.NoError(t, Migrate(ctx, a))
			tt.Test(t, ctx, a)
		})
	}
}

func withTx(t *testing.T, ctx context.Context, a core.Adapter, mode core.TxMode, fn func(tx core.Transaction)) {
	t.Helper()

	tx, err := a.OpenTransaction(ctx, []string{Projects.TableName, Tasks.TableName}, mode)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit(ctx))
}

func table(t *testing.T, ctx context.Context, tx core.Transaction, s *core.Schema) core.Table {
	t.Helper()

	h, err := tx.Table(ctx, s.TableName)
	require.NoError(t, err)
	return h
}

func collect(t *testing.T, seq iter.Seq2[core.Row, error]) []core.Row {
	t.Helper()

	rows, err := cursor.Collect(seq)
	require.NoError(t, err)
	return rows
}

func keys(rows []core.Row, pk string) []interface{} {
	out := make([]interface{}, len(rows))
	for i, r := range rows {
		out[i] = r[pk]
	}
	return out
}

// seed inserts projects and tasks and returns them.
func seed(t *testing.T, ctx context.Context, a core.Adapter, projects, tasks int) ([]core.Row, []core.Row) {
	t.Helper()

	var (
		gen        = NewDataGen(42)
		p, k       []core.Row
		projectIDs []string
	)
	for i := 0; i < projects; i++ {
		row := gen.Project()
		p = append(p, row)
		projectIDs = append(projectIDs, row["id"].(string))
	}
	for i := 0; i < tasks; i++ {
		k = append(k, gen.Task(projectIDs...))
	}

	withTx(t, ctx, a, core.ReadWrite, func(tx core.Transaction) {
		var err error
		p, err = table(t, ctx, tx, Projects).InsertMany(ctx, p)
		require.NoError(t, err)
		k, err = table(t, ctx, tx, Tasks).InsertMany(ctx, k)
		require.NoError(t, err)
	})
	return p, k
}

func selectAll(t *testing.T, ctx context.Context, a core.Adapter, s *core.Schema, plan core.Plan) []core.Row {
	t.Helper()

	var rows []core.Row
	withTx(t, ctx, a, core.ReadOnly, func(tx core.Transaction) {
		rows = collect(t, table(t, ctx, tx, s).Select(ctx, plan))
	})
	return rows
}

func testMigrate(t *testing.T, ctx context.Context, a core.Adapter) {
	applied, err := a.AppliedVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	up, err := a.OpenDatabase(ctx, "conformance", 1)
	require.NoError(t, err)
	assert.Nil(t, up)

	up, err = a.OpenDatabase(ctx, "conformance", 2)
	require.NoError(t, err)
	require.NotNil(t, up)
	assert.Equal(t, 1, up.OldVersion())
	require.NoError(t, up.Rollback(ctx))

	applied, err = a.AppliedVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	_, err = a.OpenDatabase(ctx, "conformance", 0)
	assert.True(t, errors.Is(err, core.ErrSchemaMismatch))

	withTx(t, ctx, a, core.ReadOnly, func(tx core.Transaction) {
		h := table(t, ctx, tx, Tasks)
		assert.True(t, Tasks.Equal(h.Schema()), "persisted schema %+v", h.Schema())
	})
}

func testRoundTrip(t *testing.T, ctx context.Context, a core.Adapter) {
	projects, tasks := seed(t, ctx, a, 3, 30)

	for _, want := range tasks {
		rows := selectAll(t, ctx, a, Tasks, core.Plan{Where: core.Cond("id", core.OpEquals, want["id"])})
		require.Len(t, rows, 1)
		assert.Equal(t, want, rows[0])
	}
	for _, want := range projects {
		rows := selectAll(t, ctx, a, Projects, core.Plan{Where: core.Cond("id", core.OpEquals, want["id"])}.WithLimit(1))
		require.Len(t, rows, 1)
		assert.Equal(t, want, rows[0])
	}
}

// testLongText stores text longer than any index key limit in a column
// without an index.
func testLongText(t *testing.T, ctx context.Context, a core.Adapter) {
	_, tasks := seed(t, ctx, a, 1, 1)
	title := strings.Repeat("long text ", 1000)

	withTx(t, ctx, a, core.ReadWrite, func(tx core.Transaction) {
		updated, err := table(t, ctx, tx, Tasks).Update(ctx,
			core.Plan{Where: core.Cond("id", core.OpEquals, tasks[0]["id"])},
			core.Row{"title": title})
		require.NoError(t, err)
		require.Len(t, updated, 1)
	})

	rows := selectAll(t, ctx, a, Tasks, core.Plan{Where: core.Cond("title", core.OpContains, "text long")})
	require.Len(t, rows, 1)
	assert.Equal(t, title, rows[0]["title"])
}

func testUniqueViolation(t *testing.T, ctx context.Context, a core.Adapter) {
	projects, _ := seed(t, ctx, a, 2, 0)

	withTx(t, ctx, a, core.ReadWrite, func(tx core.Transaction) {
		h := table(t, ctx, tx, Projects)

		dup := NewDataGen(7).Project()
		dup["id"] = projects[0]["id"]
		_, err := h.Insert(ctx, dup)
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrUniqueViolation), "got %v", err)

		var coreErr *core.Error
		require.True(t, errors.As(err, &coreErr))
		assert.Equal(t, "projects", coreErr.Table)
		assert.Equal(t, "id", coreErr.Column)

		dup = NewDataGen(8).Project()
		dup["id"] = "fresh"
		dup["name"] = projects[1]["name"]
		_, err = h.Insert(ctx, dup)
		require.True(t, errors.As(err, &coreErr), "got %v", err)
		assert.Equal(t, core.ErrUniqueViolation.Code, coreErr.Code)
		assert.Equal(t, "name", coreErr.Column)

		_, err = h.Update(ctx, core.Plan{Where: core.Cond("id", core.OpEquals, projects[0]["id"])},
			core.Row{"name": projects[1]["name"]})
		assert.True(t, errors.Is(err, core.ErrUniqueViolation), "got %v", err)
	})
}

func testInsertManyAtomic(t *testing.T, ctx context.Context, a core.Adapter) {
	projects, _ := seed(t, ctx, a, 1, 0)

	withTx(t, ctx, a, core.ReadWrite, func(tx core.Transaction) {
		h := table(t, ctx, tx, Projects)
		gen := NewDataGen(9)

		fresh := gen.Project()
		fresh["id"] = "batch-1"
		dup := gen.Project()
		dup["id"] = projects[0]["id"]

		_, err := h.InsertMany(ctx, []core.Row{fresh, dup})
		require.Error(t, err)

		rows := collect(t, h.Select(ctx, core.Plan{}))
		assert.Equal(t, []interface{}{projects[0]["id"]}, keys(rows, "id"))
	})
}

func testReadYourWrites(t *testing.T, ctx context.Context, a core.Adapter) {
	projects, _ := seed(t, ctx, a, 2, 0)

	withTx(t, ctx, a, core.ReadWrite, func(tx core.Transaction) {
		h := table(t, ctx, tx, Projects)

		row := NewDataGen(10).Project()
		row["id"] = "p0000"
		_, err := h.Insert(ctx, row)
		require.NoError(t, err)

		_, err = h.Update(ctx, core.Plan{Where: core.Cond("id", core.OpEquals, projects[1]["id"])}, core.Row{"active": true})
		require.NoError(t, err)
		require.NoError(t, h.Delete(ctx, core.Plan{Where: core.Cond("id", core.OpEquals, projects[0]["id"])}))

		rows := collect(t, h.Select(ctx, core.Plan{OrderBy: &core.OrderBy{Column: "id"}}))
		assert.Equal(t, []interface{}{"p0000", projects[1]["id"]}, keys(rows, "id"))
		assert.Equal(t, true, rows[1]["active"])
	})
}

func testRollback(t *testing.T, ctx context.Context, a core.Adapter) {
	projects, _ := seed(t, ctx, a, 2, 0)

	tx, err := a.OpenTransaction(ctx, []string{Projects.TableName}, core.ReadWrite)
	require.NoError(t, err)
	h := table(t, ctx, tx, Projects)
	require.NoError(t, h.DeleteAll(ctx))
	require.NoError(t, tx.Rollback(ctx))

	rows := selectAll(t, ctx, a, Projects, core.Plan{})
	assert.Equal(t, keys(projects, "id"), keys(rows, "id"))
}

func testOrdering(t *testing.T, ctx context.Context, a core.Adapter) {
	_, tasks := seed(t, ctx, a, 3, 40)

	caps := a.Capabilities()
	orders := []*core.OrderBy{
		nil,
		{Column: "id", Direction: core.Desc},
		{Column: "projectId"},
		{Column: "projectId", Direction: core.Desc},
	}
	if caps.NativeOrdering || caps.MaterializeOrdering {
		orders = append(orders,
			&core.OrderBy{Column: "priority"},
			&core.OrderBy{Column: "priority", Direction: core.Desc},
			&core.OrderBy{Column: "due", Direction: core.Desc},
			&core.OrderBy{Column: "estimate"},
			&core.OrderBy{Column: "tag"},
			&core.OrderBy{Column: "title"},
		)
	} else {
		withTx(t, ctx, a, core.ReadOnly, func(tx core.Transaction) {
			_, err := cursor.Collect(table(t, ctx, tx, Tasks).Select(ctx, core.Plan{OrderBy: &core.OrderBy{Column: "priority"}}))
			assert.True(t, errors.Is(err, core.ErrUnorderableColumn))
		})
	}

	for _, order := range orders {
		expected := append([]core.Row(nil), tasks...)
		query.SortRows(expected, Tasks, order)

		rows := selectAll(t, ctx, a, Tasks, core.Plan{OrderBy: order})
		assert.Equal(t, keys(expected, "id"), keys(rows, "id"), "order %+v", order)
	}

	withTx(t, ctx, a, core.ReadOnly, func(tx core.Transaction) {
		_, err := cursor.Collect(table(t, ctx, tx, Tasks).Select(ctx, core.Plan{OrderBy: &core.OrderBy{Column: "meta"}}))
		assert.True(t, errors.Is(err, core.ErrUnorderableColumn), "got %v", err)
	})
}

func testPaginationLaw(t *testing.T, ctx context.Context, a core.Adapter) {
	seed(t, ctx, a, 4, 25)

	var (
		where = core.Cond("projectId", core.OpNotEquals, "p0001")
		order = &core.OrderBy{Column: "projectId", Direction: core.Desc}
		full  = selectAll(t, ctx, a, Tasks, core.Plan{Where: where, OrderBy: order})
		n     = len(full)
	)
	require.NotZero(t, n)

	for _, limit := range []int{1, 4, 7} {
		var union []core.Row
		for offset := 0; offset <= n; offset++ {
			page := selectAll(t, ctx, a, Tasks, core.Plan{Where: where, OrderBy: order}.WithLimit(limit).WithOffset(offset))
			assert.Len(t, page, max(0, min(limit, n-offset)))
			if offset%limit == 0 {
				union = append(union, page...)
			}
		}
		assert.Equal(t, keys(full, "id"), keys(union, "id"))
	}

	page := selectAll(t, ctx, a, Tasks, core.Plan{Where: where, OrderBy: order}.WithOffset(n-2))
	assert.Equal(t, keys(full[n-2:], "id"), keys(page, "id"))
	assert.Empty(t, selectAll(t, ctx, a, Tasks, core.Plan{}.WithLimit(0)))
}

// testWhereMatchesPredicate checks that an engine's filtering agrees with
// the in-memory predicate for conditions of every operator.
func testWhereMatchesPredicate(t *testing.T, ctx context.Context, a core.Adapter) {
	projects, tasks := seed(t, ctx, a, 3, 40)

	var (
		p1, p2 = projects[0]["id"], projects[1]["id"]
		due    = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	)

	wheres := []*core.Where{
		core.Cond("projectId", core.OpEquals, p1),
		core.Cond("projectId", core.OpNotEquals, p1),
		core.Cond("priority", core.OpLt, 3),
		core.Cond("priority", core.OpLte, 3),
		core.Cond("priority", core.OpGt, 3),
		core.Cond("priority", core.OpGte, 3),
		core.Cond("priority", core.OpNotEquals, 3),
		core.Cond("due", core.OpLt, due),
		core.Cond("estimate", core.OpGte, 2*time.Hour),
		core.Cond("start", core.OpLt, "12:00:00"),
		core.Cond("priority", core.OpIn, []int{1, 5}),
		core.Cond("priority", core.OpNotIn, []int{1, 5}),
		core.Cond("priority", core.OpIn, []int{}),
		core.Cond("priority", core.OpNotIn, []int{}),
		core.Cond("title", core.OpContains, "a"),
		core.Cond("title", core.OpNotContains, "e"),
		core.Cond("title", core.OpContains, "A"),
		core.Cond("tag", core.OpIsNull, nil),
		core.Cond("meta", core.OpIsNotNull, nil),
		core.Cond("priority", core.OpEquals, nil),
		core.And(),
		core.Or(),
		core.And(
			core.Cond("projectId", core.OpIn, []interface{}{p1, p2}),
			core.Or(
				core.Cond("priority", core.OpGte, 4),
				core.And(
					core.Cond("due", core.OpIsNotNull, nil),
					core.Cond("title", core.OpNotContains, "o"),
				),
			),
		),
		core.Or(
			core.And(core.Cond("priority", core.OpIsNull, nil), core.Cond("projectId", core.OpEquals, p2)),
			core.Cond("id", core.OpLte, tasks[3]["id"]),
		),
	}

	for _, where := range wheres {
		pred, err := query.Compile(where, Tasks)
		require.NoError(t, err)

		var expected []interface{}
		for _, row := range tasks {
			if pred(row) {
				expected = append(expected, row["id"])
			}
		}

		rows := selectAll(t, ctx, a, Tasks, core.Plan{Where: where})
		if expected == nil {
			expected = []interface{}{}
		}
		assert.Equal(t, expected, keys(rows, "id"), "where %s", where)
	}

	withTx(t, ctx, a, core.ReadOnly, func(tx core.Transaction) {
		_, err := cursor.Collect(table(t, ctx, tx, Tasks).Select(ctx, core.Plan{Where: core.Cond("priority", core.OpContains, "1")}))
		assert.True(t, errors.Is(err, core.ErrUnsupportedOperator), "got %v", err)
	})
}

func testUpdate(t *testing.T, ctx context.Context, a core.Adapter) {
	_, tasks := seed(t, ctx, a, 2, 12)

	withTx(t, ctx, a, core.ReadWrite, func(tx core.Transaction) {
		h := table(t, ctx, tx, Tasks)

		plan := core.Plan{OrderBy: &core.OrderBy{Column: "id", Direction: core.Desc}}.WithLimit(3).WithOffset(1)
		updated, err := h.Update(ctx, plan, core.Row{"title": "renamed", "priority": 9})
		require.NoError(t, err)

		want := []interface{}{tasks[10]["id"], tasks[9]["id"], tasks[8]["id"]}
		assert.Equal(t, want, keys(updated, "id"))
		for _, row := range updated {
			assert.Equal(t, "renamed", row["title"])
			assert.Equal(t, int64(9), row["priority"])
		}

		rows := collect(t, h.Select(ctx, core.Plan{Where: core.Cond("title", core.OpEquals, "renamed")}))
		assert.ElementsMatch(t, want, keys(rows, "id"))

		_, err = h.Update(ctx, core.Plan{}, core.Row{"id": 1000})
		assert.True(t, errors.Is(err, core.ErrPrimaryKeyImmutable))

		_, err = h.Update(ctx, core.Plan{Where: core.Cond("id", core.OpEquals, -1)}, core.Row{"id": 1000})
		assert.True(t, errors.Is(err, core.ErrPrimaryKeyImmutable))

		_, err = h.Update(ctx, core.Plan{}, core.Row{"title": nil})
		assert.True(t, errors.Is(err, core.ErrNotNullViolation))

		// Moving rows along the index they are selected by updates each once.
		moved, err := h.Update(ctx, core.Plan{OrderBy: &core.OrderBy{Column: "projectId"}}, core.Row{"projectId": "zzz"})
		require.NoError(t, err)
		assert.Len(t, moved, len(tasks))

		none, err := h.Update(ctx, core.Plan{Where: core.Cond("id", core.OpEquals, -1)}, core.Row{"title": "x"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func testDelete(t *testing.T, ctx context.Context, a core.Adapter) {
	_, tasks := seed(t, ctx, a, 2, 10)

	withTx(t, ctx, a, core.ReadWrite, func(tx core.Transaction) {
		h := table(t, ctx, tx, Tasks)

		require.NoError(t, h.Delete(ctx, core.Plan{OrderBy: &core.OrderBy{Column: "id"}}.WithLimit(2)))
		rows := collect(t, h.Select(ctx, core.Plan{}))
		assert.Equal(t, keys(tasks[2:], "id"), keys(rows, "id"))

		require.NoError(t, h.Delete(ctx, core.Plan{Where: core.Cond("id", core.OpEquals, tasks[5]["id"])}))
		rows = collect(t, h.Select(ctx, core.Plan{}))
		assert.Len(t, rows, 7)
	})

	for i := 0; i < 2; i++ {
		withTx(t, ctx, a, core.ReadWrite, func(tx core.Transaction) {
			require.NoError(t, table(t, ctx, tx, Tasks).DeleteAll(ctx))
		})
		assert.Empty(t, selectAll(t, ctx, a, Tasks, core.Plan{}))
	}
}

func testCursor(t *testing.T, ctx context.Context, a core.Adapter) {
	_, tasks := seed(t, ctx, a, 3, 9)

	withTx(t, ctx, a, core.ReadWrite, func(tx core.Transaction) {
		h := table(t, ctx, tx, Tasks)

		c, err := h.OpenCursor(ctx, "projectId", core.Desc)
		require.NoError(t, err)

		expected := append([]core.Row(nil), tasks...)
		query.SortRows(expected, Tasks, &core.OrderBy{Column: "projectId", Direction: core.Desc})

		var seen []interface{}
		for row := c.Value(); row != nil; row = c.Value() {
			seen = append(seen, row["id"])
			if len(seen) == 2 {
				updated, err := c.Update(ctx, core.Row{"title": "via cursor"})
				require.NoError(t, err)
				assert.Equal(t, "via cursor", updated["title"])
			}
			if len(seen) == 3 {
				require.NoError(t, c.Delete(ctx))
			}
			require.NoError(t, c.Next(ctx))
		}
		require.NoError(t, c.Close())
		assert.Equal(t, keys(expected, "id"), seen)

		rows := collect(t, h.Select(ctx, core.Plan{Where: core.Cond("title", core.OpEquals, "via cursor")}))
		assert.Equal(t, []interface{}{expected[1]["id"]}, keys(rows, "id"))

		rows = collect(t, h.Select(ctx, core.Plan{Where: core.Cond("id", core.OpEquals, expected[2]["id"])}))
		assert.Empty(t, rows)

		_, err = h.OpenCursor(ctx, "title", core.Asc)
		assert.True(t, errors.Is(err, core.ErrIndexNotFound))
	})
}

func testTransactionErrors(t *testing.T, ctx context.Context, a core.Adapter) {
	tx, err := a.OpenTransaction(ctx, []string{Projects.TableName}, core.ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, core.ReadOnly, tx.Mode())

	h := table(t, ctx, tx, Projects)
	_, err = h.Insert(ctx, NewDataGen(1).Project())
	assert.True(t, errors.Is(err, core.ErrReadOnly), "got %v", err)

	_, err = tx.Table(ctx, Tasks.TableName)
	assert.True(t, errors.Is(err, core.ErrTableNotInScope))

	_, err = tx.Table(ctx, core.MigrationsTable)
	assert.True(t, errors.Is(err, core.ErrReservedTable))

	require.NoError(t, tx.Commit(ctx))
	assert.True(t, errors.Is(tx.Commit(ctx), core.ErrTransactionClosed))
	assert.True(t, errors.Is(tx.Rollback(ctx), core.ErrTransactionClosed))
	_, err = tx.Table(ctx, Projects.TableName)
	assert.True(t, errors.Is(err, core.ErrTransactionClosed))
	_, err = cursor.Collect(h.Select(ctx, core.Plan{}))
	assert.True(t, errors.Is(err, core.ErrTransactionClosed), "got %v", err)

	_, err = a.OpenTransaction(ctx, []string{"missing"}, core.ReadOnly)
	assert.True(t, errors.Is(err, core.ErrTableNotFound), "got %v", err)

	_, err = a.OpenTransaction(ctx, []string{core.MigrationsTable}, core.ReadOnly)
	assert.True(t, errors.Is(err, core.ErrReservedTable))
}

func testUpgrade(t *testing.T, ctx context.Context, a core.Adapter) {
	projects, _ := seed(t, ctx, a, 3, 0)

	up, err := a.OpenDatabase(ctx, "conformance", 2)
	require.NoError(t, err)
	require.NotNil(t, up)

	assert.True(t, errors.Is(up.CreateTable(ctx, Projects), core.ErrTableExists))
	assert.True(t, errors.Is(up.DropTable(ctx, "missing"), core.ErrTableNotFound))
	assert.True(t, errors.Is(up.AddColumn(ctx, "projects", core.Column{Name: "code", Type: core.TypeText}), core.ErrInvalidColumn))

	require.NoError(t, up.AddColumn(ctx, "projects", core.Column{Name: "code", Type: core.TypeText, Nullable: true}))
	require.NoError(t, up.CreateIndex(ctx, "projects", "code", false))
	require.NoError(t, up.DropTable(ctx, "tasks"))

	h, err := up.Table(ctx, "projects")
	require.NoError(t, err)
	_, err = h.Update(ctx, core.Plan{}, core.Row{"code": "same"})
	require.NoError(t, err)
	assert.True(t, errors.Is(up.CreateIndex(ctx, "projects", "code", true), core.ErrUniqueViolation))

	require.NoError(t, up.SetVersion(ctx, 2))
	require.NoError(t, up.Commit(ctx))

	applied, err := a.AppliedVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	_, err = a.OpenTransaction(ctx, []string{"tasks"}, core.ReadOnly)
	assert.True(t, errors.Is(err, core.ErrTableNotFound))

	tx, err := a.OpenTransaction(ctx, []string{"projects"}, core.ReadOnly)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	h, err = tx.Table(ctx, "projects")
	require.NoError(t, err)
	code, ok := h.Schema().Column("code")
	require.True(t, ok)
	assert.True(t, code.Indexed)
	assert.True(t, code.Nullable)

	rows := collect(t, h.Select(ctx, core.Plan{OrderBy: &core.OrderBy{Column: "code"}}))
	assert.Equal(t, keys(projects, "id"), keys(rows, "id"))
	for _, row := range rows {
		assert.Equal(t, "same", row["code"])
	}
}
