package query

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/schema"
)

var testTasks = schema.MustDefineTable("tasks", schema.Columns{
	"id":        schema.Integer().PrimaryKey(),
	"projectId": schema.Text().Indexed(),
	"name":      schema.Text(),
	"estimate":  schema.Double().Nullable(),
	"done":      schema.Boolean(),
	"due":       schema.Date().Nullable(),
	"meta":      schema.JSON().Nullable(),
})

func testRows() []core.Row {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	return []core.Row{
		{"id": int64(1), "projectId": "p1", "name": "write docs", "estimate": 1.5, "done": false, "due": day(3), "meta": nil},
		{"id": int64(2), "projectId": "p1", "name": "review", "estimate": nil, "done": true, "due": nil, "meta": nil},
		{"id": int64(3), "projectId": "p2", "name": "Write tests", "estimate": 4.0, "done": false, "due": day(1), "meta": nil},
		{"id": int64(4), "projectId": "p3", "name": "deploy", "estimate": 0.5, "done": true, "due": day(2), "meta": nil},
		{"id": int64(5), "projectId": "p2", "name": "release notes", "estimate": 2.0, "done": false, "due": nil, "meta": nil},
	}
}

func matchIDs(t *testing.T, w *core.Where) []int64 {
	t.Helper()

	p, err := Compile(w, testTasks)
	require.NoError(t, err)

	ids := []int64{}
	for _, row := range testRows() {
		if p(row) {
			ids = append(ids, row["id"].(int64))
		}
	}
	return ids
}

func TestCompile_Conditions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		Name     string
		Where    *core.Where
		Expected []int64
	}{
		{"no where", nil, []int64{1, 2, 3, 4, 5}},
		{"equals", core.Cond("projectId", core.OpEquals, "p2"), []int64{3, 5}},
		{"equals int coerced", core.Cond("id", core.OpEquals, 3), []int64{3}},
		{"not equals skips null", core.Cond("estimate", core.OpNotEquals, 1.5), []int64{3, 4, 5}},
		{"lt", core.Cond("estimate", core.OpLt, 2), []int64{1, 4}},
		{"lte", core.Cond("estimate", core.OpLte, 2), []int64{1, 4, 5}},
		{"gt", core.Cond("id", core.OpGt, 3), []int64{4, 5}},
		{"gte date", core.Cond("due", core.OpGte, "2024-01-02"), []int64{1, 4}},
		{"in", core.Cond("projectId", core.OpIn, []string{"p1", "p3"}), []int64{1, 2, 4}},
		{"in drops null", core.Cond("projectId", core.OpIn, []interface{}{nil, "p3"}), []int64{4}},
		{"in empty", core.Cond("projectId", core.OpIn, []string{}), []int64{}},
		{"not in", core.Cond("projectId", core.OpNotIn, []string{"p1"}), []int64{3, 4, 5}},
		{"not in skips null", core.Cond("estimate", core.OpNotIn, []float64{4}), []int64{1, 4, 5}},
		{"not in empty", core.Cond("estimate", core.OpNotIn, []float64{}), []int64{1, 2, 3, 4, 5}},
		{"contains is case sensitive", core.Cond("name", core.OpContains, "rite"), []int64{1, 3}},
		{"contains exact case", core.Cond("name", core.OpContains, "Write"), []int64{3}},
		{"not contains", core.Cond("name", core.OpNotContains, "e"), []int64{}},
		{"is null", core.Cond("due", core.OpIsNull, nil), []int64{2, 5}},
		{"is not null", core.Cond("due", core.OpIsNotNull, "ignored"), []int64{1, 3, 4}},
		{"equals nil", core.Cond("estimate", core.OpEquals, nil), []int64{2}},
		{"not equals nil", core.Cond("estimate", core.OpNotEquals, nil), []int64{1, 3, 4, 5}},
		{"boolean", core.Cond("done", core.OpEquals, true), []int64{2, 4}},
		{"empty and", core.And(), []int64{1, 2, 3, 4, 5}},
		{"empty or", core.Or(), []int64{}},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, aTestCase.Expected, matchIDs(t, aTestCase.Where))
		})
	}
}

func TestCompile_BooleanGroups(t *testing.T) {
	t.Parallel()

	var (
		a = core.Cond("projectId", core.OpIn, []string{"p1", "p2"})
		b = core.Cond("done", core.OpEquals, false)
		c = core.Cond("estimate", core.OpGte, 2)
		d = core.Cond("due", core.OpIsNull, nil)
	)

	intersect := func(x, y []int64) []int64 {
		out := []int64{}
		for _, i := range x {
			for _, j := range y {
				if i == j {
					out = append(out, i)
				}
			}
		}
		return out
	}
	union := func(x, y []int64) []int64 {
		seen := map[int64]bool{}
		for _, i := range append(append([]int64{}, x...), y...) {
			seen[i] = true
		}
		out := []int64{}
		for _, row := range testRows() {
			if id := row["id"].(int64); seen[id] {
				out = append(out, id)
			}
		}
		return out
	}

	assert.Equal(t, intersect(matchIDs(t, a), matchIDs(t, b)), matchIDs(t, a.And(b)))
	assert.Equal(t, union(matchIDs(t, a), matchIDs(t, b)), matchIDs(t, a.Or(b)))

	// (a AND (b OR (c AND d))) nests three levels.
	inner := core.And(c, d)
	middle := core.Or(b, inner)
	outer := core.And(a, middle)

	expectedInner := intersect(matchIDs(t, c), matchIDs(t, d))
	expectedMiddle := union(matchIDs(t, b), expectedInner)
	expectedOuter := intersect(matchIDs(t, a), expectedMiddle)

	assert.Equal(t, expectedInner, matchIDs(t, inner))
	assert.Equal(t, expectedMiddle, matchIDs(t, middle))
	assert.Equal(t, expectedOuter, matchIDs(t, outer))
	assert.Equal(t, []int64{1, 3, 5}, matchIDs(t, outer))

	// ((a OR d) AND NOT-done) OR (c AND a)
	mixed := core.Or(core.And(core.Or(a, d), b), core.And(c, a))
	assert.Equal(t, union(
		intersect(union(matchIDs(t, a), matchIDs(t, d)), matchIDs(t, b)),
		intersect(matchIDs(t, c), matchIDs(t, a)),
	), matchIDs(t, mixed))
}

func TestBind_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		Name  string
		Where *core.Where
		Err   error
	}{
		{"unknown column", core.Cond("color", core.OpEquals, "red"), core.ErrUnknownColumn},
		{"unknown operator", core.Cond("name", core.Operator("like"), "x"), core.ErrUnsupportedOperator},
		{"contains on integer", core.Cond("id", core.OpContains, "1"), core.ErrUnsupportedOperator},
		{"not contains on boolean", core.Cond("done", core.OpNotContains, "t"), core.ErrUnsupportedOperator},
		{"ordering on json", core.Cond("meta", core.OpLt, map[string]int{}), core.ErrUnsupportedOperator},
		{"bad value", core.Cond("id", core.OpEquals, "one"), core.ErrInvalidValue},
		{"in with scalar", core.Cond("id", core.OpIn, 1), core.ErrInvalidValue},
		{"lt with nil", core.Cond("id", core.OpLt, nil), core.ErrInvalidValue},
		{"nested error", core.And(core.Or(core.Cond("nope", core.OpEquals, 1))), core.ErrUnknownColumn},
		{"unknown group", &core.Where{Group: "xor"}, core.ErrInvalidPlan},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			t.Parallel()

			_, err := Bind(aTestCase.Where, testTasks)
			require.Error(t, err)
			assert.True(t, errors.Is(err, aTestCase.Err), "got %v", err)
		})
	}

	_, err := Bind(core.Cond("id", core.OpContains, "1"), testTasks)
	assert.True(t, errors.Is(err, core.ErrType))
}

func TestBind_Normalizes(t *testing.T) {
	t.Parallel()

	bound, err := Bind(core.And(
		core.Cond("id", core.OpIn, []int{1, 2}),
		nil,
		core.Cond("due", core.OpEquals, nil),
	), testTasks)
	require.NoError(t, err)

	require.Len(t, bound.Children, 2)
	assert.Equal(t, []interface{}{int64(1), int64(2)}, bound.Children[0].Value)
	assert.Equal(t, core.OpIsNull, bound.Children[1].Operator)
}

func TestSortRows(t *testing.T) {
	t.Parallel()

	ids := func(rows []core.Row) []int64 {
		out := make([]int64, len(rows))
		for i, r := range rows {
			out[i] = r["id"].(int64)
		}
		return out
	}

	rows := testRows()
	SortRows(rows, testTasks, &core.OrderBy{Column: "estimate"})
	assert.Equal(t, []int64{2, 4, 1, 5, 3}, ids(rows))

	SortRows(rows, testTasks, &core.OrderBy{Column: "estimate", Direction: core.Desc})
	assert.Equal(t, []int64{3, 5, 1, 4, 2}, ids(rows))

	// Ties on projectId break by primary key in the same direction.
	SortRows(rows, testTasks, &core.OrderBy{Column: "projectId", Direction: core.Desc})
	assert.Equal(t, []int64{4, 5, 3, 2, 1}, ids(rows))

	SortRows(rows, testTasks, nil)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(rows))
}

func TestCompare(t *testing.T) {
	t.Parallel()

	var (
		early = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		late  = early.Add(time.Nanosecond)
	)

	assert.Equal(t, 0, Compare(nil, nil))
	assert.Equal(t, -1, Compare(nil, int64(math.MinInt64)))
	assert.Equal(t, 1, Compare("", nil))
	assert.Equal(t, -1, Compare("B", "a"))
	assert.Equal(t, -1, Compare(false, true))
	assert.Equal(t, -1, Compare(early, late))
	assert.Equal(t, 1, Compare(time.Hour, time.Minute))
	assert.Equal(t, 0, Compare(int64(2), 2.0))
	assert.Equal(t, -1, Compare(uuid.UUID{0x01}, uuid.UUID{0x02}))
}

func TestEncodeKey_PreservesOrder(t *testing.T) {
	t.Parallel()

	generators := map[string]func() interface{}{
		"int":      func() interface{} { return gofakeit.Int64() },
		"float":    func() interface{} { return gofakeit.Float64Range(-1e9, 1e9) },
		"string":   func() interface{} { return gofakeit.LetterN(uint(gofakeit.Number(0, 4))) + string(rune(gofakeit.Number(0, 2))) },
		"time":     func() interface{} { return gofakeit.DateRange(time.Unix(-1e10, 0), time.Unix(1e10, 0)).UTC() },
		"duration": func() interface{} { return time.Duration(gofakeit.Int64()) },
		"uuid":     func() interface{} { return uuid.New() },
		"bool":     func() interface{} { return gofakeit.Bool() },
		"nullable": func() interface{} {
			if gofakeit.Bool() {
				return nil
			}
			return gofakeit.Int64()
		},
	}

	for name, gen := range generators {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			for i := 0; i < 500; i++ {
				a, b := gen(), gen()
				ka, err := EncodeKey(a)
				require.NoError(t, err)
				kb, err := EncodeKey(b)
				require.NoError(t, err)

				assert.Equal(t, Compare(a, b), bytes.Compare([]byte(ka), []byte(kb)), "%v vs %v", a, b)
			}
		})
	}
}

func TestEncodeTuple_PrefixOrdering(t *testing.T) {
	t.Parallel()

	k1, err := EncodeTuple("a", int64(9))
	require.NoError(t, err)
	k2, err := EncodeTuple("ab", int64(1))
	require.NoError(t, err)
	k3, err := EncodeTuple("a\x00", int64(1))
	require.NoError(t, err)

	assert.Less(t, k1, k2)
	assert.Less(t, k1, k3)
	assert.Less(t, k3, k2)

	zero, err := EncodeKey(0.0)
	require.NoError(t, err)
	negZero, err := EncodeKey(math.Copysign(0, -1))
	require.NoError(t, err)
	assert.Equal(t, zero, negZero)

	_, err = EncodeKey(struct{}{})
	assert.Error(t, err)
}
