package cursor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/query"
	"github.com/rzpsarthak13/strata/internal/schema"
)

var testDays = schema.MustDefineTable("days", schema.Columns{
	"id":    schema.Integer().PrimaryKey(),
	"label": schema.Text().Indexed(),
	"hours": schema.Integer(),
})

// recordingSource keeps rows in a slice and records every cursor it opens.
type recordingSource struct {
	rows    []core.Row
	cursors []*recordingCursor
	openErr error
}

func newRecordingSource(n int) *recordingSource {
	src := &recordingSource{}
	labels := []string{"c", "a", "b"}
	for i := 1; i <= n; i++ {
		src.rows = append(src.rows, core.Row{
			"id":    int64(i),
			"label": labels[i%len(labels)],
			"hours": int64((i * 7) % 5),
		})
	}
	return src
}

func (s *recordingSource) Schema() *core.Schema { return testDays }

func (s *recordingSource) OpenCursor(ctx context.Context, index string, dir core.Direction) (core.Cursor, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	order := &core.OrderBy{Column: index, Direction: dir}
	rows := make([]core.Row, len(s.rows))
	copy(rows, s.rows)
	query.SortRows(rows, testDays, order)

	c := &recordingCursor{src: s, rows: rows}
	s.cursors = append(s.cursors, c)
	return c, nil
}

type recordingCursor struct {
	src    *recordingSource
	rows   []core.Row
	pos    int
	closed int
}

func (c *recordingCursor) Value() core.Row {
	if c.pos >= len(c.rows) {
		return nil
	}
	return c.rows[c.pos]
}

func (c *recordingCursor) Next(ctx context.Context) error {
	c.pos++
	return nil
}

func (c *recordingCursor) Update(ctx context.Context, patch core.Row) (core.Row, error) {
	updated := schema.Apply(c.rows[c.pos], patch)
	for i, row := range c.src.rows {
		if row["id"] == updated["id"] {
			c.src.rows[i] = updated
		}
	}
	return updated, nil
}

func (c *recordingCursor) Delete(ctx context.Context) error {
	id := c.rows[c.pos]["id"]
	for i, row := range c.src.rows {
		if row["id"] == id {
			c.src.rows = append(c.src.rows[:i], c.src.rows[i+1:]...)
			break
		}
	}
	return nil
}

func (c *recordingCursor) Close() error {
	c.closed++
	return nil
}

func ids(rows []core.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r["id"].(int64)
	}
	return out
}

var materializing = core.Capabilities{Name: "test", MaterializeOrdering: true}

func TestRows_ClosesOnEarlyBreak(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		src = newRecordingSource(5)
	)

	seq := Rows(ctx, func(ctx context.Context) (core.Cursor, error) {
		return src.OpenCursor(ctx, "", core.Asc)
	})
	assert.Empty(t, src.cursors, "the cursor opens lazily")

	var first core.Row
	for row, err := range seq {
		require.NoError(t, err)
		first = row
		break
	}

	assert.Equal(t, int64(1), first["id"])
	require.Len(t, src.cursors, 1)
	assert.Equal(t, 1, src.cursors[0].closed)
}

func TestRows_ClosesOnExhaustion(t *testing.T) {
	t.Parallel()

	src := newRecordingSource(3)

	rows, err := Collect(Select(context.Background(), src, core.Plan{}, materializing))
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, ids(rows))
	require.Len(t, src.cursors, 1)
	assert.Equal(t, 1, src.cursors[0].closed)
}

func TestRows_OpenError(t *testing.T) {
	t.Parallel()

	var (
		src     = newRecordingSource(3)
		boom    = errors.New("boom")
		nothing = 0
	)
	src.openErr = boom

	for _, err := range Select(context.Background(), src, core.Plan{}, materializing) {
		assert.ErrorIs(t, err, boom)
		nothing++
	}
	assert.Equal(t, 1, nothing)
}

func TestRows_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := newRecordingSource(5)

	var seen int
	for _, err := range Select(ctx, src, core.Plan{}, materializing) {
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
			break
		}
		seen++
		cancel()
	}
	assert.Equal(t, 1, seen)
	assert.Equal(t, 1, src.cursors[0].closed)
}

type mockPredicate struct {
	mock.Mock
}

func (m *mockPredicate) Match(row core.Row) bool {
	return m.Called(row["id"]).Bool(0)
}

func TestFilter_OrderOfOperations(t *testing.T) {
	t.Parallel()

	var (
		src  = newRecordingSource(10)
		pred = new(mockPredicate)
	)
	for i := int64(1); i <= 10; i++ {
		pred.On("Match", i).Return(i%2 == 0).Maybe()
	}

	scan := Rows(context.Background(), func(ctx context.Context) (core.Cursor, error) {
		return src.OpenCursor(ctx, "", core.Asc)
	})

	// Offset and limit apply to matches, not to the raw scan.
	rows, err := Collect(Filter(scan, pred.Match, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 6}, ids(rows))

	// The scan stops as soon as the limit is reached.
	pred.AssertNotCalled(t, "Match", int64(7))
	assert.Equal(t, 1, src.cursors[0].closed)
}

func TestSelect_PaginationLaw(t *testing.T) {
	t.Parallel()

	var (
		ctx   = context.Background()
		src   = newRecordingSource(23)
		where = core.Cond("hours", core.OpGte, 1)
	)

	plans := map[string]*core.OrderBy{
		"primary key":    nil,
		"index":          {Column: "label"},
		"index desc":     {Column: "label", Direction: core.Desc},
		"materialized":   {Column: "hours"},
		"materialized d": {Column: "hours", Direction: core.Desc},
	}

	for name, order := range plans {
		t.Run(name, func(t *testing.T) {
			full, err := Collect(Select(ctx, src, core.Plan{Where: where, OrderBy: order}, materializing))
			require.NoError(t, err)
			n := len(full)
			require.NotZero(t, n)

			for _, limit := range []int{1, 3, 5, n} {
				for offset := 0; offset <= n; offset++ {
					page, err := Collect(Select(ctx, src, core.Plan{Where: where, OrderBy: order}.WithLimit(limit).WithOffset(offset), materializing))
					require.NoError(t, err)
					assert.Len(t, page, max(0, min(limit, n-offset)))
				}

				var union []core.Row
				for offset := 0; offset < n; offset += limit {
					page, err := Collect(Select(ctx, src, core.Plan{Where: where, OrderBy: order}.WithLimit(limit).WithOffset(offset), materializing))
					require.NoError(t, err)
					union = append(union, page...)
				}
				assert.Equal(t, ids(full), ids(union))
			}
		})
	}
}

func TestSelect_OrderingPolicy(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		src = newRecordingSource(6)
	)

	rows, err := Collect(Select(ctx, src, core.Plan{OrderBy: &core.OrderBy{Column: "label"}}, materializing))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4, 2, 5, 3, 6}, ids(rows))

	rows, err = Collect(Select(ctx, src, core.Plan{OrderBy: &core.OrderBy{Column: "id", Direction: core.Desc}}, materializing))
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 5, 4, 3, 2, 1}, ids(rows))

	_, err = Collect(Select(ctx, src, core.Plan{OrderBy: &core.OrderBy{Column: "hours"}}, core.Capabilities{}))
	assert.True(t, errors.Is(err, core.ErrUnorderableColumn))

	_, err = Collect(Select(ctx, src, core.Plan{OrderBy: &core.OrderBy{Column: "nope"}}, materializing))
	assert.True(t, errors.Is(err, core.ErrUnknownColumn))

	_, err = Collect(Select(ctx, src, core.Plan{}.WithLimit(-1), materializing))
	assert.True(t, errors.Is(err, core.ErrInvalidPlan))

	_, err = Collect(Select(ctx, src, core.Plan{}.WithOffset(-2), materializing))
	assert.True(t, errors.Is(err, core.ErrInvalidPlan))
}

func TestModify_UpdateAndDelete(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		src = newRecordingSource(6)
	)

	// Moving rows forward along the scanned index must not revisit them.
	updated, err := Modify(ctx, src, core.Plan{OrderBy: &core.OrderBy{Column: "label"}}, materializing,
		func(ctx context.Context, c core.Cursor) (core.Row, error) {
			return c.Update(ctx, core.Row{"label": "z"})
		})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4, 2, 5, 3, 6}, ids(updated))

	updated, err = Modify(ctx, src, core.Plan{OrderBy: &core.OrderBy{Column: "hours", Direction: core.Desc}}.WithLimit(2), materializing,
		func(ctx context.Context, c core.Cursor) (core.Row, error) {
			return c.Update(ctx, core.Row{"label": "top"})
		})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, ids(updated))

	_, err = Modify(ctx, src, core.Plan{Where: core.Cond("label", core.OpEquals, "top")}, materializing,
		func(ctx context.Context, c core.Cursor) (core.Row, error) {
			return nil, c.Delete(ctx)
		})
	require.NoError(t, err)

	remaining, err := Collect(Select(ctx, src, core.Plan{}, materializing))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 5, 6}, ids(remaining))

	for _, c := range src.cursors {
		assert.Equal(t, 1, c.closed)
	}
}
