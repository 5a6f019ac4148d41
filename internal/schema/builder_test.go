package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/strata/internal/core"
)

func TestDefineTable(t *testing.T) {
	t.Parallel()

	aSchema, err := DefineTable("tasks", Columns{
		"id":        UUID().PrimaryKey(),
		"projectId": Text().Indexed(),
		"name":      Text(),
		"slug":      Text().Unique(),
		"notes":     Text().Nullable(),
		"meta":      JSON().Nullable(),
	})
	require.NoError(t, err)

	assert.Equal(t, "tasks", aSchema.TableName)
	assert.Equal(t, "id", aSchema.PrimaryKey)
	assert.Equal(t, []string{"id", "meta", "name", "notes", "projectId", "slug"}, aSchema.ColumnNames())

	projectID, ok := aSchema.Column("projectId")
	require.True(t, ok)
	assert.Equal(t, core.Column{TableName: "tasks", Name: "projectId", Type: core.TypeText, Indexed: true}, projectID)

	slug, _ := aSchema.Column("slug")
	assert.True(t, slug.Unique)
	assert.True(t, slug.Indexed)

	var indexed []string
	for _, c := range aSchema.IndexedColumns() {
		indexed = append(indexed, c.Name)
	}
	assert.Equal(t, []string{"projectId", "slug"}, indexed)
	assert.True(t, aSchema.IsIndexed("id"))
	assert.False(t, aSchema.IsIndexed("name"))
}

func TestDefineTable_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		Name    string
		Table   string
		Columns Columns
		Err     error
	}{
		{
			Name:    "missing primary key",
			Table:   "projects",
			Columns: Columns{"name": Text()},
			Err:     core.ErrMissingPrimaryKey,
		},
		{
			Name:    "duplicate primary key",
			Table:   "projects",
			Columns: Columns{"id": Text().PrimaryKey(), "other": Integer().PrimaryKey()},
			Err:     core.ErrDuplicatePrimaryKey,
		},
		{
			Name:    "no columns",
			Table:   "projects",
			Columns: Columns{},
			Err:     core.ErrMissingPrimaryKey,
		},
		{
			Name:    "invalid table name",
			Table:   "drop table;",
			Columns: Columns{"id": Text().PrimaryKey()},
			Err:     core.ErrInvalidName,
		},
		{
			Name:    "reserved table name",
			Table:   "__migrations",
			Columns: Columns{"id": Text().PrimaryKey()},
			Err:     core.ErrInvalidName,
		},
		{
			Name:    "invalid column name",
			Table:   "projects",
			Columns: Columns{"id": Text().PrimaryKey(), "bad name": Text()},
			Err:     core.ErrInvalidName,
		},
		{
			Name:    "nullable primary key",
			Table:   "projects",
			Columns: Columns{"id": Text().PrimaryKey().Nullable()},
			Err:     core.ErrInvalidColumn,
		},
		{
			Name:    "json primary key",
			Table:   "projects",
			Columns: Columns{"id": JSON().PrimaryKey()},
			Err:     core.ErrInvalidColumn,
		},
		{
			Name:    "indexed json column",
			Table:   "projects",
			Columns: Columns{"id": Text().PrimaryKey(), "doc": JSON().Indexed()},
			Err:     core.ErrInvalidColumn,
		},
		{
			Name:    "unknown type",
			Table:   "projects",
			Columns: Columns{"id": Column("blob").PrimaryKey()},
			Err:     core.ErrInvalidColumn,
		},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			t.Parallel()

			_, err := DefineTable(aTestCase.Table, aTestCase.Columns)
			require.Error(t, err)
			assert.True(t, errors.Is(err, aTestCase.Err), "got %v", err)
			assert.True(t, errors.Is(err, core.ErrSchema))
		})
	}
}

func TestColumnBuilder_Immutable(t *testing.T) {
	t.Parallel()

	base := Text()
	key := base.PrimaryKey()

	assert.False(t, base.Definition().PrimaryKey)
	assert.True(t, key.Definition().PrimaryKey)
}

func TestSchema_Equal(t *testing.T) {
	t.Parallel()

	columns := Columns{
		"id":   Integer().PrimaryKey(),
		"name": Text().Indexed(),
	}
	a := MustDefineTable("days", columns)
	b := MustDefineTable("days", columns)
	assert.True(t, a.Equal(b))
	assert.True(t, a.Equal(a.Clone()))

	c := MustDefineTable("days", Columns{
		"id":   Integer().PrimaryKey(),
		"name": Text(),
	})
	assert.False(t, a.Equal(c))

	d := MustDefineTable("other", columns)
	assert.False(t, a.Equal(d))
}

func TestMustDefineTable_Panics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		MustDefineTable("projects", Columns{"name": Text()})
	})
}
