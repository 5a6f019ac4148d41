package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/strata/internal/core"
)

var testTimeEntries = MustDefineTable("timeEntries", Columns{
	"id":       Integer().PrimaryKey(),
	"taskId":   Text().Indexed(),
	"day":      Date(),
	"duration": Interval(),
	"comment":  Text().Nullable(),
	"billable": Boolean(),
})

func TestSchemaValidator_ValidateRecord(t *testing.T) {
	t.Parallel()

	aValidator := NewSchemaValidator(testTimeEntries)

	row, err := aValidator.ValidateRecord(core.Row{
		"id":       1,
		"taskId":   "t1",
		"day":      "2024-05-01",
		"duration": "45m",
		"billable": false,
	})
	require.NoError(t, err)

	assert.Equal(t, core.Row{
		"id":       int64(1),
		"taskId":   "t1",
		"day":      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		"duration": 45 * time.Minute,
		"comment":  nil,
		"billable": false,
	}, row)
}

func TestSchemaValidator_ValidateRecord_Errors(t *testing.T) {
	t.Parallel()

	aValidator := NewSchemaValidator(testTimeEntries)

	testCases := []struct {
		Name   string
		Row    core.Row
		Err    error
		Column string
	}{
		{
			Name:   "unknown column",
			Row:    core.Row{"id": 1, "taskId": "t1", "day": "2024-05-01", "duration": 0, "billable": true, "color": "red"},
			Err:    core.ErrUnknownColumn,
			Column: "color",
		},
		{
			Name:   "missing required column",
			Row:    core.Row{"id": 1, "day": "2024-05-01", "duration": 0, "billable": true},
			Err:    core.ErrNotNullViolation,
			Column: "taskId",
		},
		{
			Name:   "invalid value",
			Row:    core.Row{"id": "one", "taskId": "t1", "day": "2024-05-01", "duration": 0, "billable": true},
			Err:    core.ErrInvalidValue,
			Column: "id",
		},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			t.Parallel()

			_, err := aValidator.ValidateRecord(aTestCase.Row)
			require.Error(t, err)
			assert.True(t, errors.Is(err, aTestCase.Err), "got %v", err)

			var coreErr *core.Error
			require.True(t, errors.As(err, &coreErr))
			assert.Equal(t, aTestCase.Column, coreErr.Column)
			assert.Equal(t, "timeEntries", coreErr.Table)
		})
	}
}

func TestSchemaValidator_ValidatePatch(t *testing.T) {
	t.Parallel()

	aValidator := NewSchemaValidator(testTimeEntries)

	patch, err := aValidator.ValidatePatch(core.Row{"comment": "done", "duration": time.Hour})
	require.NoError(t, err)
	assert.Equal(t, core.Row{"comment": "done", "duration": time.Hour}, patch)

	_, err = aValidator.ValidatePatch(core.Row{"id": 2})
	assert.True(t, errors.Is(err, core.ErrPrimaryKeyImmutable))
	assert.True(t, errors.Is(err, core.ErrIllegalArgument))

	_, err = aValidator.ValidatePatch(core.Row{"taskId": nil})
	assert.True(t, errors.Is(err, core.ErrNotNullViolation))

	_, err = aValidator.ValidatePatch(core.Row{"nope": 1})
	assert.True(t, errors.Is(err, core.ErrUnknownColumn))
}

func TestApply(t *testing.T) {
	t.Parallel()

	row := core.Row{"id": int64(1), "comment": nil}
	patched := Apply(row, core.Row{"comment": "x"})

	assert.Equal(t, core.Row{"id": int64(1), "comment": "x"}, patched)
	assert.Nil(t, row["comment"])
}
