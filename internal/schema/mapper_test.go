package schema

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/strata/internal/core"
)

func TestTypeMapper_Normalize(t *testing.T) {
	t.Parallel()

	var (
		aMapper = NewTypeMapper()
		anID    = uuid.MustParse("0b6b2a3e-8c57-4d8f-a1c3-59a3cfd5f0c1")
		aTime   = time.Date(2024, 3, 9, 14, 30, 0, 500, time.FixedZone("CET", 3600))
		anInt   = 7
	)

	testCases := []struct {
		Name     string
		Value    interface{}
		Type     core.DataType
		Expected interface{}
	}{
		{"text", "hello", core.TypeText, "hello"},
		{"text from bytes", []byte("hi"), core.TypeText, "hi"},
		{"integer from int", 42, core.TypeInteger, int64(42)},
		{"integer from pointer", &anInt, core.TypeInteger, int64(7)},
		{"integer from whole float", 3.0, core.TypeInteger, int64(3)},
		{"integer from json number", json.Number("12"), core.TypeInteger, int64(12)},
		{"double from int", 2, core.TypeDouble, float64(2)},
		{"boolean", true, core.TypeBoolean, true},
		{"datetime to utc", aTime, core.TypeDateTime, aTime.UTC()},
		{"datetime from string", "2024-03-09T13:30:00Z", core.TypeDateTime, time.Date(2024, 3, 9, 13, 30, 0, 0, time.UTC)},
		{"date truncates", aTime, core.TypeDate, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"date from string", "2024-03-09", core.TypeDate, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"time from duration", 90 * time.Minute, core.TypeTime, 90 * time.Minute},
		{"time from string", "01:30:00", core.TypeTime, 90 * time.Minute},
		{"interval from string", "1h30m", core.TypeInterval, 90 * time.Minute},
		{"uuid from string", anID.String(), core.TypeUUID, anID},
		{"json from map", map[string]int{"a": 1}, core.TypeJSON, json.RawMessage(`{"a":1}`)},
		{"json compacts raw", json.RawMessage(`{ "a" : [1, 2] }`), core.TypeJSON, json.RawMessage(`{"a":[1,2]}`)},
		{"nil stays nil", nil, core.TypeText, nil},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			t.Parallel()

			actual, err := aMapper.Normalize(aTestCase.Value, aTestCase.Type)
			require.NoError(t, err)
			assert.Equal(t, aTestCase.Expected, actual)
		})
	}
}

func TestTypeMapper_Normalize_Errors(t *testing.T) {
	t.Parallel()

	aMapper := NewTypeMapper()

	testCases := []struct {
		Name  string
		Value interface{}
		Type  core.DataType
	}{
		{"fractional integer", 1.5, core.TypeInteger},
		{"string integer", "12", core.TypeInteger},
		{"nan double", math.NaN(), core.TypeDouble},
		{"infinite double", math.Inf(1), core.TypeDouble},
		{"boolean from int", 1, core.TypeBoolean},
		{"bad datetime", "yesterday", core.TypeDateTime},
		{"time out of range", 25 * time.Hour, core.TypeTime},
		{"bad uuid", "not-a-uuid", core.TypeUUID},
		{"invalid json", json.RawMessage(`{`), core.TypeJSON},
		{"overflowing uint", uint64(math.MaxUint64), core.TypeInteger},
		{"unknown type", "x", core.DataType("blob")},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			t.Parallel()

			_, err := aMapper.Normalize(aTestCase.Value, aTestCase.Type)
			assert.Error(t, err)
		})
	}
}

func TestTypeMapper_SQLRoundTrip(t *testing.T) {
	t.Parallel()

	var (
		aMapper = NewTypeMapper()
		anID    = uuid.New()
	)

	testCases := []struct {
		Name   string
		Value  interface{}
		Type   core.DataType
		Stored interface{}
	}{
		{"boolean", true, core.TypeBoolean, int64(1)},
		{"datetime", time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC), core.TypeDateTime, "2024-01-02T03:04:05.000000006Z"},
		{"date", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), core.TypeDate, "2024-01-02"},
		{"time", 8 * time.Hour, core.TypeTime, int64(8 * time.Hour)},
		{"interval", -time.Second, core.TypeInterval, int64(-time.Second)},
		{"uuid", anID, core.TypeUUID, anID.String()},
		{"json", json.RawMessage(`[1,2]`), core.TypeJSON, "[1,2]"},
		{"double", 1.25, core.TypeDouble, 1.25},
		{"text", "abc", core.TypeText, "abc"},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			t.Parallel()

			stored, err := aMapper.ToSQL(aTestCase.Value, aTestCase.Type)
			require.NoError(t, err)
			assert.Equal(t, aTestCase.Stored, stored)

			back, err := aMapper.FromSQL(stored, aTestCase.Type)
			require.NoError(t, err)
			assert.Equal(t, aTestCase.Value, back)
		})
	}
}

func TestTypeMapper_FromSQL_DriverShapes(t *testing.T) {
	t.Parallel()

	aMapper := NewTypeMapper()

	v, err := aMapper.FromSQL([]byte("42"), core.TypeInteger)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = aMapper.FromSQL([]byte("1"), core.TypeBoolean)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = aMapper.FromSQL([]byte("0.5"), core.TypeDouble)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	v, err = aMapper.FromSQL([]byte(`{"a": true}`), core.TypeJSON)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"a":true}`), v)
}
