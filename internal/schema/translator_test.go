package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/strata/internal/core"
)

var testEverything = MustDefineTable("everything", Columns{
	"id":       UUID().PrimaryKey(),
	"name":     Text(),
	"count":    Integer(),
	"ratio":    Double(),
	"active":   Boolean(),
	"at":       DateTime(),
	"day":      Date(),
	"start":    Time(),
	"length":   Interval(),
	"doc":      JSON().Nullable(),
	"optional": Text().Nullable(),
})

func TestTranslator_RoundTrip(t *testing.T) {
	t.Parallel()

	var (
		aTranslator = NewTranslator()
		aValidator  = NewSchemaValidator(testEverything)
	)

	for i := 0; i < 20; i++ {
		row, err := aValidator.ValidateRecord(core.Row{
			"id":     uuid.New(),
			"name":   gofakeit.Name(),
			"count":  gofakeit.Int64(),
			"ratio":  gofakeit.Float64Range(-1e6, 1e6),
			"active": gofakeit.Bool(),
			"at":     gofakeit.Date(),
			"day":    gofakeit.Date(),
			"start":  time.Duration(gofakeit.Number(0, 86399)) * time.Second,
			"length": time.Duration(gofakeit.Int64()),
			"doc":    map[string]interface{}{"k": gofakeit.Word()},
		})
		require.NoError(t, err)

		encoded, err := aTranslator.Encode(row, testEverything)
		require.NoError(t, err)

		decoded, err := aTranslator.Decode(encoded, testEverything)
		require.NoError(t, err)
		assert.Equal(t, row, decoded)
	}
}

func TestTranslator_Decode_AddedColumn(t *testing.T) {
	t.Parallel()

	aTranslator := NewTranslator()

	decoded, err := aTranslator.Decode([]byte(`{"id":"0b6b2a3e-8c57-4d8f-a1c3-59a3cfd5f0c1","doc":{"a":1}}`), testEverything)
	require.NoError(t, err)

	assert.Nil(t, decoded["optional"])
	assert.Equal(t, json.RawMessage(`{"a":1}`), decoded["doc"])
	assert.Len(t, decoded, len(testEverything.Columns))
}

func TestTranslator_Encode_UnknownColumn(t *testing.T) {
	t.Parallel()

	_, err := NewTranslator().Encode(core.Row{"nope": 1}, testEverything)
	assert.ErrorIs(t, err, core.ErrUnknownColumn)
}
