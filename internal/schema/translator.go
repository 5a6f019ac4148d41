package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rzpsarthak13/strata/internal/core"
)

// Translator handles conversion between rows and the byte values stored by
// key-value engines. Rows are stored as JSON objects and decoded back with
// the schema so every value regains its canonical type.
type Translator struct {
	mapper *TypeMapper
}

// NewTranslator creates a new schema translator.
func NewTranslator() *Translator {
	return &Translator{mapper: NewTypeMapper()}
}

// Encode serializes a normalized row.
func (t *Translator) Encode(row core.Row, schema *core.Schema) ([]byte, error) {
	if row == nil {
		return nil, fmt.Errorf("record cannot be nil")
	}
	if schema == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}

	doc := make(map[string]interface{}, len(row))
	for name, value := range row {
		column, ok := schema.Columns[name]
		if !ok {
			return nil, core.ErrUnknownColumn.With(schema.TableName, name)
		}
		if value != nil && (column.Type == core.TypeTime || column.Type == core.TypeInterval) {
			// Durations are stored as integer nanoseconds.
			n, err := t.mapper.toInt64(value)
			if err != nil {
				return nil, fmt.Errorf("failed to convert value for column '%s': %w", name, err)
			}
			value = n
		}
		doc[name] = value
	}

	value, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record to JSON: %w", err)
	}
	return value, nil
}

// Decode deserializes a stored row. Columns added to the schema after the
// row was written come back as NULL.
func (t *Translator) Decode(value []byte, schema *core.Schema) (core.Row, error) {
	if value == nil {
		return nil, fmt.Errorf("value cannot be nil")
	}
	if schema == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	row := make(core.Row, len(schema.Columns))
	for name, column := range schema.Columns {
		raw, ok := doc[name]
		if !ok || bytes.Equal(raw, []byte("null")) {
			row[name] = nil
			continue
		}

		var decoded interface{}
		if column.Type == core.TypeJSON {
			decoded = raw
		} else {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			if err := dec.Decode(&decoded); err != nil {
				return nil, fmt.Errorf("failed to decode column '%s': %w", name, err)
			}
		}

		converted, err := t.mapper.Normalize(decoded, column.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to convert value for column '%s': %w", name, err)
		}
		row[name] = converted
	}
	return row, nil
}
