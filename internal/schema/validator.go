package schema

import (
	"github.com/rzpsarthak13/strata/internal/core"
)

// SchemaValidator validates records against schema definitions and
// normalizes their values.
type SchemaValidator struct {
	schema *core.Schema
	mapper *TypeMapper
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(schema *core.Schema) *SchemaValidator {
	return &SchemaValidator{
		schema: schema,
		mapper: NewTypeMapper(),
	}
}

// ValidateRecord validates a full record for insertion and returns it
// normalized, with every column present (missing nullable columns are nil).
func (sv *SchemaValidator) ValidateRecord(record core.Row) (core.Row, error) {
	if record == nil {
		return nil, core.Errorf(core.ErrInvalidValue, "record cannot be nil").With(sv.schema.TableName, "")
	}

	for name := range record {
		if _, ok := sv.schema.Columns[name]; !ok {
			return nil, core.ErrUnknownColumn.With(sv.schema.TableName, name)
		}
	}

	out := make(core.Row, len(sv.schema.Columns))
	for name, column := range sv.schema.Columns {
		value, err := sv.normalize(column, record[name])
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}

// ValidatePatch validates a partial record for an update. The primary key
// can never be patched.
func (sv *SchemaValidator) ValidatePatch(patch core.Row) (core.Row, error) {
	if _, ok := patch[sv.schema.PrimaryKey]; ok {
		return nil, core.ErrPrimaryKeyImmutable.With(sv.schema.TableName, sv.schema.PrimaryKey)
	}

	out := make(core.Row, len(patch))
	for name, value := range patch {
		column, ok := sv.schema.Columns[name]
		if !ok {
			return nil, core.ErrUnknownColumn.With(sv.schema.TableName, name)
		}
		normalized, err := sv.normalize(column, value)
		if err != nil {
			return nil, err
		}
		out[name] = normalized
	}
	return out, nil
}

// ValidatePrimaryKey validates and normalizes a primary key value.
func (sv *SchemaValidator) ValidatePrimaryKey(key interface{}) (interface{}, error) {
	return sv.normalize(sv.schema.PrimaryKeyColumn(), key)
}

// Apply merges a validated patch into a copy of row.
func Apply(row, patch core.Row) core.Row {
	out := row.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func (sv *SchemaValidator) normalize(column core.Column, value interface{}) (interface{}, error) {
	v, err := sv.mapper.Normalize(value, column.Type)
	if err != nil {
		return nil, &core.Error{
			Kind:   core.KindQuery,
			Code:   core.ErrInvalidValue.Code,
			Table:  sv.schema.TableName,
			Column: column.Name,
			Err:    err,
		}
	}
	if v == nil && !column.Nullable {
		return nil, core.ErrNotNullViolation.With(sv.schema.TableName, column.Name)
	}
	return v, nil
}
