package core

import (
	"sort"
)

// DataType is the primitive kind of a column.
type DataType string

const (
	TypeText     DataType = "text"
	TypeInteger  DataType = "integer"
	TypeDouble   DataType = "double"
	TypeBoolean  DataType = "boolean"
	TypeDateTime DataType = "datetime"
	TypeDate     DataType = "date"
	TypeTime     DataType = "time"
	TypeInterval DataType = "interval"
	TypeUUID     DataType = "uuid"
	TypeJSON     DataType = "json"
)

// Valid reports whether d is one of the supported data types.
func (d DataType) Valid() bool {
	switch d {
	case TypeText, TypeInteger, TypeDouble, TypeBoolean, TypeDateTime,
		TypeDate, TypeTime, TypeInterval, TypeUUID, TypeJSON:
		return true
	}
	return false
}

// Orderable reports whether values of this type have a total order.
// JSON documents do not.
func (d DataType) Orderable() bool {
	return d.Valid() && d != TypeJSON
}

// Row is a single record keyed by column name.
type Row map[string]interface{}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Column represents a single column in a table.
type Column struct {
	// TableName is the table this column belongs to.
	TableName string `json:"table_name" yaml:"table_name"`

	// Name is the column name.
	Name string `json:"name" yaml:"name"`

	// Type is the primitive kind stored in the column.
	Type DataType `json:"type" yaml:"type"`

	// PrimaryKey marks the single primary key column of the table.
	PrimaryKey bool `json:"primary_key" yaml:"primary_key"`

	// Nullable indicates whether the column can contain NULL values.
	Nullable bool `json:"nullable" yaml:"nullable"`

	// Indexed indicates that the engine keeps an index ordered by this column.
	Indexed bool `json:"indexed" yaml:"indexed"`

	// Unique indicates that no two rows may share a non-NULL value.
	Unique bool `json:"unique" yaml:"unique"`
}

// Schema represents the structure of a table.
// A schema is built once and treated as a value afterwards.
type Schema struct {
	// TableName is the name of the table.
	TableName string `json:"table_name" yaml:"table_name"`

	// PrimaryKey is the name of the primary key column.
	PrimaryKey string `json:"primary_key" yaml:"primary_key"`

	// Columns maps column names to their definitions.
	Columns map[string]Column `json:"columns" yaml:"columns"`
}

// Column looks up a column definition by name.
func (s *Schema) Column(name string) (Column, bool) {
	if s == nil {
		return Column{}, false
	}
	c, ok := s.Columns[name]
	return c, ok
}

// PrimaryKeyColumn returns the primary key column definition.
func (s *Schema) PrimaryKeyColumn() Column {
	return s.Columns[s.PrimaryKey]
}

// ColumnNames returns the column names with the primary key first and the
// rest in lexical order, giving every adapter the same physical layout.
func (s *Schema) ColumnNames() []string {
	names := make([]string, 0, len(s.Columns))
	for name := range s.Columns {
		if name != s.PrimaryKey {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{s.PrimaryKey}, names...)
}

// IndexedColumns returns the secondary columns that carry an index, in
// ColumnNames order. The primary key is excluded.
func (s *Schema) IndexedColumns() []Column {
	var out []Column
	for _, name := range s.ColumnNames() {
		c := s.Columns[name]
		if c.PrimaryKey {
			continue
		}
		if c.Indexed || c.Unique {
			out = append(out, c)
		}
	}
	return out
}

// IsIndexed reports whether the engine keeps a native ordering on the column.
func (s *Schema) IsIndexed(column string) bool {
	c, ok := s.Columns[column]
	return ok && (c.PrimaryKey || c.Indexed || c.Unique)
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	cols := make(map[string]Column, len(s.Columns))
	for k, v := range s.Columns {
		cols[k] = v
	}
	return &Schema{TableName: s.TableName, PrimaryKey: s.PrimaryKey, Columns: cols}
}

// Equal reports whether two schemas are structurally equal: same table name,
// primary key, and identical column definitions.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.TableName != other.TableName || s.PrimaryKey != other.PrimaryKey {
		return false
	}
	if len(s.Columns) != len(other.Columns) {
		return false
	}
	for name, c := range s.Columns {
		oc, ok := other.Columns[name]
		if !ok || c != oc {
			return false
		}
	}
	return true
}
