package schema

import (
	"fmt"
	"regexp"

	"github.com/rzpsarthak13/strata/internal/core"
)

// identifierPattern restricts table and column names to plain SQL
// identifiers so they can be quoted and embedded in keys verbatim.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks a table or column name.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return core.Errorf(core.ErrInvalidName, "%q is not a valid identifier", name)
	}
	return nil
}

// ColumnBuilder declares one column. Every method returns a new builder,
// so a builder can be shared between tables.
type ColumnBuilder struct {
	def core.Column
}

// Column starts a column declaration of the given kind.
func Column(kind core.DataType) *ColumnBuilder {
	return &ColumnBuilder{def: core.Column{Type: kind}}
}

func Text() *ColumnBuilder     { return Column(core.TypeText) }
func Integer() *ColumnBuilder  { return Column(core.TypeInteger) }
func Double() *ColumnBuilder   { return Column(core.TypeDouble) }
func Boolean() *ColumnBuilder  { return Column(core.TypeBoolean) }
func DateTime() *ColumnBuilder { return Column(core.TypeDateTime) }
func Date() *ColumnBuilder     { return Column(core.TypeDate) }
func Time() *ColumnBuilder     { return Column(core.TypeTime) }
func Interval() *ColumnBuilder { return Column(core.TypeInterval) }
func UUID() *ColumnBuilder     { return Column(core.TypeUUID) }
func JSON() *ColumnBuilder     { return Column(core.TypeJSON) }

func (b *ColumnBuilder) with(f func(c *core.Column)) *ColumnBuilder {
	next := *b
	f(&next.def)
	return &next
}

// PrimaryKey marks the column as the table's primary key.
func (b *ColumnBuilder) PrimaryKey() *ColumnBuilder {
	return b.with(func(c *core.Column) { c.PrimaryKey = true })
}

// Nullable allows NULL values.
func (b *ColumnBuilder) Nullable() *ColumnBuilder {
	return b.with(func(c *core.Column) { c.Nullable = true })
}

// Indexed asks the engine to keep an index ordered by the column.
func (b *ColumnBuilder) Indexed() *ColumnBuilder {
	return b.with(func(c *core.Column) { c.Indexed = true })
}

// Unique forbids two rows sharing a non-NULL value. Unique columns are
// indexed.
func (b *ColumnBuilder) Unique() *ColumnBuilder {
	return b.with(func(c *core.Column) { c.Unique = true; c.Indexed = true })
}

// Definition returns the column definition as declared so far.
func (b *ColumnBuilder) Definition() core.Column {
	return b.def
}

// Columns maps column names to their declarations.
type Columns map[string]*ColumnBuilder

// DefineTable assembles an immutable table schema. Exactly one column must
// be marked as primary key.
func DefineTable(name string, columns Columns) (*core.Schema, error) {
	if err := ValidateIdentifier(name); err != nil {
		return nil, err
	}
	if core.IsReserved(name) {
		return nil, core.Errorf(core.ErrInvalidName, "table name %q is reserved", name)
	}
	if len(columns) == 0 {
		return nil, core.Errorf(core.ErrMissingPrimaryKey, "table %q declares no columns", name)
	}

	s := &core.Schema{TableName: name, Columns: make(map[string]core.Column, len(columns))}
	for colName, b := range columns {
		if b == nil {
			return nil, core.Errorf(core.ErrInvalidColumn, "column %q of table %q is nil", colName, name)
		}
		if err := ValidateIdentifier(colName); err != nil {
			return nil, err
		}
		def := b.def
		def.TableName = name
		def.Name = colName
		if !def.Type.Valid() {
			return nil, core.Errorf(core.ErrInvalidColumn, "column %q has unknown type %q", colName, def.Type)
		}
		if def.PrimaryKey {
			if s.PrimaryKey != "" {
				return nil, &core.Error{
					Kind:    core.KindSchema,
					Code:    core.ErrDuplicatePrimaryKey.Code,
					Table:   name,
					Message: fmt.Sprintf("both %q and %q are marked primary key", s.PrimaryKey, colName),
				}
			}
			if def.Nullable {
				return nil, core.Errorf(core.ErrInvalidColumn, "primary key %q cannot be nullable", colName)
			}
			if !def.Type.Orderable() {
				return nil, core.Errorf(core.ErrInvalidColumn, "primary key %q cannot be of type %s", colName, def.Type)
			}
			s.PrimaryKey = colName
		}
		if def.Indexed && !def.Type.Orderable() {
			return nil, core.Errorf(core.ErrInvalidColumn, "column %q of type %s cannot be indexed", colName, def.Type)
		}
		s.Columns[colName] = def
	}

	if s.PrimaryKey == "" {
		return nil, &core.Error{Kind: core.KindSchema, Code: core.ErrMissingPrimaryKey.Code, Table: name}
	}
	return s, nil
}

// MustDefineTable is DefineTable for package-level declarations.
func MustDefineTable(name string, columns Columns) *core.Schema {
	s, err := DefineTable(name, columns)
	if err != nil {
		panic(err)
	}
	return s
}

// CheckDefinition validates a schema that did not come from DefineTable,
// e.g. one decoded from storage or received over the wire.
func CheckDefinition(s *core.Schema) error {
	if s == nil {
		return core.Errorf(core.ErrInvalidColumn, "schema is nil")
	}
	columns := make(Columns, len(s.Columns))
	for name, c := range s.Columns {
		if c.Name != "" && c.Name != name {
			return core.Errorf(core.ErrInvalidColumn, "column %q is declared under %q", c.Name, name)
		}
		columns[name] = &ColumnBuilder{def: c}
	}
	built, err := DefineTable(s.TableName, columns)
	if err != nil {
		return err
	}
	if built.PrimaryKey != s.PrimaryKey {
		return core.Errorf(core.ErrInvalidColumn, "primary key %q is not marked on its column", s.PrimaryKey)
	}
	return nil
}

// CheckNewColumn validates a column added to an existing table. Existing
// rows read NULL for it, so it must be nullable.
func CheckNewColumn(s *core.Schema, column core.Column) (core.Column, error) {
	if err := ValidateIdentifier(column.Name); err != nil {
		return core.Column{}, err
	}
	if _, exists := s.Columns[column.Name]; exists {
		return core.Column{}, core.Errorf(core.ErrInvalidColumn, "column %q already exists", column.Name).With(s.TableName, column.Name)
	}
	if !column.Type.Valid() {
		return core.Column{}, core.Errorf(core.ErrInvalidColumn, "unknown type %q", column.Type).With(s.TableName, column.Name)
	}
	if column.PrimaryKey || !column.Nullable {
		return core.Column{}, core.Errorf(core.ErrInvalidColumn, "added columns must be nullable and cannot be the primary key").With(s.TableName, column.Name)
	}
	if column.Unique {
		column.Indexed = true
	}
	if column.Indexed && !column.Type.Orderable() {
		return core.Column{}, core.Errorf(core.ErrInvalidColumn, "%s columns cannot be indexed", column.Type).With(s.TableName, column.Name)
	}
	column.TableName = s.TableName
	return column, nil
}

// WithColumn returns a copy of s with the column added or replaced.
func WithColumn(s *core.Schema, column core.Column) *core.Schema {
	out := s.Clone()
	out.Columns[column.Name] = column
	return out
}
