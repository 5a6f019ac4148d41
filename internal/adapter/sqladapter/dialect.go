package sqladapter

import (
	"fmt"
	"strings"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/database"
)

// dialect holds what differs between the SQL flavours. Both flavours use
// '?' placeholders.
type dialect struct {
	name string

	// quoteChar wraps identifiers.
	quoteChar string

	// types maps column types to column declarations.
	types map[core.DataType]string

	// textSuffix is appended to text-like declarations to force binary,
	// case-sensitive comparison.
	textSuffix string

	// keyText, when set, declares text columns that carry an index.
	keyText string
}

var sqliteDialect = &dialect{
	name:      database.DialectSQLite,
	quoteChar: `"`,
	types: map[core.DataType]string{
		core.TypeText:     "TEXT",
		core.TypeInteger:  "INTEGER",
		core.TypeDouble:   "REAL",
		core.TypeBoolean:  "INTEGER",
		core.TypeDateTime: "TEXT",
		core.TypeDate:     "TEXT",
		core.TypeTime:     "INTEGER",
		core.TypeInterval: "INTEGER",
		core.TypeUUID:     "TEXT",
		core.TypeJSON:     "TEXT",
	},
}

// MySQL cannot index unbounded TEXT columns, so indexed text is a bounded
// VARCHAR that fits the index key limit of utf8mb4.
var mysqlDialect = &dialect{
	name:      database.DialectMySQL,
	quoteChar: "`",
	types: map[core.DataType]string{
		core.TypeText:     "LONGTEXT",
		core.TypeInteger:  "BIGINT",
		core.TypeDouble:   "DOUBLE",
		core.TypeBoolean:  "TINYINT",
		core.TypeDateTime: "VARCHAR(40)",
		core.TypeDate:     "CHAR(10)",
		core.TypeTime:     "BIGINT",
		core.TypeInterval: "BIGINT",
		core.TypeUUID:     "CHAR(36)",
		core.TypeJSON:     "LONGTEXT",
	},
	textSuffix: " CHARACTER SET utf8mb4 COLLATE utf8mb4_bin",
	keyText:    "VARCHAR(768)",
}

func dialectFor(name string) (*dialect, error) {
	switch name {
	case database.DialectSQLite:
		return sqliteDialect, nil
	case database.DialectMySQL:
		return mysqlDialect, nil
	}
	return nil, fmt.Errorf("unsupported SQL dialect: %s", name)
}

// quote quotes an identifier. Identifiers are validated on declaration and
// never contain the quote character.
func (d *dialect) quote(ident string) string {
	return d.quoteChar + ident + d.quoteChar
}

func (d *dialect) columnType(c core.Column) string {
	decl := d.types[c.Type]
	if d.keyed(c) {
		decl = d.keyText
	}
	switch c.Type {
	case core.TypeText, core.TypeDateTime, core.TypeDate, core.TypeUUID, core.TypeJSON:
		decl += d.textSuffix
	}
	return decl
}

// keyed reports whether c is a text column declared as keyText.
func (d *dialect) keyed(c core.Column) bool {
	return d.keyText != "" && c.Type == core.TypeText && (c.PrimaryKey || c.Indexed || c.Unique)
}

func (d *dialect) columnDef(c core.Column) string {
	def := d.quote(c.Name) + " " + d.columnType(c)
	switch {
	case c.PrimaryKey:
		def += " PRIMARY KEY"
	case !c.Nullable:
		def += " NOT NULL"
	}
	return def
}

func (d *dialect) createTable(s *core.Schema) string {
	defs := make([]string, 0, len(s.Columns))
	for _, name := range s.ColumnNames() {
		defs = append(defs, d.columnDef(s.Columns[name]))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.quote(s.TableName), strings.Join(defs, ", "))
}

func (d *dialect) createTableIfMissing(s *core.Schema) string {
	return strings.Replace(d.createTable(s), "CREATE TABLE", "CREATE TABLE IF NOT EXISTS", 1)
}

// indexName names the plain and the unique index of a column. Index names
// are global in SQLite, so they carry the table name.
func indexName(table, column string, unique bool) string {
	if unique {
		return "uq_" + table + "_" + column
	}
	return "ix_" + table + "_" + column
}

func (d *dialect) createIndex(table, column string, unique bool) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s %s ON %s (%s)",
		kind, d.quote(indexName(table, column, unique)), d.quote(table), d.quote(column))
}

// indexStatements creates the indexes of the non-key indexed columns. A
// unique column only gets its unique index.
func (d *dialect) indexStatements(s *core.Schema) []string {
	var out []string
	for _, c := range s.IndexedColumns() {
		if c.PrimaryKey {
			continue
		}
		out = append(out, d.createIndex(s.TableName, c.Name, c.Unique))
	}
	return out
}

func (d *dialect) addColumn(table string, c core.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.quote(table), d.columnDef(c))
}

// narrowColumn redeclares a column that gains an index, when the dialect
// declares indexed columns differently. It returns "" when nothing changes.
func (d *dialect) narrowColumn(table string, before, after core.Column) string {
	if d.keyed(before) || !d.keyed(after) {
		return ""
	}
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", d.quote(table), d.columnDef(after))
}

func (d *dialect) dropTable(table string) string {
	return "DROP TABLE " + d.quote(table)
}
