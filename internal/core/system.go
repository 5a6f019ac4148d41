package core

import "strings"

// System tables are owned by the storage layer and never handed out
// through Transaction.Table.
const (
	MigrationsTable = "__migrations"
	TablesTable     = "__tables"

	// MigrationsRowID is the id of the single row in __migrations.
	MigrationsRowID int64 = 1
)

// IsReserved reports whether name is reserved for system tables.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, "__")
}

// MigrationsSchema is the layout of the __migrations system table.
func MigrationsSchema() *Schema {
	return &Schema{
		TableName:  MigrationsTable,
		PrimaryKey: "id",
		Columns: map[string]Column{
			"id":      {TableName: MigrationsTable, Name: "id", Type: TypeInteger, PrimaryKey: true},
			"version": {TableName: MigrationsTable, Name: "version", Type: TypeInteger},
		},
	}
}

// TablesSchema is the layout of the __tables system table, which stores
// the JSON schema definition of every user table.
func TablesSchema() *Schema {
	return &Schema{
		TableName:  TablesTable,
		PrimaryKey: "name",
		Columns: map[string]Column{
			"name":       {TableName: TablesTable, Name: "name", Type: TypeText, PrimaryKey: true},
			"definition": {TableName: TablesTable, Name: "definition", Type: TypeJSON},
		},
	}
}
