// Package strata is the public face of the storage layer. Applications
// declare schemas, migrate a database once at startup and then query it
// through Table values, whatever engine sits underneath.
//
// Typical usage:
//
//	projects := strata.MustDefineTable("projects", strata.Columns{
//		"id":   strata.Text().PrimaryKey(),
//		"name": strata.Text().Unique(),
//	})
//
//	db, _ := strata.Open(ctx, strata.AdapterConfig{Type: "sqlite"}, "app",
//		strata.WithMigrations(strata.NewManifest().CreateTable(projects)))
//	defer db.Close()
//
//	t, _ := db.Table(ctx, projects)
//	t.Insert(ctx, strata.Row{"id": "p1", "name": "Strata"})
//	rows, _ := t.FindMany(ctx, strata.Plan{Where: strata.Col("name").Contains("Str")})
package strata

import (
	"github.com/rzpsarthak13/strata/internal/adapter"
	_ "github.com/rzpsarthak13/strata/internal/adapter/kv"
	_ "github.com/rzpsarthak13/strata/internal/adapter/memory"
	_ "github.com/rzpsarthak13/strata/internal/adapter/sqladapter"
	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/migrate"
	"github.com/rzpsarthak13/strata/internal/schema"
)

type (
	Row       = core.Row
	Schema    = core.Schema
	Column    = core.Column
	DataType  = core.DataType
	Where     = core.Where
	Operator  = core.Operator
	OrderBy   = core.OrderBy
	Direction = core.Direction
	Plan      = core.Plan
	Change    = core.Change
	ChangeOp  = core.ChangeOp
	Error     = core.Error

	// Adapter is a storage engine. Adapters are built by NewAdapter or by
	// OpenFromConfig.
	Adapter = core.Adapter

	// AdapterConfig selects and configures an adapter.
	AdapterConfig = adapter.Config

	// ChangePublisher receives the changes of committed writes.
	ChangePublisher = core.ChangePublisher

	Columns       = schema.Columns
	ColumnBuilder = schema.ColumnBuilder

	Manifest      = migrate.Manifest
	MigrationStep = migrate.Step
	MigrationFunc = migrate.ApplyFunc
	// UpgradeTransaction may change the physical schema while migrating.
	UpgradeTransaction = core.UpgradeTransaction
	// MigrationError reports the step a migration stopped at.
	MigrationError = migrate.Error
)

const (
	Asc  = core.Asc
	Desc = core.Desc

	ChangeInsert    = core.ChangeInsert
	ChangeUpdate    = core.ChangeUpdate
	ChangeDelete    = core.ChangeDelete
	ChangeDeleteAll = core.ChangeDeleteAll
)

// Error kinds. errors.Is(err, strata.ErrQuery) matches every query error.
var (
	ErrSchema          = core.ErrSchema
	ErrQuery           = core.ErrQuery
	ErrType            = core.ErrType
	ErrIllegalArgument = core.ErrIllegalArgument
	ErrNotFound        = core.ErrNotFound
	ErrTransaction     = core.ErrTransaction
	ErrEngine          = core.ErrEngine
)

// Error codes.
var (
	ErrMissingPrimaryKey   = core.ErrMissingPrimaryKey
	ErrDuplicatePrimaryKey = core.ErrDuplicatePrimaryKey
	ErrInvalidName         = core.ErrInvalidName
	ErrSchemaMismatch      = core.ErrSchemaMismatch
	ErrUnorderableColumn   = core.ErrUnorderableColumn
	ErrUniqueViolation     = core.ErrUniqueViolation
	ErrNotNullViolation    = core.ErrNotNullViolation
	ErrUnknownColumn       = core.ErrUnknownColumn
	ErrInvalidValue        = core.ErrInvalidValue
	ErrUnsupportedOperator = core.ErrUnsupportedOperator
	ErrPrimaryKeyImmutable = core.ErrPrimaryKeyImmutable
	ErrMissingJoinKey      = core.ErrMissingJoinKey
	ErrTableNotFound       = core.ErrTableNotFound
	ErrIndexNotFound       = core.ErrIndexNotFound
	ErrTransactionClosed   = core.ErrTransactionClosed
	ErrReadOnly            = core.ErrReadOnly
	ErrTableNotInScope     = core.ErrTableNotInScope
)

// Column declarations.
var (
	Text     = schema.Text
	Integer  = schema.Integer
	Double   = schema.Double
	Boolean  = schema.Boolean
	DateTime = schema.DateTime
	Date     = schema.Date
	Time     = schema.Time
	Interval = schema.Interval
	UUID     = schema.UUID
	JSON     = schema.JSON
)

// DefineTable builds a schema. It fails without exactly one primary key.
func DefineTable(name string, columns Columns) (*Schema, error) {
	return schema.DefineTable(name, columns)
}

// MustDefineTable is DefineTable for package-level declarations.
func MustDefineTable(name string, columns Columns) *Schema {
	return schema.MustDefineTable(name, columns)
}

// NewManifest starts a migration manifest.
func NewManifest(steps ...MigrationStep) *Manifest {
	return migrate.NewManifest(steps...)
}
