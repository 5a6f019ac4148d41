package core

import (
	"fmt"
	"strings"
)

// Kind classifies errors raised by the storage layer.
type Kind string

const (
	KindSchema          Kind = "SchemaError"
	KindQuery           Kind = "QueryError"
	KindType            Kind = "TypeError"
	KindIllegalArgument Kind = "IllegalArgument"
	KindNotFound        Kind = "NotFoundError"
	KindTransaction     Kind = "TransactionError"
	KindEngine          Kind = "EngineError"
)

// Error is the error type of the storage layer. Code names the precise
// failure inside a Kind, e.g. QueryError: UniqueViolation.
type Error struct {
	Kind    Kind
	Code    string
	Table   string
	Column  string
	Value   interface{}
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	var args []string
	if e.Table != "" {
		args = append(args, "table="+e.Table)
	}
	if e.Column != "" {
		args = append(args, "column="+e.Column)
	}
	if e.Value != nil {
		args = append(args, fmt.Sprintf("value=%v", e.Value))
	}
	if len(args) > 0 {
		b.WriteString("(" + strings.Join(args, ", ") + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, and on Code when the target carries one, so that
// errors.Is(err, ErrQuery) and errors.Is(err, ErrUniqueViolation) both work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// With returns a copy of e annotated with a table and a column.
func (e *Error) With(table, column string) *Error {
	c := *e
	c.Table, c.Column = table, column
	return &c
}

// Kind sentinels.
var (
	ErrSchema          = &Error{Kind: KindSchema}
	ErrQuery           = &Error{Kind: KindQuery}
	ErrType            = &Error{Kind: KindType}
	ErrIllegalArgument = &Error{Kind: KindIllegalArgument}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrTransaction     = &Error{Kind: KindTransaction}
	ErrEngine          = &Error{Kind: KindEngine}
)

// Code sentinels.
var (
	ErrMissingPrimaryKey   = &Error{Kind: KindSchema, Code: "MissingPrimaryKey"}
	ErrDuplicatePrimaryKey = &Error{Kind: KindSchema, Code: "DuplicatePrimaryKey"}
	ErrInvalidName         = &Error{Kind: KindSchema, Code: "InvalidName"}
	ErrInvalidColumn       = &Error{Kind: KindSchema, Code: "InvalidColumn"}
	ErrSchemaMismatch      = &Error{Kind: KindSchema, Code: "SchemaMismatch"}
	ErrTableExists         = &Error{Kind: KindSchema, Code: "TableExists"}

	ErrUnorderableColumn = &Error{Kind: KindQuery, Code: "UnorderableColumn"}
	ErrUniqueViolation   = &Error{Kind: KindQuery, Code: "UniqueViolation"}
	ErrNotNullViolation  = &Error{Kind: KindQuery, Code: "NotNullViolation"}
	ErrUnknownColumn     = &Error{Kind: KindQuery, Code: "UnknownColumn"}
	ErrInvalidPlan       = &Error{Kind: KindQuery, Code: "InvalidPlan"}
	ErrInvalidValue      = &Error{Kind: KindQuery, Code: "InvalidValue"}

	ErrUnsupportedOperator = &Error{Kind: KindType, Code: "UnsupportedOperator"}

	ErrPrimaryKeyImmutable = &Error{Kind: KindIllegalArgument, Code: "PrimaryKeyImmutable"}
	ErrMissingJoinKey      = &Error{Kind: KindIllegalArgument, Code: "MissingJoinKey"}
	ErrReservedTable       = &Error{Kind: KindIllegalArgument, Code: "ReservedTable"}

	ErrTableNotFound    = &Error{Kind: KindNotFound, Code: "TableNotFound"}
	ErrIndexNotFound    = &Error{Kind: KindNotFound, Code: "IndexNotFound"}
	ErrDatabaseNotFound = &Error{Kind: KindNotFound, Code: "DatabaseNotOpen"}

	ErrTransactionClosed = &Error{Kind: KindTransaction, Code: "TransactionClosed"}
	ErrReadOnly          = &Error{Kind: KindTransaction, Code: "ReadOnly"}
	ErrTableNotInScope   = &Error{Kind: KindTransaction, Code: "TableNotInScope"}

	// Raised by engine drivers before the adapter re-maps them.
	ErrEngineUnique         = &Error{Kind: KindEngine, Code: "UniqueConstraint"}
	ErrEngineUndefinedTable = &Error{Kind: KindEngine, Code: "UndefinedTable"}
)

// Errorf builds an error of the sentinel's kind and code with a message.
func Errorf(sentinel *Error, format string, args ...interface{}) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: fmt.Sprintf(format, args...)}
}

// UniqueViolation builds QueryError: UniqueViolation(table, column, value).
func UniqueViolation(table, column string, value interface{}) *Error {
	return &Error{Kind: KindQuery, Code: ErrUniqueViolation.Code, Table: table, Column: column, Value: value}
}

// TableNotFound builds NotFoundError: TableNotFound(table).
func TableNotFound(table string) *Error {
	return &Error{Kind: KindNotFound, Code: ErrTableNotFound.Code, Table: table}
}

// EngineError wraps an opaque failure bubbled up from an engine.
func EngineError(op string, err error) *Error {
	return &Error{Kind: KindEngine, Message: op, Err: err}
}
