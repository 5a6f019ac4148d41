// Package rpc carries table façade calls across a process boundary. The
// methods are a closed set; each has a typed argument struct decoded from
// a positional JSON array in the order of the façade's parameters.
package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/pkg/strata"
)

// Method names a façade operation.
type Method string

const (
	MethodFindFirst  Method = "findFirst"
	MethodFindMany   Method = "findMany"
	MethodInsert     Method = "insert"
	MethodInsertMany Method = "insertMany"
	MethodUpdate     Method = "update"
	MethodDelete     Method = "delete"
	MethodDeleteAll  Method = "deleteAll"
	MethodLeftJoin   Method = "leftJoin"
)

// Methods lists every method in a stable order.
var Methods = []Method{
	MethodFindFirst, MethodFindMany, MethodInsert, MethodInsertMany,
	MethodUpdate, MethodDelete, MethodDeleteAll, MethodLeftJoin,
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// Request is one call. Args is a JSON array.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Table  string          `json:"table"`
	Method Method          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Response is the result of one call. Exactly one of the result fields is
// set for a successful call, according to the method.
type Response struct {
	ID    string       `json:"id,omitempty"`
	Row   strata.Row   `json:"row,omitempty"`
	Found *bool        `json:"found,omitempty"`
	Rows  []strata.Row `json:"rows,omitempty"`
	Error *Error       `json:"error,omitempty"`
}

// FindArgs are the arguments of findFirst, findMany and delete.
type FindArgs struct {
	Plan strata.Plan
}

// InsertArgs are the arguments of insert.
type InsertArgs struct {
	Row strata.Row
}

// InsertManyArgs are the arguments of insertMany.
type InsertManyArgs struct {
	Rows []strata.Row
}

// UpdateArgs are the arguments of update.
type UpdateArgs struct {
	Plan  strata.Plan
	Patch strata.Row
}

// LeftJoinArgs are the arguments of leftJoin: the right table, the join
// options and the plan of the joined query.
type LeftJoinArgs struct {
	Other   string
	Options strata.JoinOptions
	Plan    strata.Plan
}

// ErrBadRequest marks requests that cannot be decoded.
var ErrBadRequest = errors.New("bad request")

// positional decodes a JSON array into targets, in order. Missing trailing
// elements leave their targets at the zero value; required counts the
// elements that must be present.
func positional(raw json.RawMessage, required int, targets ...interface{}) error {
	var elems []json.RawMessage
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &elems); err != nil {
			return fmt.Errorf("%w: args must be an array: %v", ErrBadRequest, err)
		}
	}
	if len(elems) < required || len(elems) > len(targets) {
		return fmt.Errorf("%w: expected %d to %d args, got %d", ErrBadRequest, required, len(targets), len(elems))
	}
	for i, elem := range elems {
		dec := json.NewDecoder(bytes.NewReader(elem))
		dec.UseNumber()
		if err := dec.Decode(targets[i]); err != nil {
			return fmt.Errorf("%w: arg %d: %v", ErrBadRequest, i, err)
		}
	}
	return nil
}

func (a *FindArgs) decode(raw json.RawMessage) error {
	return positional(raw, 0, &a.Plan)
}

func (a *InsertArgs) decode(raw json.RawMessage) error {
	return positional(raw, 1, &a.Row)
}

func (a *InsertManyArgs) decode(raw json.RawMessage) error {
	return positional(raw, 1, &a.Rows)
}

func (a *UpdateArgs) decode(raw json.RawMessage) error {
	return positional(raw, 2, &a.Plan, &a.Patch)
}

func (a *LeftJoinArgs) decode(raw json.RawMessage) error {
	return positional(raw, 2, &a.Other, &a.Options, &a.Plan)
}

// Error is the wire form of a storage error.
type Error struct {
	Kind    string      `json:"kind"`
	Code    string      `json:"code,omitempty"`
	Table   string      `json:"table,omitempty"`
	Column  string      `json:"column,omitempty"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// Err rebuilds a storage error, so that errors.Is matches the same kinds
// and codes on both sides of the wire.
func (e *Error) Err() error {
	switch e.Kind {
	case "":
		return errors.New(e.Message)
	case kindBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, e.Message)
	}
	return &core.Error{
		Kind:    core.Kind(e.Kind),
		Code:    e.Code,
		Table:   e.Table,
		Column:  e.Column,
		Value:   e.Value,
		Message: e.Message,
	}
}

// kindBadRequest is the kind of errors raised before reaching a table.
const kindBadRequest = "BadRequest"

func toError(err error) *Error {
	var serr *core.Error
	if errors.As(err, &serr) {
		msg := serr.Message
		if serr.Err != nil {
			if msg != "" {
				msg += ": "
			}
			msg += serr.Err.Error()
		}
		return &Error{
			Kind:    string(serr.Kind),
			Code:    serr.Code,
			Table:   serr.Table,
			Column:  serr.Column,
			Value:   serr.Value,
			Message: msg,
		}
	}
	if errors.Is(err, ErrBadRequest) {
		return &Error{Kind: kindBadRequest, Message: err.Error()}
	}
	return &Error{Message: err.Error()}
}
