package rpc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/pkg/strata"
)

// Dispatcher routes requests to table façades.
type Dispatcher struct {
	tables *Tables
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher over tables.
func NewDispatcher(tables *Tables, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{tables: tables, logger: logger.Named("rpc")}
}

// Dispatch runs one request. Failures are reported in the response, never
// as a Go error, so a transport can always reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	start := time.Now()
	resp, err := d.dispatch(ctx, req)
	if err != nil {
		resp = &Response{Error: toError(err)}
	}
	resp.ID = req.ID

	d.logger.Debug("rpc call",
		zap.String("table", req.Table),
		zap.String("method", string(req.Method)),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) (*Response, error) {
	if !req.Method.Valid() {
		return nil, fmt.Errorf("%w: unknown method %q", ErrBadRequest, req.Method)
	}
	metadata, err := d.tables.Get(req.Table)
	if err != nil {
		return nil, err
	}
	table := metadata.Table
	if metadata.ReadOnly && writes(req.Method) {
		return nil, core.Errorf(core.ErrReadOnly, "table is exposed read-only").With(req.Table, "")
	}

	switch req.Method {
	case MethodFindFirst:
		var args FindArgs
		if err := args.decode(req.Args); err != nil {
			return nil, err
		}
		row, found, err := table.FindFirst(ctx, args.Plan)
		if err != nil {
			return nil, err
		}
		return &Response{Row: row, Found: &found}, nil

	case MethodFindMany:
		var args FindArgs
		if err := args.decode(req.Args); err != nil {
			return nil, err
		}
		rows, err := table.FindMany(ctx, args.Plan)
		return rowsResponse(rows, err)

	case MethodInsert:
		var args InsertArgs
		if err := args.decode(req.Args); err != nil {
			return nil, err
		}
		row, err := table.Insert(ctx, args.Row)
		if err != nil {
			return nil, err
		}
		return &Response{Row: row}, nil

	case MethodInsertMany:
		var args InsertManyArgs
		if err := args.decode(req.Args); err != nil {
			return nil, err
		}
		rows, err := table.InsertMany(ctx, args.Rows)
		return rowsResponse(rows, err)

	case MethodUpdate:
		var args UpdateArgs
		if err := args.decode(req.Args); err != nil {
			return nil, err
		}
		rows, err := table.Update(ctx, args.Plan, args.Patch)
		return rowsResponse(rows, err)

	case MethodDelete:
		var args FindArgs
		if err := args.decode(req.Args); err != nil {
			return nil, err
		}
		if err := table.Delete(ctx, args.Plan); err != nil {
			return nil, err
		}
		return &Response{}, nil

	case MethodDeleteAll:
		if err := positional(req.Args, 0); err != nil {
			return nil, err
		}
		if err := table.DeleteAll(ctx); err != nil {
			return nil, err
		}
		return &Response{}, nil

	case MethodLeftJoin:
		var args LeftJoinArgs
		if err := args.decode(req.Args); err != nil {
			return nil, err
		}
		other, err := d.tables.Get(args.Other)
		if err != nil {
			return nil, err
		}
		joined, err := table.LeftJoin(other.Table, args.Options)
		if err != nil {
			return nil, err
		}
		rows, err := joined.FindMany(ctx, args.Plan)
		return rowsResponse(rows, err)
	}
	return nil, fmt.Errorf("%w: unknown method %q", ErrBadRequest, req.Method)
}

func rowsResponse(rows []strata.Row, err error) (*Response, error) {
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []strata.Row{}
	}
	return &Response{Rows: rows}, nil
}

func writes(m Method) bool {
	switch m {
	case MethodInsert, MethodInsertMany, MethodUpdate, MethodDelete, MethodDeleteAll:
		return true
	}
	return false
}
