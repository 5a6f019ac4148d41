package strata

import (
	"context"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/cursor"
	"github.com/rzpsarthak13/strata/internal/query"
	"github.com/rzpsarthak13/strata/internal/schema"
)

var mapper = schema.NewTypeMapper()

// JoinKey pairs a column of the left table with a column of the right one.
type JoinKey struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// On pairs left and right join columns.
func On(left, right string) JoinKey {
	return JoinKey{Left: left, Right: right}
}

// JoinOptions configures LeftJoin.
type JoinOptions struct {
	// On lists the key pairs. A left row joins when every pair matches
	// the same right row.
	On []JoinKey `json:"on"`

	// Where filters the right table before joining.
	Where *Where `json:"where,omitempty"`
}

// JoinedTable returns the rows of the left table that have a matching
// row in the right table.
type JoinedTable struct {
	left  *Table
	right *Table
	keys  []JoinKey
	where *Where
}

// LeftJoin joins other by membership: the right matches are read first and
// their key values become a filter on this table. Adapters need no native
// join support.
func (t *Table) LeftJoin(other *Table, opts JoinOptions) (*JoinedTable, error) {
	if other == nil {
		return nil, core.Errorf(core.ErrIllegalArgument, "join table cannot be nil")
	}
	if len(opts.On) == 0 {
		return nil, core.Errorf(core.ErrMissingJoinKey, "join of %s and %s has no key pairs", t.Name(), other.Name())
	}
	for _, key := range opts.On {
		if _, ok := t.schema.Column(key.Left); !ok {
			return nil, core.Errorf(core.ErrUnknownColumn, "no such join column").With(t.Name(), key.Left)
		}
		if _, ok := other.schema.Column(key.Right); !ok {
			return nil, core.Errorf(core.ErrUnknownColumn, "no such join column").With(other.Name(), key.Right)
		}
	}
	return &JoinedTable{
		left:  t,
		right: other,
		keys:  append([]JoinKey(nil), opts.On...),
		where: opts.Where,
	}, nil
}

// FindFirst returns the first joined row.
func (j *JoinedTable) FindFirst(ctx context.Context, plan Plan) (Row, bool, error) {
	rows, err := j.FindMany(ctx, plan.WithLimit(1).WithOffset(0))
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	return rows[0], true, nil
}

// FindMany returns the left rows that join, filtered, ordered and paged by
// plan. Both tables are read in the same read-only transaction.
func (j *JoinedTable) FindMany(ctx context.Context, plan Plan) ([]Row, error) {
	var rows []Row
	err := j.view(ctx, func(left, right *Table) error {
		members, err := right.FindMany(ctx, Plan{Where: j.where})
		if err != nil {
			return err
		}
		tuples := j.tuples(members)
		if j.pushdown(tuples) {
			plan.Where = core.Conjoin(j.membership(tuples), plan.Where)
			rows, err = left.FindMany(ctx, plan)
			return err
		}
		rows, err = j.filter(ctx, left, tuples, plan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (j *JoinedTable) view(ctx context.Context, fn func(left, right *Table) error) error {
	if j.left.tx != nil {
		return fn(j.left, j.right.In(j.left.tx))
	}
	tables := []string{j.left.Name()}
	if j.right.Name() != j.left.Name() {
		tables = append(tables, j.right.Name())
	}
	return j.left.db.View(ctx, tables, func(tx *Tx) error {
		return fn(j.left.In(tx), j.right.In(tx))
	})
}

// Membership is handed to the left table as a where condition only while
// it stays small: engines cap bound parameters and expression depth.
// Larger sets are matched while scanning the left table.
const (
	pushdownValues = 500
	pushdownGroups = 50
)

func (j *JoinedTable) pushdown(tuples [][]interface{}) bool {
	if len(tuples)*len(j.keys) > pushdownValues {
		return false
	}
	return len(j.keys) == 1 || len(tuples) <= pushdownGroups
}

// tuples returns the distinct join key tuples of the right rows, in row
// order. Tuples holding a null never join and are dropped.
func (j *JoinedTable) tuples(rows []Row) [][]interface{} {
	seen := make(map[string]struct{}, len(rows))
	out := make([][]interface{}, 0, len(rows))
next:
	for _, row := range rows {
		tuple := make([]interface{}, len(j.keys))
		for i, key := range j.keys {
			if tuple[i] = row[key.Right]; tuple[i] == nil {
				continue next
			}
		}
		if key, err := query.EncodeTuple(tuple...); err == nil {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, tuple)
	}
	return out
}

// membership turns the key tuples into a condition on the left table. One
// key pair becomes an in condition; several become an or of and groups,
// one per tuple.
func (j *JoinedTable) membership(tuples [][]interface{}) *Where {
	if len(j.keys) == 1 {
		values := make([]interface{}, len(tuples))
		for i, tuple := range tuples {
			values[i] = tuple[0]
		}
		return core.Cond(j.keys[0].Left, core.OpIn, values)
	}

	groups := make([]*Where, len(tuples))
	for i, tuple := range tuples {
		conds := make([]*Where, len(j.keys))
		for k, key := range j.keys {
			conds[k] = core.Cond(key.Left, core.OpEquals, tuple[k])
		}
		groups[i] = core.And(conds...)
	}
	return core.Or(groups...)
}

// filter reads the left rows matching plan's where and order and keeps
// those whose key tuple is a member, applying offset and limit after the
// membership test.
func (j *JoinedTable) filter(ctx context.Context, left *Table, tuples [][]interface{}, plan Plan) ([]Row, error) {
	s := left.schema
	offset, limit := plan.Window()
	if plan.Limit != nil && *plan.Limit < 0 {
		return nil, core.Errorf(core.ErrInvalidPlan, "limit must not be negative").With(s.TableName, "")
	}
	if offset < 0 {
		return nil, core.Errorf(core.ErrInvalidPlan, "offset must not be negative").With(s.TableName, "")
	}

	set := make(map[string]struct{}, len(tuples))
	normalized := make([]interface{}, len(j.keys))
	for _, tuple := range tuples {
		for i, key := range j.keys {
			column, _ := s.Column(key.Left)
			v, err := mapper.Normalize(tuple[i], column.Type)
			if err != nil {
				return nil, &core.Error{
					Kind:   core.KindQuery,
					Code:   core.ErrInvalidValue.Code,
					Table:  s.TableName,
					Column: column.Name,
					Value:  tuple[i],
					Err:    err,
				}
			}
			normalized[i] = v
		}
		if key, err := query.EncodeTuple(normalized...); err == nil {
			set[key] = struct{}{}
		}
	}

	member := func(row Row) bool {
		values := make([]interface{}, len(j.keys))
		for i, key := range j.keys {
			if values[i] = row[key.Left]; values[i] == nil {
				return false
			}
		}
		key, err := query.EncodeTuple(values...)
		if err != nil {
			return false
		}
		_, ok := set[key]
		return ok
	}

	var rows []Row
	err := left.run(ctx, core.ReadOnly, func(_ *Tx, h core.Table) error {
		seq := h.Select(ctx, Plan{Where: plan.Where, OrderBy: plan.OrderBy})
		var err error
		rows, err = cursor.Collect(cursor.Filter(seq, member, offset, limit))
		return err
	})
	return rows, err
}
