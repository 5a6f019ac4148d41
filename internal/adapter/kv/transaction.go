package kv

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/query"
	"github.com/rzpsarthak13/strata/internal/schema"
)

// write is a pending change of one key.
type write struct {
	key     string
	value   []byte
	deleted bool
}

func lessWrite(a, b write) bool { return a.key < b.key }

// transaction reads through its overlay of pending writes and applies the
// overlay to the store in one batch on commit.
type transaction struct {
	a       *Adapter
	keys    keyspace
	mode    core.TxMode
	scope   map[string]bool // nil when every table is in scope
	schemas map[string]*core.Schema
	writes  *btree.BTreeG[write]
	release func()
	done    bool

	// generation counts writes, so cursors know when buffered keys may be stale.
	generation int
}

var _ core.Transaction = (*transaction)(nil)

func (a *Adapter) newTransaction(keys keyspace, mode core.TxMode, scope map[string]bool, schemas map[string]*core.Schema, release func()) *transaction {
	return &transaction{
		a:       a,
		keys:    keys,
		mode:    mode,
		scope:   scope,
		schemas: schemas,
		writes:  btree.NewG(32, lessWrite),
		release: release,
	}
}

func (tx *transaction) Mode() core.TxMode { return tx.mode }

func (tx *transaction) Table(ctx context.Context, name string) (core.Table, error) {
	if tx.done {
		return nil, core.ErrTransactionClosed
	}
	if core.IsReserved(name) {
		return nil, core.ErrReservedTable.With(name, "")
	}
	if tx.scope != nil && !tx.scope[name] {
		return nil, core.ErrTableNotInScope.With(name, "")
	}
	if _, ok := tx.schemas[name]; !ok {
		return nil, core.TableNotFound(name)
	}
	return &handle{tx: tx, name: name}, nil
}

func (tx *transaction) Commit(ctx context.Context) error {
	if tx.done {
		return core.ErrTransactionClosed
	}
	tx.done = true
	defer tx.release()

	if tx.mode != core.ReadWrite || tx.writes.Len() == 0 {
		return nil
	}

	mutations := make([]core.Mutation, 0, tx.writes.Len())
	tx.writes.Ascend(func(w write) bool {
		mutations = append(mutations, core.Mutation{Key: w.key, Value: w.value, Delete: w.deleted})
		return true
	})
	if err := tx.a.store.Apply(ctx, mutations); err != nil {
		return core.EngineError("commit", err)
	}

	if tx.scope == nil {
		tx.a.mu.Lock()
		tx.a.schemas = tx.schemas
		tx.a.mu.Unlock()
	}
	tx.a.logger.Debug("transaction committed", zap.Int("mutations", len(mutations)))
	return nil
}

func (tx *transaction) Rollback(ctx context.Context) error {
	if tx.done {
		return core.ErrTransactionClosed
	}
	tx.done = true
	tx.release()
	return nil
}

func (tx *transaction) put(key string, value []byte) {
	tx.writes.ReplaceOrInsert(write{key: key, value: value})
	tx.generation++
}

func (tx *transaction) del(key string) {
	tx.writes.ReplaceOrInsert(write{key: key, deleted: true})
	tx.generation++
}

func (tx *transaction) get(ctx context.Context, key string) ([]byte, bool, error) {
	if w, ok := tx.writes.Get(write{key: key}); ok {
		return w.value, !w.deleted, nil
	}
	value, err := tx.a.store.Get(ctx, key)
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, core.EngineError("get", err)
	}
	return value, true, nil
}

// pending returns the overlay entries under prefix strictly after after,
// in scan order.
func (tx *transaction) pending(prefix, after string, reverse bool) []write {
	var out []write
	visit := func(w write) bool {
		if !strings.HasPrefix(w.key, prefix) {
			return false
		}
		if w.key != after {
			out = append(out, w)
		}
		return true
	}

	switch {
	case !reverse && after != "":
		tx.writes.AscendGreaterOrEqual(write{key: after}, visit)
	case !reverse:
		tx.writes.AscendGreaterOrEqual(write{key: prefix}, visit)
	case after != "":
		tx.writes.DescendLessOrEqual(write{key: after}, visit)
	default:
		end := core.PrefixEnd(prefix)
		if end == "" {
			tx.writes.Descend(visit)
			break
		}
		tx.writes.DescendLessOrEqual(write{key: end}, func(w write) bool {
			if w.key == end {
				return true
			}
			return visit(w)
		})
	}
	return out
}

// scan returns up to limit live pairs under prefix strictly after after,
// merging the store with the overlay. Fewer than limit pairs means the
// range is exhausted.
func (tx *transaction) scan(ctx context.Context, prefix, after string, reverse bool, limit int) ([]core.KVPair, error) {
	var (
		out       []core.KVPair
		overlay   = tx.pending(prefix, after, reverse)
		stored    []core.KVPair
		storeNext = after
		storeDone = false
		page      = max(limit, scanBatch)
	)
	before := func(a, b string) bool {
		if reverse {
			return a > b
		}
		return a < b
	}

	for len(out) < limit {
		if len(stored) == 0 && !storeDone {
			pairs, err := tx.a.store.ScanPage(ctx, prefix, storeNext, reverse, page)
			if err != nil {
				return nil, core.EngineError("scan", err)
			}
			if len(pairs) < page {
				storeDone = true
			}
			if len(pairs) > 0 {
				storeNext = pairs[len(pairs)-1].Key
			}
			stored = pairs
		}

		switch {
		case len(stored) == 0 && len(overlay) == 0:
			return out, nil
		case len(overlay) == 0 || (len(stored) > 0 && before(stored[0].Key, overlay[0].key)):
			out = append(out, stored[0])
			stored = stored[1:]
		default:
			w := overlay[0]
			overlay = overlay[1:]
			if len(stored) > 0 && stored[0].Key == w.key {
				stored = stored[1:]
			}
			if !w.deleted {
				out = append(out, core.KVPair{Key: w.key, Value: w.value})
			}
		}
	}
	return out, nil
}

// deleteRange deletes every live key under prefix.
func (tx *transaction) deleteRange(ctx context.Context, prefix string) error {
	after := ""
	for {
		pairs, err := tx.scan(ctx, prefix, after, false, scanBatch)
		if err != nil {
			return err
		}
		for _, p := range pairs {
			tx.del(p.Key)
		}
		if len(pairs) < scanBatch {
			return nil
		}
		after = pairs[len(pairs)-1].Key
	}
}

// rows visits every row of the table in primary key order.
func (tx *transaction) rows(ctx context.Context, s *core.Schema, fn func(ref string, row core.Row) error) error {
	prefix := tx.keys.rowPrefix(s.TableName)
	after := ""
	for {
		pairs, err := tx.scan(ctx, prefix, after, false, scanBatch)
		if err != nil {
			return err
		}
		for _, p := range pairs {
			row, err := tx.a.translator.Decode(p.Value, s)
			if err != nil {
				return core.EngineError("decode row", err)
			}
			if err := fn(strings.TrimPrefix(p.Key, prefix), row); err != nil {
				return err
			}
		}
		if len(pairs) < scanBatch {
			return nil
		}
		after = pairs[len(pairs)-1].Key
	}
}

func (tx *transaction) getRow(ctx context.Context, s *core.Schema, ref string) (core.Row, bool, error) {
	value, ok, err := tx.get(ctx, tx.keys.rowKey(s.TableName, ref))
	if err != nil || !ok {
		return nil, false, err
	}
	row, err := tx.a.translator.Decode(value, s)
	if err != nil {
		return nil, false, core.EngineError("decode row", err)
	}
	return row, true, nil
}

func (tx *transaction) putRow(s *core.Schema, ref string, row core.Row) error {
	value, err := tx.a.translator.Encode(row, s)
	if err != nil {
		return err
	}
	tx.put(tx.keys.rowKey(s.TableName, ref), value)
	return nil
}

// checkUnique fails when another row holds the value of a unique column.
func (tx *transaction) checkUnique(ctx context.Context, s *core.Schema, c core.Column, value interface{}, ref string) error {
	if value == nil {
		return nil
	}
	key, err := tx.keys.uniqueKey(s.TableName, c.Name, value)
	if err != nil {
		return err
	}
	owner, ok, err := tx.get(ctx, key)
	if err != nil {
		return err
	}
	if ok && string(owner) != ref {
		return core.UniqueViolation(s.TableName, c.Name, value)
	}
	return nil
}

func (tx *transaction) putEntries(s *core.Schema, c core.Column, value interface{}, ref string) error {
	key, err := tx.keys.indexKey(s.TableName, c.Name, value, ref)
	if err != nil {
		return err
	}
	tx.put(key, []byte(ref))
	if c.Unique && value != nil {
		key, err := tx.keys.uniqueKey(s.TableName, c.Name, value)
		if err != nil {
			return err
		}
		tx.put(key, []byte(ref))
	}
	return nil
}

func (tx *transaction) deleteEntries(s *core.Schema, c core.Column, value interface{}, ref string) error {
	key, err := tx.keys.indexKey(s.TableName, c.Name, value, ref)
	if err != nil {
		return err
	}
	tx.del(key)
	if c.Unique && value != nil {
		key, err := tx.keys.uniqueKey(s.TableName, c.Name, value)
		if err != nil {
			return err
		}
		tx.del(key)
	}
	return nil
}

func (tx *transaction) insertRow(ctx context.Context, s *core.Schema, row core.Row) error {
	pk := row[s.PrimaryKey]
	ref, err := query.EncodeKey(pk)
	if err != nil {
		return err
	}
	if _, exists, err := tx.get(ctx, tx.keys.rowKey(s.TableName, ref)); err != nil {
		return err
	} else if exists {
		return core.UniqueViolation(s.TableName, s.PrimaryKey, pk)
	}

	indexed := s.IndexedColumns()
	for _, c := range indexed {
		if c.Unique {
			if err := tx.checkUnique(ctx, s, c, row[c.Name], ref); err != nil {
				return err
			}
		}
	}
	if err := tx.putRow(s, ref, row); err != nil {
		return err
	}
	for _, c := range indexed {
		if err := tx.putEntries(s, c, row[c.Name], ref); err != nil {
			return err
		}
	}
	return nil
}

// replaceRow stores updated in place of old. The primary key is unchanged.
func (tx *transaction) replaceRow(ctx context.Context, s *core.Schema, old, updated core.Row) error {
	ref, err := query.EncodeKey(old[s.PrimaryKey])
	if err != nil {
		return err
	}

	var changed []core.Column
	for _, c := range s.IndexedColumns() {
		if query.Compare(old[c.Name], updated[c.Name]) != 0 {
			changed = append(changed, c)
		}
	}
	for _, c := range changed {
		if c.Unique {
			if err := tx.checkUnique(ctx, s, c, updated[c.Name], ref); err != nil {
				return err
			}
		}
	}
	if err := tx.putRow(s, ref, updated); err != nil {
		return err
	}
	for _, c := range changed {
		if err := tx.deleteEntries(s, c, old[c.Name], ref); err != nil {
			return err
		}
		if err := tx.putEntries(s, c, updated[c.Name], ref); err != nil {
			return err
		}
	}
	return nil
}

func (tx *transaction) removeRow(s *core.Schema, row core.Row) error {
	ref, err := query.EncodeKey(row[s.PrimaryKey])
	if err != nil {
		return err
	}
	tx.del(tx.keys.rowKey(s.TableName, ref))
	for _, c := range s.IndexedColumns() {
		if err := tx.deleteEntries(s, c, row[c.Name], ref); err != nil {
			return err
		}
	}
	return nil
}

// atomically runs fn and drops its writes when it fails.
func (tx *transaction) atomically(fn func() error) error {
	snapshot := tx.writes.Clone()
	if err := fn(); err != nil {
		tx.writes = snapshot
		tx.generation++
		return err
	}
	return nil
}

// upgradeTransaction sees every table and may change schemas.
type upgradeTransaction struct {
	*transaction
	oldVersion int
}

var _ core.UpgradeTransaction = (*upgradeTransaction)(nil)

func (tx *upgradeTransaction) OldVersion() int { return tx.oldVersion }

func (tx *upgradeTransaction) putSchema(s *core.Schema) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tx.put(tx.keys.schemaKey(s.TableName), data)
	tx.schemas[s.TableName] = s
	return nil
}

func (tx *upgradeTransaction) CreateTable(ctx context.Context, s *core.Schema) error {
	if tx.done {
		return core.ErrTransactionClosed
	}
	if s != nil && core.IsReserved(s.TableName) {
		return core.ErrReservedTable.With(s.TableName, "")
	}
	if err := schema.CheckDefinition(s); err != nil {
		return err
	}
	if _, exists := tx.schemas[s.TableName]; exists {
		return core.ErrTableExists.With(s.TableName, "")
	}
	return tx.putSchema(s.Clone())
}

func (tx *upgradeTransaction) DropTable(ctx context.Context, name string) error {
	if _, err := tx.userTable(name); err != nil {
		return err
	}
	return tx.atomically(func() error {
		if err := tx.deleteRange(ctx, tx.keys.tablePrefix(name)); err != nil {
			return err
		}
		tx.del(tx.keys.schemaKey(name))
		delete(tx.schemas, name)
		return nil
	})
}

func (tx *upgradeTransaction) CreateIndex(ctx context.Context, name, column string, unique bool) error {
	s, err := tx.userTable(name)
	if err != nil {
		return err
	}
	c, ok := s.Column(column)
	if !ok {
		return core.Errorf(core.ErrInvalidColumn, "unknown column").With(name, column)
	}
	if c.PrimaryKey {
		return nil
	}
	if !c.Type.Orderable() {
		return core.Errorf(core.ErrInvalidColumn, "%s columns cannot be indexed", c.Type).With(name, column)
	}

	updated := c
	updated.Indexed = true
	updated.Unique = c.Unique || unique
	if updated == c {
		return nil
	}
	buildIndex := !c.Indexed && !c.Unique
	buildUnique := updated.Unique && !c.Unique

	return tx.atomically(func() error {
		err := tx.rows(ctx, s, func(ref string, row core.Row) error {
			value := row[column]
			if buildIndex {
				key, err := tx.keys.indexKey(name, column, value, ref)
				if err != nil {
					return err
				}
				tx.put(key, []byte(ref))
			}
			if buildUnique && value != nil {
				if err := tx.checkUnique(ctx, s, updated, value, ref); err != nil {
					return err
				}
				key, err := tx.keys.uniqueKey(name, column, value)
				if err != nil {
					return err
				}
				tx.put(key, []byte(ref))
			}
			return nil
		})
		if err != nil {
			return err
		}
		next := s.Clone()
		next.Columns[column] = updated
		return tx.putSchema(next)
	})
}

func (tx *upgradeTransaction) AddColumn(ctx context.Context, name string, column core.Column) error {
	s, err := tx.userTable(name)
	if err != nil {
		return err
	}
	c, err := schema.CheckNewColumn(s, column)
	if err != nil {
		return err
	}
	next := schema.WithColumn(s, c)

	// Stored rows decode the missing column as NULL; only an index needs
	// entries for them.
	return tx.atomically(func() error {
		if c.Indexed {
			err := tx.rows(ctx, s, func(ref string, row core.Row) error {
				return tx.putEntries(next, c, nil, ref)
			})
			if err != nil {
				return err
			}
		}
		return tx.putSchema(next)
	})
}

func (tx *upgradeTransaction) SetVersion(ctx context.Context, version int) error {
	if tx.done {
		return core.ErrTransactionClosed
	}
	ref, err := query.EncodeKey(core.MigrationsRowID)
	if err != nil {
		return err
	}
	return tx.putRow(tx.schemas[core.MigrationsTable], ref, core.Row{
		"id":      core.MigrationsRowID,
		"version": int64(version),
	})
}

func (tx *upgradeTransaction) userTable(name string) (*core.Schema, error) {
	if tx.done {
		return nil, core.ErrTransactionClosed
	}
	if core.IsReserved(name) {
		return nil, core.ErrReservedTable.With(name, "")
	}
	s, ok := tx.schemas[name]
	if !ok {
		return nil, core.TableNotFound(name)
	}
	return s, nil
}
