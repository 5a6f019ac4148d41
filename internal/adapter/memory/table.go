package memory

import (
	"strings"

	"github.com/google/btree"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/query"
)

const degree = 32

// entry is an item of a row tree or of an index tree. Row entries are
// keyed by the encoded primary key and carry the row; index entries are
// keyed by the encoded (value, primary key) pair and point at the row.
type entry struct {
	key string
	ref string
	row core.Row
}

func lessEntry(a, b entry) bool { return a.key < b.key }

func newTree() *btree.BTreeG[entry] {
	return btree.NewG(degree, lessEntry)
}

// table is one table of the catalog. Committed tables are never modified:
// transactions write to clones and swap them in on commit.
type table struct {
	schema  *core.Schema
	rows    *btree.BTreeG[entry]
	indexes map[string]*btree.BTreeG[entry]
}

func newTable(s *core.Schema) *table {
	t := &table{
		schema:  s,
		rows:    newTree(),
		indexes: make(map[string]*btree.BTreeG[entry]),
	}
	for _, c := range s.IndexedColumns() {
		t.indexes[c.Name] = newTree()
	}
	return t
}

// clone is O(1): the trees are copied lazily on write.
func (t *table) clone() *table {
	out := &table{
		schema:  t.schema,
		rows:    t.rows.Clone(),
		indexes: make(map[string]*btree.BTreeG[entry], len(t.indexes)),
	}
	for name, idx := range t.indexes {
		out.indexes[name] = idx.Clone()
	}
	return out
}

func (t *table) tree(index string) (*btree.BTreeG[entry], bool) {
	if index == "" || index == t.schema.PrimaryKey {
		return t.rows, true
	}
	idx, ok := t.indexes[index]
	return idx, ok
}

func (t *table) get(ref string) (core.Row, bool) {
	e, ok := t.rows.Get(entry{key: ref})
	return e.row, ok
}

func indexKey(value interface{}, ref string) (string, error) {
	k, err := query.EncodeKey(value)
	if err != nil {
		return "", err
	}
	return k + ref, nil
}

// conflict reports whether another row already holds value in a unique
// column.
func (t *table) conflict(column string, value interface{}, self string) (bool, error) {
	if value == nil {
		return false, nil
	}
	prefix, err := query.EncodeKey(value)
	if err != nil {
		return false, err
	}
	found := false
	t.indexes[column].AscendGreaterOrEqual(entry{key: prefix}, func(e entry) bool {
		if !strings.HasPrefix(e.key, prefix) {
			return false
		}
		if e.ref != self {
			found = true
			return false
		}
		return true
	})
	return found, nil
}

func (t *table) checkUnique(row core.Row, ref string, changed func(string) bool) error {
	for _, c := range t.schema.IndexedColumns() {
		if !c.Unique || !changed(c.Name) {
			continue
		}
		taken, err := t.conflict(c.Name, row[c.Name], ref)
		if err != nil {
			return err
		}
		if taken {
			return core.UniqueViolation(t.schema.TableName, c.Name, row[c.Name])
		}
	}
	return nil
}

func (t *table) insert(row core.Row) error {
	ref, err := query.EncodeKey(row[t.schema.PrimaryKey])
	if err != nil {
		return err
	}
	if t.rows.Has(entry{key: ref}) {
		return core.UniqueViolation(t.schema.TableName, t.schema.PrimaryKey, row[t.schema.PrimaryKey])
	}
	if err := t.checkUnique(row, ref, func(string) bool { return true }); err != nil {
		return err
	}

	t.rows.ReplaceOrInsert(entry{key: ref, ref: ref, row: row})
	for name, idx := range t.indexes {
		k, err := indexKey(row[name], ref)
		if err != nil {
			return err
		}
		idx.ReplaceOrInsert(entry{key: k, ref: ref})
	}
	return nil
}

// replace swaps the stored version of a row. The primary key is unchanged.
func (t *table) replace(old, updated core.Row) error {
	ref, err := query.EncodeKey(old[t.schema.PrimaryKey])
	if err != nil {
		return err
	}
	changed := func(name string) bool { return query.Compare(old[name], updated[name]) != 0 }
	if err := t.checkUnique(updated, ref, changed); err != nil {
		return err
	}

	t.rows.ReplaceOrInsert(entry{key: ref, ref: ref, row: updated})
	for name, idx := range t.indexes {
		if !changed(name) {
			continue
		}
		oldKey, err := indexKey(old[name], ref)
		if err != nil {
			return err
		}
		newKey, err := indexKey(updated[name], ref)
		if err != nil {
			return err
		}
		idx.Delete(entry{key: oldKey})
		idx.ReplaceOrInsert(entry{key: newKey, ref: ref})
	}
	return nil
}

func (t *table) remove(row core.Row) error {
	ref, err := query.EncodeKey(row[t.schema.PrimaryKey])
	if err != nil {
		return err
	}
	t.rows.Delete(entry{key: ref})
	for name, idx := range t.indexes {
		k, err := indexKey(row[name], ref)
		if err != nil {
			return err
		}
		idx.Delete(entry{key: k})
	}
	return nil
}

// withIndex returns a copy of the table that also keeps an index on
// column.
func (t *table) withIndex(column core.Column) (*table, error) {
	out := t.clone()
	out.schema = t.schema.Clone()
	out.schema.Columns[column.Name] = column
	idx := newTree()
	out.indexes[column.Name] = idx

	var err error
	t.rows.Ascend(func(e entry) bool {
		var k string
		if k, err = indexKey(e.row[column.Name], e.ref); err != nil {
			return false
		}
		idx.ReplaceOrInsert(entry{key: k, ref: e.ref})
		return true
	})
	if err != nil {
		return nil, err
	}

	if column.Unique {
		var prev entry
		first := true
		idx.Ascend(func(e entry) bool {
			row, _ := t.get(e.ref)
			if !first && row[column.Name] != nil {
				prevRow, _ := t.get(prev.ref)
				if query.Compare(prevRow[column.Name], row[column.Name]) == 0 {
					err = core.UniqueViolation(t.schema.TableName, column.Name, row[column.Name])
					return false
				}
			}
			prev, first = e, false
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// withColumn returns a copy of the table where every row holds NULL for a
// new column.
func (t *table) withColumn(column core.Column) (*table, error) {
	s := t.schema.Clone()
	s.Columns[column.Name] = column
	out := newTable(s)
	for name, idx := range t.indexes {
		out.indexes[name] = idx.Clone()
	}

	var err error
	t.rows.Ascend(func(e entry) bool {
		row := e.row.Clone()
		row[column.Name] = nil
		out.rows.ReplaceOrInsert(entry{key: e.key, ref: e.ref, row: row})
		if idx, ok := out.indexes[column.Name]; ok {
			var k string
			if k, err = indexKey(nil, e.ref); err != nil {
				return false
			}
			idx.ReplaceOrInsert(entry{key: k, ref: e.ref})
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
