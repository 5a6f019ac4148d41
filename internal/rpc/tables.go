package rpc

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/pkg/strata"
)

// TableMetadata describes a table exposed over RPC.
type TableMetadata struct {
	// Table is the façade calls are dispatched to.
	Table *strata.Table

	// ReadOnly refuses the write methods.
	ReadOnly bool

	// RegisteredAt is when the table was registered.
	RegisteredAt time.Time
}

// Tables is the set of tables a dispatcher may reach, by name. It is safe
// for concurrent use.
type Tables struct {
	mu     sync.RWMutex
	tables map[string]*TableMetadata
}

// NewTables creates an empty set.
func NewTables() *Tables {
	return &Tables{tables: make(map[string]*TableMetadata)}
}

// Register exposes a table. Registering a name again replaces it.
func (ts *Tables) Register(table *strata.Table, readOnly bool) error {
	if table == nil {
		return fmt.Errorf("table cannot be nil")
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tables[table.Name()] = &TableMetadata{
		Table:        table,
		ReadOnly:     readOnly,
		RegisteredAt: time.Now(),
	}
	return nil
}

// Unregister hides a table.
func (ts *Tables) Unregister(name string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.tables, name)
}

// Get returns the metadata of a registered table.
func (ts *Tables) Get(name string) (*TableMetadata, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	metadata, ok := ts.tables[name]
	if !ok {
		return nil, core.Errorf(core.ErrTableNotFound, "table is not exposed").With(name, "")
	}
	return metadata, nil
}

// List returns the registered names, sorted.
func (ts *Tables) List() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	names := make([]string, 0, len(ts.tables))
	for name := range ts.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tables.
func (ts *Tables) Count() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.tables)
}
