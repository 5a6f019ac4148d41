// Package lockset serializes transactions of cursor-based adapters on the
// set of tables they touch.
package lockset

import (
	"slices"
	"sync"
)

// LockSet holds one reader/writer lock per table plus a catalog lock.
// Ordinary transactions hold the catalog lock shared; upgrade transactions
// hold it exclusively and so run alone.
type LockSet struct {
	mu      sync.Mutex
	catalog sync.RWMutex
	tables  map[string]*sync.RWMutex
}

// New creates an empty lock set.
func New() *LockSet {
	return &LockSet{tables: make(map[string]*sync.RWMutex)}
}

func (l *LockSet) table(name string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.tables[name]
	if !ok {
		m = &sync.RWMutex{}
		l.tables[name] = m
	}
	return m
}

// Acquire locks the named tables, shared when exclusive is false.
// Locks are taken in name order so concurrent transactions never deadlock.
// The returned function releases every lock and is safe to call twice.
func (l *LockSet) Acquire(tables []string, exclusive bool) func() {
	names := slices.Clone(tables)
	slices.Sort(names)
	names = slices.Compact(names)

	l.catalog.RLock()
	held := make([]*sync.RWMutex, 0, len(names))
	for _, name := range names {
		m := l.table(name)
		if exclusive {
			m.Lock()
		} else {
			m.RLock()
		}
		held = append(held, m)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				if exclusive {
					held[i].Unlock()
				} else {
					held[i].RUnlock()
				}
			}
			l.catalog.RUnlock()
		})
	}
}

// AcquireCatalog locks the whole catalog exclusively.
func (l *LockSet) AcquireCatalog() func() {
	l.catalog.Lock()
	var once sync.Once
	return func() {
		once.Do(l.catalog.Unlock)
	}
}
