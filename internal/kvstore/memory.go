package kvstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/registry"
)

type memoryItem struct {
	key   string
	value []byte
}

func lessMemoryItem(a, b memoryItem) bool { return a.key < b.key }

// MemoryKVStore implements the core.KVStore interface on an in-process B-tree.
type MemoryKVStore struct {
	logger *zap.Logger

	mu     sync.RWMutex
	tree   *btree.BTreeG[memoryItem]
	closed bool
}

var _ core.KVStore = (*MemoryKVStore)(nil)

// NewMemoryKVStore creates an empty store.
func NewMemoryKVStore(logger *zap.Logger) *MemoryKVStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryKVStore{
		logger: logger.Named("kvstore.memory"),
		tree:   btree.NewG(32, lessMemoryItem),
	}
}

// Get retrieves a value by key from the store.
func (m *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("KV store is closed")
	}
	item, ok := m.tree.Get(memoryItem{key: key})
	if !ok {
		return nil, core.ErrKeyNotFound
	}
	return append([]byte(nil), item.value...), nil
}

// Exists checks if a key exists in the store.
func (m *MemoryKVStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, fmt.Errorf("KV store is closed")
	}
	return m.tree.Has(memoryItem{key: key}), nil
}

// ScanPage returns up to limit pairs under prefix strictly after the key after.
func (m *MemoryKVStore) ScanPage(ctx context.Context, prefix, after string, reverse bool, limit int) ([]core.KVPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("KV store is closed")
	}
	if limit <= 0 {
		return nil, nil
	}

	var out []core.KVPair
	visit := func(item memoryItem) bool {
		if !strings.HasPrefix(item.key, prefix) {
			return false
		}
		if item.key == after {
			return true
		}
		out = append(out, core.KVPair{Key: item.key, Value: append([]byte(nil), item.value...)})
		return len(out) < limit
	}

	switch {
	case !reverse && after != "":
		m.tree.AscendGreaterOrEqual(memoryItem{key: after}, visit)
	case !reverse:
		m.tree.AscendGreaterOrEqual(memoryItem{key: prefix}, visit)
	case after != "":
		m.tree.DescendLessOrEqual(memoryItem{key: after}, visit)
	default:
		if end := core.PrefixEnd(prefix); end != "" {
			m.tree.DescendLessOrEqual(memoryItem{key: end}, func(item memoryItem) bool {
				if item.key == end {
					return true
				}
				return visit(item)
			})
		} else {
			m.tree.Descend(visit)
		}
	}
	return out, nil
}

// Apply writes all mutations atomically.
func (m *MemoryKVStore) Apply(ctx context.Context, mutations []core.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("KV store is closed")
	}
	for _, mut := range mutations {
		if mut.Delete {
			m.tree.Delete(memoryItem{key: mut.Key})
			continue
		}
		m.tree.ReplaceOrInsert(memoryItem{key: mut.Key, value: append([]byte(nil), mut.Value...)})
	}
	m.logger.Debug("mutations applied", zap.Int("count", len(mutations)))
	return nil
}

// Close releases the tree.
func (m *MemoryKVStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.tree = btree.NewG(2, lessMemoryItem)
	return nil
}

// MemoryKVStoreFactory implements the KVStoreFactory interface for the in-process store.
type MemoryKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *MemoryKVStoreFactory) Type() string {
	return "memory"
}

// Validate accepts any configuration of type memory.
func (f *MemoryKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "memory" {
		return fmt.Errorf("invalid type for memory factory: %s", config.Type)
	}
	return nil
}

// Create creates an empty in-process store.
func (f *MemoryKVStoreFactory) Create(ctx context.Context, config KVStoreConfig) (core.KVStore, error) {
	return NewMemoryKVStore(config.logger()), nil
}

// MemoryConfigValidator validates the in-process store section.
type MemoryConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *MemoryConfigValidator) Type() string {
	return "memory"
}

// Validate checks that the configuration selects the in-process store.
func (v *MemoryConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.KVStore.Type != "memory" {
		return fmt.Errorf("invalid type for memory validator: %s", config.KVStore.Type)
	}
	return nil
}

func init() {
	RegisterFactory(&MemoryKVStoreFactory{})
	registry.RegisterValidator(&MemoryConfigValidator{})
}
