package core

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by KVStore.Get for a missing key.
var ErrKeyNotFound = errors.New("key not found")

// KVPair is one key and its value.
type KVPair struct {
	Key   string
	Value []byte
}

// Mutation is a single write applied by KVStore.Apply.
type Mutation struct {
	Key    string
	Value  []byte
	Delete bool
}

// KVStore defines the interface for an ordered key-value store.
// Implementations include Redis, DynamoDB and an in-process B-tree.
type KVStore interface {
	// Get retrieves a value by key from the store.
	// Returns ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks if a key exists in the store.
	Exists(ctx context.Context, key string) (bool, error)

	// ScanPage returns up to limit pairs whose keys start with prefix, in
	// byte order (reverse order when reverse is set), strictly after the
	// key after. An empty after starts from the edge of the prefix range.
	ScanPage(ctx context.Context, prefix, after string, reverse bool, limit int) ([]KVPair, error)

	// Apply writes all mutations atomically.
	Apply(ctx context.Context, mutations []Mutation) error

	// Close closes the connection to the KV store and releases resources.
	Close() error
}

// PrefixEnd returns the smallest key greater than every key that starts
// with prefix, or "" when no such key exists.
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
