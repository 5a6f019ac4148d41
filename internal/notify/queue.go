// Package notify carries change notifications out of the process. Writes
// publish core.Change values after commit; a queue buffers them (in memory
// or in Kafka), a rate-limited relay drains the queue, and a broadcaster
// fans them out to subscribers such as the RPC change stream.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rzpsarthak13/strata/internal/core"
)

var (
	// ErrQueueClosed is returned when trying to enqueue to a closed queue.
	ErrQueueClosed = errors.New("change queue is closed")

	// ErrQueueFull is returned when a bounded queue has no room left.
	ErrQueueFull = errors.New("change queue is full")

	// ErrInvalidChange is returned for changes without a table.
	ErrInvalidChange = errors.New("invalid change")
)

// Queue buffers change notifications between the writer and the relay.
type Queue interface {
	// Enqueue adds a change to the queue.
	Enqueue(ctx context.Context, change core.Change) error

	// Dequeue retrieves up to batchSize changes in publication order.
	// Returns an empty slice if no changes are available.
	Dequeue(ctx context.Context, batchSize int) ([]core.Change, error)

	// Size returns the number of buffered changes. Approximate for Kafka.
	Size() int

	Close() error
}

func checkChange(change core.Change) error {
	if change.Table == "" {
		return fmt.Errorf("%w: table name is required", ErrInvalidChange)
	}
	return nil
}

// MemoryQueue implements Queue with a bounded channel.
type MemoryQueue struct {
	queue  chan core.Change
	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue holding at most bufferSize changes.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &MemoryQueue{queue: make(chan core.Change, bufferSize)}
}

// Enqueue never blocks: a full queue rejects the change.
func (q *MemoryQueue) Enqueue(ctx context.Context, change core.Change) error {
	if err := checkChange(change); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.queue <- change:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Dequeue returns what is buffered without waiting for more.
func (q *MemoryQueue) Dequeue(ctx context.Context, batchSize int) ([]core.Change, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	changes := make([]core.Change, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		select {
		case change, ok := <-q.queue:
			if !ok {
				return changes, nil
			}
			changes = append(changes, change)
		case <-ctx.Done():
			return changes, ctx.Err()
		default:
			return changes, nil
		}
	}
	return changes, nil
}

func (q *MemoryQueue) Size() int {
	return len(q.queue)
}

// Close prevents further enqueuing. Buffered changes can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}
