package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
)

// Broadcaster fans changes out to subscribers. A subscriber that does not
// keep up loses changes rather than stalling the others.
type Broadcaster struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[uint64]*subscription
	next        uint64
	closed      bool
}

type subscription struct {
	ch     chan core.Change
	tables map[string]bool // nil for every table
}

// NewBroadcaster creates a broadcaster without subscribers.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		logger:      logger.Named("broadcaster"),
		subscribers: make(map[uint64]*subscription),
	}
}

// Subscribe returns a channel receiving the changes of the given tables,
// or of every table when none are given, and a function that cancels the
// subscription and closes the channel.
func (b *Broadcaster) Subscribe(buffer int, tables ...string) (<-chan core.Change, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscription{ch: make(chan core.Change, buffer)}
	if len(tables) > 0 {
		sub.tables = make(map[string]bool, len(tables))
		for _, t := range tables {
			sub.tables[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.next
	b.next++
	b.subscribers[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub.ch)
			}
		})
	}
}

// Publish delivers changes to every matching subscriber without blocking.
func (b *Broadcaster) Publish(ctx context.Context, changes ...core.Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, change := range changes {
		for _, sub := range b.subscribers {
			if sub.tables != nil && !sub.tables[change.Table] {
				continue
			}
			select {
			case sub.ch <- change:
			default:
				b.logger.Warn("subscriber is full, dropping change",
					zap.String("table", change.Table),
					zap.String("op", string(change.Op)))
			}
		}
	}
	return nil
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close ends every subscription.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	return nil
}
