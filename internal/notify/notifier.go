package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
)

// Queue types.
const (
	QueueNone   = "none"
	QueueMemory = "memory"
	QueueKafka  = "kafka"
)

// Config selects the queue between writers and subscribers.
type Config struct {
	// QueueType is "none" (publish straight to subscribers), "memory" or
	// "kafka".
	QueueType  string
	BufferSize int
	Relay      RelayConfig
	Kafka      KafkaConfig
}

// Notifier is the change publisher of a database: writers publish into the
// queue, the relay drains it into the broadcaster and subscribers read
// from the broadcaster.
type Notifier struct {
	queue       Queue
	relay       *Relay
	broadcaster *Broadcaster
	logger      *zap.Logger
}

var _ core.ChangePublisher = (*Notifier)(nil)

// New creates a notifier. The relay starts with Start.
func New(config Config, logger *zap.Logger) (*Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notify")

	n := &Notifier{
		broadcaster: NewBroadcaster(logger),
		logger:      logger,
	}
	switch config.QueueType {
	case "", QueueNone:
	case QueueMemory:
		n.queue = NewMemoryQueue(config.BufferSize)
	case QueueKafka:
		q, err := NewKafkaQueue(config.Kafka, logger)
		if err != nil {
			return nil, err
		}
		n.queue = q
	default:
		return nil, fmt.Errorf("unsupported notify queue type: %s", config.QueueType)
	}
	if n.queue != nil {
		n.relay = NewRelay(n.queue, n.broadcaster, config.Relay, logger)
	}
	return n, nil
}

// Publish enqueues changes, or broadcasts them when there is no queue. A
// change the queue rejects is logged and dropped; the write it describes
// has already committed.
func (n *Notifier) Publish(ctx context.Context, changes ...core.Change) error {
	if n.queue == nil {
		return n.broadcaster.Publish(ctx, changes...)
	}
	for _, change := range changes {
		if err := n.queue.Enqueue(ctx, change); err != nil {
			n.logger.Warn("dropping change notification",
				zap.String("table", change.Table),
				zap.String("op", string(change.Op)),
				zap.Error(err))
		}
	}
	return nil
}

// Subscribe subscribes to the changes of the given tables, or of all.
func (n *Notifier) Subscribe(buffer int, tables ...string) (<-chan core.Change, func()) {
	return n.broadcaster.Subscribe(buffer, tables...)
}

// Start starts the relay, if there is a queue.
func (n *Notifier) Start(ctx context.Context) {
	if n.relay != nil {
		n.relay.Start(ctx)
	}
}

// Pending returns the number of queued changes.
func (n *Notifier) Pending() int {
	if n.queue == nil {
		return 0
	}
	return n.queue.Size()
}

// Close stops the relay and closes the queue and every subscription.
func (n *Notifier) Close() error {
	if n.relay != nil {
		n.relay.Stop()
	}
	var err error
	if n.queue != nil {
		err = n.queue.Close()
	}
	_ = n.broadcaster.Close()
	return err
}
