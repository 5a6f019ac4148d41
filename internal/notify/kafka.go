package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
)

// KafkaQueue implements Queue on a Kafka topic. Changes are keyed by table
// so that the changes of one table stay ordered within a partition.
type KafkaQueue struct {
	writer  *kafka.Writer
	reader  *kafka.Reader
	topic   string
	groupID string
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	size   int // approximate, Kafka has no queue length
}

var _ Queue = (*KafkaQueue)(nil)

// KafkaConfig holds configuration for the Kafka queue.
type KafkaConfig struct {
	Brokers         []string
	Topic           string
	GroupID         string
	BatchSize       int
	BatchTimeout    time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	RequiredAcks    int // 0, 1, or -1 (all)
	MaxMessageBytes int
	MinBytes        int
	MaxBytes        int
	MaxWait         time.Duration
}

// NewKafkaQueue creates a producer and a consumer group reader on the topic.
func NewKafkaQueue(config KafkaConfig, logger *zap.Logger) (*KafkaQueue, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if config.GroupID == "" {
		config.GroupID = "strata-changes"
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kafka")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		BatchBytes:   int64(config.MaxMessageBytes),
		MaxAttempts:  3,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    config.MinBytes,
		MaxBytes:    config.MaxBytes,
		MaxWait:     config.MaxWait,
		StartOffset: kafka.FirstOffset,
	})

	logger.Info("kafka queue initialized",
		zap.Strings("brokers", config.Brokers),
		zap.String("topic", config.Topic),
		zap.String("group_id", config.GroupID),
		zap.Int("required_acks", config.RequiredAcks))

	return &KafkaQueue{
		writer:  writer,
		reader:  reader,
		topic:   config.Topic,
		groupID: config.GroupID,
		timeout: config.ReadTimeout,
		logger:  logger,
	}, nil
}

// Enqueue produces the change synchronously.
func (q *KafkaQueue) Enqueue(ctx context.Context, change core.Change) error {
	if err := checkChange(change); err != nil {
		return err
	}
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(change.Table),
		Value: data,
		Time:  change.Timestamp,
		Headers: []kafka.Header{
			{Key: "op", Value: []byte(change.Op)},
			{Key: "table", Value: []byte(change.Table)},
		},
	}

	start := time.Now()
	if err := q.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	q.mu.Lock()
	q.size++
	q.mu.Unlock()

	q.logger.Debug("change produced",
		zap.String("table", change.Table),
		zap.String("op", string(change.Op)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Dequeue consumes up to batchSize messages, waiting at most ReadTimeout
// for each. Offsets are committed once the batch is decoded.
func (q *KafkaQueue) Dequeue(ctx context.Context, batchSize int) ([]core.Change, error) {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	var (
		changes  = make([]core.Change, 0, batchSize)
		messages = make([]kafka.Message, 0, batchSize)
	)
	for i := 0; i < batchSize; i++ {
		readCtx, cancel := context.WithTimeout(ctx, q.timeout)
		message, err := q.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			q.logger.Error("failed to read message", zap.String("topic", q.topic), zap.Error(err))
			break
		}
		messages = append(messages, message)

		var change core.Change
		if err := json.Unmarshal(message.Value, &change); err != nil {
			q.logger.Warn("skipping undecodable message",
				zap.Int("partition", message.Partition),
				zap.Int64("offset", message.Offset),
				zap.Error(err))
			continue
		}
		changes = append(changes, change)
	}

	if len(messages) > 0 {
		if err := q.reader.CommitMessages(ctx, messages...); err != nil {
			q.logger.Warn("failed to commit offsets", zap.Int("messages", len(messages)), zap.Error(err))
		}
		q.mu.Lock()
		q.size -= len(changes)
		if q.size < 0 {
			q.size = 0
		}
		q.mu.Unlock()
	}
	return changes, nil
}

// Size returns the number of changes produced and not yet consumed by this
// process. Kafka does not expose the queue length.
func (q *KafkaQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	if err := q.writer.Close(); err != nil {
		q.logger.Error("failed to close writer", zap.Error(err))
	}
	return q.reader.Close()
}
