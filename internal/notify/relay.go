package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/strata/internal/core"
)

// RelayConfig controls how fast the relay drains its queue.
type RelayConfig struct {
	// DrainRate is the maximum number of changes delivered per second.
	DrainRate int

	// BatchSize is how many changes to dequeue at once.
	BatchSize int

	// PollInterval is how long to wait when the queue is empty.
	PollInterval time.Duration
}

// DefaultRelayConfig returns the relay defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		DrainRate:    50,
		BatchSize:    100,
		PollInterval: 100 * time.Millisecond,
	}
}

// Relay moves changes from a queue to a publisher, at most DrainRate per
// second.
type Relay struct {
	queue  Queue
	sink   core.ChangePublisher
	config RelayConfig
	logger *zap.Logger

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	delivered int
}

// NewRelay creates a stopped relay.
func NewRelay(queue Queue, sink core.ChangePublisher, config RelayConfig, logger *zap.Logger) *Relay {
	defaults := DefaultRelayConfig()
	if config.DrainRate <= 0 {
		config.DrainRate = defaults.DrainRate
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		queue:  queue,
		sink:   sink,
		config: config,
		logger: logger.Named("relay"),
	}
}

// Start runs the relay in its own goroutine until Stop is called or ctx
// is done.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go r.run(ctx, r.stopCh, r.doneCh)
	r.logger.Info("relay started", zap.Int("drain_rate", r.config.DrainRate))
}

// Stop waits for the change being delivered, if any, and stops the relay.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh
	r.logger.Info("relay stopped", zap.Int("delivered", r.Delivered()))
}

// Running reports whether the relay goroutine is active.
func (r *Relay) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Delivered returns how many changes the relay handed to its sink.
func (r *Relay) Delivered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivered
}

func (r *Relay) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(r.config.DrainRate), 1)
	for {
		if ctx.Err() != nil {
			return
		}

		changes, err := r.queue.Dequeue(ctx, r.config.BatchSize)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("dequeue failed", zap.Error(err))
		}
		if len(changes) == 0 {
			if errors.Is(err, ErrQueueClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.config.PollInterval):
			}
			continue
		}

		for _, change := range changes {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if err := r.sink.Publish(ctx, change); err != nil {
				r.logger.Warn("failed to deliver change",
					zap.String("table", change.Table),
					zap.String("op", string(change.Op)),
					zap.Error(err))
				continue
			}
			r.mu.Lock()
			r.delivered++
			r.mu.Unlock()
		}
	}
}
