package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-transactional-orders/internal/events"
	"github.com/imrishuroy/go-transactional-orders/internal/orders"
)

// Source is the notification table of a store backend.
type Source interface {
	FetchPending(ctx context.Context, limit int) ([]orders.Notification, error)
	MarkSent(ctx context.Context, n orders.Notification) error
}

// Config tunes the relay loop.
type Config struct {
	BatchSize int
	Interval  time.Duration
}

// Relay publishes notifications written by committed order transactions.
// Delivery is at least once: a crash between Publish and MarkSent
// republishes the same event ID.
type Relay struct {
	source    Source
	publisher events.Publisher
	logger    *zap.Logger
	batchSize int
	interval  time.Duration
}

func NewRelay(source Source, publisher events.Publisher, logger *zap.Logger, cfg Config) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		logger:    logger,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
	}
}

// RunOnce relays one batch and returns how many notifications were sent.
// It stops at the first failure so notifications keep their order.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.source.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending notifications: %w", err)
	}

	sent := 0
	for _, n := range pending {
		evt := events.NewOrderCreated(n)
		if err := r.publisher.Publish(ctx, evt); err != nil {
			return sent, fmt.Errorf("publish notification %s: %w", n.ID, err)
		}
		if err := r.source.MarkSent(ctx, n); err != nil {
			return sent, fmt.Errorf("mark notification %s sent: %w", n.ID, err)
		}
		sent++
		r.logger.Debug("notification relayed",
			zap.String("notification_id", n.ID),
			zap.Int64("order_id", n.OrderID),
			zap.String("event_id", evt.EventID),
		)
	}
	return sent, nil
}

// Run relays batches until ctx is cancelled. A full batch is followed
// immediately by another one; otherwise the relay waits for the interval.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.batchSize),
		zap.Duration("interval", r.interval),
	)
	for {
		sent, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Warn("outbox relay batch failed", zap.Int("sent", sent), zap.Error(err))
		} else if sent > 0 {
			r.logger.Info("outbox relay batch sent", zap.Int("sent", sent))
		}

		if err == nil && sent == r.batchSize {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-time.After(r.interval):
		}
	}
}
