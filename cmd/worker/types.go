package main

import (
	"context"

	"github.com/imrishuroy/go-transactional-orders/internal/idempotency"
)

const (
	metricOrdersCreated = "OrdersCreated"
	dedupKeyPrefix      = "event#"
)

// EventDeduper remembers which events were already handled. The
// idempotency store satisfies it.
type EventDeduper interface {
	CreateIfNotExists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
	Reclaim(ctx context.Context, key string) (bool, error)
	MarkDone(ctx context.Context, key string, orderID int64, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}
