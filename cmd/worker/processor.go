package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-transactional-orders/internal/aws"
	orderevents "github.com/imrishuroy/go-transactional-orders/internal/events"
	"github.com/imrishuroy/go-transactional-orders/internal/idempotency"
)

// errInFlight means another invocation is handling the same event.
var errInFlight = errors.New("event is being processed by another invocation")

// Processor consumes OrderCreated events from SQS and records a CloudWatch
// metric per new order.
type Processor struct {
	cloudwatch aws.CloudWatchAPI
	namespace  string
	dedup      EventDeduper // optional
	logger     *zap.Logger
}

// NewProcessor creates a new worker processor. dedup may be nil.
func NewProcessor(cw aws.CloudWatchAPI, namespace string, dedup EventDeduper, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		cloudwatch: cw,
		namespace:  namespace,
		dedup:      dedup,
		logger:     logger,
	}
}

// Handle processes an SQS batch. Failed messages are reported individually
// so only they are redelivered, and after too many attempts go to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker error", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	evt, err := orderevents.DecodeOrderCreated([]byte(rec.Body))
	if err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	logger := p.logger.With(
		zap.String("event_id", evt.EventID),
		zap.Int64("order_id", evt.OrderID),
		zap.Int64("client_id", evt.ClientID),
	)
	logger.Info("received order created event")

	key := dedupKeyPrefix + evt.EventID
	if p.dedup != nil {
		fresh, err := p.claim(ctx, key)
		if err != nil {
			return err
		}
		if !fresh {
			logger.Info("duplicate event skipped")
			return nil
		}
	}

	if err := p.putMetric(ctx, evt); err != nil {
		if p.dedup != nil {
			if markErr := p.dedup.MarkFailed(ctx, key, err.Error()); markErr != nil {
				logger.Warn("could not mark event failed", zap.Error(markErr))
			}
		}
		return err
	}

	if p.dedup != nil {
		if err := p.dedup.MarkDone(ctx, key, evt.OrderID, "", 200); err != nil {
			// the metric is already out; a redelivery would count the order twice
			logger.Warn("could not mark event done", zap.Error(err))
		}
	}

	logger.Info(evt.Message)
	return nil
}

// claim reserves key. It returns false when the event was already handled.
func (p *Processor) claim(ctx context.Context, key string) (bool, error) {
	created, err := p.dedup.CreateIfNotExists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("reserve event: %w", err)
	}
	if created {
		return true, nil
	}

	rec, err := p.dedup.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read event record: %w", err)
	}
	if rec == nil {
		return false, errInFlight
	}
	switch rec.Status {
	case idempotency.StatusDone:
		return false, nil
	case idempotency.StatusFailed:
		ok, err := p.dedup.Reclaim(ctx, key)
		if err != nil {
			return false, fmt.Errorf("reclaim event: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, errInFlight
}

func (p *Processor) putMetric(ctx context.Context, evt orderevents.OrderCreated) error {
	ts := evt.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := p.cloudwatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: sdkaws.String(metricOrdersCreated),
				Timestamp:  sdkaws.Time(ts),
				Unit:       cwtypes.StandardUnitCount,
				Value:      sdkaws.Float64(1),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
