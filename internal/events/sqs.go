package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/imrishuroy/go-transactional-orders/internal/aws"
)

// SQSPublisher sends events to an SQS queue.
type SQSPublisher struct {
	pub *aws.Publisher
}

// NewSQSPublisher returns a Publisher bound to queueURL.
func NewSQSPublisher(client aws.SQSAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{pub: aws.NewPublisher(client, queueURL)}
}

func (p *SQSPublisher) Publish(ctx context.Context, evt OrderCreated) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	attrs := map[string]string{
		"event_type": evt.EventType,
		"event_id":   evt.EventID,
		"order_id":   strconv.FormatInt(evt.OrderID, 10),
	}
	return p.pub.Send(ctx, string(body), attrs, evt.EventID)
}

func (p *SQSPublisher) Close() error { return nil }
