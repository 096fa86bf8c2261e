package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-transactional-orders/internal/orders"
)

// EventTypeOrderCreated is carried in every OrderCreated payload and as a
// message attribute or header.
const EventTypeOrderCreated = "OrderCreated"

// OrderCreated is published once per committed order.
type OrderCreated struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	OrderID   int64     `json:"order_id"`
	ClientID  int64     `json:"client_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, evt OrderCreated) error
	Close() error
}

// NewOrderCreated builds the event for an outbox notification. The event ID
// is derived from the notification ID, so a notification relayed twice keeps
// the same event ID and consumers can deduplicate.
func NewOrderCreated(n orders.Notification) OrderCreated {
	return OrderCreated{
		EventID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte("order-created/"+n.ID)).String(),
		EventType: EventTypeOrderCreated,
		OrderID:   n.OrderID,
		ClientID:  n.ClientID,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	}
}

// DecodeOrderCreated parses and checks a message body.
func DecodeOrderCreated(body []byte) (OrderCreated, error) {
	var evt OrderCreated
	if err := json.Unmarshal(body, &evt); err != nil {
		return OrderCreated{}, fmt.Errorf("decode order created: %w", err)
	}
	if evt.EventType != EventTypeOrderCreated {
		return OrderCreated{}, fmt.Errorf("unexpected event type %q", evt.EventType)
	}
	if evt.OrderID <= 0 {
		return OrderCreated{}, errors.New("order created event without order_id")
	}
	return evt, nil
}
