package dynamo

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-transactional-orders/internal/orders"
)

// The store uses a single table keyed by (pk, sk):
//
//	CLIENT#<id>     PROFILE      client
//	PRODUCT#<id>    DETAILS      product
//	ORDER#<id>      HEADER       order header
//	ORDER#<id>      ITEM#<seq>   order item
//	OUTBOX#PENDING  <time>#<id>  notification waiting for the relay
//	OUTBOX#SENT     <time>#<id>  relayed notification
//	COUNTER         ORDER        order id sequence
const (
	attrPK = "pk"
	attrSK = "sk"

	skClient      = "PROFILE"
	skProduct     = "DETAILS"
	skOrderHeader = "HEADER"
	itemSKPrefix  = "ITEM#"

	outboxPendingPK = "OUTBOX#PENDING"
	outboxSentPK    = "OUTBOX#SENT"
	counterPK       = "COUNTER"
	counterOrderSK  = "ORDER"

	// outbox sort keys must order lexically by creation time
	outboxTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

func clientPK(id int64) string  { return fmt.Sprintf("CLIENT#%d", id) }
func productPK(id int64) string { return fmt.Sprintf("PRODUCT#%d", id) }
func orderPK(id int64) string   { return fmt.Sprintf("ORDER#%d", id) }
func itemSK(seq int64) string   { return fmt.Sprintf("%s%05d", itemSKPrefix, seq) }

func outboxSK(createdAt time.Time, orderID int64) string {
	return fmt.Sprintf("%s#%019d", createdAt.UTC().Format(outboxTimeLayout), orderID)
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

type clientRecord struct {
	PK           string    `dynamodbav:"pk"`
	SK           string    `dynamodbav:"sk"`
	ClientID     int64     `dynamodbav:"client_id"`
	Name         string    `dynamodbav:"name"`
	Email        string    `dynamodbav:"email"`
	Phone        string    `dynamodbav:"phone,omitempty"`
	RegisteredAt time.Time `dynamodbav:"registered_at"`
}

type productRecord struct {
	PK            string `dynamodbav:"pk"`
	SK            string `dynamodbav:"sk"`
	ProductID     int64  `dynamodbav:"product_id"`
	Name          string `dynamodbav:"name"`
	Description   string `dynamodbav:"description,omitempty"`
	Price         string `dynamodbav:"price"` // decimal text, exact
	StockQuantity int    `dynamodbav:"stock_quantity"`
}

type orderRecord struct {
	PK         string    `dynamodbav:"pk"`
	SK         string    `dynamodbav:"sk"`
	OrderID    int64     `dynamodbav:"order_id"`
	ClientID   int64     `dynamodbav:"client_id"`
	CreatedAt  time.Time `dynamodbav:"created_at"`
	UpdatedAt  time.Time `dynamodbav:"updated_at"`
	TotalValue string    `dynamodbav:"total_value"`
	Status     string    `dynamodbav:"status"`
}

type orderItemRecord struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	ItemID    int64  `dynamodbav:"item_id"`
	OrderID   int64  `dynamodbav:"order_id"`
	ProductID int64  `dynamodbav:"product_id"`
	Quantity  int    `dynamodbav:"quantity"`
	UnitPrice string `dynamodbav:"unit_price"`
}

type notificationRecord struct {
	PK        string     `dynamodbav:"pk"`
	SK        string     `dynamodbav:"sk"`
	OrderID   int64      `dynamodbav:"order_id"`
	ClientID  int64      `dynamodbav:"client_id"`
	Message   string     `dynamodbav:"message"`
	CreatedAt time.Time  `dynamodbav:"created_at"`
	SentAt    *time.Time `dynamodbav:"sent_at,omitempty"`
}

func clientFromRecord(r clientRecord) *orders.Client {
	return &orders.Client{
		ID:           r.ClientID,
		Name:         r.Name,
		Email:        r.Email,
		Phone:        r.Phone,
		RegisteredAt: r.RegisteredAt,
	}
}

func productFromRecord(r productRecord) (*orders.Product, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, fmt.Errorf("product %d: parse price %q: %w", r.ProductID, r.Price, err)
	}
	return &orders.Product{
		ID:            r.ProductID,
		Name:          r.Name,
		Description:   r.Description,
		Price:         price,
		StockQuantity: r.StockQuantity,
	}, nil
}

func orderToRecord(o *orders.Order, id int64) orderRecord {
	return orderRecord{
		PK:         orderPK(id),
		SK:         skOrderHeader,
		OrderID:    id,
		ClientID:   o.ClientID,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.CreatedAt,
		TotalValue: o.TotalValue.String(),
		Status:     string(o.Status),
	}
}

func orderFromRecord(r orderRecord) (*orders.Order, error) {
	total, err := decimal.NewFromString(r.TotalValue)
	if err != nil {
		return nil, fmt.Errorf("order %d: parse total %q: %w", r.OrderID, r.TotalValue, err)
	}
	return &orders.Order{
		ID:         r.OrderID,
		ClientID:   r.ClientID,
		CreatedAt:  r.CreatedAt,
		TotalValue: total,
		Status:     orders.Status(r.Status),
	}, nil
}

func itemToRecord(orderID, seq int64, it orders.OrderItem) orderItemRecord {
	return orderItemRecord{
		PK:        orderPK(orderID),
		SK:        itemSK(seq),
		ItemID:    seq,
		OrderID:   orderID,
		ProductID: it.ProductID,
		Quantity:  it.Quantity,
		UnitPrice: it.UnitPrice.String(),
	}
}

func itemFromRecord(r orderItemRecord) (orders.OrderItem, error) {
	price, err := decimal.NewFromString(r.UnitPrice)
	if err != nil {
		return orders.OrderItem{}, fmt.Errorf("order %d item %d: parse unit price %q: %w", r.OrderID, r.ItemID, r.UnitPrice, err)
	}
	return orders.OrderItem{
		ID:        r.ItemID,
		OrderID:   r.OrderID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		UnitPrice: price,
	}, nil
}

func notificationToRecord(n orders.Notification) notificationRecord {
	return notificationRecord{
		PK:        outboxPendingPK,
		SK:        outboxSK(n.CreatedAt, n.OrderID),
		OrderID:   n.OrderID,
		ClientID:  n.ClientID,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	}
}

func notificationFromRecord(r notificationRecord) orders.Notification {
	return orders.Notification{
		ID:        r.SK,
		OrderID:   r.OrderID,
		ClientID:  r.ClientID,
		Message:   r.Message,
		CreatedAt: r.CreatedAt,
		SentAt:    r.SentAt,
	}
}
