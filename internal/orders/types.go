package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Client is the customer an order is placed for. The order core only reads it.
type Client struct {
	ID           int64
	Name         string
	Email        string
	Phone        string // optional
	RegisteredAt time.Time
}

// Product is a catalog entry. Price and StockQuantity are authoritative.
type Product struct {
	ID            int64
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int
}

// Order is the order header plus its line items.
type Order struct {
	ID         int64
	ClientID   int64
	Client     *Client // populated on reads only
	CreatedAt  time.Time
	TotalValue decimal.Decimal
	Status     Status
	Items      []OrderItem
}

// OrderItem is a single line of an order. UnitPrice is the catalog price
// at creation time and never changes afterwards.
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal returns UnitPrice * Quantity.
func (it OrderItem) Subtotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// ItemRequest is a line as submitted by a caller. UnitPrice is accepted
// for compatibility with existing clients but is always replaced by the
// catalog price.
type ItemRequest struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Notification is written in the same transaction as a new order and later
// relayed to the event sink.
type Notification struct {
	ID        string // store specific key
	OrderID   int64
	ClientID  int64
	Message   string
	CreatedAt time.Time
	SentAt    *time.Time
}

// TotalValue sums the subtotals of items.
func TotalValue(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}
