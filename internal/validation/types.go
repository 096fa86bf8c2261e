package validation

import "github.com/shopspring/decimal"

// OrderItemRequest is a single order line.
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	// bounded by the INTEGER stock column
	Quantity int `json:"quantity" validate:"required,min=1,max=2147483647"`
	// UnitPrice is accepted for compatibility and ignored: lines are
	// always priced from the catalog.
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// CreateOrderRequest is the payload for POST /orders. An empty item list is
// left to the order service, which rejects it with its own error.
type CreateOrderRequest struct {
	ClientID int64              `json:"client_id" validate:"required,gt=0"`
	Items    []OrderItemRequest `json:"items" validate:"dive"`
}

// ChangeStatusRequest is the payload for PATCH /orders/:id/status.
type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required"`
}
