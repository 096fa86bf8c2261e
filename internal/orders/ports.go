package orders

import "context"

// ClientLookup resolves clients. GetClientByID returns (nil, nil) when the
// client does not exist.
type ClientLookup interface {
	GetClientByID(ctx context.Context, id int64) (*Client, error)
}

// ProductLookup resolves products. GetProductByID returns (nil, nil) when the
// product does not exist.
type ProductLookup interface {
	GetProductByID(ctx context.Context, id int64) (*Product, error)
}

// OrderRepository reads orders and persists status changes.
type OrderRepository interface {
	// GetOrderByID returns the order with its client and items, or (nil, nil).
	GetOrderByID(ctx context.Context, id int64) (*Order, error)
	// UpdateOrderStatus returns ErrOrderNotFound if the order is missing.
	UpdateOrderStatus(ctx context.Context, id int64, status Status) error
}

// Tx is the set of writes allowed inside a unit of work.
type Tx interface {
	InsertOrder(ctx context.Context, o *Order) (int64, error)
	InsertItem(ctx context.Context, orderID int64, item OrderItem) (int64, error)
	// DecrementStock must never leave stock negative; it returns an error
	// matching ErrStockConflict when the guard fails.
	DecrementStock(ctx context.Context, productID int64, quantity int) error
	RecordNotification(ctx context.Context, n Notification) error
}

// UnitOfWork runs fn atomically. If fn returns an error, or the commit
// fails, nothing fn wrote is persisted.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store is everything the order service needs from a backend.
type Store interface {
	ClientLookup
	ProductLookup
	OrderRepository
	UnitOfWork
}
