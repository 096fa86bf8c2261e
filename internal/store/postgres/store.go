package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-transactional-orders/internal/orders"
)

// Store implements orders.Store on PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	nowFunc func() time.Time
}

// NewStore returns a Store using pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, nowFunc: time.Now}
}

// GetClientByID returns (nil, nil) if the client does not exist.
func (s *Store) GetClientByID(ctx context.Context, id int64) (*orders.Client, error) {
	var c orders.Client
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, phone, registered_at FROM clients WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select client %d: %w", id, err)
	}
	return &c, nil
}

// GetProductByID returns (nil, nil) if the product does not exist.
func (s *Store) GetProductByID(ctx context.Context, id int64) (*orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, price::text, stock_quantity FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &price, &p.StockQuantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select product %d: %w", id, err)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("product %d: parse price %q: %w", id, price, err)
	}
	return &p, nil
}

// GetOrderByID returns the order with its client and items, or (nil, nil).
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*orders.Order, error) {
	var (
		o      orders.Order
		c      orders.Client
		total  string
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT o.id, o.client_id, o.created_at, o.total_value::text, o.status,
		       c.id, c.name, c.email, c.phone, c.registered_at
		FROM orders o
		JOIN clients c ON c.id = o.client_id
		WHERE o.id = $1`, id,
	).Scan(&o.ID, &o.ClientID, &o.CreatedAt, &total, &status,
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select order %d: %w", id, err)
	}
	if o.TotalValue, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("order %d: parse total %q: %w", id, total, err)
	}
	o.Status = orders.Status(status)
	o.Client = &c

	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price::text
		FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("select items of order %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    orders.OrderItem
			price string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order item %d: parse unit price %q: %w", it.ID, price, err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return &o, nil
}

// UpdateOrderStatus returns orders.ErrOrderNotFound if no row was updated.
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status orders.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), s.nowFunc().UTC(), id)
	if err != nil {
		return fmt.Errorf("update order %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrOrderNotFound
	}
	return nil
}
