package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/imrishuroy/go-transactional-orders/internal/orders"
)

const pgCheckViolation = "23514"

// WithinTx runs fn inside a database transaction and commits only if fn
// returns nil. Any other outcome rolls back.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (client_id, created_at, updated_at, total_value, status)
		VALUES ($1, $2, $2, $3::numeric, $4)
		RETURNING id`,
		o.ClientID, o.CreatedAt, o.TotalValue.String(), string(o.Status),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (t *pgTx) InsertItem(ctx context.Context, orderID int64, item orders.OrderItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4::numeric)
		RETURNING id`,
		orderID, item.ProductID, item.Quantity, item.UnitPrice.String(),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// DecrementStock takes quantity units only while enough stock remains. The
// row lock taken by UPDATE serialises concurrent orders for one product.
func (t *pgTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE products SET stock_quantity = stock_quantity - $1
		WHERE id = $2 AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		if isCheckViolation(err) {
			return &orders.StockConflictError{ProductID: productID}
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return &orders.StockConflictError{ProductID: productID}
	}
	return nil
}

func (t *pgTx) RecordNotification(ctx context.Context, n orders.Notification) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO notifications (order_id, client_id, message, created_at)
		VALUES ($1, $2, $3, $4)`,
		n.OrderID, n.ClientID, n.Message, n.CreatedAt)
	return err
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation
}
