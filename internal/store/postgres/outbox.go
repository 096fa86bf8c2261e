package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/imrishuroy/go-transactional-orders/internal/orders"
)

// FetchPending returns up to limit unsent notifications, oldest first.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]orders.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, client_id, message, created_at, sent_at
		FROM notifications WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending notifications: %w", err)
	}
	defer rows.Close()

	var out []orders.Notification
	for rows.Next() {
		var (
			n  orders.Notification
			id int64
		)
		if err := rows.Scan(&id, &n.OrderID, &n.ClientID, &n.Message, &n.CreatedAt, &n.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.ID = strconv.FormatInt(id, 10)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkSent stamps sent_at so the notification is not relayed again.
func (s *Store) MarkSent(ctx context.Context, n orders.Notification) error {
	id, err := strconv.ParseInt(n.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("notification id %q: %w", n.ID, err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET sent_at = $1 WHERE id = $2`, s.nowFunc().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark notification %d sent: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %d not found", id)
	}
	return nil
}
