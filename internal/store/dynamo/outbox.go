package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-transactional-orders/internal/orders"
)

// FetchPending returns up to limit unsent notifications, oldest first. Only
// the pending partition is read, so relayed history costs nothing here.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]orders.Notification, error) {
	rows, err := s.queryPartition(ctx, outboxPendingPK, limit)
	if err != nil {
		return nil, err
	}

	out := make([]orders.Notification, 0, len(rows))
	for _, row := range rows {
		var rec notificationRecord
		if err := attributevalue.UnmarshalMap(row, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		out = append(out, notificationFromRecord(rec))
	}
	return out, nil
}

// MarkSent moves a notification from the pending to the sent partition in
// one transaction so it is not relayed again.
func (s *Store) MarkSent(ctx context.Context, n orders.Notification) error {
	now := s.nowFunc().UTC()
	rec := notificationToRecord(n)
	rec.PK = outboxSentPK
	rec.SK = n.ID
	rec.SentAt = &now

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Delete: &types.Delete{
					TableName:           &s.tableName,
					Key:                 key(outboxPendingPK, n.ID),
					ConditionExpression: awsString("attribute_exists(pk)"),
				},
			},
			{
				Put: &types.Put{
					TableName: &s.tableName,
					Item:      item,
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("notification %s not pending", n.ID)
		}
		return fmt.Errorf("transact write items (outbox): %w", err)
	}
	return nil
}
