package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-transactional-orders/internal/aws"
	"github.com/imrishuroy/go-transactional-orders/internal/orders"
)

// Store implements orders.Store on a single DynamoDB table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new Store bound to tableName.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// GetClientByID fetches a client. Returns (nil, nil) if not found.
func (s *Store) GetClientByID(ctx context.Context, id int64) (*orders.Client, error) {
	var rec clientRecord
	found, err := s.getItem(ctx, key(clientPK(id), skClient), &rec)
	if err != nil || !found {
		return nil, err
	}
	return clientFromRecord(rec), nil
}

// GetProductByID fetches a product. Returns (nil, nil) if not found.
func (s *Store) GetProductByID(ctx context.Context, id int64) (*orders.Product, error) {
	var rec productRecord
	found, err := s.getItem(ctx, key(productPK(id), skProduct), &rec)
	if err != nil || !found {
		return nil, err
	}
	return productFromRecord(rec)
}

// GetOrderByID reads the order header and items in one partition query and
// embeds the client. Returns (nil, nil) if not found.
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*orders.Order, error) {
	rows, err := s.queryPartition(ctx, orderPK(id), 0)
	if err != nil {
		return nil, err
	}

	var (
		order *orders.Order
		items []orders.OrderItem
	)
	for _, row := range rows {
		skAttr, ok := row[attrSK].(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("order %d: row without a string sort key", id)
		}
		sk := skAttr.Value
		switch {
		case sk == skOrderHeader:
			var rec orderRecord
			if err := attributevalue.UnmarshalMap(row, &rec); err != nil {
				return nil, fmt.Errorf("unmarshal order: %w", err)
			}
			if order, err = orderFromRecord(rec); err != nil {
				return nil, err
			}
		case strings.HasPrefix(sk, itemSKPrefix):
			var rec orderItemRecord
			if err := attributevalue.UnmarshalMap(row, &rec); err != nil {
				return nil, fmt.Errorf("unmarshal order item: %w", err)
			}
			it, err := itemFromRecord(rec)
			if err != nil {
				return nil, err
			}
			items = append(items, it)
		}
	}
	if order == nil {
		return nil, nil
	}
	order.Items = items

	client, err := s.GetClientByID(ctx, order.ClientID)
	if err != nil {
		return nil, err
	}
	order.Client = client
	return order, nil
}

// UpdateOrderStatus sets the status of an existing order.
// Returns orders.ErrOrderNotFound if the order header does not exist.
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status orders.Status) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      key(orderPK(id), skOrderHeader),
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(pk)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new": &types.AttributeValueMemberS{Value: string(status)},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return orders.ErrOrderNotFound
		}
		return fmt.Errorf("update item (order status): %w", err)
	}
	return nil
}

func (s *Store) getItem(ctx context.Context, k map[string]types.AttributeValue, out interface{}) (bool, error) {
	res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            k,
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get item: %w", err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal item: %w", err)
	}
	return true, nil
}

// queryPartition returns the rows of partition pk in sort key order,
// following pagination. limit > 0 caps the number of rows read.
func (s *Store) queryPartition(ctx context.Context, pk string, limit int) ([]map[string]types.AttributeValue, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: awsString("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ConsistentRead: awsBool(true),
	}

	var rows []map[string]types.AttributeValue
	for {
		if limit > 0 {
			input.Limit = awsInt32(int32(limit - len(rows)))
		}
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", pk, err)
		}
		rows = append(rows, out.Items...)
		if len(out.LastEvaluatedKey) == 0 || (limit > 0 && len(rows) >= limit) {
			return rows, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

func awsInt32(n int32) *int32 { return &n }
