package dynamo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-transactional-orders/internal/orders"
)

const (
	// maxTransactItems is the DynamoDB limit on actions per TransactWriteItems.
	maxTransactItems = 100
	// maxStockQuantity matches the INTEGER stock column of the relational store.
	maxStockQuantity = math.MaxInt32
)

// WithinTx buffers the writes made by fn and commits them with a single
// TransactWriteItems call. Nothing reaches the table if fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx := &transaction{
		store:      s,
		decrements: make(map[int64]int),
		itemSeq:    make(map[int64]int64),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit(ctx)
}

type transaction struct {
	store  *Store
	writes []types.TransactWriteItem

	// DynamoDB rejects two actions on one item in the same transaction, so
	// decrements are summed per product and emitted at commit.
	decrements   map[int64]int
	productOrder []int64

	itemSeq map[int64]int64
}

// InsertOrder reserves the next order ID from the counter item and stages
// the order header. A rolled back transaction leaves a gap in the sequence.
func (t *transaction) InsertOrder(ctx context.Context, o *orders.Order) (int64, error) {
	id, err := t.store.nextOrderID(ctx)
	if err != nil {
		return 0, err
	}
	if err := t.put(orderToRecord(o, id)); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *transaction) InsertItem(_ context.Context, orderID int64, item orders.OrderItem) (int64, error) {
	seq := t.itemSeq[orderID] + 1
	if err := t.put(itemToRecord(orderID, seq, item)); err != nil {
		return 0, err
	}
	t.itemSeq[orderID] = seq
	return seq, nil
}

func (t *transaction) DecrementStock(_ context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("decrement product %d by %d: %w", productID, quantity, orders.ErrInvalidQuantity)
	}
	// the running total stays within maxStockQuantity, so this cannot wrap
	if quantity > maxStockQuantity-t.decrements[productID] {
		return &orders.StockConflictError{ProductID: productID}
	}
	if _, seen := t.decrements[productID]; !seen {
		t.productOrder = append(t.productOrder, productID)
	}
	t.decrements[productID] += quantity
	return nil
}

func (t *transaction) RecordNotification(_ context.Context, n orders.Notification) error {
	return t.put(notificationToRecord(n))
}

func (t *transaction) put(rec interface{}) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	t.writes = append(t.writes, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &t.store.tableName,
			Item:                item,
			ConditionExpression: awsString("attribute_not_exists(pk)"),
		},
	})
	return nil
}

func (t *transaction) commit(ctx context.Context) error {
	writes := t.writes
	stockStart := len(writes)
	for _, productID := range t.productOrder {
		qty := strconv.Itoa(t.decrements[productID])
		writes = append(writes, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           &t.store.tableName,
				Key:                 key(productPK(productID), skProduct),
				UpdateExpression:    awsString("SET stock_quantity = stock_quantity - :qty"),
				ConditionExpression: awsString("attribute_exists(pk) AND stock_quantity >= :qty"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":qty": &types.AttributeValueMemberN{Value: qty},
				},
			},
		})
	}

	if len(writes) == 0 {
		return nil
	}
	if len(writes) > maxTransactItems {
		return fmt.Errorf("transaction needs %d writes, at most %d allowed", len(writes), maxTransactItems)
	}

	_, err := t.store.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: writes,
	})
	if err == nil {
		return nil
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for i, reason := range tce.CancellationReasons {
			if i < stockStart || reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
				continue
			}
			return &orders.StockConflictError{ProductID: t.productOrder[i-stockStart]}
		}
	}
	return fmt.Errorf("transact write items: %w", err)
}

// nextOrderID atomically increments the order counter and returns the new
// value.
func (s *Store) nextOrderID(ctx context.Context) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              key(counterPK, counterOrderSK),
		UpdateExpression: awsString("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("update item (order counter): %w", err)
	}

	var id int64
	if err := attributevalue.Unmarshal(out.Attributes["seq"], &id); err != nil {
		return 0, fmt.Errorf("unmarshal order counter: %w", err)
	}
	return id, nil
}
