package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is an in-memory single-table mock. It understands exactly the
// expressions the store sends and fails loudly on anything else.
type mockDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue // "pk|sk" -> item

	transactCalls int
	transactErr   error
	// rowsRead counts items returned by Query, as DynamoDB bills reads.
	rowsRead int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(m map[string]types.AttributeValue) (string, error) {
	pk, ok1 := m[attrPK].(*types.AttributeValueMemberS)
	sk, ok2 := m[attrSK].(*types.AttributeValueMemberS)
	if !ok1 || !ok2 {
		return "", errors.New("missing pk/sk")
	}
	return pk.Value + "|" + sk.Value, nil
}

func numberAttr(av types.AttributeValue) int {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.Atoi(n.Value)
	return v
}

func copyItem(src map[string]types.AttributeValue) map[string]types.AttributeValue {
	dst := make(map[string]types.AttributeValue, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := itemKey(params.Item)
	if err != nil {
		return nil, err
	}
	m.items[k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, exists := m.items[k]

	if params.ConditionExpression != nil {
		switch *params.ConditionExpression {
		case "attribute_exists(pk)":
			if !exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
		default:
			return nil, fmt.Errorf("unsupported condition %q", *params.ConditionExpression)
		}
	}
	if !exists {
		item = copyItem(params.Key)
	}

	vals := params.ExpressionAttributeValues
	switch *params.UpdateExpression {
	case "ADD seq :one":
		item["seq"] = &types.AttributeValueMemberN{Value: strconv.Itoa(numberAttr(item["seq"]) + numberAttr(vals[":one"]))}
		m.items[k] = item
		return &dyn.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"seq": item["seq"]}}, nil
	case "SET #s = :new, updated_at = :ua":
		item[params.ExpressionAttributeNames["#s"]] = vals[":new"]
		item["updated_at"] = vals[":ua"]
	default:
		return nil, fmt.Errorf("unsupported update %q", *params.UpdateExpression)
	}
	m.items[k] = item
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if *params.KeyConditionExpression != "pk = :pk" {
		return nil, fmt.Errorf("unsupported key condition %q", *params.KeyConditionExpression)
	}
	if params.FilterExpression != nil {
		return nil, fmt.Errorf("unsupported filter %q", *params.FilterExpression)
	}
	pk := params.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value

	var out []map[string]types.AttributeValue
	for _, item := range m.items {
		if stringAttr(item[attrPK]) == pk {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return stringAttr(out[i][attrSK]) < stringAttr(out[j][attrSK])
	})

	if start := params.ExclusiveStartKey; start != nil {
		after := stringAttr(start[attrSK])
		i := 0
		for i < len(out) && stringAttr(out[i][attrSK]) <= after {
			i++
		}
		out = out[i:]
	}

	var lastKey map[string]types.AttributeValue
	if params.Limit != nil && int(*params.Limit) < len(out) {
		out = out[:*params.Limit]
		last := out[len(out)-1]
		lastKey = map[string]types.AttributeValue{attrPK: last[attrPK], attrSK: last[attrSK]}
	}
	m.rowsRead += len(out)
	return &dyn.QueryOutput{Items: out, Count: int32(len(out)), LastEvaluatedKey: lastKey}, nil
}

func stringAttr(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// TransactWriteItems checks every condition first and applies nothing if any
// fails, reporting per-action CancellationReasons like DynamoDB does.
func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactCalls++
	if m.transactErr != nil {
		return nil, m.transactErr
	}

	seen := map[string]bool{}
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: awsString("None")}

		var (
			k   string
			err error
			ok  bool
		)
		switch {
		case it.Put != nil:
			k, err = itemKey(it.Put.Item)
			if err != nil {
				return nil, err
			}
			_, exists := m.items[k]
			ok = it.Put.ConditionExpression == nil ||
				(*it.Put.ConditionExpression == "attribute_not_exists(pk)" && !exists)
		case it.Update != nil:
			k, err = itemKey(it.Update.Key)
			if err != nil {
				return nil, err
			}
			if *it.Update.ConditionExpression != "attribute_exists(pk) AND stock_quantity >= :qty" {
				return nil, fmt.Errorf("unsupported condition %q", *it.Update.ConditionExpression)
			}
			item, exists := m.items[k]
			qty := numberAttr(it.Update.ExpressionAttributeValues[":qty"])
			ok = exists && numberAttr(item["stock_quantity"]) >= qty
		case it.Delete != nil:
			k, err = itemKey(it.Delete.Key)
			if err != nil {
				return nil, err
			}
			if *it.Delete.ConditionExpression != "attribute_exists(pk)" {
				return nil, fmt.Errorf("unsupported condition %q", *it.Delete.ConditionExpression)
			}
			_, ok = m.items[k]
		default:
			return nil, errors.New("unsupported transact item")
		}

		if seen[k] {
			return nil, errors.New("ValidationException: transaction contains multiple operations on one item")
		}
		seen[k] = true
		if !ok {
			reasons[i] = types.CancellationReason{Code: awsString("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             awsString("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			k, _ := itemKey(p.Item)
			m.items[k] = copyItem(p.Item)
			continue
		}
		if d := it.Delete; d != nil {
			k, _ := itemKey(d.Key)
			delete(m.items, k)
			continue
		}
		u := it.Update
		k, _ := itemKey(u.Key)
		item := m.items[k]
		left := numberAttr(item["stock_quantity"]) - numberAttr(u.ExpressionAttributeValues[":qty"])
		item["stock_quantity"] = &types.AttributeValueMemberN{Value: strconv.Itoa(left)}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *mockDynamo) resetReads() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rowsRead = 0
}

func (m *mockDynamo) count(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.items {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
