// Package dynamofake is an in-memory stand-in for the DynamoDB operations the
// stores use. It understands the small expression grammar those stores emit:
// comparisons joined by AND or OR, attribute_exists and attribute_not_exists,
// SET/ADD/REMOVE updates on top-level attributes and key conditions on tables
// or global secondary indexes.
package dynamofake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type Item = map[string]types.AttributeValue

// Index describes a global secondary index. RangeKey may be empty.
type Index struct {
	Name     string
	HashKey  string
	RangeKey string
}

type table struct {
	name    string
	hashKey string
	indexes map[string]Index
	items   map[string]Item
	// order keeps insertion order so equal sort keys stay stable.
	order []string
}

// Client implements aws.DynamoDBAPI against in-memory tables.
type Client struct {
	mu     sync.Mutex
	tables map[string]*table

	PutCalls      int
	GetCalls      int
	UpdateCalls   int
	QueryCalls    int
	TransactCalls int
}

func New() *Client {
	return &Client{tables: map[string]*table{}}
}

// CreateTable registers a table keyed by hashKey. Operations on unknown tables
// fail with ResourceNotFoundException.
func (c *Client) CreateTable(name, hashKey string, indexes ...Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &table{name: name, hashKey: hashKey, indexes: map[string]Index{}, items: map[string]Item{}}
	for _, idx := range indexes {
		t.indexes[idx.Name] = idx
	}
	c.tables[name] = t
}

// Item returns a copy of the stored item or nil.
func (c *Client) Item(tableName, key string) Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[tableName]
	if !ok {
		return nil
	}
	item, ok := t.items[key]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len reports how many items a table holds.
func (c *Client) Len(tableName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[tableName]; ok {
		return len(t.items)
	}
	return 0
}

// Seed writes an item unconditionally.
func (c *Client) Seed(tableName string, item Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(tableName)
	if err != nil {
		return err
	}
	key, err := t.keyOf(item)
	if err != nil {
		return err
	}
	t.put(key, item)
	return nil
}

func (c *Client) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PutCalls++

	t, err := c.table(deref(params.TableName))
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	existing := t.items[key]
	ok, err := evalCondition(deref(params.ConditionExpression), existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	t.put(key, params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (c *Client) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GetCalls++

	t, err := c.table(deref(params.TableName))
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[key]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (c *Client) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpdateCalls++

	t, err := c.table(deref(params.TableName))
	if err != nil {
		return nil, err
	}
	updated, key, err := t.applyUpdate(params.Key, deref(params.ConditionExpression), deref(params.UpdateExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.put(key, updated)

	out := &dyn.UpdateItemOutput{}
	if params.ReturnValues != "" && params.ReturnValues != types.ReturnValueNone {
		out.Attributes = copyItem(updated)
	}
	return out, nil
}

func (c *Client) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.QueryCalls++

	t, err := c.table(deref(params.TableName))
	if err != nil {
		return nil, err
	}

	hashKey, rangeKey := t.hashKey, ""
	if name := deref(params.IndexName); name != "" {
		idx, ok := t.indexes[name]
		if !ok {
			return nil, fmt.Errorf("dynamofake: table %s has no index %s", t.name, name)
		}
		hashKey, rangeKey = idx.HashKey, idx.RangeKey
	}

	var matched []string
	for _, key := range t.order {
		item := t.items[key]
		if _, ok := item[hashKey]; !ok {
			continue
		}
		if rangeKey != "" {
			if _, ok := item[rangeKey]; !ok {
				continue
			}
		}
		ok, err := evalCondition(deref(params.KeyConditionExpression), item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, key)
		}
	}

	if rangeKey != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return compare(t.items[matched[i]][rangeKey], t.items[matched[j]][rangeKey]) < 0
		})
	}
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	if start := params.ExclusiveStartKey; len(start) > 0 {
		startKey, err := t.keyOf(start)
		if err != nil {
			return nil, err
		}
		for i, key := range matched {
			if key == startKey {
				matched = matched[i+1:]
				break
			}
		}
	}

	out := &dyn.QueryOutput{}
	if params.Limit != nil && int(*params.Limit) < len(matched) {
		matched = matched[:*params.Limit]
		last := t.items[matched[len(matched)-1]]
		lek := Item{t.hashKey: last[t.hashKey]}
		if rangeKey != "" {
			lek[hashKey] = last[hashKey]
			lek[rangeKey] = last[rangeKey]
		}
		out.LastEvaluatedKey = lek
	}

	for _, key := range matched {
		item := t.items[key]
		ok, err := evalCondition(deref(params.FilterExpression), item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Items = append(out.Items, copyItem(item))
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

// TransactWriteItems evaluates every condition before applying any write.
func (c *Client) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TransactCalls++

	type write struct {
		t    *table
		key  string
		item Item
	}
	writes := make([]write, 0, len(params.TransactItems))
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false

	for i, ti := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		switch {
		case ti.Put != nil:
			t, err := c.table(deref(ti.Put.TableName))
			if err != nil {
				return nil, err
			}
			key, err := t.keyOf(ti.Put.Item)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(deref(ti.Put.ConditionExpression), t.items[key], ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				failed = true
				reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
				continue
			}
			writes = append(writes, write{t: t, key: key, item: ti.Put.Item})
		case ti.Update != nil:
			t, err := c.table(deref(ti.Update.TableName))
			if err != nil {
				return nil, err
			}
			updated, key, err := t.applyUpdate(ti.Update.Key, deref(ti.Update.ConditionExpression), deref(ti.Update.UpdateExpression), ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues)
			if err != nil {
				var ccf *types.ConditionalCheckFailedException
				if errors.As(err, &ccf) {
					failed = true
					reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
					continue
				}
				return nil, err
			}
			writes = append(writes, write{t: t, key: key, item: updated})
		case ti.ConditionCheck != nil:
			t, err := c.table(deref(ti.ConditionCheck.TableName))
			if err != nil {
				return nil, err
			}
			key, err := t.keyOf(ti.ConditionCheck.Key)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(deref(ti.ConditionCheck.ConditionExpression), t.items[key], ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				failed = true
				reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
			}
		default:
			return nil, fmt.Errorf("dynamofake: unsupported transact item %d", i)
		}
	}

	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		w.t.put(w.key, w.item)
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (c *Client) table(name string) (*table, error) {
	t, ok := c.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: strPtr("table not found: " + name)}
	}
	return t, nil
}

func (t *table) keyOf(item Item) (string, error) {
	av, ok := item[t.hashKey]
	if !ok {
		return "", fmt.Errorf("dynamofake: item for %s is missing key %s", t.name, t.hashKey)
	}
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return v.Value, nil
	default:
		return "", fmt.Errorf("dynamofake: unsupported key type %T", av)
	}
}

func (t *table) put(key string, item Item) {
	if _, ok := t.items[key]; !ok {
		t.order = append(t.order, key)
	}
	t.items[key] = copyItem(item)
}

func (t *table) applyUpdate(keyItem Item, condition, update string, names map[string]string, values map[string]types.AttributeValue) (Item, string, error) {
	key, err := t.keyOf(keyItem)
	if err != nil {
		return nil, "", err
	}
	existing := t.items[key]
	ok, err := evalCondition(condition, existing, names, values)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", conditionFailed()
	}

	updated := copyItem(existing)
	if updated == nil {
		updated = Item{}
	}
	for k, v := range keyItem {
		updated[k] = v
	}
	if err := applyUpdateExpression(update, updated, names, values); err != nil {
		return nil, "", err
	}
	return updated, key, nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
}

func copyItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
