package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/aws"
)

// Global secondary indexes on the orders table.
const (
	IndexUserCreated   = "user_id-created_seq-index"
	IndexTransaction   = "payment_transaction_id-index"
	IndexStatusExpires = "status-payment_expires_at-index"
)

var (
	// ErrVersionMismatch means another writer saved the order first.
	ErrVersionMismatch = errors.New("order version mismatch/conditional failed")
	// ErrAlreadyExists is returned when creating an order id that is taken.
	ErrAlreadyExists = errors.New("order already exists")
	// ErrTransactionCanceled is returned when a companion item in a create
	// transaction failed its condition (e.g. an idempotency key in use).
	ErrTransactionCanceled = errors.New("create transaction canceled")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create persists a new order at version 1. When companions are given, the
// order and the companions are written in one TransactWriteItems call.
func (s *Store) Create(ctx context.Context, o *Order, companions ...types.TransactWriteItem) error {
	now := s.nowFunc().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = o.CreatedAt
	o.Version = 1

	item, err := s.marshal(o)
	if err != nil {
		return err
	}
	put := &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	}

	if len(companions) == 0 {
		_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName:           put.TableName,
			Item:                put.Item,
			ConditionExpression: put.ConditionExpression,
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("put item: %w", err)
		}
		return nil
	}

	transactItems := append([]types.TransactWriteItem{{Put: put}}, companions...)
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			if len(tce.CancellationReasons) > 0 && awsValue(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed" {
				return ErrAlreadyExists
			}
			return fmt.Errorf("%w: %v", ErrTransactionCanceled, err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Save writes o if the stored version still equals o.Version, then bumps the
// version. Totals are recomputed from the items before every write.
// Returns ErrVersionMismatch if another writer got there first.
func (s *Store) Save(ctx context.Context, o *Order) error {
	expected := o.Version
	o.Version = expected + 1
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = s.nowFunc().UTC()
	}

	item, err := s.marshal(o)
	if err != nil {
		o.Version = expected
		return err
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      awsString("#v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	})
	if err != nil {
		o.Version = expected
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrVersionMismatch
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// ListByUser returns the user's orders, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return s.query(ctx, &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                awsString(IndexUserCreated),
		KeyConditionExpression:   awsString("#u = :u"),
		ExpressionAttributeNames: map[string]string{"#u": "user_id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: awsBool(false),
	}, 0)
}

// FindByTransactionID resolves the order holding a gateway transaction id.
// Returns (nil, nil) if none does.
func (s *Store) FindByTransactionID(ctx context.Context, transactionID string) (*Order, error) {
	found, err := s.query(ctx, &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                awsString(IndexTransaction),
		KeyConditionExpression:   awsString("#t = :t"),
		ExpressionAttributeNames: map[string]string{"#t": "payment_transaction_id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: transactionID},
		},
	}, 1)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

// ListExpiredPending returns up to limit pending orders whose payment window
// closed before now, oldest first.
func (s *Store) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]Order, error) {
	return s.query(ctx, &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                awsString(IndexStatusExpires),
		KeyConditionExpression:   awsString("#s = :pending AND #e < :now"),
		ExpressionAttributeNames: map[string]string{"#s": "status", "#e": "payment_expires_at"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
			":now":     &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
		ScanIndexForward: awsBool(true),
	}, limit)
}

// query pages through results until exhausted or limit items were read (0 = all).
func (s *Store) query(ctx context.Context, input *dyn.QueryInput, limit int) ([]Order, error) {
	var result []Order
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", awsValue(input.IndexName), err)
		}
		for _, item := range out.Items {
			var o Order
			if err := attributevalue.UnmarshalMap(item, &o); err != nil {
				return nil, fmt.Errorf("unmarshal order: %w", err)
			}
			result = append(result, o)
			if limit > 0 && len(result) >= limit {
				return result, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *Store) marshal(o *Order) (map[string]types.AttributeValue, error) {
	o.RecomputeTotals()
	o.CreatedSeq = o.CreatedAt.UnixNano()
	o.PaymentTx = o.Payment.TransactionID

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}
	return item, nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }

func awsValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
