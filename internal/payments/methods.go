package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/aws"
)

const indexMethodsByUser = "user_id-created_at-index"

// SavedMethod holds the display attributes of a tokenized card. It is created
// once after a successful charge and never updated.
type SavedMethod struct {
	ID        string    `json:"id" dynamodbav:"payment_method_id"`
	UserID    string    `json:"-" dynamodbav:"user_id"`
	Brand     string    `json:"brand" dynamodbav:"brand"`
	LastFour  string    `json:"lastFour" dynamodbav:"last_four"`
	ExpMonth  int       `json:"expMonth,omitempty" dynamodbav:"exp_month,omitempty"`
	ExpYear   int       `json:"expYear,omitempty" dynamodbav:"exp_year,omitempty"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"created_at"`
}

type MethodStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewMethodStore(client aws.DynamoDBAPI, tableName string) *MethodStore {
	return &MethodStore{client: client, tableName: tableName, nowFunc: time.Now}
}

// SaveFromSnapshot records the card used by an approved charge. Charges
// without card data are skipped and return (nil, nil).
func (s *MethodStore) SaveFromSnapshot(ctx context.Context, userID string, snap *Snapshot) (*SavedMethod, error) {
	if snap == nil || snap.CardLastFour == "" {
		return nil, nil
	}
	m := &SavedMethod{
		ID:        uuid.NewString(),
		UserID:    userID,
		Brand:     snap.CardBrand,
		LastFour:  snap.CardLastFour,
		ExpMonth:  snap.CardExpMonth,
		ExpYear:   snap.CardExpYear,
		CreatedAt: s.nowFunc().UTC(),
	}
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return nil, fmt.Errorf("marshal payment method: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(payment_method_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("payment method %s already exists", m.ID)
		}
		return nil, fmt.Errorf("put item: %w", err)
	}
	return m, nil
}

// ListByUser returns the user's saved cards, newest first.
func (s *MethodStore) ListByUser(ctx context.Context, userID string) ([]SavedMethod, error) {
	input := &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                awsString(indexMethodsByUser),
		KeyConditionExpression:   awsString("#u = :u"),
		ExpressionAttributeNames: map[string]string{"#u": "user_id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: awsBool(false),
	}
	methods := []SavedMethod{}
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query payment methods: %w", err)
		}
		var page []SavedMethod
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal payment methods: %w", err)
		}
		methods = append(methods, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	// created_at is stored as RFC 3339 text, which does not sort by time
	// when fractional seconds differ in length.
	sort.SliceStable(methods, func(a, b int) bool {
		return methods[a].CreatedAt.After(methods[b].CreatedAt)
	})
	return methods, nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
