package coupons

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/apperrors"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/aws"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/money"
)

// Store reads coupons from DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Get fetches a coupon by code. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, code string) (*Coupon, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"code": &types.AttributeValueMemberS{Value: normalize(code)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var c Coupon
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal coupon: %w", err)
	}
	return &c, nil
}

// Resolve returns the discount code grants on subtotal at the given time.
// Unknown, inactive, expired or below-minimum coupons are validation errors.
func (s *Store) Resolve(ctx context.Context, code string, subtotal money.Cents, at time.Time) (money.Cents, error) {
	c, err := s.Get(ctx, code)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load coupon")
	}
	if c == nil {
		return 0, invalid("coupon not found")
	}
	return c.Discount(subtotal, at)
}

// Discount computes the coupon's effect; it never exceeds subtotal.
func (c *Coupon) Discount(subtotal money.Cents, at time.Time) (money.Cents, error) {
	if !c.Active {
		return 0, invalid("coupon is not active")
	}
	if c.ExpiresAt != nil && !at.Before(*c.ExpiresAt) {
		return 0, invalid("coupon has expired")
	}
	if subtotal < c.MinSubtotal {
		return 0, invalid(fmt.Sprintf("coupon requires a subtotal of at least %s", c.MinSubtotal))
	}

	var discount money.Cents
	switch c.Kind {
	case KindPercentage:
		if c.PercentOff <= 0 || c.PercentOff > 100 {
			return 0, invalid("coupon is misconfigured")
		}
		rate := decimal.NewFromInt(int64(c.PercentOff)).Shift(-2)
		discount = money.Cents(money.ApplyRate(int64(subtotal), rate))
	case KindFixed:
		discount = c.AmountOff
	default:
		return 0, invalid("coupon is misconfigured")
	}

	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount, nil
}

func invalid(reason string) error {
	return apperrors.New(apperrors.CodeValidation, "invalid coupon").
		WithDetails(map[string]any{"coupon": reason})
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
