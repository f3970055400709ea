package coupons

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/apperrors"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/money"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/testutil/dynamofake"
)

func seed(t *testing.T, fake *dynamofake.Client, c Coupon) {
	t.Helper()
	item, err := attributevalue.MarshalMap(c)
	require.NoError(t, err)
	require.NoError(t, fake.Seed("coupons", item))
}

func TestResolve(t *testing.T) {
	fake := dynamofake.New()
	fake.CreateTable("coupons", "code")
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	seed(t, fake, Coupon{Code: "TENOFF", Kind: KindPercentage, PercentOff: 10, Active: true})
	seed(t, fake, Coupon{Code: "FIFTY", Kind: KindFixed, AmountOff: 5000, MinSubtotal: 20000, Active: true})
	seed(t, fake, Coupon{Code: "OLD", Kind: KindFixed, AmountOff: 1000, Active: true, ExpiresAt: &past})
	seed(t, fake, Coupon{Code: "OFF", Kind: KindFixed, AmountOff: 1000, Active: false})
	seed(t, fake, Coupon{Code: "HUGE", Kind: KindFixed, AmountOff: 999999, Active: true})

	s := NewStore(fake, "coupons")
	ctx := context.Background()

	d, err := s.Resolve(ctx, " tenoff ", 19999, now)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(2000), d) // 1999.9 rounds half-up

	d, err = s.Resolve(ctx, "FIFTY", 20000, now)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(5000), d)

	d, err = s.Resolve(ctx, "HUGE", 3000, now)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(3000), d)

	for _, code := range []string{"MISSING", "OLD", "OFF"} {
		_, err := s.Resolve(ctx, code, 30000, now)
		require.Error(t, err, code)
		assert.True(t, apperrors.Is(err, apperrors.CodeValidation), code)
		assert.Equal(t, "invalid coupon", apperrors.As(err).Message())
	}

	_, err = s.Resolve(ctx, "FIFTY", 19999, now)
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
}
