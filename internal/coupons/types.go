package coupons

import (
	"time"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/money"
)

type Kind string

const (
	KindPercentage Kind = "percentage"
	KindFixed      Kind = "fixed"
)

// Coupon is read-only for this service; the storefront admin owns the table.
type Coupon struct {
	Code        string      `dynamodbav:"code"` // PK, upper case
	Kind        Kind        `dynamodbav:"kind"`
	PercentOff  int         `dynamodbav:"percent_off,omitempty"` // 1..100 for percentage coupons
	AmountOff   money.Cents `dynamodbav:"amount_off_cents,omitempty"`
	MinSubtotal money.Cents `dynamodbav:"min_subtotal_cents,omitempty"`
	Active      bool        `dynamodbav:"active"`
	ExpiresAt   *time.Time  `dynamodbav:"expires_at,omitempty"`
}
