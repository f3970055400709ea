package orders

import (
	"fmt"
	"time"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/apperrors"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/money"
)

// Status is the overall order lifecycle state.
type Status string

const (
	StatusPending          Status = "pending"
	StatusProcessing       Status = "processing"
	StatusPaymentFailed    Status = "payment_failed"
	StatusCancelled        Status = "cancelled"
	StatusAwaitingShipment Status = "awaiting_shipment"
	StatusInTransit        Status = "in_transit"
	StatusDelivered        Status = "delivered"
)

// PaymentMethod is the way the customer chose to pay.
type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodPix        PaymentMethod = "pix"
	PaymentMethodBoleto     PaymentMethod = "boleto"
	PaymentMethodPending    PaymentMethod = "pending"
)

// PaymentStatus mirrors the gateway outcome, normalized.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentApproved  PaymentStatus = "approved"
	PaymentRejected  PaymentStatus = "rejected"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"
)

type ShippingMethod string

const (
	ShippingNormal  ShippingMethod = "normal"
	ShippingExpress ShippingMethod = "express"
)

const (
	DefaultCancellationReason = "cancelled by customer"
	ExpiredCancellationReason = "payment window expired"
)

var transitions = map[Status][]Status{
	StatusPending:          {StatusProcessing, StatusPaymentFailed, StatusCancelled},
	StatusProcessing:       {StatusCancelled, StatusPaymentFailed, StatusAwaitingShipment},
	StatusPaymentFailed:    {StatusProcessing, StatusPending},
	StatusAwaitingShipment: {StatusInTransit},
	StatusInTransit:        {StatusDelivered},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether a customer may still cancel.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusProcessing
}

// Chargeable reports whether a new payment attempt may start.
func (s Status) Chargeable() bool {
	return s == StatusPending || s == StatusPaymentFailed
}

func (s Status) IsShipping() bool {
	return s == StatusAwaitingShipment || s == StatusInTransit || s == StatusDelivered
}

// StatusForPayment derives the order status a payment outcome leads to.
// ok is false when the payment status does not move the order.
func StatusForPayment(ps PaymentStatus) (Status, bool) {
	switch ps {
	case PaymentApproved:
		return StatusProcessing, true
	case PaymentRejected, PaymentCancelled:
		return StatusPaymentFailed, true
	default:
		return "", false
	}
}

type Item struct {
	ProductID string      `json:"productId" dynamodbav:"product_id"`
	VariantID string      `json:"variantId" dynamodbav:"variant_id"`
	Name      string      `json:"name" dynamodbav:"name"`
	Size      string      `json:"size,omitempty" dynamodbav:"size,omitempty"`
	Color     string      `json:"color,omitempty" dynamodbav:"color,omitempty"`
	Image     string      `json:"image,omitempty" dynamodbav:"image,omitempty"`
	Quantity  int         `json:"quantity" dynamodbav:"quantity"`
	UnitPrice money.Cents `json:"price" dynamodbav:"unit_price_cents"`
}

func (i Item) LineTotal() money.Cents {
	return i.UnitPrice * money.Cents(i.Quantity)
}

// Address is a snapshot taken at checkout, not a reference to the address book.
type Address struct {
	Recipient    string `json:"recipient,omitempty" dynamodbav:"recipient,omitempty"`
	Street       string `json:"street" dynamodbav:"street"`
	Number       string `json:"number,omitempty" dynamodbav:"number,omitempty"`
	Complement   string `json:"complement,omitempty" dynamodbav:"complement,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty" dynamodbav:"neighborhood,omitempty"`
	City         string `json:"city" dynamodbav:"city"`
	State        string `json:"state" dynamodbav:"state"`
	ZipCode      string `json:"zipCode" dynamodbav:"zip_code"`
	Country      string `json:"country,omitempty" dynamodbav:"country,omitempty"`
}

type Shipping struct {
	Address        Address        `json:"address" dynamodbav:"address"`
	Method         ShippingMethod `json:"method" dynamodbav:"method"`
	Cost           money.Cents    `json:"cost" dynamodbav:"cost_cents"`
	TrackingNumber string         `json:"trackingNumber,omitempty" dynamodbav:"tracking_number,omitempty"`
}

type PixCharge struct {
	QRCode       string    `json:"qrCode" dynamodbav:"qr_code"`
	QRCodeBase64 string    `json:"qrCodeBase64" dynamodbav:"qr_code_base64"`
	ExpiresAt    time.Time `json:"expirationDate" dynamodbav:"expires_at"`
}

type BoletoCharge struct {
	Barcode   string    `json:"barcode" dynamodbav:"barcode"`
	PDFURL    string    `json:"pdfUrl" dynamodbav:"pdf_url"`
	ExpiresAt time.Time `json:"expirationDate" dynamodbav:"expires_at"`
}

type Payment struct {
	Method        PaymentMethod `json:"method" dynamodbav:"method"`
	TransactionID string        `json:"transactionId,omitempty" dynamodbav:"transaction_id,omitempty"`
	Status        PaymentStatus `json:"status" dynamodbav:"status"`
	StatusDetail  string        `json:"statusDetail,omitempty" dynamodbav:"status_detail,omitempty"`
	PreferenceID  string        `json:"preferenceId,omitempty" dynamodbav:"preference_id,omitempty"`
	Amount        money.Cents   `json:"amount,omitempty" dynamodbav:"amount_cents,omitempty"`
	// PixDiscount is the part of the order discount granted for paying by PIX.
	PixDiscount   money.Cents   `json:"pixDiscount,omitempty" dynamodbav:"pix_discount_cents,omitempty"`
	Installments  int           `json:"installments,omitempty" dynamodbav:"installments,omitempty"`
	CardLastFour  string        `json:"cardLastFour,omitempty" dynamodbav:"card_last_four,omitempty"`
	CardBrand     string        `json:"cardBrand,omitempty" dynamodbav:"card_brand,omitempty"`
	Pix           *PixCharge    `json:"pix,omitempty" dynamodbav:"pix,omitempty"`
	Boleto        *BoletoCharge `json:"boleto,omitempty" dynamodbav:"boleto,omitempty"`
	UpdatedAt     *time.Time    `json:"updatedAt,omitempty" dynamodbav:"updated_at,omitempty"`
}

type StatusEntry struct {
	Status    Status    `json:"status" dynamodbav:"status"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
	Comment   string    `json:"comment,omitempty" dynamodbav:"comment,omitempty"`
}

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	ID                 string        `json:"id" dynamodbav:"order_id"` // PK
	OrderNumber        string        `json:"orderNumber" dynamodbav:"order_number"`
	UserID             string        `json:"userId" dynamodbav:"user_id"`
	Items              []Item        `json:"items" dynamodbav:"items"`
	Shipping           Shipping      `json:"shipping" dynamodbav:"shipping"`
	Payment            Payment       `json:"payment" dynamodbav:"payment"`
	Subtotal           money.Cents   `json:"subtotal" dynamodbav:"subtotal_cents"`
	Discount           money.Cents   `json:"discountAmount" dynamodbav:"discount_cents"`
	Total              money.Cents   `json:"total" dynamodbav:"total_cents"`
	CouponCode         string        `json:"couponApplied,omitempty" dynamodbav:"coupon_code,omitempty"`
	Status             Status        `json:"status" dynamodbav:"status"`
	StatusHistory      []StatusEntry `json:"statusHistory" dynamodbav:"status_history"`
	PaymentExpiresAt   time.Time     `json:"paymentExpiresAt" dynamodbav:"payment_expires_at,unixtime"`
	CancelledAt        *time.Time    `json:"cancelledAt,omitempty" dynamodbav:"cancelled_at,omitempty"`
	CancellationReason string        `json:"cancellationReason,omitempty" dynamodbav:"cancellation_reason,omitempty"`
	Version            int64         `json:"version" dynamodbav:"version"`
	CreatedAt          time.Time     `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt          time.Time     `json:"updatedAt" dynamodbav:"updated_at"`

	// GSI keys, maintained by the store.
	CreatedSeq int64  `json:"-" dynamodbav:"created_seq"`
	PaymentTx  string `json:"-" dynamodbav:"payment_transaction_id,omitempty"`
}

// RecomputeTotals derives subtotal and total from the stored items. The
// discount is clamped so the total never goes negative.
func (o *Order) RecomputeTotals() {
	var subtotal money.Cents
	for _, it := range o.Items {
		subtotal += it.LineTotal()
	}
	o.Subtotal = subtotal
	if o.Discount < 0 {
		o.Discount = 0
	}
	if ceiling := subtotal + o.Shipping.Cost; o.Discount > ceiling {
		o.Discount = ceiling
	}
	o.Total = o.Subtotal + o.Shipping.Cost - o.Discount
}

// TotalWithoutPixDiscount is the amount due for any method other than PIX.
func (o *Order) TotalWithoutPixDiscount() money.Cents {
	return o.Total + o.Payment.PixDiscount
}

// SetPixDiscount replaces the PIX share of the discount and recomputes totals.
func (o *Order) SetPixDiscount(d money.Cents) {
	o.Discount += d - o.Payment.PixDiscount
	o.Payment.PixDiscount = d
	o.RecomputeTotals()
}

// TransitionTo moves the order to next and appends one history entry.
func (o *Order) TransitionTo(next Status, comment string, at time.Time) error {
	if !CanTransition(o.Status, next) {
		return apperrors.New(apperrors.CodeInvalidTransition,
			fmt.Sprintf("cannot move order from %s to %s", o.Status, next)).
			WithDetails(map[string]any{"from": o.Status, "to": next})
	}
	o.Status = next
	o.StatusHistory = append(o.StatusHistory, StatusEntry{Status: next, Timestamp: at, Comment: comment})
	o.UpdatedAt = at
	return nil
}

// Cancel applies a cancellation, defaulting the reason.
func (o *Order) Cancel(reason string, at time.Time) error {
	if !o.Status.Cancellable() {
		return apperrors.New(apperrors.CodeInvalidTransition,
			fmt.Sprintf("order in status %s cannot be cancelled", o.Status)).
			WithDetails(map[string]any{"from": o.Status, "to": StatusCancelled})
	}
	if reason == "" {
		reason = DefaultCancellationReason
	}
	if err := o.TransitionTo(StatusCancelled, reason, at); err != nil {
		return err
	}
	cancelledAt := at
	o.CancelledAt = &cancelledAt
	o.CancellationReason = reason
	return nil
}

// OwnedBy reports whether userID owns the order.
func (o *Order) OwnedBy(userID string) bool {
	return o.UserID != "" && o.UserID == userID
}
