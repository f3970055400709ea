package validation

import "github.com/imrishuroy/go-sneaker-orderflow/internal/money"

type ItemRequest struct {
	ProductID string      `json:"productId" validate:"required"`
	VariantID string      `json:"variantId" validate:"required"`
	Name      string      `json:"name" validate:"required,max=200"`
	Size      string      `json:"size,omitempty" validate:"max=20"`
	Color     string      `json:"color,omitempty" validate:"max=50"`
	Image     string      `json:"image,omitempty" validate:"omitempty,url"`
	Quantity  int         `json:"quantity" validate:"required,min=1,max=99"`
	Price     money.Cents `json:"price" validate:"gt=0"`
}

type AddressRequest struct {
	Recipient    string `json:"recipient,omitempty" validate:"max=120"`
	Street       string `json:"street" validate:"required,max=200"`
	Number       string `json:"number,omitempty" validate:"max=20"`
	Complement   string `json:"complement,omitempty" validate:"max=120"`
	Neighborhood string `json:"neighborhood,omitempty" validate:"max=120"`
	City         string `json:"city" validate:"required,max=120"`
	State        string `json:"state" validate:"required,max=60"`
	ZipCode      string `json:"zipCode" validate:"required,max=20"`
	Country      string `json:"country,omitempty" validate:"max=60"`
}

// CreateOrderRequest is the payload for POST /orders.
type CreateOrderRequest struct {
	Items           []ItemRequest   `json:"items" validate:"required,min=1,dive"`
	ShippingAddress *AddressRequest `json:"shippingAddress" validate:"required"`
	ShippingMethod  string          `json:"shippingMethod" validate:"required,oneof=normal express"`
	ShippingPrice   *money.Cents    `json:"shippingPrice,omitempty" validate:"omitempty,gte=0"`
	PaymentMethod   string          `json:"paymentMethod,omitempty" validate:"omitempty,oneof=credit_card pix boleto pending"`
	CouponCode      string          `json:"couponCode,omitempty" validate:"max=64"`
}

// CancelOrderRequest is the payload for PATCH /orders/:id. Cancellation is
// the only change a customer can make.
type CancelOrderRequest struct {
	Status             string `json:"status" validate:"required,eq=cancelled"`
	CancellationReason string `json:"cancellationReason,omitempty" validate:"max=500"`
}

type AdminStatusRequest struct {
	Status         string `json:"status" validate:"required,oneof=awaiting_shipment in_transit delivered"`
	TrackingNumber string `json:"trackingNumber,omitempty" validate:"max=100"`
	Comment        string `json:"comment,omitempty" validate:"max=500"`
}

type PreferenceRequest struct {
	OrderID    string `json:"orderId" validate:"required"`
	PayerEmail string `json:"payerEmail,omitempty" validate:"omitempty,email"`
}

// CardPaymentRequest is the payload for POST /payments/card. Amount is
// optional and checked against the order total by the payment flow, so a
// mismatch surfaces as InvalidAmount rather than a generic field error.
type CardPaymentRequest struct {
	OrderID         string       `json:"orderId" validate:"required"`
	Token           string       `json:"token,omitempty"`
	Installments    int          `json:"installments,omitempty" validate:"omitempty,min=1,max=12"`
	PaymentMethodID string       `json:"paymentMethodId,omitempty"`
	Amount          *money.Cents `json:"amount,omitempty"`
	PayerEmail      string       `json:"payerEmail,omitempty" validate:"omitempty,email"`
	TestMode        bool         `json:"testMode,omitempty"`
	SaveCard        bool         `json:"saveCard,omitempty"`
}

type PixRequest struct {
	OrderID    string `json:"orderId" validate:"required"`
	PayerEmail string `json:"payerEmail,omitempty" validate:"omitempty,email"`
}

// BoletoRequest carries the payer identity a boleto needs. The tax id digit
// count and full-name rules live with the boleto flow.
type BoletoRequest struct {
	OrderID    string `json:"orderId" validate:"required"`
	TaxID      string `json:"taxId" validate:"required,max=32"`
	FullName   string `json:"fullName" validate:"required,max=200"`
	PayerEmail string `json:"payerEmail,omitempty" validate:"omitempty,email"`
}
