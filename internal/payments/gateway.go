package payments

import (
	"context"
	"strings"
	"time"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/money"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
)

// Gateway is the subset of the payment provider API the service consumes.
type Gateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
	ChargeCard(ctx context.Context, req CardCharge) (*Snapshot, error)
	CreatePix(ctx context.Context, req PixCharge) (*Snapshot, error)
	CreateBoleto(ctx context.Context, req BoletoCharge) (*Snapshot, error)
	// GetPayment returns (nil, nil) when the provider does not know the id.
	GetPayment(ctx context.Context, paymentID string) (*Snapshot, error)
}

type PreferenceItem struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice money.Cents
}

type PreferenceRequest struct {
	ExternalReference string
	Items             []PreferenceItem
	PayerEmail        string
}

type Preference struct {
	ID        string `json:"preferenceId"`
	InitPoint string `json:"initPoint,omitempty"`
}

type CardCharge struct {
	ExternalReference string
	Amount            money.Cents
	Token             string
	Installments      int
	PaymentMethodID   string
	PayerEmail        string
	IdempotencyKey    string
}

type PixCharge struct {
	ExternalReference string
	Amount            money.Cents
	PayerEmail        string
	Description       string
	IdempotencyKey    string
}

type BoletoCharge struct {
	ExternalReference string
	Amount            money.Cents
	PayerEmail        string
	TaxIDType         string
	TaxID             string
	FirstName         string
	LastName          string
	ExpiresAt         time.Time
	IdempotencyKey    string
}

// Snapshot is a normalized view of a gateway payment at one point in time.
type Snapshot struct {
	ID                string
	Status            orders.PaymentStatus
	RawStatus         string
	StatusDetail      string
	ExternalReference string
	PaymentMethodID   string
	Amount            money.Cents
	Installments      int
	CardLastFour      string
	CardBrand         string
	CardExpMonth      int
	CardExpYear       int
	Pix               *orders.PixCharge
	Boleto            *orders.BoletoCharge
}

// NormalizeStatus maps a provider status onto the order payment statuses.
// Anything the provider still considers open is pending.
func NormalizeStatus(raw string) orders.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "authorized":
		return orders.PaymentApproved
	case "rejected":
		return orders.PaymentRejected
	case "cancelled", "canceled":
		return orders.PaymentCancelled
	case "refunded", "charged_back":
		return orders.PaymentRefunded
	default:
		return orders.PaymentPending
	}
}

// MethodFor maps a provider payment_method_id onto the order payment method.
func MethodFor(paymentMethodID string) orders.PaymentMethod {
	switch id := strings.ToLower(paymentMethodID); {
	case id == "":
		return ""
	case id == "pix":
		return orders.PaymentMethodPix
	case id == "bolbradesco" || id == "pec" || strings.HasPrefix(id, "boleto"):
		return orders.PaymentMethodBoleto
	default:
		return orders.PaymentMethodCreditCard
	}
}
