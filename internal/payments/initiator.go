package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/apperrors"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/money"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
)

// pixRate is the share of the total charged when paying by PIX.
var pixRate = decimal.RequireFromString("0.95")

const (
	boletoBusinessDays = 3
	maxInstallments    = 12
)

type InitiatorConfig struct {
	// AllowTestMode lets card requests skip the provider and approve.
	AllowTestMode bool
}

type InitiatorDeps struct {
	Orders      *orders.Service
	Gateway     Gateway
	Reconciler  *Reconciler
	Methods     *MethodStore
	Idempotency *idempotency.Store
	Logger      *logger.Logger
}

// Initiator starts payments for existing orders.
type Initiator struct {
	orders     *orders.Service
	gateway    Gateway
	reconciler *Reconciler
	methods    *MethodStore
	idem       *idempotency.Store
	log        *logger.Logger
	cfg        InitiatorConfig
	nowFunc    func() time.Time
	newKey     func() string
}

func NewInitiator(deps InitiatorDeps, cfg InitiatorConfig) *Initiator {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Initiator{
		orders:     deps.Orders,
		gateway:    deps.Gateway,
		reconciler: deps.Reconciler,
		methods:    deps.Methods,
		idem:       deps.Idempotency,
		log:        log,
		cfg:        cfg,
		nowFunc:    time.Now,
		newKey:     uuid.NewString,
	}
}

type CardRequest struct {
	OrderID         string
	Token           string
	Installments    int
	PaymentMethodID string
	Amount          *money.Cents
	PayerEmail      string
	TestMode        bool
	SaveCard        bool
	IdempotencyKey  string
	RequestHash     string
}

type ChargeResult struct {
	PaymentID    string               `json:"paymentId"`
	Status       orders.PaymentStatus `json:"status"`
	StatusDetail string               `json:"statusDetail,omitempty"`
	OrderID      string               `json:"orderId"`
	OrderStatus  orders.Status        `json:"orderStatus"`
	Amount       money.Cents          `json:"amount"`
}

type PixResult struct {
	TransactionID  string      `json:"transactionId"`
	OrderID        string      `json:"orderId"`
	Amount         money.Cents `json:"amount"`
	QRCode         string      `json:"qrCode"`
	QRCodeBase64   string      `json:"qrCodeBase64"`
	ExpirationDate time.Time   `json:"expirationDate"`
}

type BoletoRequest struct {
	OrderID    string
	TaxID      string
	FullName   string
	PayerEmail string
}

type BoletoResult struct {
	TransactionID  string      `json:"transactionId"`
	OrderID        string      `json:"orderId"`
	Amount         money.Cents `json:"amount"`
	Barcode        string      `json:"barcode"`
	PDFURL         string      `json:"pdfUrl"`
	ExpirationDate time.Time   `json:"expirationDate"`
}

// CreatePreference opens a hosted checkout for the order.
func (i *Initiator) CreatePreference(ctx context.Context, userID, orderID, payerEmail string) (*Preference, error) {
	o, err := i.chargeableOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	pref, err := i.gateway.CreatePreference(ctx, PreferenceRequest{
		ExternalReference: o.ID,
		Items:             preferenceItems(o),
		PayerEmail:        payerEmail,
	})
	if err != nil {
		i.log.Error(ctx, "create preference failed", err)
		return nil, upstream(err)
	}

	_, err = i.orders.Update(ctx, o.ID, orders.SourceSync, func(o *orders.Order, _ time.Time) error {
		if o.Payment.PreferenceID == pref.ID {
			return orders.ErrNoChange
		}
		o.Payment.PreferenceID = pref.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pref, nil
}

// preferenceItems lists the order lines. A discounted order is sent as one
// line for the total so the checkout shows what will be charged.
func preferenceItems(o *orders.Order) []PreferenceItem {
	total := o.TotalWithoutPixDiscount()
	if total != o.Subtotal+o.Shipping.Cost {
		title := "Order"
		if o.OrderNumber != "" {
			title += " " + o.OrderNumber
		}
		return []PreferenceItem{{ID: o.ID, Title: title, Quantity: 1, UnitPrice: total}}
	}
	items := make([]PreferenceItem, 0, len(o.Items)+1)
	for _, it := range o.Items {
		title := it.Name
		if it.Size != "" {
			title += " (" + it.Size + ")"
		}
		id := it.VariantID
		if id == "" {
			id = it.ProductID
		}
		items = append(items, PreferenceItem{ID: id, Title: title, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	if o.Shipping.Cost > 0 {
		items = append(items, PreferenceItem{ID: "shipping", Title: "Shipping", Quantity: 1, UnitPrice: o.Shipping.Cost})
	}
	return items
}

// ChargeCard charges a tokenized card. With an idempotency key, a repeated
// request replays the first result instead of charging again. The boolean
// result reports a replay.
func (i *Initiator) ChargeCard(ctx context.Context, userID string, req CardRequest) (*ChargeResult, bool, error) {
	if req.IdempotencyKey == "" || i.idem == nil {
		res, err := i.chargeCard(ctx, userID, req)
		return res, false, err
	}

	key := idempotency.Key(idempotency.ScopeCardCharge, userID, req.IdempotencyKey)
	claimed, err := i.idem.Begin(ctx, i.idem.NewRecord(key, idempotency.ScopeCardCharge, userID, req.RequestHash, req.OrderID))
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeInternal, err, "idempotency check failed")
	}
	if !claimed {
		res, err := i.replayCharge(ctx, key, req.RequestHash)
		return res, err == nil, err
	}

	res, err := i.chargeCard(ctx, userID, req)
	if err != nil {
		if markErr := i.idem.MarkFailed(ctx, key, err.Error()); markErr != nil {
			i.log.Error(ctx, "failed to release idempotency key", markErr)
		}
		return nil, false, err
	}
	body, err := json.Marshal(res)
	if err == nil {
		err = i.idem.MarkDone(ctx, key, res.PaymentID, string(body), http.StatusOK)
	}
	if err != nil {
		i.log.Error(ctx, "failed to store idempotent charge result", err)
	}
	return res, false, nil
}

func (i *Initiator) replayCharge(ctx context.Context, key, requestHash string) (*ChargeResult, error) {
	rec, err := i.idem.Get(ctx, key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "idempotency lookup failed")
	}
	if rec == nil || rec.Status != idempotency.StatusDone {
		return nil, apperrors.New(apperrors.CodeConflict, "request with this Idempotency-Key is already in progress")
	}
	if !rec.Matches(requestHash) {
		return nil, apperrors.New(apperrors.CodeConflict, "Idempotency-Key was already used with a different request")
	}
	var res ChargeResult
	if err := json.Unmarshal([]byte(rec.ResponseBody), &res); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "stored charge result is unreadable")
	}
	return &res, nil
}

func (i *Initiator) chargeCard(ctx context.Context, userID string, req CardRequest) (*ChargeResult, error) {
	o, err := i.chargeableOrder(ctx, userID, req.OrderID)
	if err != nil {
		return nil, err
	}

	// a card pays the full price; the PIX discount does not apply
	amount := o.TotalWithoutPixDiscount()
	if amount <= 0 {
		return nil, invalidAmount()
	}
	if req.Amount != nil && *req.Amount != amount {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("amount must equal the order total of %s", amount)).
			WithDetails(map[string]any{"reason": "InvalidAmount"})
	}
	installments := req.Installments
	if installments == 0 {
		installments = 1
	}
	if installments < 1 || installments > maxInstallments {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("installments must be between 1 and %d", maxInstallments))
	}

	var snap *Snapshot
	if req.TestMode {
		if !i.cfg.AllowTestMode {
			return nil, apperrors.New(apperrors.CodeForbidden, "test mode payments are disabled")
		}
		i.log.Warn(ctx, "approving card payment in test mode")
		snap = &Snapshot{
			ID:                testTransactionPrefix + i.newKey(),
			Status:            orders.PaymentApproved,
			RawStatus:         string(orders.PaymentApproved),
			StatusDetail:      "accredited",
			ExternalReference: o.ID,
			PaymentMethodID:   req.PaymentMethodID,
			Amount:            amount,
			Installments:      installments,
		}
	} else {
		if strings.TrimSpace(req.Token) == "" {
			return nil, apperrors.New(apperrors.CodeValidation, "token is required")
		}
		gatewayKey := req.IdempotencyKey
		if gatewayKey == "" {
			gatewayKey = i.newKey()
		}
		snap, err = i.gateway.ChargeCard(ctx, CardCharge{
			ExternalReference: o.ID,
			Amount:            amount,
			Token:             req.Token,
			Installments:      installments,
			PaymentMethodID:   req.PaymentMethodID,
			PayerEmail:        req.PayerEmail,
			IdempotencyKey:    gatewayKey,
		})
		if err != nil {
			i.log.Error(ctx, "card charge failed", err)
			return nil, upstream(err)
		}
	}

	updated, err := i.reconciler.apply(ctx, o.ID, snap, orders.SourceSync, applyOptions{method: orders.PaymentMethodCreditCard})
	if err != nil {
		i.log.Error(i.log.WithField(ctx, "payment_id", snap.ID), "card charged but order update failed", err)
		return nil, err
	}

	if req.SaveCard && !req.TestMode && snap.Status == orders.PaymentApproved && i.methods != nil {
		if _, err := i.methods.SaveFromSnapshot(ctx, userID, snap); err != nil {
			i.log.Error(ctx, "failed to save payment method", err)
		}
	}

	return &ChargeResult{
		PaymentID:    snap.ID,
		Status:       snap.Status,
		StatusDetail: snap.StatusDetail,
		OrderID:      updated.ID,
		OrderStatus:  updated.Status,
		Amount:       amount,
	}, nil
}

// CreatePix charges the order by PIX with the PIX discount applied. The order
// stays pending until the transfer settles.
func (i *Initiator) CreatePix(ctx context.Context, userID, orderID, payerEmail string) (*PixResult, error) {
	o, err := i.chargeableOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	amount := money.Cents(money.ApplyRate(int64(o.TotalWithoutPixDiscount()), pixRate))
	if amount <= 0 {
		return nil, invalidAmount()
	}

	description := "Order " + o.ID
	if o.OrderNumber != "" {
		description = "Order " + o.OrderNumber
	}
	snap, err := i.gateway.CreatePix(ctx, PixCharge{
		ExternalReference: o.ID,
		Amount:            amount,
		PayerEmail:        payerEmail,
		Description:       description,
		IdempotencyKey:    i.newKey(),
	})
	if err != nil {
		i.log.Error(ctx, "pix charge failed", err)
		return nil, upstream(err)
	}

	updated, err := i.reconciler.apply(ctx, o.ID, snap, orders.SourceSync, applyOptions{
		method:          orders.PaymentMethodPix,
		asyncSettlement: true,
		mutate: func(o *orders.Order, snap *Snapshot) {
			charged := snap.Amount
			if charged <= 0 {
				charged = amount
			}
			o.SetPixDiscount(o.TotalWithoutPixDiscount() - charged)
		},
	})
	if err != nil {
		return nil, err
	}

	res := &PixResult{TransactionID: snap.ID, OrderID: updated.ID, Amount: updated.Total}
	if snap.Pix != nil {
		res.QRCode = snap.Pix.QRCode
		res.QRCodeBase64 = snap.Pix.QRCodeBase64
		res.ExpirationDate = snap.Pix.ExpiresAt
	}
	return res, nil
}

// CreateBoleto issues a bank slip for the full total, due in three business days.
func (i *Initiator) CreateBoleto(ctx context.Context, userID string, req BoletoRequest) (*BoletoResult, error) {
	taxID := digitsOnly(req.TaxID)
	var taxIDType string
	switch len(taxID) {
	case 11:
		taxIDType = "CPF"
	case 14:
		taxIDType = "CNPJ"
	default:
		return nil, apperrors.New(apperrors.CodeValidation, "taxId must have 11 (CPF) or 14 (CNPJ) digits")
	}
	names := strings.Fields(req.FullName)
	if len(names) < 2 {
		return nil, apperrors.New(apperrors.CodeValidation, "fullName must include first and last name")
	}

	o, err := i.chargeableOrder(ctx, userID, req.OrderID)
	if err != nil {
		return nil, err
	}
	amount := o.TotalWithoutPixDiscount()
	if amount <= 0 {
		return nil, invalidAmount()
	}

	expires := AddBusinessDays(i.nowFunc().UTC(), boletoBusinessDays)
	snap, err := i.gateway.CreateBoleto(ctx, BoletoCharge{
		ExternalReference: o.ID,
		Amount:            amount,
		PayerEmail:        req.PayerEmail,
		TaxIDType:         taxIDType,
		TaxID:             taxID,
		FirstName:         names[0],
		LastName:          strings.Join(names[1:], " "),
		ExpiresAt:         expires,
		IdempotencyKey:    i.newKey(),
	})
	if err != nil {
		i.log.Error(ctx, "boleto charge failed", err)
		return nil, upstream(err)
	}

	updated, err := i.reconciler.apply(ctx, o.ID, snap, orders.SourceSync, applyOptions{
		method:          orders.PaymentMethodBoleto,
		asyncSettlement: true,
	})
	if err != nil {
		return nil, err
	}

	res := &BoletoResult{TransactionID: snap.ID, OrderID: updated.ID, Amount: amount, ExpirationDate: expires}
	if snap.Boleto != nil {
		res.Barcode = snap.Boleto.Barcode
		res.PDFURL = snap.Boleto.PDFURL
		if !snap.Boleto.ExpiresAt.IsZero() {
			res.ExpirationDate = snap.Boleto.ExpiresAt
		}
	}
	return res, nil
}

// SavedMethods lists the caller's saved cards.
func (i *Initiator) SavedMethods(ctx context.Context, userID string) ([]SavedMethod, error) {
	if i.methods == nil {
		return []SavedMethod{}, nil
	}
	methods, err := i.methods.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list payment methods")
	}
	return methods, nil
}

func (i *Initiator) chargeableOrder(ctx context.Context, userID, orderID string) (*orders.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "orderId is required")
	}
	o, err := i.orders.Get(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Status.Chargeable() {
		return nil, apperrors.New(apperrors.CodeInvalidTransition,
			fmt.Sprintf("order in status %s cannot be charged", o.Status)).
			WithDetails(map[string]any{"from": o.Status})
	}
	return o, nil
}

// AddBusinessDays moves t forward by n weekdays.
func AddBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return t
}

func invalidAmount() error {
	return apperrors.New(apperrors.CodeValidation, "amount must be positive").
		WithDetails(map[string]any{"reason": "InvalidAmount"})
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
