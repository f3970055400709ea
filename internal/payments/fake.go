package payments

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/apperrors"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
)

// FakeGateway is an in-process gateway for local runs and tests. Card tokens
// starting with "reject" are declined, every other card is approved. PIX and
// boleto charges stay pending until SetStatus settles them.
type FakeGateway struct {
	mu          sync.RWMutex
	payments    map[string]*Snapshot
	byKey       map[string]string
	preferences map[string]PreferenceRequest
	seq         int64
	failNext    error
	nowFunc     func() time.Time
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		payments:    make(map[string]*Snapshot),
		byKey:       make(map[string]string),
		preferences: make(map[string]PreferenceRequest),
		seq:         1000,
		nowFunc:     time.Now,
	}
}

// FailNext makes the next call return err.
func (f *FakeGateway) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

// SetStatus changes a stored payment, as the provider would after settlement.
func (f *FakeGateway) SetStatus(paymentID string, status orders.PaymentStatus, detail string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok {
		return false
	}
	p.Status = status
	p.RawStatus = string(status)
	p.StatusDetail = detail
	return true
}

// Preference returns a preference created earlier.
func (f *FakeGateway) Preference(id string) (PreferenceRequest, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.preferences[id]
	return p, ok
}

func (f *FakeGateway) CreatePreference(_ context.Context, req PreferenceRequest) (*Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	id := "pref-" + uuid.NewString()
	f.preferences[id] = req
	return &Preference{ID: id, InitPoint: "https://fake-gateway.local/checkout?pref_id=" + id}, nil
}

func (f *FakeGateway) ChargeCard(_ context.Context, req CardCharge) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap, ok := f.replay(req.IdempotencyKey); ok {
		return snap, nil
	}
	if err := f.takeFailure(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ExternalReference: req.ExternalReference,
		PaymentMethodID:   req.PaymentMethodID,
		Amount:            req.Amount,
		Installments:      req.Installments,
		CardLastFour:      "4242",
		CardBrand:         req.PaymentMethodID,
		CardExpMonth:      12,
		CardExpYear:       f.nowFunc().Year() + 3,
	}
	if strings.HasPrefix(req.Token, "reject") {
		snap.Status, snap.StatusDetail = orders.PaymentRejected, "cc_rejected_other_reason"
	} else {
		snap.Status, snap.StatusDetail = orders.PaymentApproved, "accredited"
	}
	return f.store(req.IdempotencyKey, snap), nil
}

func (f *FakeGateway) CreatePix(_ context.Context, req PixCharge) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap, ok := f.replay(req.IdempotencyKey); ok {
		return snap, nil
	}
	if err := f.takeFailure(); err != nil {
		return nil, err
	}

	code := fmt.Sprintf("00020126580014br.gov.bcb.pix0136%s5204000053039865405%s", req.ExternalReference, req.Amount)
	snap := &Snapshot{
		Status:            orders.PaymentPending,
		StatusDetail:      "pending_waiting_transfer",
		ExternalReference: req.ExternalReference,
		PaymentMethodID:   "pix",
		Amount:            req.Amount,
		Pix: &orders.PixCharge{
			QRCode:       code,
			QRCodeBase64: base64.StdEncoding.EncodeToString([]byte(code)),
			ExpiresAt:    f.nowFunc().UTC().Add(30 * time.Minute),
		},
	}
	return f.store(req.IdempotencyKey, snap), nil
}

func (f *FakeGateway) CreateBoleto(_ context.Context, req BoletoCharge) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap, ok := f.replay(req.IdempotencyKey); ok {
		return snap, nil
	}
	if err := f.takeFailure(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Status:            orders.PaymentPending,
		StatusDetail:      "pending_waiting_payment",
		ExternalReference: req.ExternalReference,
		PaymentMethodID:   "bolbradesco",
		Amount:            req.Amount,
		Boleto: &orders.BoletoCharge{
			Barcode:   fmt.Sprintf("23791%039d", f.seq+1),
			ExpiresAt: req.ExpiresAt,
		},
	}
	snap = f.store(req.IdempotencyKey, snap)
	snap.Boleto.PDFURL = "https://fake-gateway.local/boleto/" + snap.ID + ".pdf"
	f.payments[snap.ID].Boleto.PDFURL = snap.Boleto.PDFURL
	return snap, nil
}

func (f *FakeGateway) GetPayment(_ context.Context, paymentID string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, nil
	}
	return p.clone(), nil
}

func (f *FakeGateway) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUpstream, err, "payment gateway rejected the request")
	}
	return nil
}

func (f *FakeGateway) replay(key string) (*Snapshot, bool) {
	if key == "" {
		return nil, false
	}
	id, ok := f.byKey[key]
	if !ok {
		return nil, false
	}
	return f.payments[id].clone(), true
}

func (f *FakeGateway) store(key string, snap *Snapshot) *Snapshot {
	f.seq++
	snap.ID = fmt.Sprintf("%d", f.seq)
	snap.RawStatus = string(snap.Status)
	f.payments[snap.ID] = snap
	if key != "" {
		f.byKey[key] = snap.ID
	}
	return snap.clone()
}

func (s *Snapshot) clone() *Snapshot {
	c := *s
	if s.Pix != nil {
		pix := *s.Pix
		c.Pix = &pix
	}
	if s.Boleto != nil {
		boleto := *s.Boleto
		c.Boleto = &boleto
	}
	return &c
}
