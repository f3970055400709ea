package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/apperrors"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/money"
)

// maxSaveAttempts bounds the read-modify-write loop in Update.
const maxSaveAttempts = 5

// ErrNoChange lets an Update mutation skip the write.
var ErrNoChange = errors.New("no change")

// CouponResolver turns a coupon code into a discount for a subtotal.
type CouponResolver interface {
	Resolve(ctx context.Context, code string, subtotal money.Cents, at time.Time) (money.Cents, error)
}

type ServiceConfig struct {
	PaymentWindow time.Duration
	ShippingRates map[ShippingMethod]money.Cents
}

type ServiceDeps struct {
	Store       *Store
	Numbers     *NumberGenerator
	Coupons     CouponResolver
	Idempotency *idempotency.Store
	Events      EventPublisher
	Logger      *logger.Logger
}

// Service implements order creation, queries and every status mutation.
type Service struct {
	store   *Store
	numbers *NumberGenerator
	coupons CouponResolver
	idem    *idempotency.Store
	events  EventPublisher
	log     *logger.Logger
	cfg     ServiceConfig
	nowFunc func() time.Time
	newID   func() string
}

func NewService(deps ServiceDeps, cfg ServiceConfig) *Service {
	events := deps.Events
	if events == nil {
		events = nopEvents{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = 24 * time.Hour
	}
	return &Service{
		store:   deps.Store,
		numbers: deps.Numbers,
		coupons: deps.Coupons,
		idem:    deps.Idempotency,
		events:  events,
		log:     log,
		cfg:     cfg,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

// CreateInput is a cart snapshot plus the checkout choices.
type CreateInput struct {
	UserID         string
	Items          []Item
	Address        *Address
	ShippingMethod ShippingMethod
	// ShippingPrice is what the client displayed; it must match the rate table.
	ShippingPrice  *money.Cents
	PaymentMethod  PaymentMethod
	CouponCode     string
	IdempotencyKey string
	RequestHash    string
}

// Create validates the cart, prices it and persists a pending order. The
// boolean result is true when an earlier request with the same idempotency
// key already created the order.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, bool, error) {
	if err := validateCreate(in); err != nil {
		return nil, false, err
	}

	if in.IdempotencyKey != "" && s.idem != nil {
		key := idempotency.Key(idempotency.ScopeCreateOrder, in.UserID, in.IdempotencyKey)
		rec, err := s.idem.Get(ctx, key)
		if err != nil {
			return nil, false, apperrors.Wrap(apperrors.CodeInternal, err, "idempotency lookup failed")
		}
		if rec != nil {
			return s.replay(ctx, rec, in.RequestHash)
		}
	}

	now := s.nowFunc().UTC()
	order, err := s.build(ctx, in, now)
	if err != nil {
		return nil, false, err
	}

	if in.IdempotencyKey == "" || s.idem == nil {
		if err := s.store.Create(ctx, order); err != nil {
			return nil, false, apperrors.Wrap(apperrors.CodeInternal, err, "failed to create order")
		}
		s.created(ctx, order)
		return order, false, nil
	}

	key := idempotency.Key(idempotency.ScopeCreateOrder, in.UserID, in.IdempotencyKey)
	put, err := s.idem.TransactPut(s.idem.NewRecord(key, idempotency.ScopeCreateOrder, in.UserID, in.RequestHash, order.ID), 201)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeInternal, err, "failed to create order")
	}
	err = s.store.Create(ctx, order, put)
	if errors.Is(err, ErrTransactionCanceled) {
		// a concurrent request with the same key won the race
		rec, getErr := s.idem.Get(ctx, key)
		if getErr != nil || rec == nil {
			return nil, false, apperrors.Wrap(apperrors.CodeConflict, err, "request with this Idempotency-Key is already in progress")
		}
		return s.replay(ctx, rec, in.RequestHash)
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeInternal, err, "failed to create order")
	}
	s.created(ctx, order)
	return order, false, nil
}

func (s *Service) build(ctx context.Context, in CreateInput, now time.Time) (*Order, error) {
	method := in.ShippingMethod
	if method == "" {
		method = ShippingNormal
	}
	cost, ok := s.cfg.ShippingRates[method]
	if !ok {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unknown shipping method %q", method))
	}
	if in.ShippingPrice != nil && *in.ShippingPrice != cost {
		return nil, apperrors.New(apperrors.CodeValidation, "shipping price does not match the selected method").
			WithDetails(map[string]any{"shippingMethod": method, "expected": cost})
	}

	paymentMethod := in.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = PaymentMethodPending
	}

	items := make([]Item, len(in.Items))
	copy(items, in.Items)

	order := &Order{
		ID:     s.newID(),
		UserID: in.UserID,
		Items:  items,
		Shipping: Shipping{
			Address: *in.Address,
			Method:  method,
			Cost:    cost,
		},
		Payment: Payment{
			Method: paymentMethod,
			Status: PaymentPending,
		},
		Status: StatusPending,
		StatusHistory: []StatusEntry{
			{Status: StatusPending, Timestamp: now, Comment: "order created"},
		},
		PaymentExpiresAt: now.Add(s.cfg.PaymentWindow),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	order.RecomputeTotals()

	if code := strings.TrimSpace(in.CouponCode); code != "" {
		if s.coupons == nil {
			return nil, apperrors.New(apperrors.CodeValidation, "invalid coupon")
		}
		discount, err := s.coupons.Resolve(ctx, code, order.Subtotal, now)
		if err != nil {
			return nil, err
		}
		order.CouponCode = strings.ToUpper(code)
		order.Discount = discount
		order.RecomputeTotals()
	}

	if s.numbers != nil {
		number, err := s.numbers.Next(ctx, now)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to allocate order number")
		}
		order.OrderNumber = number
	}
	return order, nil
}

func (s *Service) replay(ctx context.Context, rec *idempotency.Record, requestHash string) (*Order, bool, error) {
	if !rec.Matches(requestHash) {
		return nil, false, apperrors.New(apperrors.CodeConflict, "Idempotency-Key was already used with a different request")
	}
	order, err := s.store.Get(ctx, rec.ResourceID)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load order")
	}
	if order == nil {
		return nil, false, apperrors.New(apperrors.CodeConflict, "request with this Idempotency-Key is already in progress")
	}
	return order, true, nil
}

func (s *Service) created(ctx context.Context, o *Order) {
	ctx = s.log.WithOrderID(ctx, o.ID)
	s.log.Info(ctx, "order created")
	s.publish(ctx, o, "", o.StatusHistory, SourceCustomer)
}

func validateCreate(in CreateInput) error {
	if strings.TrimSpace(in.UserID) == "" {
		return apperrors.New(apperrors.CodeUnauthorized, "authentication required")
	}
	if len(in.Items) == 0 {
		return apperrors.New(apperrors.CodeValidation, "order must contain at least one item")
	}
	for i, it := range in.Items {
		if it.Quantity < 1 {
			return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("items[%d].quantity must be at least 1", i))
		}
		if it.UnitPrice < 0 {
			return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("items[%d].price must not be negative", i))
		}
		if strings.TrimSpace(it.ProductID) == "" {
			return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("items[%d].productId is required", i))
		}
	}
	a := in.Address
	if a == nil || strings.TrimSpace(a.Street) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.ZipCode) == "" {
		return apperrors.New(apperrors.CodeValidation, "shipping address is required")
	}
	switch in.PaymentMethod {
	case "", PaymentMethodPending, PaymentMethodCreditCard, PaymentMethodPix, PaymentMethodBoleto:
	default:
		return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unknown payment method %q", in.PaymentMethod))
	}
	return nil
}

// List returns the caller's orders, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Order, error) {
	list, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list orders")
	}
	if list == nil {
		list = []Order{}
	}
	return list, nil
}

// Get returns an order owned by userID.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.Lookup(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.OwnedBy(userID) {
		return nil, apperrors.New(apperrors.CodeForbidden, "order belongs to another user")
	}
	return o, nil
}

// Lookup returns an order regardless of owner.
func (s *Service) Lookup(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load order")
	}
	if o == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	return o, nil
}

// FindByTransactionID returns (nil, nil) when no order holds the transaction.
func (s *Service) FindByTransactionID(ctx context.Context, transactionID string) (*Order, error) {
	o, err := s.store.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to look up payment")
	}
	return o, nil
}

// Cancel is the customer cancellation, allowed from pending or processing.
func (s *Service) Cancel(ctx context.Context, userID, orderID, reason string) (*Order, error) {
	return s.Update(ctx, orderID, SourceCustomer, func(o *Order, now time.Time) error {
		if !o.OwnedBy(userID) {
			return apperrors.New(apperrors.CodeForbidden, "order belongs to another user")
		}
		return o.Cancel(strings.TrimSpace(reason), now)
	})
}

// AdvanceShipping applies the admin-driven fulfilment transitions.
func (s *Service) AdvanceShipping(ctx context.Context, orderID string, next Status, trackingNumber, comment string) (*Order, error) {
	if !next.IsShipping() {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("status %q is not a shipping status", next))
	}
	trackingNumber = strings.TrimSpace(trackingNumber)
	if next == StatusInTransit && trackingNumber == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "trackingNumber is required when shipping an order")
	}
	return s.Update(ctx, orderID, SourceAdmin, func(o *Order, now time.Time) error {
		if comment == "" {
			comment = "order " + strings.ReplaceAll(string(next), "_", " ")
		}
		if err := o.TransitionTo(next, comment, now); err != nil {
			return err
		}
		if trackingNumber != "" {
			o.Shipping.TrackingNumber = trackingNumber
		}
		return nil
	})
}

// ExpiredPending lists up to limit pending orders whose payment window has
// already closed.
func (s *Service) ExpiredPending(ctx context.Context, limit int) ([]Order, error) {
	list, err := s.store.ListExpiredPending(ctx, s.nowFunc().UTC(), limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list expired orders")
	}
	return list, nil
}

// ExpireIfUnpaid cancels a pending order whose payment window closed. It
// reports whether the order was cancelled.
func (s *Service) ExpireIfUnpaid(ctx context.Context, orderID string) (bool, error) {
	expired := false
	_, err := s.Update(ctx, orderID, SourceReaper, func(o *Order, now time.Time) error {
		if o.Status != StatusPending || o.PaymentExpiresAt.After(now) {
			return ErrNoChange
		}
		expired = true
		return o.Cancel(ExpiredCancellationReason, now)
	})
	return expired, err
}

// Update runs a read-modify-write cycle guarded by the order version. When a
// concurrent writer wins, the order is re-read and mutate runs again against
// the fresh state. mutate may return ErrNoChange to skip the write.
func (s *Service) Update(ctx context.Context, orderID, source string, mutate func(o *Order, now time.Time) error) (*Order, error) {
	ctx = s.log.WithOrderID(ctx, orderID)
	for attempt := 1; ; attempt++ {
		o, err := s.Lookup(ctx, orderID)
		if err != nil {
			return nil, err
		}

		from := o.Status
		historyLen := len(o.StatusHistory)
		now := s.nowFunc().UTC()
		if err := mutate(o, now); err != nil {
			if errors.Is(err, ErrNoChange) {
				return o, nil
			}
			return nil, err
		}
		o.UpdatedAt = now

		err = s.store.Save(ctx, o)
		if errors.Is(err, ErrVersionMismatch) {
			if attempt < maxSaveAttempts {
				s.log.Debug(ctx, fmt.Sprintf("order version conflict, retrying (attempt %d)", attempt))
				continue
			}
			return nil, apperrors.Wrap(apperrors.CodeConflict, err, "order was modified concurrently, please retry")
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to save order")
		}

		if len(o.StatusHistory) > historyLen {
			s.publish(ctx, o, from, o.StatusHistory[historyLen:], source)
		}
		return o, nil
	}
}

func (s *Service) publish(ctx context.Context, o *Order, from Status, entries []StatusEntry, source string) {
	for _, entry := range entries {
		ev := newStatusChangedEvent(o, from, entry, source)
		if err := s.events.PublishStatusChanged(ctx, ev); err != nil {
			s.log.Warn(s.log.WithField(ctx, "error", err.Error()), "failed to publish order status event")
		}
		from = entry.Status
	}
}
