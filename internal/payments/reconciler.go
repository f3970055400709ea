package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/apperrors"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
)

// testTransactionPrefix marks synthetic charges made in test mode. They never
// exist at the provider.
const testTransactionPrefix = "test-"

// Webhook outcomes, reported for logging and tests.
const (
	WebhookApplied          = "applied"
	WebhookIgnoredType      = "ignored_type"
	WebhookMissingID        = "missing_id"
	WebhookBadSignature     = "bad_signature"
	WebhookLookupFailed     = "lookup_failed"
	WebhookUnknownPayment   = "unknown_payment"
	WebhookMissingReference = "missing_reference"
	WebhookUnknownOrder     = "unknown_order"
	WebhookApplyFailed      = "apply_failed"
	WebhookStaleAttempt     = "stale_attempt"
)

// Notification is the body the provider posts to the webhook.
type Notification struct {
	ID     any    `json:"id,omitempty"`
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// WebhookHeaders carries the headers used for signature verification.
type WebhookHeaders struct {
	Signature string
	RequestID string
}

// PollResult is what a client sees when asking for a payment's status.
type PollResult struct {
	Status        orders.PaymentStatus `json:"status"`
	StatusDetail  string               `json:"statusDetail,omitempty"`
	PaymentMethod orders.PaymentMethod `json:"paymentMethod"`
	OrderID       string               `json:"orderId"`
}

// Reconciler is the single writer of payment outcomes. The synchronous charge
// response, client polls and provider webhooks all go through Apply.
type Reconciler struct {
	orders        *orders.Service
	gateway       Gateway
	webhookSecret string
	log           *logger.Logger
}

func NewReconciler(svc *orders.Service, gateway Gateway, webhookSecret string, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{orders: svc, gateway: gateway, webhookSecret: webhookSecret, log: log}
}

type applyOptions struct {
	method orders.PaymentMethod
	// asyncSettlement keeps the order pending on an immediate rejection.
	asyncSettlement bool
	mutate          func(o *orders.Order, snap *Snapshot)
}

// Apply records snap on the order and derives the order status from it.
func (r *Reconciler) Apply(ctx context.Context, orderID string, snap *Snapshot, source string) (*orders.Order, error) {
	return r.apply(ctx, orderID, snap, source, applyOptions{})
}

func (r *Reconciler) apply(ctx context.Context, orderID string, snap *Snapshot, source string, opts applyOptions) (*orders.Order, error) {
	if snap == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "missing payment snapshot")
	}
	ctx = r.log.WithFields(ctx, map[string]any{"payment_id": snap.ID, "source": source})

	return r.orders.Update(ctx, orderID, source, func(o *orders.Order, now time.Time) error {
		stored := o.Payment
		sameAttempt := stored.TransactionID != "" && stored.TransactionID == snap.ID
		if !sameAttempt && stored.TransactionID != "" {
			if stored.Status == orders.PaymentApproved {
				r.log.Warn(ctx, fmt.Sprintf("ignoring payment %s: order already paid by %s", snap.ID, stored.TransactionID))
				return orders.ErrNoChange
			}
			// Only the initiator starts a new attempt. Polls and webhooks for
			// an older attempt are dropped unless money was actually captured.
			if source != orders.SourceSync && snap.Status != orders.PaymentApproved {
				r.log.Info(ctx, fmt.Sprintf("ignoring payment %s (%s): superseded by attempt %s", snap.ID, snap.Status, stored.TransactionID))
				return orders.ErrNoChange
			}
		}
		if sameAttempt {
			if rank(snap.Status) < rank(stored.Status) {
				r.log.Debug(ctx, fmt.Sprintf("ignoring stale payment status %s over %s", snap.Status, stored.Status))
				return orders.ErrNoChange
			}
			if snap.Status == stored.Status && snap.StatusDetail == stored.StatusDetail && opts.mutate == nil {
				return orders.ErrNoChange
			}
		}

		method := opts.method
		if method == "" {
			method = MethodFor(snap.PaymentMethodID)
		}
		if method == "" {
			method = stored.Method
		}
		if !sameAttempt {
			o.Payment = orders.Payment{
				Method:       method,
				PreferenceID: stored.PreferenceID,
				PixDiscount:  stored.PixDiscount,
			}
		}
		p := &o.Payment
		p.Method = method
		p.TransactionID = snap.ID
		p.Status = snap.Status
		p.StatusDetail = snap.StatusDetail
		if snap.Amount > 0 {
			p.Amount = snap.Amount
		}
		if snap.Installments > 0 {
			p.Installments = snap.Installments
		}
		if snap.CardLastFour != "" {
			p.CardLastFour = snap.CardLastFour
			p.CardBrand = snap.CardBrand
		}
		if snap.Pix != nil {
			pix := *snap.Pix
			p.Pix = &pix
		}
		if snap.Boleto != nil {
			boleto := *snap.Boleto
			p.Boleto = &boleto
		}
		updatedAt := now
		p.UpdatedAt = &updatedAt
		if method != orders.PaymentMethodPix && p.PixDiscount > 0 {
			o.SetPixDiscount(0)
		}
		if opts.mutate != nil {
			opts.mutate(o, snap)
		}

		next, moves := orders.StatusForPayment(snap.Status)
		if !moves && !sameAttempt && o.Status == orders.StatusPaymentFailed && snap.Status == orders.PaymentPending {
			return o.TransitionTo(orders.StatusPending, "new "+string(method)+" payment attempt", now)
		}
		if moves && opts.asyncSettlement && next == orders.StatusPaymentFailed {
			moves = false
		}
		if !moves || next == o.Status {
			return nil
		}
		if !orders.CanTransition(o.Status, next) {
			r.log.Warn(ctx, fmt.Sprintf("payment %s is %s but order in status %s cannot move to %s", snap.ID, snap.Status, o.Status, next))
			return nil
		}
		return o.TransitionTo(next, paymentComment(snap), now)
	})
}

func paymentComment(snap *Snapshot) string {
	comment := "payment " + string(snap.Status)
	if snap.StatusDetail != "" {
		comment += " (" + snap.StatusDetail + ")"
	}
	return comment
}

// rank orders payment statuses for one transaction. A lower rank never
// replaces a higher one.
func rank(s orders.PaymentStatus) int {
	switch s {
	case orders.PaymentPending:
		return 0
	case orders.PaymentRefunded:
		return 2
	default:
		return 1
	}
}

// Poll refreshes a payment from the provider on behalf of its owner.
func (r *Reconciler) Poll(ctx context.Context, userID, paymentID string) (*PollResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "paymentId is required")
	}
	o, err := r.orders.FindByTransactionID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "payment not found")
	}
	if !o.OwnedBy(userID) {
		return nil, apperrors.New(apperrors.CodeForbidden, "payment belongs to another user")
	}

	if !strings.HasPrefix(paymentID, testTransactionPrefix) {
		snap, err := r.gateway.GetPayment(ctx, paymentID)
		if err != nil {
			r.log.Error(ctx, "payment gateway lookup failed", err)
			return nil, upstream(err)
		}
		if snap == nil {
			return nil, apperrors.New(apperrors.CodeNotFound, "payment not found")
		}
		if snap.Status != o.Payment.Status || snap.StatusDetail != o.Payment.StatusDetail {
			updated, err := r.Apply(ctx, o.ID, snap, orders.SourcePoll)
			if err != nil {
				return nil, err
			}
			o = updated
		}
	}

	return &PollResult{
		Status:        o.Payment.Status,
		StatusDetail:  o.Payment.StatusDetail,
		PaymentMethod: o.Payment.Method,
		OrderID:       o.ID,
	}, nil
}

// HandleWebhook processes a provider notification. It never fails: anything
// that cannot be applied is logged and acknowledged so the provider stops
// retrying. The returned outcome names what happened.
func (r *Reconciler) HandleWebhook(ctx context.Context, n Notification, headers WebhookHeaders) string {
	paymentID := strings.TrimSpace(n.Data.ID)
	ctx = r.log.WithFields(ctx, map[string]any{"webhook_type": n.Type, "payment_id": paymentID})

	if r.webhookSecret != "" && !VerifySignature(r.webhookSecret, headers.Signature, headers.RequestID, paymentID) {
		r.log.Warn(ctx, "webhook signature verification failed")
		return WebhookBadSignature
	}
	if n.Type != "payment" {
		r.log.Debug(ctx, "ignoring non-payment notification")
		return WebhookIgnoredType
	}
	if paymentID == "" {
		r.log.Warn(ctx, "payment notification without data.id")
		return WebhookMissingID
	}

	snap, err := r.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		r.log.Error(ctx, "webhook payment lookup failed", err)
		return WebhookLookupFailed
	}
	if snap == nil {
		r.log.Warn(ctx, "webhook for unknown payment")
		return WebhookUnknownPayment
	}
	if snap.ExternalReference == "" {
		r.log.Warn(ctx, "webhook payment has no external reference")
		return WebhookMissingReference
	}

	ctx = r.log.WithOrderID(ctx, snap.ExternalReference)
	updated, err := r.Apply(ctx, snap.ExternalReference, snap, orders.SourceWebhook)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			r.log.Warn(ctx, "webhook references an unknown order")
			return WebhookUnknownOrder
		}
		r.log.Error(ctx, "failed to apply webhook payment", err)
		return WebhookApplyFailed
	}
	if updated.Payment.TransactionID != snap.ID {
		return WebhookStaleAttempt
	}
	r.log.Info(ctx, fmt.Sprintf("webhook applied payment status %s", snap.Status))
	return WebhookApplied
}

func upstream(err error) error {
	if apperrors.As(err) != nil {
		return err
	}
	return apperrors.Wrap(apperrors.CodeUpstream, err, "payment gateway request failed")
}
