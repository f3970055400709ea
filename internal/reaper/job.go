package reaper

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
)

// ExpiryJobName labels the payment expiry sweep in logs and metrics.
const ExpiryJobName = "payment_expiry"

const defaultBatchMax = 200

// OrderExpirer is the slice of the order service the sweep needs.
type OrderExpirer interface {
	ExpiredPending(ctx context.Context, limit int) ([]orders.Order, error)
	ExpireIfUnpaid(ctx context.Context, orderID string) (bool, error)
}

// ExpiryResult summarizes one sweep.
type ExpiryResult struct {
	Scanned int
	Expired int
	Failed  int
}

// ExpiryJob cancels pending orders whose payment window has closed.
type ExpiryJob struct {
	orders   OrderExpirer
	log      *logger.Logger
	batchMax int
}

func NewExpiryJob(expirer OrderExpirer, log *logger.Logger, batchMax int) (*ExpiryJob, error) {
	if expirer == nil {
		return nil, errors.New("order service required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if batchMax <= 0 {
		batchMax = defaultBatchMax
	}
	return &ExpiryJob{orders: expirer, log: log, batchMax: batchMax}, nil
}

func (j *ExpiryJob) Name() string { return ExpiryJobName }

// Sweep expires one batch. Each order is re-checked inside ExpireIfUnpaid, so
// an order paid between listing and expiring is left alone. Per-order
// failures are collected and do not stop the batch.
func (j *ExpiryJob) Sweep(ctx context.Context) (ExpiryResult, error) {
	var res ExpiryResult
	list, err := j.orders.ExpiredPending(ctx, j.batchMax)
	if err != nil {
		return res, fmt.Errorf("list expired orders: %w", err)
	}
	res.Scanned = len(list)

	var errs error
	for _, o := range list {
		if ctx.Err() != nil {
			return res, multierr.Append(errs, ctx.Err())
		}
		expired, err := j.orders.ExpireIfUnpaid(ctx, o.ID)
		if err != nil {
			res.Failed++
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", o.ID, err))
			j.log.Error(j.log.WithOrderID(ctx, o.ID), "failed to expire order", err)
			continue
		}
		if expired {
			res.Expired++
			j.log.Info(j.log.WithFields(ctx, map[string]any{"order_id": o.ID, "order_number": o.OrderNumber}), "order expired without payment")
		}
	}
	return res, errs
}
