package orders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/aws"
)

const EventStatusChanged = "order.status_changed"

// Sources recorded on status change events.
const (
	SourceCustomer = "customer"
	SourceAdmin    = "admin"
	SourceReaper   = "reaper"
	SourceSync     = "sync"
	SourcePoll     = "poll"
	SourceWebhook  = "webhook"
)

// StatusChangedEvent is published once per status history entry.
type StatusChangedEvent struct {
	EventID       string        `json:"event_id"`
	EventType     string        `json:"event_type"`
	OrderID       string        `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	UserID        string        `json:"user_id"`
	From          Status        `json:"from"`
	To            Status        `json:"to"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Source        string        `json:"source"`
	Comment       string        `json:"comment,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// EventPublisher delivers lifecycle events. Delivery is best effort.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, ev StatusChangedEvent) error
}

// SQSEvents publishes lifecycle events to an SQS queue.
type SQSEvents struct {
	publisher *aws.Publisher
}

func NewSQSEvents(publisher *aws.Publisher) *SQSEvents {
	return &SQSEvents{publisher: publisher}
}

func (e *SQSEvents) PublishStatusChanged(ctx context.Context, ev StatusChangedEvent) error {
	if !e.publisher.Enabled() {
		return nil
	}
	_, err := e.publisher.PublishJSON(ctx, ev, map[string]string{
		"event_type": ev.EventType,
		"order_id":   ev.OrderID,
		"status":     string(ev.To),
	})
	return err
}

type nopEvents struct{}

func (nopEvents) PublishStatusChanged(context.Context, StatusChangedEvent) error { return nil }

func newStatusChangedEvent(o *Order, from Status, entry StatusEntry, source string) StatusChangedEvent {
	return StatusChangedEvent{
		EventID:       uuid.NewString(),
		EventType:     EventStatusChanged,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		From:          from,
		To:            entry.Status,
		PaymentStatus: o.Payment.Status,
		Source:        source,
		Comment:       entry.Comment,
		OccurredAt:    entry.Timestamp,
	}
}
