package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/money"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/testutil/dynamofake"
)

func sampleOrder(id, userID string, created time.Time) *Order {
	return &Order{
		ID:     id,
		UserID: userID,
		Items: []Item{
			{ProductID: "p1", VariantID: "v1", Name: "Runner", Size: "42", Quantity: 2, UnitPrice: 10000},
		},
		Shipping: Shipping{
			Address: Address{Street: "Rua A", City: "Sao Paulo", State: "SP", ZipCode: "01000-000"},
			Method:  ShippingNormal,
			Cost:    2000,
		},
		Payment:          Payment{Method: PaymentMethodPending, Status: PaymentPending},
		Status:           StatusPending,
		StatusHistory:    []StatusEntry{{Status: StatusPending, Timestamp: created, Comment: "order created"}},
		PaymentExpiresAt: created.Add(24 * time.Hour),
		CreatedAt:        created,
	}
}

func TestIndexNamesMatchFakeSchema(t *testing.T) {
	fake := dynamofake.NewStorefront()
	s := NewStore(fake, dynamofake.OrdersTable)
	ctx := context.Background()

	for _, fn := range []func() error{
		func() error { _, err := s.ListByUser(ctx, "u"); return err },
		func() error { _, err := s.FindByTransactionID(ctx, "t"); return err },
		func() error { _, err := s.ListExpiredPending(ctx, time.Now(), 10); return err },
	} {
		if err := fn(); err != nil {
			t.Fatalf("query against storefront schema failed: %v", err)
		}
	}
}

func TestCreateAndGet(t *testing.T) {
	fake := dynamofake.NewStorefront()
	s := NewStore(fake, dynamofake.OrdersTable)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	o := sampleOrder("o1", "u1", created)
	o.Total = 1 // caller-supplied totals are ignored
	if err := s.Create(ctx, o); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if o.Version != 1 {
		t.Fatalf("expected version 1, got %d", o.Version)
	}

	got, err := s.Get(ctx, "o1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got == nil {
		t.Fatalf("expected order, got nil")
	}
	if got.Subtotal != 20000 || got.Total != 22000 {
		t.Fatalf("unexpected totals subtotal=%d total=%d", got.Subtotal, got.Total)
	}
	if !got.PaymentExpiresAt.Equal(created.Add(24 * time.Hour)) {
		t.Fatalf("payment expiry not preserved: %v", got.PaymentExpiresAt)
	}
	if len(got.Items) != 1 || got.Items[0].UnitPrice != money.Cents(10000) {
		t.Fatalf("items not preserved: %+v", got.Items)
	}

	if err := s.Create(ctx, sampleOrder("o1", "u1", created)); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	missing, err := s.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing order, got (%v, %v)", missing, err)
	}
}

func TestSave_VersionCondition(t *testing.T) {
	fake := dynamofake.NewStorefront()
	s := NewStore(fake, dynamofake.OrdersTable)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Create(ctx, sampleOrder("o1", "u1", now)); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	first, _ := s.Get(ctx, "o1")
	second, _ := s.Get(ctx, "o1")

	first.Payment.Status = PaymentApproved
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("first Save error: %v", err)
	}
	if first.Version != 2 {
		t.Fatalf("expected version 2, got %d", first.Version)
	}

	second.Payment.Status = PaymentRejected
	if err := s.Save(ctx, second); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if second.Version != 1 {
		t.Fatalf("version must be restored after a failed save, got %d", second.Version)
	}

	stored, _ := s.Get(ctx, "o1")
	if stored.Payment.Status != PaymentApproved {
		t.Fatalf("stale writer overwrote the order: %s", stored.Payment.Status)
	}
}

func TestListByUser_NewestFirst(t *testing.T) {
	fake := dynamofake.NewStorefront()
	s := NewStore(fake, dynamofake.OrdersTable)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := s.Create(ctx, sampleOrder(id, "u1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	if err := s.Create(ctx, sampleOrder("other", "u2", base)); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	list, err := s.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(list))
	}
	if list[0].ID != "c" || list[2].ID != "a" {
		t.Fatalf("expected newest first, got %s..%s", list[0].ID, list[2].ID)
	}
}

func TestFindByTransactionID(t *testing.T) {
	fake := dynamofake.NewStorefront()
	s := NewStore(fake, dynamofake.OrdersTable)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	o := sampleOrder("o1", "u1", now)
	if err := s.Create(ctx, o); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	o.Payment.TransactionID = "tx-77"
	if err := s.Save(ctx, o); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	found, err := s.FindByTransactionID(ctx, "tx-77")
	if err != nil {
		t.Fatalf("FindByTransactionID error: %v", err)
	}
	if found == nil || found.ID != "o1" {
		t.Fatalf("expected o1, got %+v", found)
	}

	none, err := s.FindByTransactionID(ctx, "tx-unknown")
	if err != nil || none != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", none, err)
	}
}

func TestListExpiredPending(t *testing.T) {
	fake := dynamofake.NewStorefront()
	s := NewStore(fake, dynamofake.OrdersTable)
	ctx := context.Background()
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

	expired := sampleOrder("expired", "u1", now.Add(-25*time.Hour))
	fresh := sampleOrder("fresh", "u1", now.Add(-time.Hour))
	paid := sampleOrder("paid", "u1", now.Add(-30*time.Hour))
	paid.Status = StatusProcessing
	for _, o := range []*Order{expired, fresh, paid} {
		if err := s.Create(ctx, o); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}

	list, err := s.ListExpiredPending(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpiredPending error: %v", err)
	}
	if len(list) != 1 || list[0].ID != "expired" {
		t.Fatalf("expected only the expired pending order, got %+v", list)
	}
}

func TestNumberGenerator(t *testing.T) {
	fake := dynamofake.NewStorefront()
	g := NewNumberGenerator(fake, dynamofake.CountersTable, "SNK")
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)

	first, err := g.Next(ctx, day)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	second, _ := g.Next(ctx, day)
	nextDay, _ := g.Next(ctx, day.Add(2*time.Hour))

	if first != "SNK-20240301-000001" || second != "SNK-20240301-000002" {
		t.Fatalf("unexpected sequence %s, %s", first, second)
	}
	if nextDay != "SNK-20240302-000001" {
		t.Fatalf("counter must reset per day, got %s", nextDay)
	}
}
