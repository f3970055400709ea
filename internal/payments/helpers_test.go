package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/money"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/testutil/dynamofake"
)

const shippingPickup orders.ShippingMethod = "pickup"

type fixture struct {
	db         *dynamofake.Client
	gateway    *FakeGateway
	orders     *orders.Service
	store      *orders.Store
	reconciler *Reconciler
	initiator  *Initiator
}

func newFixture(t *testing.T, cfg InitiatorConfig, webhookSecret string) *fixture {
	t.Helper()
	db := dynamofake.NewStorefront()
	store := orders.NewStore(db, dynamofake.OrdersTable)
	svc := orders.NewService(orders.ServiceDeps{
		Store:   store,
		Numbers: orders.NewNumberGenerator(db, dynamofake.CountersTable, "SNK"),
	}, orders.ServiceConfig{
		PaymentWindow: 24 * time.Hour,
		ShippingRates: map[orders.ShippingMethod]money.Cents{
			orders.ShippingNormal: 2000,
			shippingPickup:        0,
		},
	})
	gateway := NewFakeGateway()
	reconciler := NewReconciler(svc, gateway, webhookSecret, nil)
	initiator := NewInitiator(InitiatorDeps{
		Orders:      svc,
		Gateway:     gateway,
		Reconciler:  reconciler,
		Methods:     NewMethodStore(db, dynamofake.PaymentMethodsTable),
		Idempotency: idempotency.NewStore(db, dynamofake.IdempotencyTable, time.Hour),
	}, cfg)
	return &fixture{
		db:         db,
		gateway:    gateway,
		orders:     svc,
		store:      store,
		reconciler: reconciler,
		initiator:  initiator,
	}
}

// createOrder places a pending order for 2 x 100.00 plus 20.00 shipping.
func (f *fixture) createOrder(t *testing.T, userID string) *orders.Order {
	t.Helper()
	return f.createOrderWith(t, userID, 10000, orders.ShippingNormal)
}

func (f *fixture) createOrderWith(t *testing.T, userID string, unitPrice money.Cents, shipping orders.ShippingMethod) *orders.Order {
	t.Helper()
	o, _, err := f.orders.Create(context.Background(), orders.CreateInput{
		UserID: userID,
		Items: []orders.Item{
			{ProductID: "p1", VariantID: "v1", Name: "Runner", Size: "42", Quantity: 2, UnitPrice: unitPrice},
		},
		Address:        &orders.Address{Street: "Rua A", City: "Sao Paulo", State: "SP", ZipCode: "01000-000"},
		ShippingMethod: shipping,
		PaymentMethod:  orders.PaymentMethodPending,
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) reload(t *testing.T, orderID string) *orders.Order {
	t.Helper()
	o, err := f.store.Get(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func (f *fixture) setStatus(t *testing.T, orderID string, status orders.Status) {
	t.Helper()
	o := f.reload(t, orderID)
	o.Status = status
	require.NoError(t, f.store.Save(context.Background(), o))
}

func countStatus(history []orders.StatusEntry, status orders.Status) int {
	n := 0
	for _, e := range history {
		if e.Status == status {
			n++
		}
	}
	return n
}
