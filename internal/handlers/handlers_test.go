package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/auth"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/config"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/money"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/orders"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/payments"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/testutil/dynamofake"
)

var jwtConfig = config.JWTConfig{Secret: "test-secret", Issuer: "sneaker-store", Expiration: 24 * time.Hour}

const orderBody = `{
	"items": [{"productId": "p1", "variantId": "v1", "name": "Runner", "size": "42", "quantity": 2, "price": 100}],
	"shippingAddress": {"street": "Rua A", "city": "Sao Paulo", "state": "SP", "zipCode": "01000-000"},
	"shippingMethod": "normal",
	"shippingPrice": 20,
	"paymentMethod": "credit_card"
}`

type testServer struct {
	router  *gin.Engine
	store   *orders.Store
	gateway *payments.FakeGateway
}

type stubLimiter struct {
	limit int64
	hits  map[string]int64
	err   error
}

func (s *stubLimiter) FixedWindowAllow(_ context.Context, scope string, _ int64, _ time.Duration) (bool, int64, error) {
	if s.err != nil {
		return false, 0, s.err
	}
	s.hits[scope]++
	return s.hits[scope] <= s.limit, s.hits[scope], nil
}

type serverOption func(*Deps)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dynamofake.NewStorefront()
	store := orders.NewStore(db, dynamofake.OrdersTable)
	idem := idempotency.NewStore(db, dynamofake.IdempotencyTable, time.Hour)
	svc := orders.NewService(orders.ServiceDeps{
		Store:       store,
		Numbers:     orders.NewNumberGenerator(db, dynamofake.CountersTable, "SNK"),
		Idempotency: idem,
	}, orders.ServiceConfig{
		PaymentWindow: 24 * time.Hour,
		ShippingRates: map[orders.ShippingMethod]money.Cents{orders.ShippingNormal: 2000, orders.ShippingExpress: 3500},
	})
	gateway := payments.NewFakeGateway()
	reconciler := payments.NewReconciler(svc, gateway, "", nil)
	initiator := payments.NewInitiator(payments.InitiatorDeps{
		Orders:      svc,
		Gateway:     gateway,
		Reconciler:  reconciler,
		Methods:     payments.NewMethodStore(db, dynamofake.PaymentMethodsTable),
		Idempotency: idem,
	}, payments.InitiatorConfig{AllowTestMode: true})

	deps := Deps{
		JWT:        jwtConfig,
		RateLimit:  config.RateLimitConfig{PaymentsLimit: 100, PaymentsWindow: time.Minute},
		Orders:     svc,
		Payments:   initiator,
		Reconciler: reconciler,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return &testServer{router: NewRouter(deps), store: store, gateway: gateway}
}

func token(t *testing.T, userID string, userType auth.UserType) string {
	t.Helper()
	tok, err := auth.MintToken(jwtConfig, time.Now(), userID, userType)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createOrder(t *testing.T, tok string) orders.Order {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/orders", tok, orderBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var o orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	return o
}

func (s *testServer) setStatus(t *testing.T, orderID string, status orders.Status) {
	t.Helper()
	o, err := s.store.Get(context.Background(), orderID)
	require.NoError(t, err)
	o.Status = status
	require.NoError(t, s.store.Save(context.Background(), o))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, func(d *Deps) {
		d.HealthChecks = []HealthCheck{{Name: "redis", Check: func(context.Context) error { return nil }}}
	})
	rec := srv.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"up"`)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	down := newTestServer(t, func(d *Deps) {
		d.HealthChecks = []HealthCheck{{Name: "redis", Check: func(context.Context) error { return errors.New("refused") }}}
	})
	rec = down.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/orders", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Code)

	rec = srv.do(t, http.MethodGet, "/orders", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateOrder(t *testing.T) {
	srv := newTestServer(t)
	tok := token(t, "u1", auth.UserTypeCustomer)

	o := srv.createOrder(t, tok)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, money.Cents(22000), o.Total)
	assert.NotEmpty(t, o.OrderNumber)

	rec := srv.do(t, http.MethodGet, "/orders/"+o.ID, tok, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/orders", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	srv := newTestServer(t)
	tok := token(t, "u1", auth.UserTypeCustomer)

	first := srv.do(t, http.MethodPost, "/orders", tok, orderBody, idempotency.HeaderKey, "key-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := srv.do(t, http.MethodPost, "/orders", tok, orderBody, idempotency.HeaderKey, "key-1")
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	assert.Equal(t, "true", second.Header().Get(replayedHeader))

	var a, b orders.Order
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.ID, b.ID)

	changed := bytes.Replace([]byte(orderBody), []byte(`"quantity": 2`), []byte(`"quantity": 3`), 1)
	rec := srv.do(t, http.MethodPost, "/orders", tok, string(changed), idempotency.HeaderKey, "key-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateOrder_Validation(t *testing.T) {
	srv := newTestServer(t)
	tok := token(t, "u1", auth.UserTypeCustomer)

	rec := srv.do(t, http.MethodPost, "/orders", tok, `{"items": [], "shippingMethod": "normal"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	details, ok := apiErr.Details.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, details, "items")
	assert.Contains(t, details, "shippingAddress")
}

func TestGetOrder_OtherUser(t *testing.T) {
	srv := newTestServer(t)
	o := srv.createOrder(t, token(t, "u1", auth.UserTypeCustomer))

	rec := srv.do(t, http.MethodGet, "/orders/"+o.ID, token(t, "u2", auth.UserTypeCustomer), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodGet, "/orders/missing", token(t, "u1", auth.UserTypeCustomer), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrder(t *testing.T) {
	srv := newTestServer(t)
	tok := token(t, "u1", auth.UserTypeCustomer)
	o := srv.createOrder(t, tok)

	rec := srv.do(t, http.MethodPatch, "/orders/"+o.ID, tok, `{"status": "cancelled", "cancellationReason": "changed my mind"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, "changed my mind", got.CancellationReason)

	delivered := srv.createOrder(t, tok)
	srv.setStatus(t, delivered.ID, orders.StatusDelivered)
	rec = srv.do(t, http.MethodPatch, "/orders/"+delivered.ID, tok, `{"status": "cancelled"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decodeError(t, rec).Code)
}

func TestAdminShipping(t *testing.T) {
	srv := newTestServer(t)
	customer := token(t, "u1", auth.UserTypeCustomer)
	admin := token(t, "staff", auth.UserTypeAdmin)
	o := srv.createOrder(t, customer)
	srv.setStatus(t, o.ID, orders.StatusAwaitingShipment)

	rec := srv.do(t, http.MethodPatch, "/admin/orders/"+o.ID+"/status", customer, `{"status": "in_transit", "trackingNumber": "BR1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodPatch, "/admin/orders/"+o.ID+"/status", admin, `{"status": "in_transit", "trackingNumber": "BR1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, orders.StatusInTransit, got.Status)
	assert.Equal(t, "BR1", got.Shipping.TrackingNumber)
}

func TestCardPayment_TestModeAndPoll(t *testing.T) {
	srv := newTestServer(t)
	tok := token(t, "u1", auth.UserTypeCustomer)
	o := srv.createOrder(t, tok)

	rec := srv.do(t, http.MethodPost, "/payments/card", tok, `{"orderId": "`+o.ID+`", "testMode": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res payments.ChargeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, orders.PaymentApproved, res.Status)
	assert.Equal(t, orders.StatusProcessing, res.OrderStatus)

	rec = srv.do(t, http.MethodGet, "/payments/"+res.PaymentID, tok, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var poll payments.PollResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &poll))
	assert.Equal(t, o.ID, poll.OrderID)
	assert.Equal(t, orders.PaymentApproved, poll.Status)
}

func TestCardPayment_UpstreamErrorIsNotLeaked(t *testing.T) {
	srv := newTestServer(t)
	tok := token(t, "u1", auth.UserTypeCustomer)
	o := srv.createOrder(t, tok)
	srv.gateway.FailNext(errors.New("provider said: token tok_123 invalid"))

	rec := srv.do(t, http.MethodPost, "/payments/card", tok, `{"orderId": "`+o.ID+`", "token": "tok_123", "paymentMethodId": "visa"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, "UPSTREAM_ERROR", apiErr.Code)
	assert.Equal(t, "payment provider unavailable", apiErr.Message)
	assert.NotContains(t, rec.Body.String(), "tok_123")
}

func TestPixThenWebhook(t *testing.T) {
	srv := newTestServer(t)
	tok := token(t, "u1", auth.UserTypeCustomer)
	o := srv.createOrder(t, tok)

	rec := srv.do(t, http.MethodPost, "/payments/pix", tok, `{"orderId": "`+o.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pix payments.PixResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pix))
	assert.Equal(t, money.Cents(20900), pix.Amount)
	assert.NotEmpty(t, pix.QRCode)

	require.True(t, srv.gateway.SetStatus(pix.TransactionID, orders.PaymentApproved, "accredited"))
	rec = srv.do(t, http.MethodPost, "/payments/webhook", "", `{"type": "payment", "data": {"id": "`+pix.TransactionID+`"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := srv.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, stored.Status)
	assert.Equal(t, orders.PaymentApproved, stored.Payment.Status)
}

func TestWebhook_AlwaysAcknowledges(t *testing.T) {
	srv := newTestServer(t)
	for _, body := range []string{``, `not json`, `{"type": "merchant_order", "data": {"id": "1"}}`, `{"type": "payment", "data": {"id": "999"}}`} {
		rec := srv.do(t, http.MethodPost, "/payments/webhook", "", body)
		assert.Equal(t, http.StatusOK, rec.Code, "body %q", body)
	}

	rec := srv.do(t, http.MethodPost, "/payments/webhook?type=payment&data.id=999", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), payments.WebhookUnknownPayment)
}

func TestPaymentsRateLimited(t *testing.T) {
	limiter := &stubLimiter{limit: 1, hits: map[string]int64{}}
	srv := newTestServer(t, func(d *Deps) { d.Limiter = limiter })
	tok := token(t, "u1", auth.UserTypeCustomer)

	rec := srv.do(t, http.MethodGet, "/payments/methods", tok, "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/payments/methods", tok, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, int64(2), limiter.hits["payments:u1"])

	rec = srv.do(t, http.MethodGet, "/payments/methods", token(t, "u2", auth.UserTypeCustomer), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	limiter.err = errors.New("redis down")
	rec = srv.do(t, http.MethodGet, "/payments/methods", tok, "")
	assert.Equal(t, http.StatusOK, rec.Code, "limiter outages fail open")
}
