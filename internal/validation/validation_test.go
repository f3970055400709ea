package validation

import (
	"testing"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/apperrors"
)

func validOrderBody() string {
	return `{
		"items": [
			{"productId": "p1", "variantId": "v1", "name": "Runner", "size": "42", "quantity": 2, "price": 100.00},
			{"productId": "p2", "variantId": "v2", "name": "Court", "size": "40", "quantity": 1, "price": 55.50}
		],
		"shippingAddress": {"street": "Rua A", "city": "Sao Paulo", "state": "SP", "zipCode": "01000-000"},
		"shippingMethod": "normal",
		"shippingPrice": 20,
		"paymentMethod": "pix"
	}`
}

func detailsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	appErr := apperrors.As(err)
	if appErr == nil {
		t.Fatalf("expected app error, got %v", err)
	}
	if appErr.Code() != apperrors.CodeValidation {
		t.Fatalf("expected validation code, got %s", appErr.Code())
	}
	details, _ := appErr.Details().(map[string]string)
	return details
}

func TestCreateOrderRequest_Valid(t *testing.T) {
	v := New()
	var req CreateOrderRequest
	if err := Decode([]byte(validOrderBody()), &req, v); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	if req.Items[1].Price != 5550 {
		t.Fatalf("expected price in cents 5550, got %d", req.Items[1].Price)
	}
	if req.ShippingPrice == nil || *req.ShippingPrice != 2000 {
		t.Fatalf("expected shipping price 2000, got %v", req.ShippingPrice)
	}
}

func TestCreateOrderRequest_MissingFields(t *testing.T) {
	v := New()
	var req CreateOrderRequest
	err := Decode([]byte(`{"items": [], "shippingMethod": "drone"}`), &req, v)
	if err == nil {
		t.Fatal("expected validation errors for missing required fields, got nil")
	}
	details := detailsOf(t, err)
	for _, field := range []string{"items", "shippingAddress", "shippingMethod"} {
		if _, ok := details[field]; !ok {
			t.Fatalf("expected error for %s, got %v", field, details)
		}
	}
}

func TestCreateOrderRequest_ItemErrorsUseJSONPaths(t *testing.T) {
	v := New()
	var req CreateOrderRequest
	body := `{
		"items": [{"productId": "p1", "variantId": "v1", "name": "Runner", "quantity": 0, "price": 0}],
		"shippingAddress": {"street": "Rua A", "city": "Sao Paulo", "state": "SP", "zipCode": "01000-000"},
		"shippingMethod": "express"
	}`
	details := detailsOf(t, Decode([]byte(body), &req, v))
	if details["items[0].quantity"] != "is required" {
		t.Fatalf("unexpected quantity error: %v", details)
	}
	if details["items[0].price"] != "must be greater than 0" {
		t.Fatalf("unexpected price error: %v", details)
	}
}

func TestCreateOrderRequest_DuplicateVariant(t *testing.T) {
	v := New()
	var req CreateOrderRequest
	body := `{
		"items": [
			{"productId": "p1", "variantId": "v1", "name": "Runner", "size": "42", "quantity": 1, "price": 10},
			{"productId": "p1", "variantId": "v1", "name": "Runner", "size": "42", "quantity": 1, "price": 10}
		],
		"shippingAddress": {"street": "Rua A", "city": "Sao Paulo", "state": "SP", "zipCode": "01000-000"},
		"shippingMethod": "normal"
	}`
	details := detailsOf(t, Decode([]byte(body), &req, v))
	if _, ok := details["items"]; !ok {
		t.Fatalf("expected duplicate variant error, got %v", details)
	}
}

func TestDecode_RejectsMalformedBodies(t *testing.T) {
	v := New()
	cases := map[string]string{
		"empty":         ``,
		"unknown field": `{"orderId": "o1", "surprise": true}`,
		"trailing data": `{"orderId": "o1"} {"orderId": "o2"}`,
		"bad json":      `{"orderId":`,
		"three decimal": `{"orderId": "o1", "token": "t", "paymentMethodId": "visa", "amount": 10.005}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var req CardPaymentRequest
			err := Decode([]byte(body), &req, v)
			if !apperrors.Is(err, apperrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCardPaymentRequest_TokenRequiredOutsideTestMode(t *testing.T) {
	v := New()

	var req CardPaymentRequest
	details := detailsOf(t, Decode([]byte(`{"orderId": "o1", "installments": 13}`), &req, v))
	for _, field := range []string{"token", "paymentMethodId", "installments"} {
		if _, ok := details[field]; !ok {
			t.Fatalf("expected error for %s, got %v", field, details)
		}
	}

	var testReq CardPaymentRequest
	if err := Decode([]byte(`{"orderId": "o1", "testMode": true}`), &testReq, v); err != nil {
		t.Fatalf("test mode request should not need a token: %v", err)
	}
}

func TestAdminStatusRequest(t *testing.T) {
	v := New()

	var req AdminStatusRequest
	details := detailsOf(t, Decode([]byte(`{"status": "in_transit"}`), &req, v))
	if details["trackingNumber"] != "is required when status is in_transit" {
		t.Fatalf("unexpected details: %v", details)
	}

	var bad AdminStatusRequest
	details = detailsOf(t, Decode([]byte(`{"status": "processing"}`), &bad, v))
	if _, ok := details["status"]; !ok {
		t.Fatalf("expected status error, got %v", details)
	}

	var ok AdminStatusRequest
	if err := Decode([]byte(`{"status": "in_transit", "trackingNumber": "BR123"}`), &ok, v); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestCancelOrderRequest(t *testing.T) {
	v := New()
	var req CancelOrderRequest
	if err := Decode([]byte(`{"status": "delivered"}`), &req, v); err == nil {
		t.Fatal("expected only cancelled to be accepted")
	}
	var ok CancelOrderRequest
	if err := Decode([]byte(`{"status": "cancelled", "cancellationReason": "changed my mind"}`), &ok, v); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}
