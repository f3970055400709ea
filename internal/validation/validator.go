package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a validator that reports JSON field names and carries the
// cross-field rules of the request schemas.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	v.RegisterStructValidation(cardPaymentStructValidation, CardPaymentRequest{})
	v.RegisterStructValidation(adminStatusStructValidation, AdminStatusRequest{})
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// cardPaymentStructValidation requires a card token and brand unless the
// request is a test charge.
func cardPaymentStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CardPaymentRequest)
	if req.TestMode {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		sl.ReportError(req.Token, "token", "Token", "required", "")
	}
	if strings.TrimSpace(req.PaymentMethodID) == "" {
		sl.ReportError(req.PaymentMethodID, "paymentMethodId", "PaymentMethodID", "required", "")
	}
}

func adminStatusStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(AdminStatusRequest)
	if req.Status == "in_transit" && strings.TrimSpace(req.TrackingNumber) == "" {
		sl.ReportError(req.TrackingNumber, "trackingNumber", "TrackingNumber", "required_for_in_transit", "")
	}
}

// createOrderStructValidation rejects a cart that lists the same variant twice.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)
	seen := make(map[string]bool, len(req.Items))
	for _, it := range req.Items {
		key := it.VariantID + "|" + it.Size
		if seen[key] {
			sl.ReportError(req.Items, "items", "Items", "unique_variant", key)
			return
		}
		seen[key] = true
	}
}
