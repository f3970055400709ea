package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/apperrors"
)

// BindAndValidate reads the JSON body into out and validates it. The raw body
// is returned so callers can fingerprint it for idempotency checks.
func BindAndValidate(c *gin.Context, out any, v *validatorv10.Validate) ([]byte, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, err, "invalid request body")
	}
	return body, Decode(body, out, v)
}

// Decode unmarshals body strictly (unknown fields are rejected) and runs the
// validator on the result.
func Decode(body []byte, out any, v *validatorv10.Validate) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return apperrors.New(apperrors.CodeValidation, "request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, "invalid request body").
			WithDetails(map[string]string{"body": err.Error()})
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperrors.New(apperrors.CodeValidation, "request body must contain a single JSON object")
	}

	if err := v.Struct(out); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return apperrors.Wrap(apperrors.CodeValidation, err, "validation failed")
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fieldPath(fe)] = message(fe)
	}
	return apperrors.New(apperrors.CodeValidation, "validation failed").WithDetails(fields)
}

// fieldPath drops the root struct name: "CreateOrderRequest.items[0].price"
// becomes "items[0].price".
func fieldPath(fe validatorv10.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "eq":
		return fmt.Sprintf("must be %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "url":
		return "must be a valid URL"
	case "required_for_in_transit":
		return "is required when status is in_transit"
	case "unique_variant":
		return "must not repeat the same variant and size"
	}
	return "is invalid"
}
