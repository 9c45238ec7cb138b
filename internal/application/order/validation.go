package order

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/orderflow/backend/internal/domain/shared"
)

// MaxIdempotencyKeyLength bounds the Idempotency-Key header
const MaxIdempotencyKeyLength = 200

// newValidator reads the same `binding` tags gin uses and reports json field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateIdempotencyKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return shared.NewDomainError("INVALID_INPUT", "Idempotency-Key header is required")
	case len(key) > MaxIdempotencyKeyLength:
		return shared.NewDomainError("INVALID_INPUT",
			fmt.Sprintf("Idempotency-Key must be at most %d characters", MaxIdempotencyKeyLength))
	}
	return nil
}

// validationError flattens validator output into one INVALID_INPUT error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.WrapDomainError("INVALID_INPUT", "Invalid request", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return shared.NewDomainError("INVALID_INPUT", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	// drop the root struct name: CreateOrderRequest.items[0].sku -> items[0].sku
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param())
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
