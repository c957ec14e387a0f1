package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"boutique/backend/internal/store"
)

func newValidator() *validator.Validate {
	v := validator.New()

	// Report json field names so messages match what clients sent.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	return v
}

// check runs struct validation and converts the first failure into a
// validation error naming the field and the rule it broke.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return store.Validationf("%s", describeFieldError(fieldErrs[0]))
	}
	return store.Validationf("invalid request: %v", err)
}

// moneyScale is the number of decimal places every stored amount keeps.
const moneyScale = 2

// checkAmount rejects amounts finer than a cent so that line totals, invoice
// totals and revenue sums never depend on how a backend rounds.
func checkAmount(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(moneyScale)) {
		return store.Validationf("%s must have at most %d decimal places", field, moneyScale)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must not be greater than %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must contain at least %s line(s)", field, fe.Param())
	case "datetime":
		return field + " must be a date formatted YYYY-MM-DD"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// fieldPath strips the request type name from the namespace, leaving e.g.
// "items[1].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}
