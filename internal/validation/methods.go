package validation

import (
	"fmt"
	"sort"
	"strings"

	domainErrors "paycore/internal/errors"

	"github.com/shopspring/decimal"
)

// Validator defines validation methods
type Validator struct {
	Errors map[string]string
}

// New creates a new validator
func New() *Validator {
	return &Validator{Errors: make(map[string]string)}
}

// Valid checks if there are any validation errors
func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

// AddError adds an error to the validator. The first error per field wins.
func (v *Validator) AddError(field, message string) {
	if _, exists := v.Errors[field]; !exists {
		v.Errors[field] = message
	}
}

// Check adds an error if the condition is false
func (v *Validator) Check(ok bool, field, message string) {
	if !ok {
		v.AddError(field, message)
	}
}

// Required checks if a value is set
func (v *Validator) Required(field string, value interface{}) {
	if value == nil {
		v.AddError(field, "must not be nil")
		return
	}

	switch val := value.(type) {
	case string:
		v.Check(strings.TrimSpace(val) != "", field, "must not be empty")
	case int:
		v.Check(val != 0, field, "must not be zero")
	case uint:
		v.Check(val != 0, field, "must not be zero")
	case decimal.Decimal:
		v.Check(!val.IsZero(), field, "must not be zero")
	}
}

// MaxLength checks if a string has at most n characters
func (v *Validator) MaxLength(field string, value string, n int) {
	v.Check(len(value) <= n, field, fmt.Sprintf("must not be more than %d characters long", n))
}

// PositiveAmount checks that an amount is > 0 and carries at most two decimals.
func (v *Validator) PositiveAmount(field string, value decimal.Decimal) {
	v.Check(value.IsPositive(), field, "must be greater than zero")
	v.Check(value.Equal(value.Round(2)), field, "must not have more than 2 decimal places")
}

// NonNegativeAmount checks that an amount is >= 0 and carries at most two decimals.
func (v *Validator) NonNegativeAmount(field string, value decimal.Decimal) {
	v.Check(!value.IsNegative(), field, "must not be negative")
	v.Check(value.Equal(value.Round(2)), field, "must not have more than 2 decimal places")
}

// Err returns nil when valid, otherwise base wrapped with the field messages.
func (v *Validator) Err(base *domainErrors.DomainError) error {
	if v.Valid() {
		return nil
	}
	fields := make([]string, 0, len(v.Errors))
	for field := range v.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+" "+v.Errors[field])
	}
	return fmt.Errorf("%w: %s", base, strings.Join(parts, "; "))
}
