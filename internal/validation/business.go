package validation

import (
	"paycore/internal/models"
)

// PaymentKind validates a declared payment kind
func (v *Validator) PaymentKind(field string, kind models.PaymentKind) {
	v.Required(field, string(kind))
	v.Check(kind.Valid(), field, "must be a known payment kind")
}

// PaymentMethod validates a payment method
func (v *Validator) PaymentMethod(field string, method models.PaymentMethod) {
	v.Check(method.Valid(), field, "must be wallet, gateway, or manual")
}

// RefundMethod validates a refund method
func (v *Validator) RefundMethod(field string, method models.RefundMethod) {
	v.Check(method.Valid(), field, "must be wallet, external, or manual")
}

// Reference validates an optional external reference
func (v *Validator) Reference(field string, ref *string) {
	if ref == nil {
		return
	}
	v.Required(field, *ref)
	v.MaxLength(field, *ref, MaxReferenceLength)
}
