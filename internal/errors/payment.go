package errors

var (
	ErrInvalidRelation = &DomainError{
		Code:    "INVALID_RELATION",
		Message: "payment relation does not match payment kind",
	}
	ErrDuplicateActivePayment = &DomainError{
		Code:    "DUPLICATE_ACTIVE_PAYMENT",
		Message: "a succeeded payment already exists for this entity",
	}
	ErrInvalidPayment = &DomainError{
		Code:    "INVALID_PAYMENT",
		Message: "invalid payment request",
	}
	ErrPaymentNotFound = &DomainError{
		Code:    "PAYMENT_NOT_FOUND",
		Message: "payment not found",
	}
	ErrPaymentNotPending = &DomainError{
		Code:    "PAYMENT_NOT_PENDING",
		Message: "payment is not pending",
	}
	ErrNotWalletPayment = &DomainError{
		Code:    "NOT_WALLET_PAYMENT",
		Message: "payment method is not wallet",
	}
	ErrEntityNotFound = &DomainError{
		Code:    "ENTITY_NOT_FOUND",
		Message: "purchasable entity not found",
	}
	ErrAmountMismatch = &DomainError{
		Code:    "AMOUNT_MISMATCH",
		Message: "payment amount does not match the entity price",
	}
	ErrInvalidDiscount = &DomainError{
		Code:    "INVALID_DISCOUNT",
		Message: "discount cannot be applied",
	}
	ErrDisputeNotFound = &DomainError{
		Code:    "DISPUTE_NOT_FOUND",
		Message: "dispute not found",
	}
	ErrDisputeClosed = &DomainError{
		Code:    "DISPUTE_CLOSED",
		Message: "dispute is already resolved",
	}
)
