package errors

var (
	ErrPaymentNotSucceeded = &DomainError{
		Code:    "PAYMENT_NOT_SUCCEEDED",
		Message: "payment has not succeeded",
	}
	ErrPaymentDisputed = &DomainError{
		Code:    "PAYMENT_DISPUTED",
		Message: "payment is disputed",
	}
	ErrInvalidRefundAmount = &DomainError{
		Code:    "INVALID_REFUND_AMOUNT",
		Message: "refund amount must be positive",
	}
	ErrRefundExceedsRemaining = &DomainError{
		Code:    "REFUND_EXCEEDS_REMAINING",
		Message: "refund exceeds remaining refundable amount",
	}
	ErrRefundAlreadyFinalized = &DomainError{
		Code:    "REFUND_ALREADY_FINALIZED",
		Message: "refund is already finalized",
	}
	ErrRefundNotFound = &DomainError{
		Code:    "REFUND_NOT_FOUND",
		Message: "refund not found",
	}
	ErrInvalidRefundRequest = &DomainError{
		Code:    "INVALID_REFUND_REQUEST",
		Message: "invalid refund request",
	}
	ErrInvalidRefundMethod = &DomainError{
		Code:    "INVALID_REFUND_METHOD",
		Message: "refund method does not match refund legs",
	}
)

// Gateway failures.
var (
	ErrGatewayTransport = &DomainError{
		Code:    "GATEWAY_TRANSPORT",
		Message: "payment gateway unavailable",
	}
	ErrGatewayRejected = &DomainError{
		Code:    "GATEWAY_REJECTED",
		Message: "payment gateway rejected the request",
	}
)
