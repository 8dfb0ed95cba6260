// Package gateway is the external payment gateway collaborator: refunds,
// payment status lookups and webhook parsing.
package gateway

import (
	"context"
	"fmt"

	domainErrors "paycore/internal/errors"

	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundSucceeded RefundStatus = "succeeded"
	RefundPending   RefundStatus = "pending"
	RefundFailed    RefundStatus = "failed"
)

type PaymentStatus string

const (
	PaymentSucceeded  PaymentStatus = "succeeded"
	PaymentProcessing PaymentStatus = "processing"
	PaymentFailed     PaymentStatus = "failed"
)

type RefundRequest struct {
	PaymentReference string
	Amount           decimal.Decimal
	// IdempotencyKey must be identical across retries of the same refund.
	IdempotencyKey string
	Metadata       map[string]string
}

type RefundResult struct {
	ExternalRefundID string
	Status           RefundStatus
	Amount           decimal.Decimal
}

type EventType string

const (
	EventRefundSucceeded  EventType = "refund_succeeded"
	EventRefundFailed     EventType = "refund_failed"
	EventRefundPending    EventType = "refund_pending"
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"
	EventDisputeOpened    EventType = "dispute_opened"
	EventDisputeClosed    EventType = "dispute_closed"
	EventIgnored          EventType = "ignored"
)

// WebhookEvent is a verified gateway callback reduced to what the engine uses.
type WebhookEvent struct {
	ID               string
	Type             EventType
	RawType          string
	PaymentReference string
	RefundReference  string
	DisputeReference string
	Amount           decimal.Decimal
	Reason           string
	DisputeWon       bool
	Payload          []byte
}

// Gateway is implemented by StripeGateway.
type Gateway interface {
	RefundExternal(ctx context.Context, req RefundRequest) (*RefundResult, error)
	GetRefund(ctx context.Context, externalRefundID string) (*RefundResult, error)
	GetPaymentStatus(ctx context.Context, paymentReference string) (PaymentStatus, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// Error is a classified gateway failure. It unwraps to ErrGatewayTransport
// when retrying may help and to ErrGatewayRejected otherwise.
type Error struct {
	Op        string
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s failed (%s): %s", e.Op, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Retryable {
		return domainErrors.ErrGatewayTransport
	}
	return domainErrors.ErrGatewayRejected
}

// ToMinorUnits converts an amount to cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts cents to an amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
