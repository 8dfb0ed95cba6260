// Package events defines the DomainEvent emitted after every committed
// payment, wallet and refund transition, and the dispatchers that fan them out.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	PaymentSucceeded Type = "payment.succeeded"
	PaymentFailed    Type = "payment.failed"
	PaymentEscalated Type = "payment.escalated"
	PaymentCancelled Type = "payment.cancelled"
	PaymentDisputed  Type = "payment.disputed"
	DisputeResolved  Type = "payment.dispute_resolved"

	WalletCredited Type = "wallet.credited"
	WalletDebited  Type = "wallet.debited"

	RefundCreated        Type = "refund.created"
	RefundProcessed      Type = "refund.processed"
	RefundRetryScheduled Type = "refund.retry_scheduled"
	RefundEscalated      Type = "refund.escalated"
)

// DomainEvent is a tagged variant: Type selects which of the optional fields are set.
type DomainEvent struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	TenantID   uint                   `json:"tenant_id"`
	UserID     uint                   `json:"user_id"`
	PaymentID  uint                   `json:"payment_id,omitempty"`
	RefundID   uint                   `json:"refund_id,omitempty"`
	Amount     decimal.Decimal        `json:"amount"`
	Status     string                 `json:"status,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func New(t Type, tenantID, userID uint) DomainEvent {
	return DomainEvent{
		ID:         uuid.NewString(),
		Type:       t,
		TenantID:   tenantID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
}

// Subject is the broker subject the event is published on.
func (e DomainEvent) Subject() string {
	return "ledger." + string(e.Type)
}

// NotifiesClient reports whether the client should be told about the event.
func (e DomainEvent) NotifiesClient() bool {
	switch e.Type {
	case PaymentSucceeded, PaymentEscalated, RefundCreated, RefundProcessed, RefundEscalated, WalletCredited:
		return true
	}
	return false
}

// Message is the human readable notification text for client-facing events.
func (e DomainEvent) Message() string {
	amount := e.Amount.StringFixed(2)
	switch e.Type {
	case PaymentSucceeded:
		return fmt.Sprintf("Your payment of %s was successful.", amount)
	case PaymentEscalated:
		return fmt.Sprintf("We could not complete your payment of %s. Our team will follow up with you.", amount)
	case RefundCreated:
		return fmt.Sprintf("Your refund of %s has been accepted and is being processed.", amount)
	case RefundProcessed:
		return fmt.Sprintf("Your refund of %s has been completed.", amount)
	case RefundEscalated:
		return fmt.Sprintf("Your refund of %s needs manual review. Our team will follow up with you.", amount)
	case WalletCredited:
		return fmt.Sprintf("Your wallet was credited with %s.", amount)
	}
	return string(e.Type)
}

// Dispatcher delivers events after the transaction that produced them has committed.
// Delivery failures are the dispatcher's concern: callers never see them.
type Dispatcher interface {
	Dispatch(ctx context.Context, evts ...DomainEvent)
}
