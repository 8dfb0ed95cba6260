package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RefundMethod string

const (
	// RefundMethodWallet returns everything as wallet credit.
	RefundMethodWallet RefundMethod = "wallet"
	// RefundMethodExternal sends the external leg through the gateway.
	RefundMethodExternal RefundMethod = "external"
	// RefundMethodManual records an external leg settled outside the gateway.
	RefundMethodManual RefundMethod = "manual"
)

func (m RefundMethod) Valid() bool {
	switch m {
	case RefundMethodWallet, RefundMethodExternal, RefundMethodManual:
		return true
	}
	return false
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

// Refund returns money for a payment, split into a wallet leg and an external leg.
type Refund struct {
	ID             uint            `gorm:"primarykey" json:"id"`
	PaymentID      uint            `gorm:"not null;index;uniqueIndex:idx_refund_request_key,priority:1" json:"payment_id"`
	TenantID       uint            `gorm:"not null;index" json:"tenant_id"`
	ClientID       uint            `gorm:"not null;index" json:"client_id"`
	WalletAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"wallet_amount"`
	ExternalAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"external_amount"`
	Method         RefundMethod    `gorm:"type:varchar(16);not null" json:"method"`
	Status         RefundStatus    `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Reason         string          `json:"reason"`
	ProcessedBy    uint            `json:"processed_by"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`

	WalletLegConfirmed   bool `gorm:"default:false" json:"wallet_leg_confirmed"`
	ExternalLegConfirmed bool `gorm:"default:false" json:"external_leg_confirmed"`

	// ExternalReference is the gateway refund id used by webhooks.
	ExternalReference *string `gorm:"type:varchar(128);uniqueIndex" json:"external_reference,omitempty"`
	// RequestKey dedupes caller submissions for the same payment.
	RequestKey *string `gorm:"type:varchar(64);uniqueIndex:idx_refund_request_key,priority:2" json:"request_key,omitempty"`
	// GatewayKey is sent as the gateway idempotency key on every attempt.
	GatewayKey       string     `gorm:"type:varchar(64);not null" json:"-"`
	ExternalAttempts int        `gorm:"default:0" json:"external_attempts"`
	LastError        string     `json:"last_error,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

func (r *Refund) Total() decimal.Decimal {
	return r.WalletAmount.Add(r.ExternalAmount)
}

// NeedsGateway reports whether the external leg goes through the gateway.
func (r *Refund) NeedsGateway() bool {
	return r.ExternalAmount.IsPositive() && r.Method == RefundMethodExternal
}

// LegsConfirmed reports whether every non-zero leg has been confirmed.
func (r *Refund) LegsConfirmed() bool {
	walletOK := !r.WalletAmount.IsPositive() || r.WalletLegConfirmed
	externalOK := !r.ExternalAmount.IsPositive() || r.ExternalLegConfirmed
	return walletOK && externalOK
}

func (r *Refund) Owner() Owner {
	return Owner{UserID: r.ClientID, TenantID: r.TenantID}
}
