package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentKind string

const (
	PaymentKindStandardOrder          PaymentKind = "standard_order"
	PaymentKindPredefinedSpecialOrder PaymentKind = "predefined_special_order"
	PaymentKindEstimatedSpecialOrder  PaymentKind = "estimated_special_order"
	PaymentKindSpecialInstallment     PaymentKind = "special_installment"
	PaymentKindClassPayment           PaymentKind = "class_payment"
	PaymentKindWalletLoading          PaymentKind = "wallet_loading"
)

// RequiredEntity returns the entity type a payment of this kind must reference.
// ok is false for wallet_loading, which references nothing.
func (k PaymentKind) RequiredEntity() (EntityType, bool) {
	switch k {
	case PaymentKindStandardOrder:
		return EntityOrder, true
	case PaymentKindPredefinedSpecialOrder, PaymentKindEstimatedSpecialOrder:
		return EntitySpecialOrder, true
	case PaymentKindSpecialInstallment:
		return EntityInstallment, true
	case PaymentKindClassPayment:
		return EntityClassPurchase, true
	}
	return "", false
}

func (k PaymentKind) Valid() bool {
	if k == PaymentKindWalletLoading {
		return true
	}
	_, ok := k.RequiredEntity()
	return ok
}

type PaymentMethod string

const (
	PaymentMethodWallet  PaymentMethod = "wallet"
	PaymentMethodGateway PaymentMethod = "gateway"
	PaymentMethodManual  PaymentMethod = "manual"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodWallet, PaymentMethodGateway, PaymentMethodManual:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusFullyRefunded     PaymentStatus = "fully_refunded"
	PaymentStatusDisputed          PaymentStatus = "disputed"
	PaymentStatusCancelled         PaymentStatus = "cancelled"
)

// Payment is one charge attempt against at most one purchasable entity.
type Payment struct {
	ID                uint            `gorm:"primarykey" json:"id"`
	TenantID          uint            `gorm:"not null;index" json:"tenant_id"`
	ClientID          uint            `gorm:"not null;index" json:"client_id"`
	Kind              PaymentKind     `gorm:"type:varchar(32);not null" json:"kind"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	OriginalAmount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"original_amount"`
	DiscountedAmount  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"discounted_amount"`
	DiscountID        *uint           `json:"discount_id,omitempty"`
	Method            PaymentMethod   `gorm:"type:varchar(16);not null" json:"method"`
	Status            PaymentStatus   `gorm:"type:varchar(32);not null;default:'pending'" json:"status"`
	ExternalReference *string         `gorm:"type:varchar(128);uniqueIndex" json:"external_reference,omitempty"`
	OrderID           *uint           `json:"order_id,omitempty"`
	SpecialOrderID    *uint           `json:"special_order_id,omitempty"`
	ClassPurchaseID   *uint           `json:"class_purchase_id,omitempty"`
	InstallmentID     *uint           `json:"installment_id,omitempty"`
	// EntityKey is derived from the single relation. ConfirmedAt is only ever
	// set on success, so the partial unique index admits one captured payment
	// per entity whatever its later refund or dispute status.
	EntityKey   *string    `gorm:"type:varchar(64);index:idx_payments_entity_key;index:idx_payments_captured_entity,unique,where:confirmed_at IS NOT NULL" json:"entity_key,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Relations returns every entity the payment references. A valid payment has
// at most one.
func (p *Payment) Relations() []EntityRef {
	var refs []EntityRef
	add := func(t EntityType, id *uint) {
		if id != nil {
			refs = append(refs, EntityRef{Type: t, ID: *id})
		}
	}
	add(EntityOrder, p.OrderID)
	add(EntitySpecialOrder, p.SpecialOrderID)
	add(EntityClassPurchase, p.ClassPurchaseID)
	add(EntityInstallment, p.InstallmentID)
	return refs
}

// Entity returns the referenced entity, if any.
func (p *Payment) Entity() (EntityRef, bool) {
	refs := p.Relations()
	if len(refs) != 1 {
		return EntityRef{}, false
	}
	return refs[0], true
}

func (p *Payment) Owner() Owner {
	return Owner{UserID: p.ClientID, TenantID: p.TenantID}
}

// IsCaptured reports whether money was actually collected for the payment.
func (p *Payment) IsCaptured() bool {
	switch p.Status {
	case PaymentStatusSucceeded, PaymentStatusPartiallyRefunded,
		PaymentStatusFullyRefunded, PaymentStatusDisputed:
		return true
	}
	return false
}

func (p *Payment) String() string {
	return fmt.Sprintf("payment %d (%s, %s)", p.ID, p.Kind, p.Status)
}
