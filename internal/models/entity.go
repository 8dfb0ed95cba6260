package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type EntityType string

const (
	EntityOrder         EntityType = "order"
	EntitySpecialOrder  EntityType = "special_order"
	EntityClassPurchase EntityType = "class_purchase"
	EntityInstallment   EntityType = "installment"
)

// EntityRef points at one purchasable entity.
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   uint       `json:"id"`
}

func (r EntityRef) Key() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

func (r EntityRef) String() string {
	return r.Key()
}

const (
	EntityStatusOpen      = "open"
	EntityStatusPaid      = "paid"
	EntityStatusRefunded  = "refunded"
	EntityStatusCancelled = "cancelled"
)

// PaymentState holds the paid/refunded flags every purchasable entity carries.
type PaymentState struct {
	Status     string `gorm:"type:varchar(16);default:'open'"`
	IsPaid     bool   `gorm:"default:false"`
	PaidAt     *time.Time
	IsRefunded bool `gorm:"default:false"`
	RefundedAt *time.Time
}

type Order struct {
	ID           uint `gorm:"primarykey"`
	TenantID     uint `gorm:"not null;index"`
	ClientID     uint `gorm:"not null;index"`
	WriterID     *uint
	Title        string
	Price        decimal.Decimal `gorm:"type:decimal(20,2)"`
	PaymentState `gorm:"embedded"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type SpecialOrder struct {
	ID           uint `gorm:"primarykey"`
	TenantID     uint `gorm:"not null;index"`
	ClientID     uint `gorm:"not null;index"`
	WriterID     *uint
	Predefined   bool
	TotalCost    decimal.Decimal `gorm:"type:decimal(20,2)"`
	PaymentState `gorm:"embedded"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Installment struct {
	ID             uint `gorm:"primarykey"`
	SpecialOrderID uint `gorm:"not null;index"`
	TenantID       uint `gorm:"not null;index"`
	ClientID       uint `gorm:"not null;index"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2)"`
	DueDate        *time.Time
	PaymentState   `gorm:"embedded"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ClassPurchase struct {
	ID           uint `gorm:"primarykey"`
	TenantID     uint `gorm:"not null;index"`
	ClientID     uint `gorm:"not null;index"`
	WriterID     *uint
	BundleSize   int
	Price        decimal.Decimal `gorm:"type:decimal(20,2)"`
	PaymentState `gorm:"embedded"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EntityInfo is the billing view of a purchasable entity: who may pay for it
// and what it costs.
type EntityInfo struct {
	Ref      EntityRef
	TenantID uint
	ClientID uint
	Price    decimal.Decimal
	PaymentState
}

func (e *EntityInfo) Owner() Owner {
	return Owner{UserID: e.ClientID, TenantID: e.TenantID}
}
