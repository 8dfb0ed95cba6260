package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrImmutableEntry is returned by the ledger entry hooks on update or delete.
var ErrImmutableEntry = errors.New("ledger entries are append-only")

// Owner identifies a wallet: one per user per tenant.
type Owner struct {
	UserID   uint `json:"user_id"`
	TenantID uint `json:"tenant_id"`
}

func (o Owner) String() string {
	return fmt.Sprintf("%d:%d", o.TenantID, o.UserID)
}

// Wallet statuses. Only active wallets accept debits.
const (
	WalletStatusActive = "active"
	WalletStatusLocked = "locked"
)

// Wallet is the lock anchor for an owner's ledger. There is no balance
// column: the balance is the sum of the owner's ledger entries.
type Wallet struct {
	ID           uint   `gorm:"primarykey"`
	UserID       uint   `gorm:"uniqueIndex:idx_wallet_owner;not null"`
	TenantID     uint   `gorm:"uniqueIndex:idx_wallet_owner;not null"`
	Currency     string `gorm:"default:'USD'"`
	Status       string `gorm:"default:'active'"`
	StatusReason string `gorm:"default:''"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (w *Wallet) Owner() Owner {
	return Owner{UserID: w.UserID, TenantID: w.TenantID}
}

type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
	EntryTypeRefund EntryType = "refund"
)

// LedgerEntry is a signed balance movement: positive credits, negative debits.
type LedgerEntry struct {
	ID        uint              `gorm:"primarykey" json:"id"`
	WalletID  uint              `gorm:"not null;index:idx_ledger_wallet_created,priority:1" json:"wallet_id"`
	UserID    uint              `gorm:"not null" json:"user_id"`
	TenantID  uint              `gorm:"not null" json:"tenant_id"`
	Amount    decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"amount"`
	Type      EntryType         `gorm:"type:varchar(16);not null" json:"type"`
	Reference string            `gorm:"type:varchar(128);index" json:"reference"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt time.Time         `gorm:"index:idx_ledger_wallet_created,priority:2" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "wallet_ledger_entries"
}

func (e *LedgerEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableEntry
}

func (e *LedgerEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableEntry
}
