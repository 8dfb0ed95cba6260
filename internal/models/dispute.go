package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DisputeStatus string

const (
	DisputeStatusOpen DisputeStatus = "open"
	DisputeStatusWon  DisputeStatus = "won"
	DisputeStatusLost DisputeStatus = "lost"
)

// Dispute is a client challenge raised against a captured payment.
type Dispute struct {
	ID                uint            `gorm:"primarykey"`
	PaymentID         uint            `gorm:"not null;index"`
	TenantID          uint            `gorm:"not null"`
	ClientID          uint            `gorm:"not null"`
	ExternalReference string          `gorm:"type:varchar(128);uniqueIndex;not null"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,2)"`
	Reason            string          `gorm:"not null"`
	Status            DisputeStatus   `gorm:"type:varchar(16);default:'open'"`
	PriorStatus       PaymentStatus   `gorm:"type:varchar(32)"`
	ResolvedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
