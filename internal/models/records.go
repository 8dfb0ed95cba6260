package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Discount is a tenant's fixed or percentage reduction. Discount rules live
// elsewhere; the engine only applies the stored reduction to a price.
type Discount struct {
	ID         uint            `gorm:"primarykey"`
	TenantID   uint            `gorm:"not null;index"`
	Code       string          `gorm:"type:varchar(32);not null"`
	AmountOff  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"`
	PercentOff decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	Active     bool            `gorm:"not null"`
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Usable reports whether the discount may be applied at the given time.
func (d *Discount) Usable(at time.Time) bool {
	return d.Active && (d.ExpiresAt == nil || at.Before(*d.ExpiresAt))
}

// Apply returns price after the reduction, rounded to cents. A percentage
// takes precedence over a fixed amount.
func (d *Discount) Apply(price decimal.Decimal) decimal.Decimal {
	if d.PercentOff.IsPositive() {
		off := price.Mul(d.PercentOff).Div(decimal.NewFromInt(100)).Round(2)
		return price.Sub(off)
	}
	return price.Sub(d.AmountOff).Round(2)
}

// DiscountUsage marks a discount as consumed by a user for an entity.
type DiscountUsage struct {
	ID          uint   `gorm:"primarykey"`
	DiscountID  uint   `gorm:"not null;index"`
	UserID      uint   `gorm:"not null;index"`
	TenantID    uint   `gorm:"not null"`
	EntityKey   string `gorm:"type:varchar(64);not null;index"`
	Reusable    bool   `gorm:"default:false"`
	UntrackedAt *time.Time
	CreatedAt   time.Time
}

// PaymentFailure counts consecutive failures for one payment.
type PaymentFailure struct {
	ID           uint `gorm:"primarykey"`
	PaymentID    uint `gorm:"uniqueIndex;not null"`
	Attempts     int  `gorm:"default:0"`
	LastError    string
	LastFailedAt *time.Time
	EscalatedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type EarningKind string

const (
	EarningKindEarning  EarningKind = "earning"
	EarningKindClawback EarningKind = "clawback"
)

// WriterEarning is an append-only compensation movement for a writer.
type WriterEarning struct {
	ID        uint            `gorm:"primarykey"`
	TenantID  uint            `gorm:"not null"`
	WriterID  uint            `gorm:"not null;index"`
	EntityKey string          `gorm:"type:varchar(64);not null;index"`
	Kind      EarningKind     `gorm:"type:varchar(16);not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	RefundID  *uint
	CreatedAt time.Time
}

// AuditEntry is an immutable record of a payment or refund transition.
type AuditEntry struct {
	ID         uint              `gorm:"primarykey" json:"id"`
	TenantID   uint              `gorm:"not null;index" json:"tenant_id"`
	PaymentID  uint              `gorm:"not null;index" json:"payment_id"`
	RefundID   *uint             `gorm:"index" json:"refund_id,omitempty"`
	Actor      uint              `gorm:"not null" json:"actor"`
	Action     string            `gorm:"type:varchar(48);not null" json:"action"`
	FromStatus string            `gorm:"type:varchar(32)" json:"from_status"`
	ToStatus   string            `gorm:"type:varchar(32)" json:"to_status"`
	Amount     decimal.Decimal   `gorm:"type:decimal(20,2)" json:"amount"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (AuditEntry) TableName() string {
	return "refund_audit_entries"
}

// WebhookEvent stores each gateway event once, keyed by the provider's id.
type WebhookEvent struct {
	ID           uint           `gorm:"primarykey"`
	Provider     string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_webhook_provider_event,priority:1"`
	EventID      string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_webhook_provider_event,priority:2"`
	EventType    string         `gorm:"type:varchar(64);not null"`
	Payload      datatypes.JSON `gorm:"type:jsonb"`
	ProcessedAt  *time.Time
	ProcessError string
	ReceivedAt   time.Time
}

func (WebhookEvent) TableName() string {
	return "gateway_webhook_events"
}

// SystemActor is recorded as the actor of transitions driven by webhooks and retries.
const SystemActor uint = 0
