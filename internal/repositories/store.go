package repositories

import (
	"context"
	"errors"
	"time"

	"paycore/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrWalletNotFound   = errors.New("wallet not found")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrRefundNotFound   = errors.New("refund not found")
	ErrDisputeNotFound  = errors.New("dispute not found")
	ErrEntityNotFound   = errors.New("purchasable entity not found")
	ErrFailureNotFound  = errors.New("payment failure record not found")
	ErrDiscountNotFound = errors.New("discount not found")
	ErrDuplicate        = errors.New("record already exists")
)

// Store groups the repositories that take part in one atomic scope. The store
// handed to ExecuteInTransaction's callback is bound to the transaction.
type Store interface {
	Wallets() WalletRepository
	Ledger() LedgerRepository
	Payments() PaymentRepository
	Refunds() RefundRepository
	Failures() PaymentFailureRepository
	Discounts() DiscountUsageRepository
	Entities() EntityRepository
	Earnings() EarningsRepository
	Audit() AuditRepository
	WebhookEvents() WebhookEventRepository
	Disputes() DisputeRepository

	ExecuteInTransaction(ctx context.Context, fn func(tx Store) error) error
}

// WalletRepository manages the per-owner lock anchor rows.
type WalletRepository interface {
	// GetOrCreateForUpdate returns the owner's wallet row locked until the
	// surrounding transaction ends, creating it when missing.
	GetOrCreateForUpdate(ctx context.Context, owner models.Owner) (*models.Wallet, error)
	GetByOwner(ctx context.Context, owner models.Owner) (*models.Wallet, error)
}

// LedgerRepository is append-only: there is no update or delete.
type LedgerRepository interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
	SumByWallet(ctx context.Context, walletID uint) (decimal.Decimal, error)
	ListByWallet(ctx context.Context, walletID uint, limit, offset int) ([]models.LedgerEntry, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id uint) (*models.Payment, error)
	GetByIDForUpdate(ctx context.Context, id uint) (*models.Payment, error)
	GetByExternalReference(ctx context.Context, ref string) (*models.Payment, error)
	// ExistsSucceededForEntity reports whether any payment for the entity ever succeeded.
	ExistsSucceededForEntity(ctx context.Context, entityKey string) (bool, error)
	Update(ctx context.Context, payment *models.Payment) error
}

type RefundRepository interface {
	Create(ctx context.Context, refund *models.Refund) error
	GetByID(ctx context.Context, id uint) (*models.Refund, error)
	GetByIDForUpdate(ctx context.Context, id uint) (*models.Refund, error)
	GetByRequestKey(ctx context.Context, paymentID uint, key string) (*models.Refund, error)
	// FindPendingByExternalReference returns at most one pending refund.
	FindPendingByExternalReference(ctx context.Context, ref string) (*models.Refund, error)
	// SumCommitted totals pending and processed refunds for a payment plus the
	// already credited wallet legs of failed ones.
	SumCommitted(ctx context.Context, paymentID uint) (decimal.Decimal, error)
	SumProcessed(ctx context.Context, paymentID uint) (decimal.Decimal, error)
	ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Refund, error)
	Update(ctx context.Context, refund *models.Refund) error
}

type PaymentFailureRepository interface {
	// RecordFailure increments the consecutive failure count, creating the record when missing.
	RecordFailure(ctx context.Context, paymentID uint, reason string, at time.Time) (*models.PaymentFailure, error)
	GetByPaymentID(ctx context.Context, paymentID uint) (*models.PaymentFailure, error)
	MarkEscalated(ctx context.Context, paymentID uint, at time.Time) error
	Reset(ctx context.Context, paymentID uint) error
}

type DiscountUsageRepository interface {
	GetDiscount(ctx context.Context, id uint) (*models.Discount, error)
	// Consumed reports whether the user holds a usage of the discount that was
	// not released by a full refund.
	Consumed(ctx context.Context, discountID, userID uint) (bool, error)
	Track(ctx context.Context, usage *models.DiscountUsage) error
	// Untrack flags every active usage for the entity reusable and returns how many changed.
	Untrack(ctx context.Context, entity models.EntityRef, at time.Time) (int64, error)
}

// EntityRepository is the paid/refunded state of purchasable entities.
type EntityRepository interface {
	Get(ctx context.Context, entity models.EntityRef) (*models.EntityInfo, error)
	MarkPaid(ctx context.Context, entity models.EntityRef, at time.Time) error
	MarkRefunded(ctx context.Context, entity models.EntityRef, at time.Time) error
	IsRefunded(ctx context.Context, entity models.EntityRef) (bool, error)
}

type EarningsRepository interface {
	ListForEntity(ctx context.Context, entity models.EntityRef) ([]models.WriterEarning, error)
	Append(ctx context.Context, earning *models.WriterEarning) error
}

type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListForPayment(ctx context.Context, paymentID uint) ([]models.AuditEntry, error)
}

type WebhookEventRepository interface {
	// Record stores the event and reports false when it was already stored.
	Record(ctx context.Context, event *models.WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, id uint, at time.Time, processErr error) error
	// Release drops a stored event so a redelivery is processed again.
	Release(ctx context.Context, id uint) error
}

type DisputeRepository interface {
	Create(ctx context.Context, dispute *models.Dispute) error
	GetByID(ctx context.Context, id uint) (*models.Dispute, error)
	GetByExternalReference(ctx context.Context, ref string) (*models.Dispute, error)
	Update(ctx context.Context, dispute *models.Dispute) error
}
