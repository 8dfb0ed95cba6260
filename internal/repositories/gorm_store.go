package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type gormStore struct {
	db *gorm.DB
}

// NewStore returns a Store backed by db.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Wallets() WalletRepository          { return &walletRepository{db: s.db} }
func (s *gormStore) Ledger() LedgerRepository           { return &ledgerRepository{db: s.db} }
func (s *gormStore) Payments() PaymentRepository        { return &paymentRepository{db: s.db} }
func (s *gormStore) Refunds() RefundRepository          { return &refundRepository{db: s.db} }
func (s *gormStore) Failures() PaymentFailureRepository { return &failureRepository{db: s.db} }
func (s *gormStore) Discounts() DiscountUsageRepository { return &discountRepository{db: s.db} }
func (s *gormStore) Entities() EntityRepository         { return &entityRepository{db: s.db} }
func (s *gormStore) Earnings() EarningsRepository       { return &earningsRepository{db: s.db} }
func (s *gormStore) Audit() AuditRepository             { return &auditRepository{db: s.db} }
func (s *gormStore) WebhookEvents() WebhookEventRepository {
	return &webhookEventRepository{db: s.db}
}
func (s *gormStore) Disputes() DisputeRepository { return &disputeRepository{db: s.db} }

// ExecuteInTransaction runs fn against a store bound to a single transaction.
// Nested calls become savepoints.
func (s *gormStore) ExecuteInTransaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// translate maps driver errors onto the package sentinels.
func translate(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}
