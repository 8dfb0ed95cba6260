package repositories

import (
	"context"
	"fmt"
	"time"

	"paycore/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type refundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) RefundRepository {
	return &refundRepository{db: db}
}

func (r *refundRepository) Create(ctx context.Context, refund *models.Refund) error {
	if err := r.db.WithContext(ctx).Create(refund).Error; err != nil {
		return fmt.Errorf("failed to create refund: %w", translate(err, ErrRefundNotFound))
	}
	return nil
}

func (r *refundRepository) GetByID(ctx context.Context, id uint) (*models.Refund, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *refundRepository) GetByIDForUpdate(ctx context.Context, id uint) (*models.Refund, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *refundRepository) GetByRequestKey(ctx context.Context, paymentID uint, key string) (*models.Refund, error) {
	return r.first(r.db.WithContext(ctx).Where("payment_id = ? AND request_key = ?", paymentID, key))
}

func (r *refundRepository) FindPendingByExternalReference(ctx context.Context, ref string) (*models.Refund, error) {
	return r.first(r.db.WithContext(ctx).
		Where("external_reference = ? AND status = ?", ref, models.RefundStatusPending))
}

func (r *refundRepository) first(q *gorm.DB) (*models.Refund, error) {
	var refund models.Refund
	if err := q.First(&refund).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}
	return &refund, nil
}

func (r *refundRepository) SumCommitted(ctx context.Context, paymentID uint) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Select(`COALESCE(SUM(CASE
			WHEN status IN ? THEN wallet_amount + external_amount
			WHEN wallet_leg_confirmed THEN wallet_amount
			ELSE 0 END), 0) AS total`,
			[]models.RefundStatus{models.RefundStatusPending, models.RefundStatusProcessed}).
		Where("payment_id = ?", paymentID).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum committed refunds: %w", err)
	}
	return result.Total, nil
}

func (r *refundRepository) SumProcessed(ctx context.Context, paymentID uint) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Select("COALESCE(SUM(wallet_amount + external_amount), 0) AS total").
		Where("payment_id = ? AND status = ?", paymentID, models.RefundStatusProcessed).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum refunds: %w", err)
	}
	return result.Total, nil
}

func (r *refundRepository) ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.WithContext(ctx).
		Where("status = ? AND method = ? AND external_amount > 0", models.RefundStatusPending, models.RefundMethodExternal).
		Where("external_leg_confirmed = ? AND escalated_at IS NULL", false).
		Where("updated_at < ?", updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&refunds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale refunds: %w", err)
	}
	return refunds, nil
}

func (r *refundRepository) Update(ctx context.Context, refund *models.Refund) error {
	if err := r.db.WithContext(ctx).Save(refund).Error; err != nil {
		return fmt.Errorf("failed to update refund: %w", translate(err, ErrRefundNotFound))
	}
	return nil
}
