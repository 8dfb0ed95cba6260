package repositories

import (
	"context"
	"fmt"

	"paycore/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", translate(err, ErrPaymentNotFound))
	}
	return nil
}

func (r *paymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *paymentRepository) GetByIDForUpdate(ctx context.Context, id uint) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *paymentRepository) GetByExternalReference(ctx context.Context, ref string) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("external_reference = ?", ref))
}

func (r *paymentRepository) first(q *gorm.DB) (*models.Payment, error) {
	var payment models.Payment
	if err := q.First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (r *paymentRepository) ExistsSucceededForEntity(ctx context.Context, entityKey string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("entity_key = ? AND confirmed_at IS NOT NULL", entityKey).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check succeeded payments: %w", err)
	}
	return count > 0, nil
}

func (r *paymentRepository) Update(ctx context.Context, payment *models.Payment) error {
	if err := r.db.WithContext(ctx).Save(payment).Error; err != nil {
		return fmt.Errorf("failed to update payment: %w", translate(err, ErrPaymentNotFound))
	}
	return nil
}
