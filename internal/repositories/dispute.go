package repositories

import (
	"context"
	"fmt"

	"paycore/internal/models"

	"gorm.io/gorm"
)

type disputeRepository struct {
	db *gorm.DB
}

func NewDisputeRepository(db *gorm.DB) DisputeRepository {
	return &disputeRepository{db: db}
}

func (r *disputeRepository) Create(ctx context.Context, dispute *models.Dispute) error {
	if err := r.db.WithContext(ctx).Create(dispute).Error; err != nil {
		return fmt.Errorf("failed to create dispute: %w", translate(err, ErrDisputeNotFound))
	}
	return nil
}

func (r *disputeRepository) GetByID(ctx context.Context, id uint) (*models.Dispute, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *disputeRepository) GetByExternalReference(ctx context.Context, ref string) (*models.Dispute, error) {
	return r.first(r.db.WithContext(ctx).Where("external_reference = ?", ref))
}

func (r *disputeRepository) first(q *gorm.DB) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := q.First(&dispute).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}
	return &dispute, nil
}

func (r *disputeRepository) Update(ctx context.Context, dispute *models.Dispute) error {
	if err := r.db.WithContext(ctx).Save(dispute).Error; err != nil {
		return fmt.Errorf("failed to update dispute: %w", err)
	}
	return nil
}
