package repositories

import (
	"context"
	"fmt"
	"time"

	"paycore/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type failureRepository struct {
	db *gorm.DB
}

func (r *failureRepository) RecordFailure(ctx context.Context, paymentID uint, reason string, at time.Time) (*models.PaymentFailure, error) {
	db := r.db.WithContext(ctx)

	var failure models.PaymentFailure
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("payment_id = ?", paymentID).First(&failure).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		failure = models.PaymentFailure{PaymentID: paymentID, Attempts: 1, LastError: reason, LastFailedAt: &at}
		if err := db.Create(&failure).Error; err != nil {
			return nil, fmt.Errorf("failed to create payment failure: %w", err)
		}
		return &failure, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get payment failure: %w", err)
	}

	failure.Attempts++
	failure.LastError = reason
	failure.LastFailedAt = &at
	if err := db.Save(&failure).Error; err != nil {
		return nil, fmt.Errorf("failed to update payment failure: %w", err)
	}
	return &failure, nil
}

func (r *failureRepository) GetByPaymentID(ctx context.Context, paymentID uint) (*models.PaymentFailure, error) {
	var failure models.PaymentFailure
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&failure).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrFailureNotFound
		}
		return nil, fmt.Errorf("failed to get payment failure: %w", err)
	}
	return &failure, nil
}

func (r *failureRepository) MarkEscalated(ctx context.Context, paymentID uint, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentFailure{}).
		Where("payment_id = ?", paymentID).
		Update("escalated_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to escalate payment failure: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrFailureNotFound
	}
	return nil
}

func (r *failureRepository) Reset(ctx context.Context, paymentID uint) error {
	err := r.db.WithContext(ctx).
		Model(&models.PaymentFailure{}).
		Where("payment_id = ?", paymentID).
		Updates(map[string]interface{}{"attempts": 0, "escalated_at": nil}).Error
	if err != nil {
		return fmt.Errorf("failed to reset payment failure: %w", err)
	}
	return nil
}

type discountRepository struct {
	db *gorm.DB
}

func (r *discountRepository) GetDiscount(ctx context.Context, id uint) (*models.Discount, error) {
	var discount models.Discount
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&discount).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrDiscountNotFound
		}
		return nil, fmt.Errorf("failed to get discount: %w", err)
	}
	return &discount, nil
}

func (r *discountRepository) Consumed(ctx context.Context, discountID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.DiscountUsage{}).
		Where("discount_id = ? AND user_id = ? AND untracked_at IS NULL", discountID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check discount usage: %w", err)
	}
	return count > 0, nil
}

func (r *discountRepository) Track(ctx context.Context, usage *models.DiscountUsage) error {
	if err := r.db.WithContext(ctx).Create(usage).Error; err != nil {
		return fmt.Errorf("failed to track discount usage: %w", err)
	}
	return nil
}

func (r *discountRepository) Untrack(ctx context.Context, entity models.EntityRef, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.DiscountUsage{}).
		Where("entity_key = ? AND untracked_at IS NULL", entity.Key()).
		Updates(map[string]interface{}{"reusable": true, "untracked_at": at})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to untrack discount usage: %w", result.Error)
	}
	return result.RowsAffected, nil
}

type entityRepository struct {
	db *gorm.DB
}

func entityModel(t models.EntityType) (interface{}, error) {
	switch t {
	case models.EntityOrder:
		return &models.Order{}, nil
	case models.EntitySpecialOrder:
		return &models.SpecialOrder{}, nil
	case models.EntityClassPurchase:
		return &models.ClassPurchase{}, nil
	case models.EntityInstallment:
		return &models.Installment{}, nil
	}
	return nil, fmt.Errorf("unknown entity type %q", t)
}

func (r *entityRepository) Get(ctx context.Context, entity models.EntityRef) (*models.EntityInfo, error) {
	info := models.EntityInfo{Ref: entity}
	db := r.db.WithContext(ctx).Where("id = ?", entity.ID)

	var err error
	switch entity.Type {
	case models.EntityOrder:
		var o models.Order
		err = db.First(&o).Error
		info.TenantID, info.ClientID, info.Price, info.PaymentState = o.TenantID, o.ClientID, o.Price, o.PaymentState
	case models.EntitySpecialOrder:
		var o models.SpecialOrder
		err = db.First(&o).Error
		info.TenantID, info.ClientID, info.Price, info.PaymentState = o.TenantID, o.ClientID, o.TotalCost, o.PaymentState
	case models.EntityClassPurchase:
		var cp models.ClassPurchase
		err = db.First(&cp).Error
		info.TenantID, info.ClientID, info.Price, info.PaymentState = cp.TenantID, cp.ClientID, cp.Price, cp.PaymentState
	case models.EntityInstallment:
		var in models.Installment
		err = db.First(&in).Error
		info.TenantID, info.ClientID, info.Price, info.PaymentState = in.TenantID, in.ClientID, in.Amount, in.PaymentState
	default:
		return nil, fmt.Errorf("unknown entity type %q", entity.Type)
	}
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", entity, err)
	}
	return &info, nil
}

func (r *entityRepository) update(ctx context.Context, entity models.EntityRef, values map[string]interface{}) error {
	model, err := entityModel(entity.Type)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(model).Where("id = ?", entity.ID).Updates(values)
	if result.Error != nil {
		return fmt.Errorf("failed to update %s: %w", entity, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (r *entityRepository) MarkPaid(ctx context.Context, entity models.EntityRef, at time.Time) error {
	return r.update(ctx, entity, map[string]interface{}{
		"is_paid": true,
		"paid_at": at,
		"status":  models.EntityStatusPaid,
	})
}

func (r *entityRepository) MarkRefunded(ctx context.Context, entity models.EntityRef, at time.Time) error {
	return r.update(ctx, entity, map[string]interface{}{
		"is_refunded": true,
		"refunded_at": at,
		"status":      models.EntityStatusRefunded,
	})
}

func (r *entityRepository) IsRefunded(ctx context.Context, entity models.EntityRef) (bool, error) {
	model, err := entityModel(entity.Type)
	if err != nil {
		return false, err
	}
	var count int64
	err = r.db.WithContext(ctx).Model(model).
		Where("id = ? AND is_refunded = ?", entity.ID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", entity, err)
	}
	return count > 0, nil
}

type earningsRepository struct {
	db *gorm.DB
}

func (r *earningsRepository) ListForEntity(ctx context.Context, entity models.EntityRef) ([]models.WriterEarning, error) {
	var earnings []models.WriterEarning
	if err := r.db.WithContext(ctx).Where("entity_key = ?", entity.Key()).Order("id").Find(&earnings).Error; err != nil {
		return nil, fmt.Errorf("failed to list writer earnings: %w", err)
	}
	return earnings, nil
}

func (r *earningsRepository) Append(ctx context.Context, earning *models.WriterEarning) error {
	if err := r.db.WithContext(ctx).Create(earning).Error; err != nil {
		return fmt.Errorf("failed to append writer earning: %w", err)
	}
	return nil
}

type auditRepository struct {
	db *gorm.DB
}

func (r *auditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *auditRepository) ListForPayment(ctx context.Context, paymentID uint) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

type webhookEventRepository struct {
	db *gorm.DB
}

func (r *webhookEventRepository) Record(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(event)
	if result.Error != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uint, at time.Time, processErr error) error {
	values := map[string]interface{}{"processed_at": at, "process_error": ""}
	if processErr != nil {
		values["process_error"] = processErr.Error()
	}
	if err := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(values).Error; err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

func (r *webhookEventRepository) Release(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.WebhookEvent{}, id).Error; err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}
