package repositories

import (
	"context"
	"fmt"

	"paycore/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type walletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) GetOrCreateForUpdate(ctx context.Context, owner models.Owner) (*models.Wallet, error) {
	db := r.db.WithContext(ctx)

	seed := models.Wallet{UserID: owner.UserID, TenantID: owner.TenantID, Status: models.WalletStatusActive}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var wallet models.Wallet
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND tenant_id = ?", owner.UserID, owner.TenantID).
		First(&wallet).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepository) GetByOwner(ctx context.Context, owner models.Owner) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ?", owner.UserID, owner.TenantID).
		First(&wallet).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (r *ledgerRepository) SumByWallet(ctx context.Context, walletID uint) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("wallet_id = ?", walletID).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return result.Total, nil
}

func (r *ledgerRepository) ListByWallet(ctx context.Context, walletID uint, limit, offset int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}
