// Package repositories provides the data access layer: gorm-backed
// repositories grouped behind Store, plus the Postgres bootstrap.
package repositories

import (
	"fmt"
	"time"

	"paycore/internal/config"
	"paycore/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AllModels lists every table the engine owns, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&models.Wallet{},
		&models.LedgerEntry{},
		&models.Order{},
		&models.SpecialOrder{},
		&models.Installment{},
		&models.ClassPurchase{},
		&models.Payment{},
		&models.PaymentFailure{},
		&models.Refund{},
		&models.Discount{},
		&models.DiscountUsage{},
		&models.WriterEarning{},
		&models.AuditEntry{},
		&models.WebhookEvent{},
		&models.Dispute{},
	}
}

// InitDB opens the Postgres connection, applies pool settings and migrates the schema.
func InitDB(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port, cfg.SSLMode)

	// Configure GORM logger to ignore "record not found" errors
	gormLogger := logger.New(
		log,
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	log.WithField("database", cfg.Name).Info("postgres connected and migrated")
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
