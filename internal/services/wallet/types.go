package wallet

import (
	"context"
	"time"

	"paycore/internal/models"

	"github.com/shopspring/decimal"
)

// OverdraftPolicy must be chosen explicitly on every debit.
type OverdraftPolicy int

const (
	// ForbidOverdraft rejects a debit larger than the current balance.
	ForbidOverdraft OverdraftPolicy = iota
	// AllowOverdraft lets the balance go negative.
	AllowOverdraft
)

func (p OverdraftPolicy) String() string {
	if p == AllowOverdraft {
		return "allow_overdraft"
	}
	return "forbid_overdraft"
}

// EntryRequest describes one ledger movement. Amount is always positive; the
// sign is applied by Credit or Debit.
type EntryRequest struct {
	Owner     models.Owner
	Amount    decimal.Decimal
	Type      models.EntryType
	Reference string
	Metadata  map[string]interface{}
}

// BalanceCache is the read-through balance cache. cache.CacheService implements it.
// GetBalance reports the owner's generation, which InvalidateBalance bumps;
// SetBalance drops the value when the generation has moved on since the read.
type BalanceCache interface {
	GetBalance(ctx context.Context, owner models.Owner) (balance decimal.Decimal, generation int64, found bool, err error)
	SetBalance(ctx context.Context, owner models.Owner, balance decimal.Decimal, generation int64) (bool, error)
	InvalidateBalance(ctx context.Context, owner models.Owner) error
}

// MetricsCollector defines the interface for collecting wallet metrics
type MetricsCollector interface {
	RecordOperationDuration(operation string, duration time.Duration)
	RecordOperationResult(operation, result string)
	RecordCacheHit(key string)
	RecordCacheMiss(key string)
}
