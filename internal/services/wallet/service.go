package wallet

import (
	"context"
	"fmt"
	"time"

	domainErrors "paycore/internal/errors"
	"paycore/internal/events"
	"paycore/internal/models"
	"paycore/internal/repositories"
	"paycore/internal/validation"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Service is the wallet ledger.
type Service struct {
	store      repositories.Store
	cache      BalanceCache
	dispatcher events.Dispatcher
	metrics    MetricsCollector
	logger     *logrus.Entry
}

// NewService creates a new wallet service. cache, dispatcher and metrics are optional.
func NewService(
	store repositories.Store,
	cache BalanceCache,
	dispatcher events.Dispatcher,
	metrics MetricsCollector,
	logger *logrus.Entry,
) *Service {
	if store == nil {
		panic("store is required")
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:      store,
		cache:      cache,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.WithField("component", "wallet"),
	}
}

// Credit appends a positive entry. Credits have no balance precondition.
func (s *Service) Credit(ctx context.Context, req EntryRequest) (*models.LedgerEntry, error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("credit", time.Since(start)) }()

	var entry *models.LedgerEntry
	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		var err error
		entry, err = s.CreditWithin(ctx, tx, req)
		return err
	})
	if err != nil {
		s.metrics.RecordOperationResult("credit", "error")
		return nil, err
	}

	s.metrics.RecordOperationResult("credit", "success")
	s.AfterCommit(ctx, entry)
	return entry, nil
}

// Debit appends a negative entry after checking the balance under the wallet lock.
func (s *Service) Debit(ctx context.Context, req EntryRequest, policy OverdraftPolicy) (*models.LedgerEntry, error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("debit", time.Since(start)) }()

	var entry *models.LedgerEntry
	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		var err error
		entry, err = s.DebitWithin(ctx, tx, req, policy)
		return err
	})
	if err != nil {
		s.metrics.RecordOperationResult("debit", "error")
		return nil, err
	}

	s.metrics.RecordOperationResult("debit", "success")
	s.AfterCommit(ctx, entry)
	return entry, nil
}

// CreditWithin is Credit inside the caller's transaction. The caller must
// call AfterCommit with the returned entry once tx has committed.
func (s *Service) CreditWithin(ctx context.Context, tx repositories.Store, req EntryRequest) (*models.LedgerEntry, error) {
	if !req.Amount.IsPositive() {
		return nil, domainErrors.ErrInvalidEntryAmount
	}
	if req.Type == "" {
		req.Type = models.EntryTypeCredit
	}

	wallet, err := tx.Wallets().GetOrCreateForUpdate(ctx, req.Owner)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return s.append(ctx, tx, wallet, req, req.Amount)
}

// DebitWithin is Debit inside the caller's transaction. The caller must call
// AfterCommit with the returned entry once tx has committed.
func (s *Service) DebitWithin(ctx context.Context, tx repositories.Store, req EntryRequest, policy OverdraftPolicy) (*models.LedgerEntry, error) {
	if !req.Amount.IsPositive() {
		return nil, domainErrors.ErrInvalidEntryAmount
	}
	if req.Type == "" {
		req.Type = models.EntryTypeDebit
	}

	wallet, err := tx.Wallets().GetOrCreateForUpdate(ctx, req.Owner)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	if err := validation.ValidateWalletOperation(wallet); err != nil {
		return nil, err
	}

	// Recomputed under the row lock: never read from the cache here.
	balance, err := tx.Ledger().SumByWallet(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	if policy == ForbidOverdraft && balance.LessThan(req.Amount) {
		s.logger.WithFields(logrus.Fields{
			"owner":   req.Owner.String(),
			"balance": balance.StringFixed(2),
			"amount":  req.Amount.StringFixed(2),
		}).Info("debit rejected: insufficient balance")
		return nil, domainErrors.ErrInsufficientBalance
	}

	return s.append(ctx, tx, wallet, req, req.Amount.Neg())
}

func (s *Service) append(ctx context.Context, tx repositories.Store, wallet *models.Wallet, req EntryRequest, signed decimal.Decimal) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		WalletID:  wallet.ID,
		UserID:    wallet.UserID,
		TenantID:  wallet.TenantID,
		Amount:    signed,
		Type:      req.Type,
		Reference: req.Reference,
		Metadata:  req.Metadata,
	}
	if err := tx.Ledger().Append(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"owner":     req.Owner.String(),
		"entry_id":  entry.ID,
		"amount":    signed.StringFixed(2),
		"type":      entry.Type,
		"reference": entry.Reference,
	}).Debug("ledger entry appended")
	return entry, nil
}

// AfterCommit invalidates cached balances and emits wallet events for entries
// written inside a committed transaction.
func (s *Service) AfterCommit(ctx context.Context, entries ...*models.LedgerEntry) {
	s.invalidate(ctx, entries)
	if s.dispatcher == nil {
		return
	}

	evts := make([]events.DomainEvent, 0, len(entries))
	for _, e := range entries {
		t := events.WalletCredited
		if e.Amount.IsNegative() {
			t = events.WalletDebited
		}
		evt := events.New(t, e.TenantID, e.UserID)
		evt.Amount = e.Amount.Abs()
		evt.Metadata = map[string]interface{}{
			"entry_id":   e.ID,
			"entry_type": string(e.Type),
			"reference":  e.Reference,
		}
		evts = append(evts, evt)
	}
	s.dispatcher.Dispatch(ctx, evts...)
}

// Balance returns the sum of the owner's ledger entries. An owner without a
// wallet has a zero balance.
func (s *Service) Balance(ctx context.Context, owner models.Owner) (decimal.Decimal, error) {
	cacheable := s.cache != nil
	var generation int64
	if cacheable {
		cached, gen, ok, err := s.cache.GetBalance(ctx, owner)
		generation = gen
		switch {
		case err != nil:
			// Without a generation a later write could not be told apart.
			cacheable = false
			s.logger.WithError(err).Warn("balance cache read failed")
		case ok:
			s.metrics.RecordCacheHit(owner.String())
			return cached, nil
		default:
			s.metrics.RecordCacheMiss(owner.String())
		}
	}

	wallet, err := s.store.Wallets().GetByOwner(ctx, owner)
	if err == repositories.ErrWalletNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get wallet: %w", err)
	}

	balance, err := s.store.Ledger().SumByWallet(ctx, wallet.ID)
	if err != nil {
		return decimal.Zero, err
	}

	if cacheable {
		stored, err := s.cache.SetBalance(ctx, owner, balance, generation)
		switch {
		case err != nil:
			s.logger.WithError(err).Warn("balance cache write failed")
		case !stored:
			s.logger.WithField("owner", owner.String()).Debug("ledger changed during balance read, not cached")
		}
	}
	return balance, nil
}

// Entries returns the owner's ledger history, newest first.
func (s *Service) Entries(ctx context.Context, owner models.Owner, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	wallet, err := s.store.Wallets().GetByOwner(ctx, owner)
	if err == repositories.ErrWalletNotFound {
		return nil, domainErrors.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return s.store.Ledger().ListByWallet(ctx, wallet.ID, limit, offset)
}
