// Package memory is an in-process implementation of repositories.Store.
// Transactions are serialized by one mutex and roll back by restoring a
// snapshot, which is enough to exercise the services' locking and atomicity
// contracts without Postgres.
package memory

import (
	"context"
	"sync"
	"time"

	"paycore/internal/models"
	"paycore/internal/repositories"

	"github.com/shopspring/decimal"
)

type state struct {
	nextID    uint
	wallets   map[uint]models.Wallet
	ledger    []models.LedgerEntry
	payments  map[uint]models.Payment
	refunds   map[uint]models.Refund
	failures  map[uint]models.PaymentFailure
	catalog   map[uint]models.Discount
	discounts []models.DiscountUsage
	entities  map[string]models.EntityInfo
	earnings  []models.WriterEarning
	audit     []models.AuditEntry
	webhooks  []models.WebhookEvent
	disputes  map[uint]models.Dispute
}

func newState() *state {
	return &state{
		wallets:  make(map[uint]models.Wallet),
		payments: make(map[uint]models.Payment),
		refunds:  make(map[uint]models.Refund),
		failures: make(map[uint]models.PaymentFailure),
		catalog:  make(map[uint]models.Discount),
		entities: make(map[string]models.EntityInfo),
		disputes: make(map[uint]models.Dispute),
	}
}

func (s *state) id() uint {
	s.nextID++
	return s.nextID
}

func (s *state) clone() *state {
	c := &state{
		nextID:    s.nextID,
		wallets:   make(map[uint]models.Wallet, len(s.wallets)),
		ledger:    append([]models.LedgerEntry(nil), s.ledger...),
		payments:  make(map[uint]models.Payment, len(s.payments)),
		refunds:   make(map[uint]models.Refund, len(s.refunds)),
		failures:  make(map[uint]models.PaymentFailure, len(s.failures)),
		catalog:   make(map[uint]models.Discount, len(s.catalog)),
		discounts: append([]models.DiscountUsage(nil), s.discounts...),
		entities:  make(map[string]models.EntityInfo, len(s.entities)),
		earnings:  append([]models.WriterEarning(nil), s.earnings...),
		audit:     append([]models.AuditEntry(nil), s.audit...),
		webhooks:  append([]models.WebhookEvent(nil), s.webhooks...),
		disputes:  make(map[uint]models.Dispute, len(s.disputes)),
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.refunds {
		c.refunds[k] = v
	}
	for k, v := range s.failures {
		c.failures[k] = v
	}
	for k, v := range s.catalog {
		c.catalog[k] = v
	}
	for k, v := range s.entities {
		c.entities[k] = v
	}
	for k, v := range s.disputes {
		c.disputes[k] = v
	}
	return c
}

// Store is safe for concurrent use.
type Store struct {
	mu    *sync.Mutex
	root  **state
	inTx  bool
	clock func() time.Time
}

var _ repositories.Store = (*Store)(nil)

func NewStore() *Store {
	st := newState()
	return &Store{mu: &sync.Mutex{}, root: &st, clock: time.Now}
}

// SetClock overrides the timestamp source used for CreatedAt/UpdatedAt.
func (s *Store) SetClock(clock func() time.Time) {
	s.clock = clock
}

// with runs fn against the live state, taking the lock unless the caller is
// already inside a transaction.
func (s *Store) with(fn func(st *state) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(*s.root)
}

func (s *Store) ExecuteInTransaction(ctx context.Context, fn func(tx repositories.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	snapshot := (*s.root).clone()
	tx := &Store{mu: s.mu, root: s.root, inTx: true, clock: s.clock}
	if err := fn(tx); err != nil {
		*s.root = snapshot
		return err
	}
	return nil
}

func (s *Store) Wallets() repositories.WalletRepository          { return &walletRepo{s} }
func (s *Store) Ledger() repositories.LedgerRepository           { return &ledgerRepo{s} }
func (s *Store) Payments() repositories.PaymentRepository        { return &paymentRepo{s} }
func (s *Store) Refunds() repositories.RefundRepository          { return &refundRepo{s} }
func (s *Store) Failures() repositories.PaymentFailureRepository { return &failureRepo{s} }
func (s *Store) Discounts() repositories.DiscountUsageRepository { return &discountRepo{s} }
func (s *Store) Entities() repositories.EntityRepository         { return &entityRepo{s} }
func (s *Store) Earnings() repositories.EarningsRepository       { return &earningsRepo{s} }
func (s *Store) Audit() repositories.AuditRepository             { return &auditRepo{s} }
func (s *Store) WebhookEvents() repositories.WebhookEventRepository {
	return &webhookRepo{s}
}
func (s *Store) Disputes() repositories.DisputeRepository { return &disputeRepo{s} }

// SeedEntity registers an unpaid purchasable entity billed to owner.
func (s *Store) SeedEntity(ref models.EntityRef, owner models.Owner, price decimal.Decimal) {
	_ = s.with(func(st *state) error {
		st.entities[ref.Key()] = models.EntityInfo{
			Ref:          ref,
			TenantID:     owner.TenantID,
			ClientID:     owner.UserID,
			Price:        price,
			PaymentState: models.PaymentState{Status: models.EntityStatusOpen},
		}
		return nil
	})
}

// SeedDiscount stores d in the discount catalog and returns its id.
func (s *Store) SeedDiscount(d models.Discount) uint {
	_ = s.with(func(st *state) error {
		d.ID = st.id()
		st.catalog[d.ID] = d
		return nil
	})
	return d.ID
}

// EntityState returns the payment flags of a seeded entity.
func (s *Store) EntityState(ref models.EntityRef) (models.PaymentState, bool) {
	var (
		info models.EntityInfo
		ok   bool
	)
	_ = s.with(func(st *state) error {
		info, ok = st.entities[ref.Key()]
		return nil
	})
	return info.PaymentState, ok
}

// DiscountUsages returns a copy of every tracked usage.
func (s *Store) DiscountUsages() []models.DiscountUsage {
	var out []models.DiscountUsage
	_ = s.with(func(st *state) error {
		out = append(out, st.discounts...)
		return nil
	})
	return out
}

// LedgerEntries returns a copy of the whole ledger in append order.
func (s *Store) LedgerEntries() []models.LedgerEntry {
	var out []models.LedgerEntry
	_ = s.with(func(st *state) error {
		out = append(out, st.ledger...)
		return nil
	})
	return out
}
