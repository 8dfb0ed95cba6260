package memory

import (
	"context"
	"sort"
	"time"

	"paycore/internal/models"
	"paycore/internal/repositories"

	"github.com/shopspring/decimal"
)

type walletRepo struct{ s *Store }

func (r *walletRepo) GetOrCreateForUpdate(ctx context.Context, owner models.Owner) (*models.Wallet, error) {
	var out models.Wallet
	err := r.s.with(func(st *state) error {
		for _, w := range st.wallets {
			if w.Owner() == owner {
				out = w
				return nil
			}
		}
		now := r.s.clock()
		out = models.Wallet{
			ID:        st.id(),
			UserID:    owner.UserID,
			TenantID:  owner.TenantID,
			Currency:  "USD",
			Status:    models.WalletStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		st.wallets[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *walletRepo) GetByOwner(ctx context.Context, owner models.Owner) (*models.Wallet, error) {
	var out *models.Wallet
	_ = r.s.with(func(st *state) error {
		for _, w := range st.wallets {
			if w.Owner() == owner {
				w := w
				out = &w
				return nil
			}
		}
		return nil
	})
	if out == nil {
		return nil, repositories.ErrWalletNotFound
	}
	return out, nil
}

type ledgerRepo struct{ s *Store }

func (r *ledgerRepo) Append(ctx context.Context, entry *models.LedgerEntry) error {
	return r.s.with(func(st *state) error {
		entry.ID = st.id()
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = r.s.clock()
		}
		st.ledger = append(st.ledger, *entry)
		return nil
	})
}

func (r *ledgerRepo) SumByWallet(ctx context.Context, walletID uint) (decimal.Decimal, error) {
	total := decimal.Zero
	err := r.s.with(func(st *state) error {
		for _, e := range st.ledger {
			if e.WalletID == walletID {
				total = total.Add(e.Amount)
			}
		}
		return nil
	})
	return total, err
}

func (r *ledgerRepo) ListByWallet(ctx context.Context, walletID uint, limit, offset int) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	_ = r.s.with(func(st *state) error {
		for i := len(st.ledger) - 1; i >= 0; i-- {
			if st.ledger[i].WalletID == walletID {
				out = append(out, st.ledger[i])
			}
		}
		return nil
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type paymentRepo struct{ s *Store }

// checkPaymentUnique enforces the unique external reference and the one captured
// payment per entity index.
func checkPaymentUnique(st *state, p *models.Payment) error {
	for id, other := range st.payments {
		if id == p.ID {
			continue
		}
		if p.ExternalReference != nil && other.ExternalReference != nil && *p.ExternalReference == *other.ExternalReference {
			return repositories.ErrDuplicate
		}
		if p.EntityKey != nil && other.EntityKey != nil && *p.EntityKey == *other.EntityKey &&
			p.ConfirmedAt != nil && other.ConfirmedAt != nil {
			return repositories.ErrDuplicate
		}
	}
	return nil
}

func (r *paymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	return r.s.with(func(st *state) error {
		if err := checkPaymentUnique(st, payment); err != nil {
			return err
		}
		payment.ID = st.id()
		now := r.s.clock()
		payment.CreatedAt, payment.UpdatedAt = now, now
		st.payments[payment.ID] = *payment
		return nil
	})
}

func (r *paymentRepo) get(match func(models.Payment) bool) (*models.Payment, error) {
	var out *models.Payment
	_ = r.s.with(func(st *state) error {
		for _, p := range st.payments {
			if match(p) {
				p := p
				out = &p
				return nil
			}
		}
		return nil
	})
	if out == nil {
		return nil, repositories.ErrPaymentNotFound
	}
	return out, nil
}

func (r *paymentRepo) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	return r.get(func(p models.Payment) bool { return p.ID == id })
}

func (r *paymentRepo) GetByIDForUpdate(ctx context.Context, id uint) (*models.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r *paymentRepo) GetByExternalReference(ctx context.Context, ref string) (*models.Payment, error) {
	return r.get(func(p models.Payment) bool {
		return p.ExternalReference != nil && *p.ExternalReference == ref
	})
}

func (r *paymentRepo) ExistsSucceededForEntity(ctx context.Context, entityKey string) (bool, error) {
	_, err := r.get(func(p models.Payment) bool {
		return p.EntityKey != nil && *p.EntityKey == entityKey && p.ConfirmedAt != nil
	})
	if err == repositories.ErrPaymentNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r *paymentRepo) Update(ctx context.Context, payment *models.Payment) error {
	return r.s.with(func(st *state) error {
		if _, ok := st.payments[payment.ID]; !ok {
			return repositories.ErrPaymentNotFound
		}
		if err := checkPaymentUnique(st, payment); err != nil {
			return err
		}
		payment.UpdatedAt = r.s.clock()
		st.payments[payment.ID] = *payment
		return nil
	})
}

type refundRepo struct{ s *Store }

func checkRefundUnique(st *state, rf *models.Refund) error {
	for id, other := range st.refunds {
		if id == rf.ID {
			continue
		}
		if rf.ExternalReference != nil && other.ExternalReference != nil && *rf.ExternalReference == *other.ExternalReference {
			return repositories.ErrDuplicate
		}
		if rf.RequestKey != nil && other.RequestKey != nil && rf.PaymentID == other.PaymentID && *rf.RequestKey == *other.RequestKey {
			return repositories.ErrDuplicate
		}
	}
	return nil
}

func (r *refundRepo) Create(ctx context.Context, refund *models.Refund) error {
	return r.s.with(func(st *state) error {
		if err := checkRefundUnique(st, refund); err != nil {
			return err
		}
		refund.ID = st.id()
		now := r.s.clock()
		refund.CreatedAt, refund.UpdatedAt = now, now
		st.refunds[refund.ID] = *refund
		return nil
	})
}

func (r *refundRepo) get(match func(models.Refund) bool) (*models.Refund, error) {
	var out *models.Refund
	_ = r.s.with(func(st *state) error {
		for _, rf := range st.refunds {
			if match(rf) {
				rf := rf
				out = &rf
				return nil
			}
		}
		return nil
	})
	if out == nil {
		return nil, repositories.ErrRefundNotFound
	}
	return out, nil
}

func (r *refundRepo) GetByID(ctx context.Context, id uint) (*models.Refund, error) {
	return r.get(func(rf models.Refund) bool { return rf.ID == id })
}

func (r *refundRepo) GetByIDForUpdate(ctx context.Context, id uint) (*models.Refund, error) {
	return r.GetByID(ctx, id)
}

func (r *refundRepo) GetByRequestKey(ctx context.Context, paymentID uint, key string) (*models.Refund, error) {
	return r.get(func(rf models.Refund) bool {
		return rf.PaymentID == paymentID && rf.RequestKey != nil && *rf.RequestKey == key
	})
}

func (r *refundRepo) FindPendingByExternalReference(ctx context.Context, ref string) (*models.Refund, error) {
	return r.get(func(rf models.Refund) bool {
		return rf.Status == models.RefundStatusPending && rf.ExternalReference != nil && *rf.ExternalReference == ref
	})
}

func (r *refundRepo) sum(paymentID uint, amount func(models.Refund) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	_ = r.s.with(func(st *state) error {
		for _, rf := range st.refunds {
			if rf.PaymentID == paymentID {
				total = total.Add(amount(rf))
			}
		}
		return nil
	})
	return total
}

func (r *refundRepo) SumCommitted(ctx context.Context, paymentID uint) (decimal.Decimal, error) {
	return r.sum(paymentID, func(rf models.Refund) decimal.Decimal {
		switch {
		case rf.Status == models.RefundStatusPending || rf.Status == models.RefundStatusProcessed:
			return rf.Total()
		case rf.WalletLegConfirmed:
			return rf.WalletAmount
		}
		return decimal.Zero
	}), nil
}

func (r *refundRepo) SumProcessed(ctx context.Context, paymentID uint) (decimal.Decimal, error) {
	return r.sum(paymentID, func(rf models.Refund) decimal.Decimal {
		if rf.Status == models.RefundStatusProcessed {
			return rf.Total()
		}
		return decimal.Zero
	}), nil
}

func (r *refundRepo) ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Refund, error) {
	var out []models.Refund
	_ = r.s.with(func(st *state) error {
		for _, rf := range st.refunds {
			if rf.Status == models.RefundStatusPending && rf.NeedsGateway() &&
				!rf.ExternalLegConfirmed && rf.EscalatedAt == nil && rf.UpdatedAt.Before(updatedBefore) {
				out = append(out, rf)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *refundRepo) Update(ctx context.Context, refund *models.Refund) error {
	return r.s.with(func(st *state) error {
		if _, ok := st.refunds[refund.ID]; !ok {
			return repositories.ErrRefundNotFound
		}
		if err := checkRefundUnique(st, refund); err != nil {
			return err
		}
		refund.UpdatedAt = r.s.clock()
		st.refunds[refund.ID] = *refund
		return nil
	})
}

type failureRepo struct{ s *Store }

func (r *failureRepo) RecordFailure(ctx context.Context, paymentID uint, reason string, at time.Time) (*models.PaymentFailure, error) {
	var out models.PaymentFailure
	err := r.s.with(func(st *state) error {
		f, ok := st.failures[paymentID]
		if !ok {
			f = models.PaymentFailure{ID: st.id(), PaymentID: paymentID, CreatedAt: at}
		}
		f.Attempts++
		f.LastError = reason
		f.LastFailedAt = &at
		f.UpdatedAt = at
		st.failures[paymentID] = f
		out = f
		return nil
	})
	return &out, err
}

func (r *failureRepo) GetByPaymentID(ctx context.Context, paymentID uint) (*models.PaymentFailure, error) {
	var (
		out models.PaymentFailure
		ok  bool
	)
	_ = r.s.with(func(st *state) error {
		out, ok = st.failures[paymentID]
		return nil
	})
	if !ok {
		return nil, repositories.ErrFailureNotFound
	}
	return &out, nil
}

func (r *failureRepo) MarkEscalated(ctx context.Context, paymentID uint, at time.Time) error {
	return r.s.with(func(st *state) error {
		f, ok := st.failures[paymentID]
		if !ok {
			return repositories.ErrFailureNotFound
		}
		f.EscalatedAt = &at
		st.failures[paymentID] = f
		return nil
	})
}

func (r *failureRepo) Reset(ctx context.Context, paymentID uint) error {
	return r.s.with(func(st *state) error {
		if f, ok := st.failures[paymentID]; ok {
			f.Attempts = 0
			f.EscalatedAt = nil
			st.failures[paymentID] = f
		}
		return nil
	})
}

type discountRepo struct{ s *Store }

func (r *discountRepo) GetDiscount(ctx context.Context, id uint) (*models.Discount, error) {
	var (
		out models.Discount
		ok  bool
	)
	_ = r.s.with(func(st *state) error {
		out, ok = st.catalog[id]
		return nil
	})
	if !ok {
		return nil, repositories.ErrDiscountNotFound
	}
	return &out, nil
}

func (r *discountRepo) Consumed(ctx context.Context, discountID, userID uint) (bool, error) {
	var consumed bool
	_ = r.s.with(func(st *state) error {
		for _, d := range st.discounts {
			if d.DiscountID == discountID && d.UserID == userID && d.UntrackedAt == nil {
				consumed = true
			}
		}
		return nil
	})
	return consumed, nil
}

func (r *discountRepo) Track(ctx context.Context, usage *models.DiscountUsage) error {
	return r.s.with(func(st *state) error {
		usage.ID = st.id()
		usage.CreatedAt = r.s.clock()
		st.discounts = append(st.discounts, *usage)
		return nil
	})
}

func (r *discountRepo) Untrack(ctx context.Context, entity models.EntityRef, at time.Time) (int64, error) {
	var n int64
	err := r.s.with(func(st *state) error {
		for i := range st.discounts {
			d := &st.discounts[i]
			if d.EntityKey == entity.Key() && d.UntrackedAt == nil {
				d.Reusable = true
				d.UntrackedAt = &at
				n++
			}
		}
		return nil
	})
	return n, err
}

type entityRepo struct{ s *Store }

func (r *entityRepo) Get(ctx context.Context, entity models.EntityRef) (*models.EntityInfo, error) {
	var (
		out models.EntityInfo
		ok  bool
	)
	_ = r.s.with(func(st *state) error {
		out, ok = st.entities[entity.Key()]
		return nil
	})
	if !ok {
		return nil, repositories.ErrEntityNotFound
	}
	return &out, nil
}

func (r *entityRepo) update(entity models.EntityRef, fn func(ps *models.PaymentState)) error {
	return r.s.with(func(st *state) error {
		info, ok := st.entities[entity.Key()]
		if !ok {
			return repositories.ErrEntityNotFound
		}
		fn(&info.PaymentState)
		st.entities[entity.Key()] = info
		return nil
	})
}

func (r *entityRepo) MarkPaid(ctx context.Context, entity models.EntityRef, at time.Time) error {
	return r.update(entity, func(ps *models.PaymentState) {
		ps.IsPaid = true
		ps.PaidAt = &at
		ps.Status = models.EntityStatusPaid
	})
}

func (r *entityRepo) MarkRefunded(ctx context.Context, entity models.EntityRef, at time.Time) error {
	return r.update(entity, func(ps *models.PaymentState) {
		ps.IsRefunded = true
		ps.RefundedAt = &at
		ps.Status = models.EntityStatusRefunded
	})
}

func (r *entityRepo) IsRefunded(ctx context.Context, entity models.EntityRef) (bool, error) {
	info, err := r.Get(ctx, entity)
	if err != nil {
		return false, err
	}
	return info.IsRefunded, nil
}

type earningsRepo struct{ s *Store }

func (r *earningsRepo) ListForEntity(ctx context.Context, entity models.EntityRef) ([]models.WriterEarning, error) {
	var out []models.WriterEarning
	_ = r.s.with(func(st *state) error {
		for _, e := range st.earnings {
			if e.EntityKey == entity.Key() {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, nil
}

func (r *earningsRepo) Append(ctx context.Context, earning *models.WriterEarning) error {
	return r.s.with(func(st *state) error {
		earning.ID = st.id()
		earning.CreatedAt = r.s.clock()
		st.earnings = append(st.earnings, *earning)
		return nil
	})
}

type auditRepo struct{ s *Store }

func (r *auditRepo) Append(ctx context.Context, entry *models.AuditEntry) error {
	return r.s.with(func(st *state) error {
		entry.ID = st.id()
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = r.s.clock()
		}
		st.audit = append(st.audit, *entry)
		return nil
	})
}

func (r *auditRepo) ListForPayment(ctx context.Context, paymentID uint) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	_ = r.s.with(func(st *state) error {
		for _, e := range st.audit {
			if e.PaymentID == paymentID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, nil
}

type webhookRepo struct{ s *Store }

func (r *webhookRepo) Record(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	var created bool
	err := r.s.with(func(st *state) error {
		for _, e := range st.webhooks {
			if e.Provider == event.Provider && e.EventID == event.EventID {
				return nil
			}
		}
		event.ID = st.id()
		if event.ReceivedAt.IsZero() {
			event.ReceivedAt = r.s.clock()
		}
		st.webhooks = append(st.webhooks, *event)
		created = true
		return nil
	})
	return created, err
}

func (r *webhookRepo) MarkProcessed(ctx context.Context, id uint, at time.Time, processErr error) error {
	return r.s.with(func(st *state) error {
		for i := range st.webhooks {
			if st.webhooks[i].ID == id {
				st.webhooks[i].ProcessedAt = &at
				st.webhooks[i].ProcessError = ""
				if processErr != nil {
					st.webhooks[i].ProcessError = processErr.Error()
				}
			}
		}
		return nil
	})
}

func (r *webhookRepo) Release(ctx context.Context, id uint) error {
	return r.s.with(func(st *state) error {
		for i := range st.webhooks {
			if st.webhooks[i].ID == id {
				st.webhooks = append(st.webhooks[:i], st.webhooks[i+1:]...)
				return nil
			}
		}
		return nil
	})
}

type disputeRepo struct{ s *Store }

func (r *disputeRepo) Create(ctx context.Context, dispute *models.Dispute) error {
	return r.s.with(func(st *state) error {
		for _, d := range st.disputes {
			if d.ExternalReference == dispute.ExternalReference {
				return repositories.ErrDuplicate
			}
		}
		dispute.ID = st.id()
		now := r.s.clock()
		dispute.CreatedAt, dispute.UpdatedAt = now, now
		st.disputes[dispute.ID] = *dispute
		return nil
	})
}

func (r *disputeRepo) get(match func(models.Dispute) bool) (*models.Dispute, error) {
	var out *models.Dispute
	_ = r.s.with(func(st *state) error {
		for _, d := range st.disputes {
			if match(d) {
				d := d
				out = &d
				return nil
			}
		}
		return nil
	})
	if out == nil {
		return nil, repositories.ErrDisputeNotFound
	}
	return out, nil
}

func (r *disputeRepo) GetByID(ctx context.Context, id uint) (*models.Dispute, error) {
	return r.get(func(d models.Dispute) bool { return d.ID == id })
}

func (r *disputeRepo) GetByExternalReference(ctx context.Context, ref string) (*models.Dispute, error) {
	return r.get(func(d models.Dispute) bool { return d.ExternalReference == ref })
}

func (r *disputeRepo) Update(ctx context.Context, dispute *models.Dispute) error {
	return r.s.with(func(st *state) error {
		if _, ok := st.disputes[dispute.ID]; !ok {
			return repositories.ErrDisputeNotFound
		}
		dispute.UpdatedAt = r.s.clock()
		st.disputes[dispute.ID] = *dispute
		return nil
	})
}
