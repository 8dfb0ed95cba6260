// Package payment creates payments and drives their status transitions.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "paycore/internal/errors"
	"paycore/internal/events"
	"paycore/internal/gateway"
	"paycore/internal/models"
	"paycore/internal/queue"
	"paycore/internal/repositories"
	"paycore/internal/services/wallet"
	"paycore/internal/validation"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CreateInput carries the fields of a new payment. For entity payments the
// amounts are derived from the entity's price and any client supplied amount
// must match; only wallet loading takes its Amount from the caller.
// DiscountedAmount below the price is only accepted through DiscountID.
type CreateInput struct {
	TenantID          uint
	ClientID          uint
	Kind              models.PaymentKind
	Method            models.PaymentMethod
	Amount            decimal.Decimal
	OriginalAmount    *decimal.Decimal
	DiscountedAmount  *decimal.Decimal
	DiscountID        *uint
	ExternalReference *string

	OrderID         *uint
	SpecialOrderID  *uint
	ClassPurchaseID *uint
	InstallmentID   *uint
}

type Service struct {
	store      repositories.Store
	ledger     Ledger
	gateway    StatusChecker
	queue      queue.Enqueuer
	dispatcher events.Dispatcher
	retry      queue.RetryPolicy
	logger     *logrus.Entry
	now        func() time.Time
}

// NewService creates a new payment service
func NewService(
	store repositories.Store,
	ledger Ledger,
	gw StatusChecker,
	q queue.Enqueuer,
	dispatcher events.Dispatcher,
	retry queue.RetryPolicy,
	logger *logrus.Entry,
) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	return &Service{
		store:      store,
		ledger:     ledger,
		gateway:    gw,
		queue:      q,
		dispatcher: dispatcher,
		retry:      retry,
		logger:     logger.WithField("component", "payment"),
		now:        time.Now,
	}
}

// Create validates and persists a pending payment. It has no other side effects.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Payment, error) {
	p := &models.Payment{
		TenantID:          in.TenantID,
		ClientID:          in.ClientID,
		Kind:              in.Kind,
		Method:            in.Method,
		DiscountID:        in.DiscountID,
		ExternalReference: in.ExternalReference,
		Status:            models.PaymentStatusPending,
		OrderID:           in.OrderID,
		SpecialOrderID:    in.SpecialOrderID,
		ClassPurchaseID:   in.ClassPurchaseID,
		InstallmentID:     in.InstallmentID,
	}

	v := validation.New()
	v.Required("tenant_id", p.TenantID)
	v.Required("client_id", p.ClientID)
	v.PaymentKind("kind", p.Kind)
	v.PaymentMethod("method", p.Method)
	v.Reference("external_reference", p.ExternalReference)
	v.Check(!(p.Kind == models.PaymentKindWalletLoading && p.Method == models.PaymentMethodWallet),
		"method", "wallet loading cannot be paid from the wallet")
	if err := v.Err(domainErrors.ErrInvalidPayment); err != nil {
		return nil, err
	}

	entity, err := checkRelations(p)
	if err != nil {
		return nil, err
	}

	price := in.Amount
	if entity != nil {
		key := entity.Key()
		p.EntityKey = &key

		price, err = s.entityPrice(ctx, *entity, p.Owner())
		if err != nil {
			return nil, err
		}
		if !in.Amount.IsZero() && !in.Amount.Equal(price) {
			return nil, fmt.Errorf("%w: %s costs %s", domainErrors.ErrAmountMismatch, key, price.StringFixed(2))
		}
	}
	if in.OriginalAmount != nil && !in.OriginalAmount.Equal(price) {
		return nil, fmt.Errorf("%w: original_amount must equal %s", domainErrors.ErrAmountMismatch, price.StringFixed(2))
	}

	discounted := price
	if in.DiscountID != nil {
		if entity == nil {
			return nil, fmt.Errorf("%w: only entity payments take a discount", domainErrors.ErrInvalidDiscount)
		}
		discounted, err = s.applyDiscount(ctx, *in.DiscountID, p.Owner(), price)
		if err != nil {
			return nil, err
		}
	}
	if in.DiscountedAmount != nil && !in.DiscountedAmount.Equal(discounted) {
		return nil, fmt.Errorf("%w: discounted_amount must equal %s", domainErrors.ErrAmountMismatch, discounted.StringFixed(2))
	}

	p.Amount = price
	p.OriginalAmount = price
	p.DiscountedAmount = discounted

	v = validation.New()
	v.PositiveAmount("amount", p.Amount)
	v.PositiveAmount("discounted_amount", p.DiscountedAmount)
	if err := v.Err(domainErrors.ErrInvalidPayment); err != nil {
		return nil, err
	}

	if entity != nil {
		exists, err := s.store.Payments().ExistsSucceededForEntity(ctx, *p.EntityKey)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, domainErrors.ErrDuplicateActivePayment
		}
	}

	if err := s.store.Payments().Create(ctx, p); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, fmt.Errorf("%w: external reference already used", domainErrors.ErrInvalidPayment)
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"kind":       p.Kind,
		"method":     p.Method,
		"amount":     p.DiscountedAmount.StringFixed(2),
	}).Info("payment created")
	return p, nil
}

// entityPrice returns what the entity costs. An entity billed to someone
// else is reported as missing.
func (s *Service) entityPrice(ctx context.Context, ref models.EntityRef, payer models.Owner) (decimal.Decimal, error) {
	info, err := s.store.Entities().Get(ctx, ref)
	if err == repositories.ErrEntityNotFound {
		return decimal.Zero, domainErrors.ErrEntityNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	if info.Owner() != payer {
		return decimal.Zero, domainErrors.ErrEntityNotFound
	}
	return info.Price, nil
}

// applyDiscount checks that the payer may use the discount and returns the
// reduced price.
func (s *Service) applyDiscount(ctx context.Context, discountID uint, payer models.Owner, price decimal.Decimal) (decimal.Decimal, error) {
	d, err := s.store.Discounts().GetDiscount(ctx, discountID)
	if err == repositories.ErrDiscountNotFound {
		return decimal.Zero, fmt.Errorf("%w: unknown discount %d", domainErrors.ErrInvalidDiscount, discountID)
	}
	if err != nil {
		return decimal.Zero, err
	}
	if d.TenantID != payer.TenantID {
		return decimal.Zero, fmt.Errorf("%w: unknown discount %d", domainErrors.ErrInvalidDiscount, discountID)
	}
	if !d.Usable(s.now()) {
		return decimal.Zero, fmt.Errorf("%w: discount %s is inactive or expired", domainErrors.ErrInvalidDiscount, d.Code)
	}
	consumed, err := s.store.Discounts().Consumed(ctx, d.ID, payer.UserID)
	if err != nil {
		return decimal.Zero, err
	}
	if consumed {
		return decimal.Zero, fmt.Errorf("%w: discount %s already used", domainErrors.ErrInvalidDiscount, d.Code)
	}

	reduced := d.Apply(price)
	if !reduced.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: discount %s covers the whole price", domainErrors.ErrInvalidDiscount, d.Code)
	}
	return reduced, nil
}

// checkRelations enforces that exactly the relation required by the kind is set.
func checkRelations(p *models.Payment) (*models.EntityRef, error) {
	refs := p.Relations()
	required, needsEntity := p.Kind.RequiredEntity()
	if !needsEntity {
		if len(refs) != 0 {
			return nil, domainErrors.ErrInvalidRelation
		}
		return nil, nil
	}
	if len(refs) != 1 || refs[0].Type != required {
		return nil, domainErrors.ErrInvalidRelation
	}
	return &refs[0], nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.Payment, error) {
	p, err := s.store.Payments().GetByID(ctx, id)
	if err == repositories.ErrPaymentNotFound {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return p, err
}

// ConfirmGatewayPayment marks the payment behind a gateway reference
// succeeded. Confirming an already captured payment is a no-op.
func (s *Service) ConfirmGatewayPayment(ctx context.Context, externalReference string) (*models.Payment, error) {
	p, err := s.store.Payments().GetByExternalReference(ctx, externalReference)
	if err == repositories.ErrPaymentNotFound {
		return nil, domainErrors.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.confirm(ctx, p.ID, models.SystemActor, "")
}

// ConfirmManualPayment records an out-of-band settlement by an operator.
func (s *Service) ConfirmManualPayment(ctx context.Context, paymentID, actor uint, reference string) (*models.Payment, error) {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Method != models.PaymentMethodManual {
		return nil, fmt.Errorf("%w: only manual payments can be confirmed by an operator", domainErrors.ErrInvalidPayment)
	}
	return s.confirm(ctx, paymentID, actor, reference)
}

func (s *Service) confirm(ctx context.Context, paymentID, actor uint, reference string) (*models.Payment, error) {
	var (
		p       *models.Payment
		entries []*models.LedgerEntry
		already bool
	)
	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		var err error
		p, err = tx.Payments().GetByIDForUpdate(ctx, paymentID)
		if err == repositories.ErrPaymentNotFound {
			return domainErrors.ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		if p.IsCaptured() {
			already = true
			return nil
		}
		if p.Status != models.PaymentStatusPending && p.Status != models.PaymentStatusFailed {
			return domainErrors.ErrPaymentNotPending
		}

		if p.EntityKey != nil {
			exists, err := tx.Payments().ExistsSucceededForEntity(ctx, *p.EntityKey)
			if err != nil {
				return err
			}
			if exists {
				return domainErrors.ErrDuplicateActivePayment
			}
		}

		from := p.Status
		now := s.now()
		p.Status = models.PaymentStatusSucceeded
		p.ConfirmedAt = &now
		if reference != "" && p.ExternalReference == nil {
			p.ExternalReference = &reference
		}
		if err := tx.Payments().Update(ctx, p); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return domainErrors.ErrDuplicateActivePayment
			}
			return err
		}

		if err := capture(ctx, tx, p, now); err != nil {
			return err
		}

		if p.Kind == models.PaymentKindWalletLoading {
			entry, err := s.ledger.CreditWithin(ctx, tx, wallet.EntryRequest{
				Owner:     p.Owner(),
				Amount:    p.DiscountedAmount,
				Type:      models.EntryTypeCredit,
				Reference: paymentReference(p),
				Metadata:  map[string]interface{}{"payment_id": p.ID, "kind": string(p.Kind)},
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return tx.Audit().Append(ctx, auditEntry(p, actor, "payment.confirmed", from, ""))
	})
	if err != nil {
		return nil, err
	}
	if already {
		s.logger.WithField("payment_id", p.ID).Debug("payment already confirmed")
		return p, nil
	}

	s.ledger.AfterCommit(ctx, entries...)
	s.dispatch(ctx, paymentEvent(events.PaymentSucceeded, p))
	s.logger.WithFields(logrus.Fields{"payment_id": p.ID, "actor": actor}).Info("payment confirmed")
	return p, nil
}

// FailPayment records a failed attempt and schedules a retry until the
// ceiling is reached, then escalates.
func (s *Service) FailPayment(ctx context.Context, paymentID uint, reason string) (*models.Payment, error) {
	var (
		p         *models.Payment
		failure   *models.PaymentFailure
		escalated bool
	)
	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		var err error
		p, err = tx.Payments().GetByIDForUpdate(ctx, paymentID)
		if err == repositories.ErrPaymentNotFound {
			return domainErrors.ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusPending && p.Status != models.PaymentStatusFailed {
			return domainErrors.ErrPaymentNotPending
		}

		from := p.Status
		now := s.now()
		p.Status = models.PaymentStatusFailed
		if err := tx.Payments().Update(ctx, p); err != nil {
			return err
		}

		failure, err = tx.Failures().RecordFailure(ctx, p.ID, reason, now)
		if err != nil {
			return err
		}
		if s.retry.Exhausted(failure.Attempts) {
			escalated = true
			if err := tx.Failures().MarkEscalated(ctx, p.ID, now); err != nil {
				return err
			}
		}
		return tx.Audit().Append(ctx, auditEntry(p, models.SystemActor, "payment.failed", from, reason))
	})
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"attempts":   failure.Attempts,
		"reason":     reason,
	})

	failed := paymentEvent(events.PaymentFailed, p)
	failed.Reason = reason
	if escalated {
		escalation := paymentEvent(events.PaymentEscalated, p)
		escalation.Reason = reason
		s.dispatch(ctx, failed, escalation)
		log.Warn("payment retries exhausted, escalated for manual follow-up")
		return p, nil
	}

	notBefore := s.now().Add(s.retry.Delay(failure.Attempts))
	if err := s.queue.Enqueue(ctx, queue.TaskRetryFailedPayment, queue.PaymentArgs{PaymentID: p.ID}, notBefore); err != nil {
		log.WithError(err).Error("failed to schedule payment retry")
	}
	s.dispatch(ctx, failed)
	log.WithField("retry_at", notBefore).Info("payment failed, retry scheduled")
	return p, nil
}

// RetryFailedPayment re-checks a failed gateway payment. It is a no-op once
// the payment left pending/failed or was escalated.
func (s *Service) RetryFailedPayment(ctx context.Context, paymentID uint) error {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	log := s.logger.WithField("payment_id", p.ID)

	if p.Status != models.PaymentStatusPending && p.Status != models.PaymentStatusFailed {
		log.WithField("status", p.Status).Debug("payment no longer retryable")
		return nil
	}
	failure, err := s.store.Failures().GetByPaymentID(ctx, p.ID)
	if err != nil && err != repositories.ErrFailureNotFound {
		return err
	}
	if failure != nil && failure.EscalatedAt != nil {
		log.Debug("payment already escalated")
		return nil
	}
	if p.ExternalReference == nil || s.gateway == nil {
		log.Info("payment has no gateway reference to re-check")
		return nil
	}

	status, err := s.gateway.GetPaymentStatus(ctx, *p.ExternalReference)
	if err != nil {
		return err
	}

	switch status {
	case gateway.PaymentSucceeded:
		_, err = s.confirm(ctx, p.ID, models.SystemActor, "")
		return err
	case gateway.PaymentFailed:
		_, err = s.FailPayment(ctx, p.ID, "gateway reports payment failed")
		return err
	}

	attempts := 1
	if failure != nil {
		attempts = failure.Attempts
	}
	notBefore := s.now().Add(s.retry.Delay(attempts))
	log.WithField("retry_at", notBefore).Info("payment still processing at gateway")
	return s.queue.Enqueue(ctx, queue.TaskRetryFailedPayment, queue.PaymentArgs{PaymentID: p.ID}, notBefore)
}

// Cancel abandons a payment that never captured money.
func (s *Service) Cancel(ctx context.Context, paymentID, actor uint) (*models.Payment, error) {
	var p *models.Payment
	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		var err error
		p, err = tx.Payments().GetByIDForUpdate(ctx, paymentID)
		if err == repositories.ErrPaymentNotFound {
			return domainErrors.ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusPending && p.Status != models.PaymentStatusFailed {
			return domainErrors.ErrPaymentNotPending
		}
		from := p.Status
		p.Status = models.PaymentStatusCancelled
		if err := tx.Payments().Update(ctx, p); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, auditEntry(p, actor, "payment.cancelled", from, ""))
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, paymentEvent(events.PaymentCancelled, p))
	s.logger.WithFields(logrus.Fields{"payment_id": p.ID, "actor": actor}).Info("payment cancelled")
	return p, nil
}

func (s *Service) dispatch(ctx context.Context, evts ...events.DomainEvent) {
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, evts...)
	}
}
