// Package refund returns money for captured payments. A refund has a wallet
// leg, credited synchronously, and an external leg sent through the gateway
// outside any database transaction; it is processed once both are confirmed.
package refund

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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Request asks for a refund against one payment.
type Request struct {
	PaymentID      uint
	WalletAmount   decimal.Decimal
	ExternalAmount decimal.Decimal
	Method         models.RefundMethod
	Reason         string
	Actor          uint
	// IdempotencyKey dedupes resubmissions of the same request.
	IdempotencyKey string
}

type Config struct {
	Retry          queue.RetryPolicy
	GatewayTimeout time.Duration
}

type Processor struct {
	store      repositories.Store
	ledger     Ledger
	gateway    Gateway
	queue      queue.Enqueuer
	dispatcher events.Dispatcher
	cfg        Config
	logger     *logrus.Entry
	now        func() time.Time
}

func NewProcessor(
	store repositories.Store,
	ledger Ledger,
	gw Gateway,
	q queue.Enqueuer,
	dispatcher events.Dispatcher,
	cfg Config,
	logger *logrus.Entry,
) *Processor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	return &Processor{
		store:      store,
		ledger:     ledger,
		gateway:    gw,
		queue:      q,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.WithField("component", "refund"),
		now:        time.Now,
	}
}

// pending collects what must happen once a transaction has committed.
type pending struct {
	entries []*models.LedgerEntry
	events  []events.DomainEvent
}

func (p *Processor) flush(ctx context.Context, out *pending) {
	if len(out.entries) > 0 {
		p.ledger.AfterCommit(ctx, out.entries...)
	}
	if p.dispatcher != nil && len(out.events) > 0 {
		p.dispatcher.Dispatch(ctx, out.events...)
	}
}

func validateRequest(req Request) error {
	v := validation.New()
	v.Required("payment_id", req.PaymentID)
	v.MaxLength("reason", req.Reason, validation.MaxReasonLength)
	v.MaxLength("idempotency_key", req.IdempotencyKey, validation.MaxKeyLength)
	if err := v.Err(domainErrors.ErrInvalidRefundRequest); err != nil {
		return err
	}

	v = validation.New()
	v.RefundMethod("method", req.Method)
	return v.Err(domainErrors.ErrInvalidRefundMethod)
}

// ProcessRefund validates the request, applies the wallet leg and, when the
// method is external, attempts the gateway leg. A transient gateway failure
// is not an error: the refund is returned pending with a retry scheduled.
func (p *Processor) ProcessRefund(ctx context.Context, req Request) (*models.Refund, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Method == models.RefundMethodWallet && !req.ExternalAmount.IsZero() {
		return nil, fmt.Errorf("%w: wallet refunds have no external amount", domainErrors.ErrInvalidRefundMethod)
	}

	if req.IdempotencyKey != "" {
		existing, err := p.store.Refunds().GetByRequestKey(ctx, req.PaymentID, req.IdempotencyKey)
		switch {
		case err == nil:
			return p.resubmitted(existing)
		case err != repositories.ErrRefundNotFound:
			return nil, err
		}
	}

	var (
		refund *models.Refund
		out    pending
	)
	err := p.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		payment, err := tx.Payments().GetByIDForUpdate(ctx, req.PaymentID)
		if err == repositories.ErrPaymentNotFound {
			return domainErrors.ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		if err := p.checkPreconditions(ctx, tx, payment, req); err != nil {
			return err
		}

		refund, err = p.create(ctx, tx, payment, req, &out)
		return err
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicate) && req.IdempotencyKey != "" {
			// Lost a race with an identical submission.
			existing, getErr := p.store.Refunds().GetByRequestKey(ctx, req.PaymentID, req.IdempotencyKey)
			if getErr == nil {
				return p.resubmitted(existing)
			}
		}
		p.logger.WithError(err).WithField("payment_id", req.PaymentID).Info("refund rejected")
		return nil, err
	}
	p.flush(ctx, &out)

	p.logger.WithFields(logrus.Fields{
		"refund_id":       refund.ID,
		"payment_id":      refund.PaymentID,
		"wallet_amount":   refund.WalletAmount.StringFixed(2),
		"external_amount": refund.ExternalAmount.StringFixed(2),
		"method":          refund.Method,
		"status":          refund.Status,
	}).Info("refund created")

	if refund.Status != models.RefundStatusPending || !refund.NeedsGateway() {
		return refund, nil
	}
	return p.AttemptExternalLeg(ctx, refund.ID)
}

func (p *Processor) resubmitted(existing *models.Refund) (*models.Refund, error) {
	if existing.Status != models.RefundStatusPending {
		return nil, domainErrors.ErrRefundAlreadyFinalized
	}
	p.logger.WithField("refund_id", existing.ID).Debug("duplicate refund submission")
	return existing, nil
}

// checkPreconditions runs the eligibility checks in their documented order.
func (p *Processor) checkPreconditions(ctx context.Context, tx repositories.Store, payment *models.Payment, req Request) error {
	if !payment.IsCaptured() {
		return domainErrors.ErrPaymentNotSucceeded
	}
	if payment.Status == models.PaymentStatusDisputed {
		return domainErrors.ErrPaymentDisputed
	}

	total := req.WalletAmount.Add(req.ExternalAmount)
	v := validation.New()
	v.NonNegativeAmount("wallet_amount", req.WalletAmount)
	v.NonNegativeAmount("external_amount", req.ExternalAmount)
	v.PositiveAmount("total", total)
	if err := v.Err(domainErrors.ErrInvalidRefundAmount); err != nil {
		return err
	}

	committed, err := tx.Refunds().SumCommitted(ctx, payment.ID)
	if err != nil {
		return err
	}
	remaining := payment.DiscountedAmount.Sub(committed)
	if total.GreaterThan(remaining) {
		return fmt.Errorf("%w: requested %s, remaining %s", domainErrors.ErrRefundExceedsRemaining,
			total.StringFixed(2), remaining.StringFixed(2))
	}

	if entity, ok := payment.Entity(); ok {
		refunded, err := tx.Entities().IsRefunded(ctx, entity)
		if err != nil && err != repositories.ErrEntityNotFound {
			return err
		}
		if refunded {
			return domainErrors.ErrRefundAlreadyFinalized
		}
	}

	if req.Method == models.RefundMethodExternal && req.ExternalAmount.IsPositive() && payment.ExternalReference == nil {
		return fmt.Errorf("%w: payment has no gateway reference", domainErrors.ErrInvalidRefundMethod)
	}
	return nil
}

func (p *Processor) create(ctx context.Context, tx repositories.Store, payment *models.Payment, req Request, out *pending) (*models.Refund, error) {
	refund := &models.Refund{
		PaymentID:      payment.ID,
		TenantID:       payment.TenantID,
		ClientID:       payment.ClientID,
		WalletAmount:   req.WalletAmount,
		ExternalAmount: req.ExternalAmount,
		Method:         req.Method,
		Status:         models.RefundStatusPending,
		Reason:         req.Reason,
		ProcessedBy:    req.Actor,
		GatewayKey:     uuid.NewString(),
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		refund.RequestKey = &key
	}
	if err := tx.Refunds().Create(ctx, refund); err != nil {
		return nil, err
	}

	if refund.WalletAmount.IsPositive() {
		entry, err := p.ledger.CreditWithin(ctx, tx, wallet.EntryRequest{
			Owner:     refund.Owner(),
			Amount:    refund.WalletAmount,
			Type:      models.EntryTypeRefund,
			Reference: refundReference(refund),
			Metadata: map[string]interface{}{
				"refund_id":  refund.ID,
				"payment_id": payment.ID,
				"reason":     refund.Reason,
			},
		})
		if err != nil {
			return nil, err
		}
		refund.WalletLegConfirmed = true
		out.entries = append(out.entries, entry)
	}
	if refund.Method == models.RefundMethodManual && refund.ExternalAmount.IsPositive() {
		refund.ExternalLegConfirmed = true
	}
	if err := tx.Refunds().Update(ctx, refund); err != nil {
		return nil, err
	}

	if err := tx.Audit().Append(ctx, refundAudit(refund, req.Actor, "refund.created", "", refund.Reason)); err != nil {
		return nil, err
	}
	out.events = append(out.events, refundEvent(events.RefundCreated, refund))

	if refund.LegsConfirmed() {
		if err := p.finalize(ctx, tx, refund, req.Actor, out); err != nil {
			return nil, err
		}
	}
	return refund, nil
}

// AttemptExternalLeg calls the gateway for a pending refund and records the
// result. Outcomes are recorded on the refund; only storage failures return an error.
func (p *Processor) AttemptExternalLeg(ctx context.Context, refundID uint) (*models.Refund, error) {
	refund, err := p.getRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if refund.Status != models.RefundStatusPending {
		return nil, domainErrors.ErrRefundAlreadyFinalized
	}
	if !refund.NeedsGateway() || refund.ExternalLegConfirmed || refund.EscalatedAt != nil {
		return refund, nil
	}

	payment, err := p.store.Payments().GetByID(ctx, refund.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.ExternalReference == nil {
		return p.FailExternalLeg(ctx, refund.ID, fmt.Errorf("%w: payment has no gateway reference", domainErrors.ErrGatewayRejected))
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
	result, err := p.gateway.RefundExternal(callCtx, gateway.RefundRequest{
		PaymentReference: *payment.ExternalReference,
		Amount:           refund.ExternalAmount,
		IdempotencyKey:   refund.GatewayKey,
		Metadata: map[string]string{
			"refund_id":  fmt.Sprint(refund.ID),
			"payment_id": fmt.Sprint(payment.ID),
		},
	})
	cancel()

	if err != nil {
		if !errors.Is(err, domainErrors.ErrGatewayRejected) && !errors.Is(err, domainErrors.ErrGatewayTransport) {
			// Deadline or connection errors that escaped classification are transient.
			err = fmt.Errorf("%w: %v", domainErrors.ErrGatewayTransport, err)
		}
		return p.FailExternalLeg(ctx, refund.ID, err)
	}
	return p.applyGatewayResult(ctx, refund.ID, result)
}

// applyGatewayResult records a gateway answer for the refund's external leg.
func (p *Processor) applyGatewayResult(ctx context.Context, refundID uint, result *gateway.RefundResult) (*models.Refund, error) {
	switch result.Status {
	case gateway.RefundSucceeded:
		return p.ConfirmExternalLeg(ctx, refundID, result.ExternalRefundID)
	case gateway.RefundFailed:
		return p.FailExternalLeg(ctx, refundID, fmt.Errorf("%w: gateway refund %s failed", domainErrors.ErrGatewayRejected, result.ExternalRefundID))
	}
	return p.recordSubmitted(ctx, refundID, result.ExternalRefundID)
}

// recordSubmitted stores the gateway reference of an accepted but unsettled
// external leg; the webhook completes it.
func (p *Processor) recordSubmitted(ctx context.Context, refundID uint, externalRef string) (*models.Refund, error) {
	var refund *models.Refund
	err := p.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		var err error
		refund, err = p.lockPending(ctx, tx, refundID)
		if err != nil {
			return err
		}
		if refund.ExternalReference != nil && *refund.ExternalReference == externalRef {
			return nil
		}
		refund.ExternalReference = &externalRef
		if err := tx.Refunds().Update(ctx, refund); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, refundAudit(refund, models.SystemActor, "refund.external_submitted", "", ""))
	})
	if err != nil {
		return nil, err
	}
	p.logger.WithFields(logrus.Fields{
		"refund_id":        refund.ID,
		"refund_reference": externalRef,
	}).Info("external refund accepted, awaiting confirmation")
	return refund, nil
}

// ConfirmExternalLeg marks the external leg settled and finalizes the refund
// when every leg is confirmed.
func (p *Processor) ConfirmExternalLeg(ctx context.Context, refundID uint, externalRef string) (*models.Refund, error) {
	var (
		refund *models.Refund
		out    pending
	)
	err := p.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		var err error
		refund, err = p.lockPending(ctx, tx, refundID)
		if err != nil {
			return err
		}
		if externalRef != "" {
			refund.ExternalReference = &externalRef
		}
		refund.ExternalLegConfirmed = true
		refund.LastError = ""
		if err := tx.Refunds().Update(ctx, refund); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, refundAudit(refund, models.SystemActor, "refund.external_confirmed", "", "")); err != nil {
			return err
		}
		if refund.LegsConfirmed() {
			return p.finalize(ctx, tx, refund, models.SystemActor, &out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.flush(ctx, &out)
	p.logger.WithFields(logrus.Fields{"refund_id": refund.ID, "status": refund.Status}).Info("external refund leg confirmed")
	return refund, nil
}

// FailExternalLeg records a failed gateway attempt. Transient failures are
// retried with backoff until the ceiling; rejections and exhausted retries
// fail the refund and escalate it for manual follow-up.
func (p *Processor) FailExternalLeg(ctx context.Context, refundID uint, cause error) (*models.Refund, error) {
	var (
		refund    *models.Refund
		escalated bool
		out       pending
	)
	err := p.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		var err error
		refund, err = p.lockPending(ctx, tx, refundID)
		if err != nil {
			return err
		}
		refund.ExternalAttempts++
		refund.LastError = cause.Error()

		action := "refund.retry_scheduled"
		if errors.Is(cause, domainErrors.ErrGatewayRejected) || p.cfg.Retry.Exhausted(refund.ExternalAttempts) {
			escalated = true
			now := p.now()
			refund.Status = models.RefundStatusFailed
			refund.EscalatedAt = &now
			action = "refund.escalated"
			out.events = append(out.events, refundEvent(events.RefundEscalated, refund))
		} else {
			out.events = append(out.events, refundEvent(events.RefundRetryScheduled, refund))
		}

		if err := tx.Refunds().Update(ctx, refund); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, refundAudit(refund, models.SystemActor, action, models.RefundStatusPending, refund.LastError))
	})
	if err != nil {
		return nil, err
	}

	log := p.logger.WithFields(logrus.Fields{
		"refund_id": refund.ID,
		"attempts":  refund.ExternalAttempts,
	}).WithError(cause)

	if escalated {
		log.Warn("external refund escalated for manual resolution")
	} else {
		notBefore := p.now().Add(p.cfg.Retry.Delay(refund.ExternalAttempts))
		if err := p.queue.Enqueue(ctx, queue.TaskRetryExternalRefund, queue.RefundArgs{RefundID: refund.ID}, notBefore); err != nil {
			// The sweep re-enqueues stale pending refunds.
			log.WithField("enqueue_error", err.Error()).Error("failed to schedule external refund retry")
		} else {
			log.WithField("retry_at", notBefore).Info("external refund failed, retry scheduled")
		}
	}
	p.flush(ctx, &out)
	return refund, nil
}

// PollExternalLeg asks the gateway for the state of an already submitted
// external leg and applies it.
func (p *Processor) PollExternalLeg(ctx context.Context, refundID uint) (*models.Refund, error) {
	refund, err := p.getRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if refund.Status != models.RefundStatusPending {
		return nil, domainErrors.ErrRefundAlreadyFinalized
	}
	if refund.ExternalReference == nil {
		return p.AttemptExternalLeg(ctx, refundID)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
	result, err := p.gateway.GetRefund(callCtx, *refund.ExternalReference)
	cancel()
	if err != nil {
		if !errors.Is(err, domainErrors.ErrGatewayRejected) && !errors.Is(err, domainErrors.ErrGatewayTransport) {
			err = fmt.Errorf("%w: %v", domainErrors.ErrGatewayTransport, err)
		}
		return p.FailExternalLeg(ctx, refundID, err)
	}
	if result.Status == gateway.RefundPending {
		return refund, nil
	}
	return p.applyGatewayResult(ctx, refundID, result)
}

func (p *Processor) getRefund(ctx context.Context, refundID uint) (*models.Refund, error) {
	refund, err := p.store.Refunds().GetByID(ctx, refundID)
	if err == repositories.ErrRefundNotFound {
		return nil, domainErrors.ErrRefundNotFound
	}
	return refund, err
}

func (p *Processor) lockPending(ctx context.Context, tx repositories.Store, refundID uint) (*models.Refund, error) {
	refund, err := tx.Refunds().GetByIDForUpdate(ctx, refundID)
	if err == repositories.ErrRefundNotFound {
		return nil, domainErrors.ErrRefundNotFound
	}
	if err != nil {
		return nil, err
	}
	if refund.Status != models.RefundStatusPending {
		return nil, domainErrors.ErrRefundAlreadyFinalized
	}
	return refund, nil
}
