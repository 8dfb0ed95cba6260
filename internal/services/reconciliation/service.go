// Package reconciliation applies asynchronous gateway outcomes: refund
// webhooks, queued external refund retries and the stale-refund sweep.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "paycore/internal/errors"
	"paycore/internal/gateway"
	"paycore/internal/models"
	"paycore/internal/queue"
	"paycore/internal/repositories"
	"paycore/internal/services/dispute"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Provider is the webhook_events provider column for Stripe callbacks.
const Provider = "stripe"

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomePending   Outcome = "pending"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeEscalated Outcome = "escalated"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)

// ErrInvalidWebhook is returned when the signature or body cannot be verified.
var ErrInvalidWebhook = errors.New("invalid webhook")

type Service struct {
	store    repositories.Store
	refunds  Refunds
	payments Payments
	disputes Disputes
	parser   WebhookParser
	queue    queue.Enqueuer
	logger   *logrus.Entry
	now      func() time.Time
}

func NewService(
	store repositories.Store,
	refunds Refunds,
	payments Payments,
	disputes Disputes,
	parser WebhookParser,
	q queue.Enqueuer,
	logger *logrus.Entry,
) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:    store,
		refunds:  refunds,
		payments: payments,
		disputes: disputes,
		parser:   parser,
		queue:    q,
		logger:   logger.WithField("component", "reconciliation"),
		now:      time.Now,
	}
}

// HandleGatewayRefundEvent applies a gateway refund status to the one pending
// refund carrying that reference. Storage failures while applying it are
// handed to the retry queue instead of being returned.
func (s *Service) HandleGatewayRefundEvent(ctx context.Context, externalRefundID string, status gateway.RefundStatus) (Outcome, error) {
	log := s.logger.WithFields(logrus.Fields{"refund_reference": externalRefundID, "status": status})

	refund, err := s.store.Refunds().FindPendingByExternalReference(ctx, externalRefundID)
	if err == repositories.ErrRefundNotFound {
		log.Warn("gateway refund event matched no pending refund")
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up refund: %w", err)
	}
	log = log.WithField("refund_id", refund.ID)

	var updated *models.Refund
	switch status {
	case gateway.RefundSucceeded:
		updated, err = s.refunds.ConfirmExternalLeg(ctx, refund.ID, externalRefundID)
	case gateway.RefundFailed:
		updated, err = s.refunds.FailExternalLeg(ctx, refund.ID,
			fmt.Errorf("%w: gateway reported refund %s failed", domainErrors.ErrGatewayRejected, externalRefundID))
	default:
		log.Debug("gateway refund still pending")
		return OutcomePending, nil
	}

	if errors.Is(err, domainErrors.ErrRefundAlreadyFinalized) {
		log.Info("refund already finalized, event ignored")
		return OutcomeIgnored, nil
	}
	if err != nil {
		log.WithError(err).Error("failed to apply gateway refund event")
		if qErr := s.enqueueRetry(ctx, refund.ID); qErr != nil {
			return "", fmt.Errorf("failed to schedule refund retry: %w", qErr)
		}
		return OutcomeRetrying, nil
	}

	outcome := outcomeOf(updated)
	log.WithField("outcome", outcome).Info("gateway refund event applied")
	return outcome, nil
}

// RetryExternalRefund is the retry_external_refund task. Refunds finalized in
// the meantime make it a no-op.
func (s *Service) RetryExternalRefund(ctx context.Context, refundID uint) (Outcome, error) {
	refund, err := s.store.Refunds().GetByID(ctx, refundID)
	if err == repositories.ErrRefundNotFound {
		s.logger.WithField("refund_id", refundID).Warn("retry for unknown refund dropped")
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if refund.Status != models.RefundStatusPending || !refund.NeedsGateway() ||
		refund.ExternalLegConfirmed || refund.EscalatedAt != nil {
		return OutcomeIgnored, nil
	}

	var updated *models.Refund
	if refund.ExternalReference != nil {
		updated, err = s.refunds.PollExternalLeg(ctx, refundID)
	} else {
		updated, err = s.refunds.AttemptExternalLeg(ctx, refundID)
	}
	if errors.Is(err, domainErrors.ErrRefundAlreadyFinalized) {
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	return outcomeOf(updated), nil
}

// SweepStalePending re-enqueues retries for pending external legs untouched
// since olderThan and returns how many were scheduled.
func (s *Service) SweepStalePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := s.store.Refunds().ListStalePending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	scheduled := 0
	for _, r := range stale {
		if err := s.enqueueRetry(ctx, r.ID); err != nil {
			return scheduled, err
		}
		scheduled++
	}
	if scheduled > 0 {
		s.logger.WithField("count", scheduled).Info("stale pending refunds re-enqueued")
	}
	return scheduled, nil
}

// HandleWebhook verifies a Stripe callback, stores it once and routes it.
// A failure to process releases the stored event so the redelivery runs again.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	evt, err := s.parser.ParseWebhook(payload, signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	log := s.logger.WithFields(logrus.Fields{"event_id": evt.ID, "event_type": evt.RawType})

	record := &models.WebhookEvent{
		Provider:  Provider,
		EventID:   evt.ID,
		EventType: evt.RawType,
		Payload:   datatypes.JSON(evt.Payload),
	}
	created, err := s.store.WebhookEvents().Record(ctx, record)
	if err != nil {
		return "", err
	}
	if !created {
		log.Debug("webhook event already received")
		return OutcomeDuplicate, nil
	}

	outcome, err := s.route(ctx, evt)
	if err != nil {
		log.WithError(err).Error("webhook processing failed")
		if relErr := s.store.WebhookEvents().Release(ctx, record.ID); relErr != nil {
			log.WithError(relErr).Error("failed to release webhook event")
		}
		return "", err
	}
	if err := s.store.WebhookEvents().MarkProcessed(ctx, record.ID, s.now(), nil); err != nil {
		log.WithError(err).Warn("failed to mark webhook event processed")
	}
	log.WithField("outcome", outcome).Info("webhook processed")
	return outcome, nil
}

func (s *Service) route(ctx context.Context, evt *gateway.WebhookEvent) (Outcome, error) {
	switch evt.Type {
	case gateway.EventRefundSucceeded:
		return s.HandleGatewayRefundEvent(ctx, evt.RefundReference, gateway.RefundSucceeded)
	case gateway.EventRefundFailed:
		return s.HandleGatewayRefundEvent(ctx, evt.RefundReference, gateway.RefundFailed)
	case gateway.EventRefundPending:
		return s.HandleGatewayRefundEvent(ctx, evt.RefundReference, gateway.RefundPending)

	case gateway.EventPaymentSucceeded:
		_, err := s.payments.ConfirmGatewayPayment(ctx, evt.PaymentReference)
		return s.paymentOutcome(err, OutcomeProcessed)

	case gateway.EventPaymentFailed:
		p, err := s.store.Payments().GetByExternalReference(ctx, evt.PaymentReference)
		if err == repositories.ErrPaymentNotFound {
			return OutcomeNotFound, nil
		}
		if err != nil {
			return "", err
		}
		if _, err := s.payments.FailPayment(ctx, p.ID, evt.Reason); err != nil {
			return s.paymentOutcome(err, "")
		}
		failure, err := s.store.Failures().GetByPaymentID(ctx, p.ID)
		if err != nil {
			return "", err
		}
		if failure.EscalatedAt != nil {
			return OutcomeEscalated, nil
		}
		return OutcomeRetrying, nil

	case gateway.EventDisputeOpened:
		_, err := s.disputes.Open(ctx, dispute.OpenInput{
			PaymentReference: evt.PaymentReference,
			DisputeReference: evt.DisputeReference,
			Amount:           evt.Amount,
			Reason:           evt.Reason,
		})
		return s.paymentOutcome(err, OutcomeProcessed)

	case gateway.EventDisputeClosed:
		_, err := s.disputes.Resolve(ctx, evt.DisputeReference, evt.DisputeWon)
		if errors.Is(err, domainErrors.ErrDisputeClosed) {
			return OutcomeIgnored, nil
		}
		return s.paymentOutcome(err, OutcomeProcessed)
	}
	return OutcomeIgnored, nil
}

// paymentOutcome treats domain rejections as final: redelivering the event
// cannot change them. Anything else is returned for a redelivery.
func (s *Service) paymentOutcome(err error, ok Outcome) (Outcome, error) {
	switch {
	case err == nil:
		return ok, nil
	case errors.Is(err, domainErrors.ErrPaymentNotFound), errors.Is(err, domainErrors.ErrDisputeNotFound):
		return OutcomeNotFound, nil
	case errors.Is(err, domainErrors.ErrEntityNotFound), errors.Is(err, repositories.ErrEntityNotFound):
		// The gateway holds the money but the purchase is gone.
		s.logger.WithError(err).Error("payment captured for a missing entity, escalated for manual follow-up")
		return OutcomeEscalated, nil
	case domainErrors.IsDomain(err):
		s.logger.WithError(err).Warn("webhook rejected by domain rules")
		return OutcomeIgnored, nil
	}
	return "", err
}

func (s *Service) enqueueRetry(ctx context.Context, refundID uint) error {
	return s.queue.Enqueue(ctx, queue.TaskRetryExternalRefund, queue.RefundArgs{RefundID: refundID}, time.Time{})
}

func outcomeOf(r *models.Refund) Outcome {
	switch {
	case r.Status == models.RefundStatusProcessed:
		return OutcomeProcessed
	case r.Status == models.RefundStatusFailed:
		return OutcomeEscalated
	case r.ExternalLegConfirmed:
		return OutcomeProcessed
	case r.LastError != "":
		return OutcomeRetrying
	}
	return OutcomePending
}
