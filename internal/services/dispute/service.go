// Package dispute tracks gateway chargebacks against captured payments.
package dispute

import (
	"context"
	"time"

	domainErrors "paycore/internal/errors"
	"paycore/internal/events"
	"paycore/internal/models"
	"paycore/internal/repositories"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OpenInput describes a chargeback. A non-zero TenantID restricts it to
// payments of that tenant; gateway webhooks leave it unset.
type OpenInput struct {
	TenantID         uint
	PaymentReference string
	DisputeReference string
	Amount           decimal.Decimal
	Reason           string
}

type Service struct {
	store      repositories.Store
	dispatcher events.Dispatcher
	logger     *logrus.Entry
	now        func() time.Time
}

func NewService(store repositories.Store, dispatcher events.Dispatcher, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "dispute"),
		now:        time.Now,
	}
}

// Open records a dispute and moves the payment to disputed, which blocks
// further refunds. Reopening a known dispute reference returns it unchanged.
func (s *Service) Open(ctx context.Context, in OpenInput) (*models.Dispute, error) {
	if existing, err := s.store.Disputes().GetByExternalReference(ctx, in.DisputeReference); err == nil {
		if !inTenant(in.TenantID, existing.TenantID) {
			return nil, domainErrors.ErrDisputeNotFound
		}
		return existing, nil
	} else if err != repositories.ErrDisputeNotFound {
		return nil, err
	}

	found, err := s.store.Payments().GetByExternalReference(ctx, in.PaymentReference)
	if err == repositories.ErrPaymentNotFound || (err == nil && !inTenant(in.TenantID, found.TenantID)) {
		return nil, domainErrors.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}

	var (
		d   *models.Dispute
		evt events.DomainEvent
	)
	err = s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		p, err := tx.Payments().GetByIDForUpdate(ctx, found.ID)
		if err != nil {
			return err
		}
		if !p.IsCaptured() {
			return domainErrors.ErrPaymentNotSucceeded
		}

		d = &models.Dispute{
			PaymentID:         p.ID,
			TenantID:          p.TenantID,
			ClientID:          p.ClientID,
			ExternalReference: in.DisputeReference,
			Amount:            in.Amount,
			Reason:            in.Reason,
			Status:            models.DisputeStatusOpen,
			PriorStatus:       p.Status,
		}
		if err := tx.Disputes().Create(ctx, d); err != nil {
			return err
		}

		from := p.Status
		p.Status = models.PaymentStatusDisputed
		if err := tx.Payments().Update(ctx, p); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, audit(p, "payment.disputed", from, in.Reason)); err != nil {
			return err
		}
		evt = disputeEvent(events.PaymentDisputed, p, d)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, evt)
	s.logger.WithFields(logrus.Fields{
		"payment_id":        d.PaymentID,
		"dispute_reference": d.ExternalReference,
		"reason":            d.Reason,
	}).Warn("payment disputed")
	return d, nil
}

// Get returns the dispute recorded under a gateway reference.
func (s *Service) Get(ctx context.Context, disputeReference string) (*models.Dispute, error) {
	d, err := s.store.Disputes().GetByExternalReference(ctx, disputeReference)
	if err == repositories.ErrDisputeNotFound {
		return nil, domainErrors.ErrDisputeNotFound
	}
	return d, err
}

// Resolve closes an open dispute. A won dispute returns the payment to the
// status its refunds imply; a lost one leaves it disputed.
func (s *Service) Resolve(ctx context.Context, disputeReference string, won bool) (*models.Dispute, error) {
	var (
		d   *models.Dispute
		evt events.DomainEvent
	)
	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		var err error
		d, err = tx.Disputes().GetByExternalReference(ctx, disputeReference)
		if err == repositories.ErrDisputeNotFound {
			return domainErrors.ErrDisputeNotFound
		}
		if err != nil {
			return err
		}
		if d.Status != models.DisputeStatusOpen {
			return domainErrors.ErrDisputeClosed
		}

		p, err := tx.Payments().GetByIDForUpdate(ctx, d.PaymentID)
		if err != nil {
			return err
		}

		now := s.now()
		d.ResolvedAt = &now
		d.Status = models.DisputeStatusLost
		from := p.Status
		if won {
			d.Status = models.DisputeStatusWon
			processed, err := tx.Refunds().SumProcessed(ctx, p.ID)
			if err != nil {
				return err
			}
			p.Status = restoredStatus(d.PriorStatus, processed, p.DiscountedAmount)
			if err := tx.Payments().Update(ctx, p); err != nil {
				return err
			}
		}
		if err := tx.Disputes().Update(ctx, d); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, audit(p, "payment.dispute_"+string(d.Status), from, d.Reason)); err != nil {
			return err
		}
		evt = disputeEvent(events.DisputeResolved, p, d)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, evt)
	s.logger.WithFields(logrus.Fields{
		"payment_id":        d.PaymentID,
		"dispute_reference": d.ExternalReference,
		"outcome":           d.Status,
	}).Info("dispute resolved")
	return d, nil
}

func inTenant(scope, tenantID uint) bool {
	return scope == 0 || scope == tenantID
}

func (s *Service) dispatch(ctx context.Context, evt events.DomainEvent) {
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, evt)
	}
}

// restoredStatus accounts for refunds processed while the dispute was open.
func restoredStatus(prior models.PaymentStatus, processed, discounted decimal.Decimal) models.PaymentStatus {
	switch {
	case processed.IsPositive() && processed.GreaterThanOrEqual(discounted):
		return models.PaymentStatusFullyRefunded
	case processed.IsPositive():
		return models.PaymentStatusPartiallyRefunded
	case prior == "" || prior == models.PaymentStatusDisputed:
		return models.PaymentStatusSucceeded
	}
	return prior
}

func audit(p *models.Payment, action string, from models.PaymentStatus, reason string) *models.AuditEntry {
	return &models.AuditEntry{
		TenantID:   p.TenantID,
		PaymentID:  p.ID,
		Actor:      models.SystemActor,
		Action:     action,
		FromStatus: string(from),
		ToStatus:   string(p.Status),
		Amount:     p.DiscountedAmount,
		Reason:     reason,
	}
}

func disputeEvent(t events.Type, p *models.Payment, d *models.Dispute) events.DomainEvent {
	evt := events.New(t, p.TenantID, p.ClientID)
	evt.PaymentID = p.ID
	evt.Amount = d.Amount
	evt.Status = string(d.Status)
	evt.Reason = d.Reason
	evt.Metadata = map[string]interface{}{
		"dispute_reference": d.ExternalReference,
		"payment_status":    string(p.Status),
	}
	return evt
}
