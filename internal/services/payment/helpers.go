package payment

import (
	"context"
	"fmt"
	"time"

	domainErrors "paycore/internal/errors"
	"paycore/internal/events"
	"paycore/internal/models"
	"paycore/internal/repositories"
)

func paymentReference(p *models.Payment) string {
	return fmt.Sprintf("payment:%d", p.ID)
}

func paymentEvent(t events.Type, p *models.Payment) events.DomainEvent {
	evt := events.New(t, p.TenantID, p.ClientID)
	evt.PaymentID = p.ID
	evt.Amount = p.DiscountedAmount
	evt.Status = string(p.Status)
	evt.Metadata = map[string]interface{}{"kind": string(p.Kind), "method": string(p.Method)}
	return evt
}

func auditEntry(p *models.Payment, actor uint, action string, from models.PaymentStatus, reason string) *models.AuditEntry {
	return &models.AuditEntry{
		TenantID:   p.TenantID,
		PaymentID:  p.ID,
		Actor:      actor,
		Action:     action,
		FromStatus: string(from),
		ToStatus:   string(p.Status),
		Amount:     p.DiscountedAmount,
		Reason:     reason,
	}
}

// capture records what every successful payment implies: the entity is paid,
// an applied discount is consumed and the failure streak ends.
func capture(ctx context.Context, tx repositories.Store, p *models.Payment, at time.Time) error {
	if entity, ok := p.Entity(); ok {
		err := tx.Entities().MarkPaid(ctx, entity, at)
		if err == repositories.ErrEntityNotFound {
			return domainErrors.ErrEntityNotFound
		}
		if err != nil {
			return err
		}
		if p.DiscountID != nil {
			err := tx.Discounts().Track(ctx, &models.DiscountUsage{
				DiscountID: *p.DiscountID,
				UserID:     p.ClientID,
				TenantID:   p.TenantID,
				EntityKey:  entity.Key(),
			})
			if err != nil {
				return err
			}
		}
	}
	return tx.Failures().Reset(ctx, p.ID)
}
