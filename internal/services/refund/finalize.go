package refund

import (
	"context"
	"time"

	"paycore/internal/events"
	"paycore/internal/models"
	"paycore/internal/repositories"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// finalize marks a fully confirmed refund processed and moves the payment to
// partially or fully refunded. A full refund also refunds the entity, frees
// its discount and claws back writer earnings, all inside tx.
func (p *Processor) finalize(ctx context.Context, tx repositories.Store, refund *models.Refund, actor uint, out *pending) error {
	payment, err := tx.Payments().GetByIDForUpdate(ctx, refund.PaymentID)
	if err != nil {
		return err
	}

	now := p.now()
	refund.Status = models.RefundStatusProcessed
	refund.ProcessedAt = &now
	if err := tx.Refunds().Update(ctx, refund); err != nil {
		return err
	}

	processed, err := tx.Refunds().SumProcessed(ctx, payment.ID)
	if err != nil {
		return err
	}
	full := processed.GreaterThanOrEqual(payment.DiscountedAmount)

	from := payment.Status
	if payment.Status == models.PaymentStatusDisputed {
		p.logger.WithField("payment_id", payment.ID).Warn("refund processed while payment is disputed")
	} else {
		payment.Status = models.PaymentStatusPartiallyRefunded
		if full {
			payment.Status = models.PaymentStatusFullyRefunded
		}
		if err := tx.Payments().Update(ctx, payment); err != nil {
			return err
		}
	}

	if err := tx.Audit().Append(ctx, refundAudit(refund, actor, "refund.processed", models.RefundStatusPending, "")); err != nil {
		return err
	}
	if from != payment.Status {
		if err := tx.Audit().Append(ctx, &models.AuditEntry{
			TenantID:   payment.TenantID,
			PaymentID:  payment.ID,
			RefundID:   &refund.ID,
			Actor:      actor,
			Action:     "payment.refunded",
			FromStatus: string(from),
			ToStatus:   string(payment.Status),
			Amount:     processed,
		}); err != nil {
			return err
		}
	}

	if full {
		if err := p.applyFullRefund(ctx, tx, payment, refund, processed, now); err != nil {
			return err
		}
	}

	evt := refundEvent(events.RefundProcessed, refund)
	evt.Metadata["payment_status"] = string(payment.Status)
	evt.Metadata["full_refund"] = full
	out.events = append(out.events, evt)
	return nil
}

func (p *Processor) applyFullRefund(ctx context.Context, tx repositories.Store, payment *models.Payment, refund *models.Refund, processed decimal.Decimal, now time.Time) error {
	entity, ok := payment.Entity()
	if !ok {
		return nil
	}

	if err := tx.Entities().MarkRefunded(ctx, entity, now); err != nil {
		return err
	}
	untracked, err := tx.Discounts().Untrack(ctx, entity, now)
	if err != nil {
		return err
	}
	clawbacks, err := p.clawBack(ctx, tx, entity, payment, refund, processed)
	if err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"payment_id":         payment.ID,
		"entity":             entity.Key(),
		"discounts_released": untracked,
		"clawbacks":          clawbacks,
	}).Info("full refund side effects applied")
	return nil
}

type writerTotals struct {
	tenantID uint
	earned   decimal.Decimal
	clawed   decimal.Decimal
}

// clawBack appends, per writer, earnings × (refunded / discounted) less what
// earlier clawbacks already took back.
func (p *Processor) clawBack(ctx context.Context, tx repositories.Store, entity models.EntityRef, payment *models.Payment, refund *models.Refund, processed decimal.Decimal) (int, error) {
	earnings, err := tx.Earnings().ListForEntity(ctx, entity)
	if err != nil {
		return 0, err
	}
	if len(earnings) == 0 || !payment.DiscountedAmount.IsPositive() {
		return 0, nil
	}

	ratio := processed.Div(payment.DiscountedAmount)
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = decimal.NewFromInt(1)
	}

	var order []uint
	totals := make(map[uint]*writerTotals)
	for _, e := range earnings {
		t, ok := totals[e.WriterID]
		if !ok {
			t = &writerTotals{tenantID: e.TenantID}
			totals[e.WriterID] = t
			order = append(order, e.WriterID)
		}
		switch e.Kind {
		case models.EarningKindEarning:
			t.earned = t.earned.Add(e.Amount)
		case models.EarningKindClawback:
			t.clawed = t.clawed.Add(e.Amount.Abs())
		}
	}

	appended := 0
	for _, writerID := range order {
		t := totals[writerID]
		due := t.earned.Mul(ratio).Round(2).Sub(t.clawed)
		if !due.IsPositive() {
			continue
		}
		if err := tx.Earnings().Append(ctx, &models.WriterEarning{
			TenantID:  t.tenantID,
			WriterID:  writerID,
			EntityKey: entity.Key(),
			Kind:      models.EarningKindClawback,
			Amount:    due.Neg(),
			RefundID:  &refund.ID,
		}); err != nil {
			return appended, err
		}
		appended++
	}
	return appended, nil
}
