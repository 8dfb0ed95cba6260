package refund

import (
	"fmt"

	"paycore/internal/events"
	"paycore/internal/models"
)

func refundReference(r *models.Refund) string {
	return fmt.Sprintf("refund:%d", r.ID)
}

func refundEvent(t events.Type, r *models.Refund) events.DomainEvent {
	evt := events.New(t, r.TenantID, r.ClientID)
	evt.PaymentID = r.PaymentID
	evt.RefundID = r.ID
	evt.Amount = r.Total()
	evt.Status = string(r.Status)
	evt.Reason = r.Reason
	evt.Metadata = map[string]interface{}{
		"method":          string(r.Method),
		"wallet_amount":   r.WalletAmount.StringFixed(2),
		"external_amount": r.ExternalAmount.StringFixed(2),
	}
	if r.LastError != "" {
		evt.Metadata["last_error"] = r.LastError
	}
	return evt
}

func refundAudit(r *models.Refund, actor uint, action string, from models.RefundStatus, reason string) *models.AuditEntry {
	id := r.ID
	return &models.AuditEntry{
		TenantID:   r.TenantID,
		PaymentID:  r.PaymentID,
		RefundID:   &id,
		Actor:      actor,
		Action:     action,
		FromStatus: string(from),
		ToStatus:   string(r.Status),
		Amount:     r.Total(),
		Reason:     reason,
	}
}
