package reconciliation

import (
	"context"

	"paycore/internal/gateway"
	"paycore/internal/models"
	"paycore/internal/services/dispute"
)

// Refunds is the refund processor's confirmation path.
type Refunds interface {
	ConfirmExternalLeg(ctx context.Context, refundID uint, externalRef string) (*models.Refund, error)
	FailExternalLeg(ctx context.Context, refundID uint, cause error) (*models.Refund, error)
	AttemptExternalLeg(ctx context.Context, refundID uint) (*models.Refund, error)
	PollExternalLeg(ctx context.Context, refundID uint) (*models.Refund, error)
}

type Payments interface {
	ConfirmGatewayPayment(ctx context.Context, externalReference string) (*models.Payment, error)
	FailPayment(ctx context.Context, paymentID uint, reason string) (*models.Payment, error)
}

type Disputes interface {
	Open(ctx context.Context, in dispute.OpenInput) (*models.Dispute, error)
	Resolve(ctx context.Context, disputeReference string, won bool) (*models.Dispute, error)
}

// WebhookParser verifies and decodes gateway callbacks.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*gateway.WebhookEvent, error)
}
