package handlers

import (
	"context"
	"errors"

	"paycore/internal/services/reconciliation"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (reconciliation.Outcome, error)
}

type WebhookHandler struct {
	processor WebhookProcessor
	logger    *logrus.Entry
}

func NewWebhookHandler(processor WebhookProcessor, logger *logrus.Entry) *WebhookHandler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WebhookHandler{processor: processor, logger: logger.WithField("component", "webhook")}
}

// Stripe handles POST /webhooks/stripe. Any non-2xx answer makes Stripe
// redeliver the event.
func (h *WebhookHandler) Stripe(c *fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return response.BadRequest(c, "missing Stripe-Signature header")
	}

	// The body buffer is reused by fiber once the handler returns.
	payload := append([]byte(nil), c.Body()...)
	outcome, err := h.processor.HandleWebhook(c.UserContext(), payload, signature)
	if err != nil {
		if errors.Is(err, reconciliation.ErrInvalidWebhook) {
			h.logger.WithError(err).Warn("webhook rejected")
			return response.BadRequest(c, "invalid webhook")
		}
		return response.ServerError(c, "webhook processing failed")
	}
	return c.JSON(fiber.Map{"received": true, "outcome": outcome})
}
