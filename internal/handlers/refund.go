package handlers

import (
	"paycore/internal/models"
	"paycore/internal/services/payment"
	"paycore/internal/services/refund"
	"paycore/internal/utils"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type RefundHandler struct {
	payments *payment.Service
	refunds  *refund.Processor
}

func NewRefundHandler(payments *payment.Service, refunds *refund.Processor) *RefundHandler {
	return &RefundHandler{payments: payments, refunds: refunds}
}

// CreateRefund handles POST /api/admin/payments/:id/refunds. The optional
// Idempotency-Key header dedupes resubmissions.
func (h *RefundHandler) CreateRefund(c *fiber.Ctx) error {
	claims, err := utils.GetClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	id, err := paymentID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid payment ID")
	}
	p, err := scopedPayment(c, h.payments, id)
	if err != nil {
		return response.DomainError(c, err)
	}

	var input struct {
		WalletAmount   decimal.Decimal     `json:"wallet_amount"`
		ExternalAmount decimal.Decimal     `json:"external_amount"`
		Method         models.RefundMethod `json:"method"`
		Reason         string              `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	r, err := h.refunds.ProcessRefund(c.UserContext(), refund.Request{
		PaymentID:      p.ID,
		WalletAmount:   input.WalletAmount,
		ExternalAmount: input.ExternalAmount,
		Method:         input.Method,
		Reason:         input.Reason,
		Actor:          claims.UserID,
		IdempotencyKey: c.Get("Idempotency-Key"),
	})
	if err != nil {
		return response.DomainError(c, err)
	}

	status := fiber.StatusCreated
	if r.Status == models.RefundStatusPending {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{"message": "Refund " + string(r.Status), "data": r})
}
