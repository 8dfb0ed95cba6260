package handlers

import (
	"strings"

	domainErrors "paycore/internal/errors"
	"paycore/internal/services/dispute"
	"paycore/internal/utils"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// DisputeHandler lets operators record chargebacks the gateway did not
// report, for example bank disputes on manual payments.
type DisputeHandler struct {
	disputes *dispute.Service
}

func NewDisputeHandler(disputes *dispute.Service) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// OpenDispute handles POST /api/admin/disputes.
func (h *DisputeHandler) OpenDispute(c *fiber.Ctx) error {
	claims, err := utils.GetClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		PaymentReference string          `json:"payment_reference"`
		DisputeReference string          `json:"dispute_reference"`
		Amount           decimal.Decimal `json:"amount"`
		Reason           string          `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}
	if strings.TrimSpace(input.PaymentReference) == "" || strings.TrimSpace(input.DisputeReference) == "" {
		return response.BadRequest(c, "payment_reference and dispute_reference are required")
	}

	d, err := h.disputes.Open(c.UserContext(), dispute.OpenInput{
		TenantID:         claims.TenantID,
		PaymentReference: input.PaymentReference,
		DisputeReference: input.DisputeReference,
		Amount:           input.Amount,
		Reason:           input.Reason,
	})
	if err != nil {
		return response.DomainError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Dispute opened", "data": d})
}

// ResolveDispute handles POST /api/admin/disputes/:reference/resolve for
// disputes of the operator's tenant.
func (h *DisputeHandler) ResolveDispute(c *fiber.Ctx) error {
	claims, err := utils.GetClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		Won *bool `json:"won"`
	}
	if err := c.BodyParser(&input); err != nil || input.Won == nil {
		return response.BadRequest(c, "won is required")
	}

	d, err := h.disputes.Get(c.UserContext(), c.Params("reference"))
	if err == nil && d.TenantID != claims.TenantID {
		err = domainErrors.ErrDisputeNotFound
	}
	if err != nil {
		return response.DomainError(c, err)
	}
	d, err = h.disputes.Resolve(c.UserContext(), d.ExternalReference, *input.Won)
	if err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "Dispute resolved", d)
}
