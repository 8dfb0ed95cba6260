package handlers

import (
	"context"
	"strconv"

	domainErrors "paycore/internal/errors"
	"paycore/internal/models"
	"paycore/internal/services/payment"
	"paycore/internal/utils"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type PaymentHandler struct {
	payments  *payment.Service
	processor *payment.WalletProcessor
}

func NewPaymentHandler(payments *payment.Service, processor *payment.WalletProcessor) *PaymentHandler {
	return &PaymentHandler{payments: payments, processor: processor}
}

type createPaymentInput struct {
	Kind              models.PaymentKind   `json:"kind"`
	Method            models.PaymentMethod `json:"method"`
	Amount            decimal.Decimal      `json:"amount"`
	OriginalAmount    *decimal.Decimal     `json:"original_amount"`
	DiscountedAmount  *decimal.Decimal     `json:"discounted_amount"`
	DiscountID        *uint                `json:"discount_id"`
	ExternalReference *string              `json:"external_reference"`
	OrderID           *uint                `json:"order_id"`
	SpecialOrderID    *uint                `json:"special_order_id"`
	ClassPurchaseID   *uint                `json:"class_purchase_id"`
	InstallmentID     *uint                `json:"installment_id"`
}

// CreatePayment handles POST /api/payments for the calling client.
func (h *PaymentHandler) CreatePayment(c *fiber.Ctx) error {
	claims, err := utils.GetClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input createPaymentInput
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	p, err := h.payments.Create(c.UserContext(), payment.CreateInput{
		TenantID:          claims.TenantID,
		ClientID:          claims.UserID,
		Kind:              input.Kind,
		Method:            input.Method,
		Amount:            input.Amount,
		OriginalAmount:    input.OriginalAmount,
		DiscountedAmount:  input.DiscountedAmount,
		DiscountID:        input.DiscountID,
		ExternalReference: input.ExternalReference,
		OrderID:           input.OrderID,
		SpecialOrderID:    input.SpecialOrderID,
		ClassPurchaseID:   input.ClassPurchaseID,
		InstallmentID:     input.InstallmentID,
	})
	if err != nil {
		return response.DomainError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Payment created", "data": p})
}

func (h *PaymentHandler) GetPayment(c *fiber.Ctx) error {
	p, err := h.ownedPayment(c)
	if err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "Payment retrieved", p)
}

// PayWithWallet handles POST /api/payments/:id/wallet.
func (h *PaymentHandler) PayWithWallet(c *fiber.Ctx) error {
	p, err := h.ownedPayment(c)
	if err != nil {
		return response.DomainError(c, err)
	}
	p, err = h.processor.ProcessWalletPayment(c.UserContext(), p.ID)
	if err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "Payment successful", p)
}

func (h *PaymentHandler) CancelPayment(c *fiber.Ctx) error {
	claims, err := utils.GetClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	p, err := h.ownedPayment(c)
	if err != nil {
		return response.DomainError(c, err)
	}
	p, err = h.payments.Cancel(c.UserContext(), p.ID, claims.UserID)
	if err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "Payment cancelled", p)
}

// ConfirmManualPayment handles POST /api/admin/payments/:id/confirm.
func (h *PaymentHandler) ConfirmManualPayment(c *fiber.Ctx) error {
	claims, err := utils.GetClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	p, err := h.ownedPayment(c)
	if err != nil {
		return response.DomainError(c, err)
	}

	var input struct {
		Reference string `json:"reference"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	p, err = h.payments.ConfirmManualPayment(c.UserContext(), p.ID, claims.UserID, input.Reference)
	if err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "Payment confirmed", p)
}

// ownedPayment loads the :id payment. Clients only see their own payments
// and operators only those of their tenant; anything else is reported as not
// found.
func (h *PaymentHandler) ownedPayment(c *fiber.Ctx) (*models.Payment, error) {
	id, err := paymentID(c)
	if err != nil {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return scopedPayment(c, h.payments, id)
}

type paymentGetter interface {
	Get(ctx context.Context, id uint) (*models.Payment, error)
}

func scopedPayment(c *fiber.Ctx, payments paymentGetter, id uint) (*models.Payment, error) {
	claims, err := utils.GetClaims(c)
	if err != nil {
		return nil, err
	}
	p, err := payments.Get(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if p.TenantID != claims.TenantID || (!claims.IsAdmin() && p.ClientID != claims.UserID) {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return p, nil
}

func paymentID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}
