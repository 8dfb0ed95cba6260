package handlers

import (
	"errors"
	"strconv"

	domainErrors "paycore/internal/errors"
	"paycore/internal/models"
	"paycore/internal/repositories"
	"paycore/internal/services/payment"
	"paycore/internal/services/wallet"
	"paycore/internal/utils"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler serves operator read models: audit trails and any client's
// wallet.
type AdminHandler struct {
	store    repositories.Store
	payments *payment.Service
	wallets  *wallet.Service
}

func NewAdminHandler(store repositories.Store, payments *payment.Service, wallets *wallet.Service) *AdminHandler {
	return &AdminHandler{store: store, payments: payments, wallets: wallets}
}

// GetAuditTrail handles GET /api/admin/payments/:id/audit for payments of the
// operator's tenant.
func (h *AdminHandler) GetAuditTrail(c *fiber.Ctx) error {
	id, err := paymentID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid payment ID")
	}
	p, err := scopedPayment(c, h.payments, id)
	if err != nil {
		return response.DomainError(c, err)
	}
	entries, err := h.store.Audit().ListForPayment(c.UserContext(), p.ID)
	if err != nil {
		return response.ServerError(c, "Failed to fetch audit trail")
	}
	return response.Success(c, "Audit trail retrieved", entries)
}

// GetClientWallet handles GET /api/admin/wallets/:user_id?page=&limit=, in
// the operator's tenant.
func (h *AdminHandler) GetClientWallet(c *fiber.Ctx) error {
	claims, err := utils.GetClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	userID, err := strconv.ParseUint(c.Params("user_id"), 10, 32)
	if err != nil || userID == 0 {
		return response.BadRequest(c, "Invalid user ID")
	}
	owner := models.Owner{UserID: uint(userID), TenantID: claims.TenantID}
	page := utils.GetPagination(c, wallet.DefaultHistoryLimit, wallet.MaxHistoryLimit)

	balance, err := h.wallets.Balance(c.UserContext(), owner)
	if err != nil {
		return response.DomainError(c, err)
	}
	entries, err := h.wallets.Entries(c.UserContext(), owner, page.Limit, page.Offset)
	if errors.Is(err, domainErrors.ErrWalletNotFound) {
		entries, err = []models.LedgerEntry{}, nil
	}
	if err != nil {
		return response.DomainError(c, err)
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"balance": balance.StringFixed(2),
			"entries": entries,
		},
		"pagination": page,
	})
}
