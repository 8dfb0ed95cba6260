package handlers

import (
	"errors"

	domainErrors "paycore/internal/errors"
	"paycore/internal/models"
	"paycore/internal/services/wallet"
	"paycore/internal/utils"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type WalletHandler struct {
	wallets *wallet.Service
}

func NewWalletHandler(wallets *wallet.Service) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

func (h *WalletHandler) GetBalance(c *fiber.Ctx) error {
	claims, err := utils.GetClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	balance, err := h.wallets.Balance(c.UserContext(), claims.Owner())
	if err != nil {
		return response.DomainError(c, err)
	}
	return response.Success(c, "Balance retrieved", fiber.Map{"balance": balance.StringFixed(2)})
}

// GetEntries handles GET /api/wallet/entries?page=&limit=, newest first.
func (h *WalletHandler) GetEntries(c *fiber.Ctx) error {
	claims, err := utils.GetClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	page := utils.GetPagination(c, wallet.DefaultHistoryLimit, wallet.MaxHistoryLimit)

	entries, err := h.wallets.Entries(c.UserContext(), claims.Owner(), page.Limit, page.Offset)
	if errors.Is(err, domainErrors.ErrWalletNotFound) {
		entries, err = []models.LedgerEntry{}, nil
	}
	if err != nil {
		return response.DomainError(c, err)
	}
	return c.JSON(fiber.Map{"data": entries, "pagination": page})
}
