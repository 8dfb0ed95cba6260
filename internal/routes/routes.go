// Package routes wires the HTTP surface: the Stripe webhook, health, and
// the authenticated payment API.
package routes

import (
	"time"

	"paycore/internal/handlers"
	"paycore/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type Handlers struct {
	Webhook *handlers.WebhookHandler
	Health  *handlers.HealthHandler
	Payment *handlers.PaymentHandler
	Refund  *handlers.RefundHandler
	Wallet  *handlers.WalletHandler
	Dispute *handlers.DisputeHandler
	Admin   *handlers.AdminHandler
	Auth    *middleware.AuthMiddleware
}

// SetupRoutes configures all application routes.
func SetupRoutes(app *fiber.App, h Handlers) {
	app.Get("/health", h.Health.Health)

	app.Post("/webhooks/stripe", limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many requests"})
		},
	}), h.Webhook.Stripe)

	api := app.Group("/api", h.Auth.Handler)

	wallet := api.Group("/wallet")
	wallet.Get("/balance", h.Wallet.GetBalance)
	wallet.Get("/entries", h.Wallet.GetEntries)

	payments := api.Group("/payments")
	payments.Post("/", h.Payment.CreatePayment)
	payments.Get("/:id", h.Payment.GetPayment)
	payments.Post("/:id/wallet", h.Payment.PayWithWallet)
	payments.Post("/:id/cancel", h.Payment.CancelPayment)

	admin := api.Group("/admin", middleware.AdminOnly)
	admin.Post("/payments/:id/confirm", h.Payment.ConfirmManualPayment)
	admin.Post("/payments/:id/refunds", h.Refund.CreateRefund)
	admin.Get("/payments/:id/audit", h.Admin.GetAuditTrail)
	admin.Get("/wallets/:user_id", h.Admin.GetClientWallet)
	admin.Post("/disputes", h.Dispute.OpenDispute)
	admin.Post("/disputes/:reference/resolve", h.Dispute.ResolveDispute)
}
