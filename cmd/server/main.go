// Package main is the HTTP entry point: the Stripe webhook, health checks and
// the operator/client payment API.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paycore/internal/app"
	"paycore/internal/config"
	"paycore/internal/handlers"
	"paycore/internal/middleware"
	"paycore/internal/routes"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()
	log := cfg.NewLogger()

	if cfg.Stripe.WebhookSecret == "" {
		log.Warn("STRIPE_WEBHOOK_SECRET is empty, every webhook will be rejected")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise engine")
	}
	defer a.Close()

	checks := map[string]handlers.Check{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": a.Cache.HealthCheck,
	}
	if a.NATS != nil {
		checks["nats"] = func(context.Context) error {
			if !a.NATS.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}
	health := handlers.NewHealthHandler(checks)

	srv := fiber.New(fiber.Config{
		AppName:      "paycore",
		BodyLimit:    1 << 20,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	srv.Use(recover.New())
	srv.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	routes.SetupRoutes(srv, routes.Handlers{
		Webhook: handlers.NewWebhookHandler(a.Reconciliation, log.WithField("component", "http")),
		Health:  health,
		Payment: handlers.NewPaymentHandler(a.Payments, a.WalletPayments),
		Refund:  handlers.NewRefundHandler(a.Payments, a.Refunds),
		Wallet:  handlers.NewWalletHandler(a.Wallet),
		Dispute: handlers.NewDisputeHandler(a.Disputes),
		Admin:   handlers.NewAdminHandler(a.Store, a.Payments, a.Wallet),
		Auth:    middleware.NewAuthMiddleware(cfg.JWTSecret, log.WithField("component", "http")),
	})

	go logPoolStats(ctx, a)

	go func() {
		<-ctx.Done()
		log.Info("shutting down HTTP server")
		if err := srv.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("HTTP shutdown failed")
		}
	}()

	log.WithField("port", cfg.Port).Info("HTTP server listening")
	if err := srv.Listen(":" + cfg.Port); err != nil {
		log.WithError(err).Error("HTTP server stopped")
		os.Exit(1)
	}
}

// logPoolStats reports connection pool usage once a minute.
func logPoolStats(ctx context.Context, a *app.App) {
	sqlDB, err := a.DB.DB()
	if err != nil {
		a.Logger.WithError(err).Warn("pool stats disabled")
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db := sqlDB.Stats()
			redis := a.Cache.GetStats()
			a.Logger.WithFields(logrus.Fields{
				"db_open":       db.OpenConnections,
				"db_in_use":     db.InUse,
				"db_wait_count": db.WaitCount,
				"redis_total":   redis.TotalConns,
				"redis_idle":    redis.IdleConns,
				"redis_misses":  redis.Misses,
			}).Debug("pool stats")
		}
	}
}
