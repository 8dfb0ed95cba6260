// Package app assembles the engine's services from configuration. The server,
// worker and ops binaries share this wiring.
package app

import (
	"context"
	"fmt"
	"time"

	"paycore/internal/config"
	"paycore/internal/events"
	"paycore/internal/gateway"
	"paycore/internal/queue"
	"paycore/internal/repositories"
	"paycore/internal/repositories/cache"
	"paycore/internal/services/dispute"
	"paycore/internal/services/notification"
	"paycore/internal/services/payment"
	"paycore/internal/services/reconciliation"
	"paycore/internal/services/refund"
	"paycore/internal/services/wallet"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	Logger *logrus.Logger

	DB    *gorm.DB
	Redis *redis.Client
	NATS  *nats.Conn

	Store          repositories.Store
	Cache          *cache.CacheService
	Queue          *queue.Queue
	Gateway        *gateway.StripeGateway
	Wallet         *wallet.Service
	Payments       *payment.Service
	WalletPayments *payment.WalletProcessor
	Refunds        *refund.Processor
	Disputes       *dispute.Service
	Reconciliation *reconciliation.Service
}

// New connects to Postgres, Redis and NATS and builds every service. NATS is
// optional: when it cannot be reached events are only logged.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}
	entry := logrus.NewEntry(log)

	db, err := repositories.InitDB(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.DB = db

	a.Redis = cache.NewRedisClient(cfg.Redis)
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var publisher *events.JetStreamPublisher
	if nc, err := events.Connect(cfg.NATSURL, "paycore", entry); err != nil {
		log.WithError(err).Warn("NATS unavailable, events will only be logged")
	} else {
		a.NATS = nc
		publisher, err = events.NewJetStreamPublisher(ctx, nc, entry)
		if err != nil {
			log.WithError(err).Warn("JetStream unavailable, events will only be logged")
			publisher = nil
		}
	}

	var bus *events.Bus
	if publisher != nil {
		bus = events.NewBus(publisher, notification.NewService(publisher, entry), entry)
	} else {
		bus = events.NewBus(nil, notification.NewService(nil, entry), entry)
	}

	retry := queue.RetryPolicy{BaseDelay: cfg.Retry.BaseDelay, MaxDelay: cfg.Retry.MaxDelay}
	paymentRetry := retry
	paymentRetry.MaxAttempts = cfg.Retry.MaxPaymentAttempts
	refundRetry := retry
	refundRetry.MaxAttempts = cfg.Retry.MaxExternalRefundAttempts

	a.Store = repositories.NewStore(db)
	a.Cache = cache.NewCacheService(a.Redis, cfg.BalanceCacheTTL)
	a.Queue = queue.NewQueue(a.Redis, cfg.Worker.MaxTaskAttempts, cfg.Worker.TaskLease, entry)
	a.Gateway = gateway.NewStripeGateway(cfg.Stripe, entry)

	a.Wallet = wallet.NewService(a.Store, a.Cache, bus, wallet.NewLogMetricsCollector(entry, 500*time.Millisecond), entry)
	a.Payments = payment.NewService(a.Store, a.Wallet, a.Gateway, a.Queue, bus, paymentRetry, entry)
	a.WalletPayments = payment.NewWalletProcessor(a.Store, a.Wallet, bus, entry)
	a.Refunds = refund.NewProcessor(a.Store, a.Wallet, a.Gateway, a.Queue, bus, refund.Config{
		Retry:          refundRetry,
		GatewayTimeout: cfg.Stripe.Timeout,
	}, entry)
	a.Disputes = dispute.NewService(a.Store, bus, entry)
	a.Reconciliation = reconciliation.NewService(a.Store, a.Refunds, a.Payments, a.Disputes, a.Gateway, a.Queue, entry)

	return a, nil
}

// Close releases every connection New opened.
func (a *App) Close() {
	if a.NATS != nil {
		if err := a.NATS.Drain(); err != nil {
			a.Logger.WithError(err).Warn("failed to drain NATS connection")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.WithError(err).Warn("failed to close Redis connection")
		}
	}
	if a.DB != nil {
		if err := repositories.Close(a.DB); err != nil {
			a.Logger.WithError(err).Warn("failed to close database connection")
		}
	}
}
