// Package main runs the background worker: external refund retries, failed
// payment retries and the stale pending refund sweep.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"paycore/internal/app"
	"paycore/internal/config"
	"paycore/internal/queue"
	"paycore/internal/worker"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()
	log := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise engine")
	}
	defer a.Close()

	sweep := worker.SweepArgs{OlderThan: cfg.Worker.StaleAfter, Limit: cfg.Worker.SweepBatch}
	w := worker.New(a.Queue, cfg.Worker.PollInterval, log.WithField("component", "worker"))
	worker.Register(w, a.Reconciliation, a.Payments, sweep)

	// A sweep per worker start picks up refunds left pending while no worker ran.
	if err := a.Queue.Enqueue(ctx, queue.TaskSweepPendingRefunds, sweep, time.Time{}); err != nil {
		log.WithError(err).Warn("failed to schedule startup sweep")
	}

	log.Info("worker started")
	w.Run(ctx)
	log.Info("worker stopped")
}
