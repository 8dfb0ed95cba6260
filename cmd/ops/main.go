// Package main is the operator CLI: one-off reconciliation sweeps and queue
// inspection, meant for cron and on-call use.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"paycore/internal/app"
	"paycore/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:          "paycore-ops",
		Short:        "Operator tooling for the payment ledger",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(sweepCmd(cfg))
	rootCmd.AddCommand(queueCmd(cfg))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp runs fn against a fully wired engine and closes it afterwards.
func withApp(cfg *config.Config, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, cfg.NewLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func sweepCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Schedule a retry for every refund pending longer than --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, err := cmd.Flags().GetDuration("older-than")
			if err != nil {
				return err
			}
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return err
			}
			return withApp(cfg, func(ctx context.Context, a *app.App) error {
				n, err := a.Reconciliation.SweepStalePending(ctx, olderThan, limit)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				a.Logger.WithField("scheduled", n).Info("sweep finished")
				return nil
			})
		},
	}

	cmd.Flags().Duration("older-than", cfg.Worker.StaleAfter, "only sweep refunds pending for longer than this")
	cmd.Flags().IntP("limit", "n", cfg.Worker.SweepBatch, "maximum refunds to schedule")

	return cmd
}

func queueCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Print the number of scheduled, leased and dead-lettered tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(ctx context.Context, a *app.App) error {
				n, err := a.Queue.Pending(ctx)
				if err != nil {
					return err
				}
				leased, err := a.Queue.Leased(ctx)
				if err != nil {
					return err
				}
				dead, err := a.Queue.DeadLettered(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scheduled tasks: %d\nleased tasks: %d\ndead-lettered tasks: %d\n", n, leased, dead)
				return nil
			})
		},
	}
}
