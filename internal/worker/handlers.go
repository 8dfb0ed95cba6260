package worker

import (
	"context"
	"time"

	"paycore/internal/queue"
	"paycore/internal/services/reconciliation"
)

type RefundRetrier interface {
	RetryExternalRefund(ctx context.Context, refundID uint) (reconciliation.Outcome, error)
	SweepStalePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type PaymentRetrier interface {
	RetryFailedPayment(ctx context.Context, paymentID uint) error
}

// SweepArgs is the payload of sweep_pending_refunds.
type SweepArgs struct {
	OlderThan time.Duration `json:"older_than"`
	Limit     int           `json:"limit"`
}

// Register wires the engine's task handlers into w.
func Register(w *Worker, refunds RefundRetrier, payments PaymentRetrier, defaults SweepArgs) {
	w.Handle(queue.TaskRetryExternalRefund, func(ctx context.Context, task *queue.Task) error {
		var args queue.RefundArgs
		if err := task.DecodeArgs(&args); err != nil {
			return err
		}
		outcome, err := refunds.RetryExternalRefund(ctx, args.RefundID)
		if err != nil {
			return err
		}
		w.logger.WithField("refund_id", args.RefundID).WithField("outcome", outcome).Info("external refund retried")
		return nil
	})

	w.Handle(queue.TaskRetryFailedPayment, func(ctx context.Context, task *queue.Task) error {
		var args queue.PaymentArgs
		if err := task.DecodeArgs(&args); err != nil {
			return err
		}
		return payments.RetryFailedPayment(ctx, args.PaymentID)
	})

	w.Handle(queue.TaskSweepPendingRefunds, func(ctx context.Context, task *queue.Task) error {
		args := defaults
		if len(task.Args) > 0 && string(task.Args) != "null" {
			if err := task.DecodeArgs(&args); err != nil {
				return err
			}
		}
		if args.OlderThan <= 0 {
			args.OlderThan = defaults.OlderThan
		}
		_, err := refunds.SweepStalePending(ctx, args.OlderThan, args.Limit)
		return err
	})
}
