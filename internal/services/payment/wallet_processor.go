package payment

import (
	"context"
	"errors"
	"time"

	domainErrors "paycore/internal/errors"
	"paycore/internal/events"
	"paycore/internal/models"
	"paycore/internal/repositories"
	"paycore/internal/services/wallet"

	"github.com/sirupsen/logrus"
)

// WalletProcessor settles pending wallet-method payments.
type WalletProcessor struct {
	store      repositories.Store
	ledger     Ledger
	dispatcher events.Dispatcher
	logger     *logrus.Entry
	now        func() time.Time
}

func NewWalletProcessor(store repositories.Store, ledger Ledger, dispatcher events.Dispatcher, logger *logrus.Entry) *WalletProcessor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WalletProcessor{
		store:      store,
		ledger:     ledger,
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "payment.wallet"),
		now:        time.Now,
	}
}

// ProcessWalletPayment debits the client's wallet and marks the payment
// succeeded in one transaction. On insufficient balance nothing is written
// and the payment stays pending.
func (w *WalletProcessor) ProcessWalletPayment(ctx context.Context, paymentID uint) (*models.Payment, error) {
	var (
		p     *models.Payment
		entry *models.LedgerEntry
	)
	err := w.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		var err error
		p, err = tx.Payments().GetByIDForUpdate(ctx, paymentID)
		if err == repositories.ErrPaymentNotFound {
			return domainErrors.ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		if p.Method != models.PaymentMethodWallet {
			return domainErrors.ErrNotWalletPayment
		}
		if p.Status != models.PaymentStatusPending {
			return domainErrors.ErrPaymentNotPending
		}
		if p.EntityKey != nil {
			exists, err := tx.Payments().ExistsSucceededForEntity(ctx, *p.EntityKey)
			if err != nil {
				return err
			}
			if exists {
				return domainErrors.ErrDuplicateActivePayment
			}
		}

		entry, err = w.ledger.DebitWithin(ctx, tx, wallet.EntryRequest{
			Owner:     p.Owner(),
			Amount:    p.DiscountedAmount,
			Type:      models.EntryTypeDebit,
			Reference: paymentReference(p),
			Metadata:  map[string]interface{}{"payment_id": p.ID, "kind": string(p.Kind)},
		}, OverdraftPolicyFor(p.Kind))
		if err != nil {
			return err
		}

		now := w.now()
		p.Status = models.PaymentStatusSucceeded
		p.ConfirmedAt = &now
		if err := tx.Payments().Update(ctx, p); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return domainErrors.ErrDuplicateActivePayment
			}
			return err
		}
		if err := capture(ctx, tx, p, now); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, auditEntry(p, models.SystemActor, "payment.wallet_debited", models.PaymentStatusPending, ""))
	})
	if err != nil {
		w.logger.WithError(err).WithField("payment_id", paymentID).Info("wallet payment not processed")
		return nil, err
	}

	w.ledger.AfterCommit(ctx, entry)
	if w.dispatcher != nil {
		w.dispatcher.Dispatch(ctx, paymentEvent(events.PaymentSucceeded, p))
	}
	w.logger.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"amount":     p.DiscountedAmount.StringFixed(2),
	}).Info("wallet payment succeeded")
	return p, nil
}
