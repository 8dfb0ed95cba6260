package payment

import (
	"context"

	"paycore/internal/gateway"
	"paycore/internal/models"
	"paycore/internal/repositories"
	"paycore/internal/services/wallet"
)

// Ledger is the part of the wallet service the payment flows write through.
type Ledger interface {
	CreditWithin(ctx context.Context, tx repositories.Store, req wallet.EntryRequest) (*models.LedgerEntry, error)
	DebitWithin(ctx context.Context, tx repositories.Store, req wallet.EntryRequest, policy wallet.OverdraftPolicy) (*models.LedgerEntry, error)
	AfterCommit(ctx context.Context, entries ...*models.LedgerEntry)
}

// StatusChecker looks up a gateway payment's current status.
type StatusChecker interface {
	GetPaymentStatus(ctx context.Context, paymentReference string) (gateway.PaymentStatus, error)
}

// OverdraftPolicyFor returns the debit policy for a payment kind. Only class
// bundles may take the wallet negative.
func OverdraftPolicyFor(kind models.PaymentKind) wallet.OverdraftPolicy {
	if kind == models.PaymentKindClassPayment {
		return wallet.AllowOverdraft
	}
	return wallet.ForbidOverdraft
}
