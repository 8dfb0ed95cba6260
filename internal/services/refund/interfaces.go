package refund

import (
	"context"

	"paycore/internal/gateway"
	"paycore/internal/models"
	"paycore/internal/repositories"
	"paycore/internal/services/wallet"
)

// Ledger is the part of the wallet service the wallet leg writes through.
type Ledger interface {
	CreditWithin(ctx context.Context, tx repositories.Store, req wallet.EntryRequest) (*models.LedgerEntry, error)
	AfterCommit(ctx context.Context, entries ...*models.LedgerEntry)
}

// Gateway is the external refund collaborator.
type Gateway interface {
	RefundExternal(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error)
	GetRefund(ctx context.Context, externalRefundID string) (*gateway.RefundResult, error)
}
