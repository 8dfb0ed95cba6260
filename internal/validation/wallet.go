package validation

import (
	"fmt"

	"paycore/internal/errors"
	"paycore/internal/models"
)

// ValidateWalletOperation rejects debits against missing or non-active wallets.
func ValidateWalletOperation(wallet *models.Wallet) error {
	if wallet == nil {
		return errors.ErrWalletNotFound
	}

	if wallet.Status != models.WalletStatusActive {
		if wallet.StatusReason != "" {
			return fmt.Errorf("%w: %s", errors.ErrWalletLocked, wallet.StatusReason)
		}
		return errors.ErrWalletLocked
	}

	return nil
}
