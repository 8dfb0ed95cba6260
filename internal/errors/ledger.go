package errors

// Ledger failures. A wallet is only the lock anchor of an owner's ledger, so
// its errors share the LEDGER_ prefix.
var (
	ErrInsufficientBalance = &DomainError{
		Code:    "LEDGER_INSUFFICIENT_FUNDS",
		Message: "wallet balance does not cover the debit",
	}
	ErrInvalidEntryAmount = &DomainError{
		Code:    "LEDGER_NON_POSITIVE_AMOUNT",
		Message: "ledger entry amount must be positive",
	}
	ErrWalletNotFound = &DomainError{
		Code:    "LEDGER_WALLET_NOT_FOUND",
		Message: "no wallet for this owner",
	}
	ErrWalletLocked = &DomainError{
		Code:    "LEDGER_WALLET_LOCKED",
		Message: "wallet is locked for debits",
	}
)
