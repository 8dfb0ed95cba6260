/*
Package wallet implements the wallet ledger.

A wallet holds no balance of its own. Every movement is an append-only
LedgerEntry (positive credits, negative debits) and the balance is the sum of
the owner's entries. The wallet row is only the lock anchor: debits take it
FOR UPDATE, recompute the balance and append in the same transaction, so two
concurrent debits can never both pass the balance check.

Usage:

	svc := wallet.NewService(store, cacheService, bus, nil, logger)

	// Top up
	entry, err := svc.Credit(ctx, wallet.EntryRequest{Owner: owner, Amount: amount})

	// Pay, refusing to overdraw
	entry, err = svc.Debit(ctx, req, wallet.ForbidOverdraft)

	balance, err := svc.Balance(ctx, owner)

Callers that already hold a transaction use CreditWithin and DebitWithin and
call AfterCommit once the transaction has committed.

Cache Management:

Balance reads go through an optional read-through cache. Every committed
entry invalidates the owner's cached balance; the debit check never reads it.
*/
package wallet
