package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"paycore/internal/models"
	"paycore/internal/repositories"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteInTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	owner := models.Owner{UserID: 7, TenantID: 1}

	boom := errors.New("boom")
	err := store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		w, err := tx.Wallets().GetOrCreateForUpdate(ctx, owner)
		require.NoError(t, err)
		require.NoError(t, tx.Ledger().Append(ctx, &models.LedgerEntry{
			WalletID: w.ID, Amount: decimal.NewFromInt(50), Type: models.EntryTypeCredit,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Wallets().GetByOwner(ctx, owner)
	assert.ErrorIs(t, err, repositories.ErrWalletNotFound)
	assert.Empty(t, store.LedgerEntries())
}

func TestCapturedPaymentUniquePerEntity(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	key := models.EntityRef{Type: models.EntityOrder, ID: 1}.Key()
	now := time.Now()

	first := &models.Payment{EntityKey: &key, ConfirmedAt: &now, Status: models.PaymentStatusSucceeded}
	require.NoError(t, store.Payments().Create(ctx, first))

	second := &models.Payment{EntityKey: &key, Status: models.PaymentStatusPending}
	require.NoError(t, store.Payments().Create(ctx, second))

	second.ConfirmedAt = &now
	assert.ErrorIs(t, store.Payments().Update(ctx, second), repositories.ErrDuplicate)

	exists, err := store.Payments().ExistsSucceededForEntity(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRefundSumsAndRequestKey(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	key := "req-1"

	require.NoError(t, store.Refunds().Create(ctx, &models.Refund{
		PaymentID: 3, WalletAmount: decimal.NewFromInt(10), Status: models.RefundStatusProcessed, RequestKey: &key,
	}))
	require.NoError(t, store.Refunds().Create(ctx, &models.Refund{
		PaymentID: 3, ExternalAmount: decimal.NewFromInt(5), Status: models.RefundStatusPending,
	}))
	require.NoError(t, store.Refunds().Create(ctx, &models.Refund{
		PaymentID: 3, WalletAmount: decimal.NewFromInt(100), Status: models.RefundStatusFailed,
	}))
	require.NoError(t, store.Refunds().Create(ctx, &models.Refund{
		PaymentID: 3, WalletAmount: decimal.NewFromInt(4), ExternalAmount: decimal.NewFromInt(6),
		Status: models.RefundStatusFailed, WalletLegConfirmed: true,
	}))

	committed, err := store.Refunds().SumCommitted(ctx, 3)
	require.NoError(t, err)
	assert.True(t, committed.Equal(decimal.NewFromInt(19)), "committed %s", committed)

	processed, err := store.Refunds().SumProcessed(ctx, 3)
	require.NoError(t, err)
	assert.True(t, processed.Equal(decimal.NewFromInt(10)))

	err = store.Refunds().Create(ctx, &models.Refund{PaymentID: 3, RequestKey: &key})
	assert.ErrorIs(t, err, repositories.ErrDuplicate)

	found, err := store.Refunds().GetByRequestKey(ctx, 3, key)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusProcessed, found.Status)
}

func TestWebhookRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	created, err := store.WebhookEvents().Record(ctx, &models.WebhookEvent{Provider: "stripe", EventID: "evt_1"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.WebhookEvents().Record(ctx, &models.WebhookEvent{Provider: "stripe", EventID: "evt_1"})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestUntrackMarksUsagesReusable(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	ref := models.EntityRef{Type: models.EntityOrder, ID: 9}

	require.NoError(t, store.Discounts().Track(ctx, &models.DiscountUsage{DiscountID: 1, UserID: 2, EntityKey: ref.Key()}))

	n, err := store.Discounts().Untrack(ctx, ref, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = store.Discounts().Untrack(ctx, ref, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	assert.True(t, store.DiscountUsages()[0].Reusable)
}
