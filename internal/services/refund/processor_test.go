package refund

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	domainErrors "paycore/internal/errors"
	"paycore/internal/events"
	"paycore/internal/gateway"
	"paycore/internal/models"
	"paycore/internal/queue"
	"paycore/internal/repositories/memory"
	"paycore/internal/services/payment"
	"paycore/internal/services/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) RefundExternal(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*gateway.RefundResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) GetRefund(ctx context.Context, id string) (*gateway.RefundResult, error) {
	args := m.Called(ctx, id)
	if res := args.Get(0); res != nil {
		return res.(*gateway.RefundResult), args.Error(1)
	}
	return nil, args.Error(1)
}

var client = models.Owner{UserID: 42, TenantID: 1}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

type fixture struct {
	store     *memory.Store
	wallet    *wallet.Service
	payments  *payment.Service
	processor *payment.WalletProcessor
	refunds   *Processor
	gateway   *MockGateway
	events    *events.Recorder
	queue     *queue.Recorder
	nextOrder uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		gateway: new(MockGateway),
		events:  &events.Recorder{},
		queue:   &queue.Recorder{},
	}
	f.wallet = wallet.NewService(f.store, nil, f.events, nil, nil)
	f.payments = payment.NewService(f.store, f.wallet, nil, f.queue, f.events, queue.RetryPolicy{MaxAttempts: 3}, nil)
	f.processor = payment.NewWalletProcessor(f.store, f.wallet, f.events, nil)
	f.refunds = NewProcessor(f.store, f.wallet, f.gateway, f.queue, f.events, Config{
		Retry:          queue.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Hour},
		GatewayTimeout: time.Second,
	}, nil)
	return f
}

func (f *fixture) orderRef(price int64) models.EntityRef {
	f.nextOrder++
	ref := models.EntityRef{Type: models.EntityOrder, ID: f.nextOrder}
	f.store.SeedEntity(ref, client, amount(price))
	return ref
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := f.wallet.Balance(context.Background(), client)
	require.NoError(t, err)
	return b
}

// walletPayment tops the wallet up and pays an order from it.
func (f *fixture) walletPayment(t *testing.T, topUp, v int64) (*models.Payment, models.EntityRef) {
	t.Helper()
	ctx := context.Background()
	if topUp > 0 {
		_, err := f.wallet.Credit(ctx, wallet.EntryRequest{Owner: client, Amount: amount(topUp)})
		require.NoError(t, err)
	}
	ref := f.orderRef(v)
	p, err := f.payments.Create(ctx, payment.CreateInput{
		TenantID: client.TenantID, ClientID: client.UserID,
		Kind: models.PaymentKindStandardOrder, Method: models.PaymentMethodWallet,
		Amount: amount(v), OrderID: &ref.ID,
	})
	require.NoError(t, err)
	p, err = f.processor.ProcessWalletPayment(ctx, p.ID)
	require.NoError(t, err)
	return p, ref
}

func (f *fixture) gatewayPayment(t *testing.T, reference string, v int64) *models.Payment {
	t.Helper()
	ctx := context.Background()
	ref := f.orderRef(v)
	p, err := f.payments.Create(ctx, payment.CreateInput{
		TenantID: client.TenantID, ClientID: client.UserID,
		Kind: models.PaymentKindStandardOrder, Method: models.PaymentMethodGateway,
		Amount: amount(v), OrderID: &ref.ID, ExternalReference: &reference,
	})
	require.NoError(t, err)
	p, err = f.payments.ConfirmGatewayPayment(ctx, reference)
	require.NoError(t, err)
	return p
}

func (f *fixture) paymentStatus(t *testing.T, id uint) models.PaymentStatus {
	t.Helper()
	p, err := f.payments.Get(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func TestFullWalletRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.wallet.Credit(ctx, wallet.EntryRequest{Owner: client, Amount: amount(100)})
	require.NoError(t, err)

	// A 70.00 order bought with a 10.00 discount captures 60.00 and consumes
	// the discount.
	discountID := f.store.SeedDiscount(models.Discount{TenantID: client.TenantID, Code: "TEN", AmountOff: amount(10), Active: true})
	entity := f.orderRef(70)
	p, err := f.payments.Create(ctx, payment.CreateInput{
		TenantID: client.TenantID, ClientID: client.UserID,
		Kind: models.PaymentKindStandardOrder, Method: models.PaymentMethodWallet,
		OrderID: &entity.ID, DiscountID: &discountID,
	})
	require.NoError(t, err)
	p, err = f.processor.ProcessWalletPayment(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, f.balance(t).Equal(amount(40)))

	consumed, err := f.store.Discounts().Consumed(ctx, discountID, client.UserID)
	require.NoError(t, err)
	require.True(t, consumed)

	require.NoError(t, f.store.Earnings().Append(ctx, &models.WriterEarning{
		TenantID: client.TenantID, WriterID: 9, EntityKey: entity.Key(),
		Kind: models.EarningKindEarning, Amount: amount(12),
	}))

	refund, err := f.refunds.ProcessRefund(ctx, Request{
		PaymentID:    p.ID,
		WalletAmount: amount(60),
		Method:       models.RefundMethodWallet,
		Reason:       "order cancelled",
		Actor:        3,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusProcessed, refund.Status)
	assert.NotNil(t, refund.ProcessedAt)

	assert.True(t, f.balance(t).Equal(amount(100)))
	assert.Equal(t, models.PaymentStatusFullyRefunded, f.paymentStatus(t, p.ID))

	state, ok := f.store.EntityState(entity)
	require.True(t, ok)
	assert.True(t, state.IsRefunded)
	assert.Equal(t, models.EntityStatusRefunded, state.Status)

	usages := f.store.DiscountUsages()
	require.Len(t, usages, 1)
	assert.Equal(t, discountID, usages[0].DiscountID)
	assert.True(t, usages[0].Reusable)
	assert.NotNil(t, usages[0].UntrackedAt)

	consumed, err = f.store.Discounts().Consumed(ctx, discountID, client.UserID)
	require.NoError(t, err)
	assert.False(t, consumed, "a full refund releases the discount for reuse")

	earnings, err := f.store.Earnings().ListForEntity(ctx, entity)
	require.NoError(t, err)
	require.Len(t, earnings, 2)
	assert.Equal(t, models.EarningKindClawback, earnings[1].Kind)
	assert.True(t, earnings[1].Amount.Equal(amount(-12)))

	types := f.events.Types()
	assert.Contains(t, types, events.RefundCreated)
	assert.Contains(t, types, events.RefundProcessed)

	audit, err := f.store.Audit().ListForPayment(ctx, p.ID)
	require.NoError(t, err)
	var actions []string
	for _, a := range audit {
		actions = append(actions, a.Action)
	}
	assert.Contains(t, actions, "refund.created")
	assert.Contains(t, actions, "refund.processed")
	assert.Contains(t, actions, "payment.refunded")
}

func TestRefundExceedsRemaining(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, _ := f.walletPayment(t, 100, 60)
	entriesBefore := len(f.store.LedgerEntries())

	_, err := f.refunds.ProcessRefund(ctx, Request{
		PaymentID:      p.ID,
		WalletAmount:   amount(40),
		ExternalAmount: amount(30),
		Method:         models.RefundMethodManual,
	})
	assert.ErrorIs(t, err, domainErrors.ErrRefundExceedsRemaining)
	assert.Len(t, f.store.LedgerEntries(), entriesBefore)
	assert.Equal(t, models.PaymentStatusSucceeded, f.paymentStatus(t, p.ID))
}

func TestRefundPreconditionOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	captured, _ := f.walletPayment(t, 100, 60)

	ref := f.orderRef(10)
	pending, err := f.payments.Create(ctx, payment.CreateInput{
		TenantID: client.TenantID, ClientID: client.UserID,
		Kind: models.PaymentKindStandardOrder, Method: models.PaymentMethodWallet,
		Amount: amount(10), OrderID: &ref.ID,
	})
	require.NoError(t, err)

	disputed, _ := f.walletPayment(t, 0, 10)
	disputed.Status = models.PaymentStatusDisputed
	require.NoError(t, f.store.Payments().Update(ctx, disputed))

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"missing payment id", Request{WalletAmount: amount(1)}, domainErrors.ErrInvalidRefundRequest},
		{"overlong idempotency key", Request{PaymentID: captured.ID, WalletAmount: amount(1), IdempotencyKey: strings.Repeat("k", 65)}, domainErrors.ErrInvalidRefundRequest},
		{"unknown method", Request{PaymentID: captured.ID, WalletAmount: amount(1), Method: "cheque"}, domainErrors.ErrInvalidRefundMethod},
		{"missing payment", Request{PaymentID: 999, WalletAmount: amount(1)}, domainErrors.ErrPaymentNotFound},
		{"pending payment", Request{PaymentID: pending.ID, WalletAmount: amount(1)}, domainErrors.ErrPaymentNotSucceeded},
		{"disputed beats zero amount", Request{PaymentID: disputed.ID}, domainErrors.ErrPaymentDisputed},
		{"zero total", Request{PaymentID: captured.ID}, domainErrors.ErrInvalidRefundAmount},
		{"negative leg", Request{PaymentID: captured.ID, WalletAmount: amount(10), ExternalAmount: amount(-5), Method: models.RefundMethodManual}, domainErrors.ErrInvalidRefundAmount},
		{"wallet method with external leg", Request{PaymentID: captured.ID, ExternalAmount: amount(5)}, domainErrors.ErrInvalidRefundMethod},
		{"external leg without gateway reference", Request{PaymentID: captured.ID, ExternalAmount: amount(5), Method: models.RefundMethodExternal}, domainErrors.ErrInvalidRefundMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			if req.Method == "" {
				req.Method = models.RefundMethodWallet
			}
			refund, err := f.refunds.ProcessRefund(ctx, req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, refund)
		})
	}
}

func TestPartialThenFullRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, entity := f.walletPayment(t, 100, 60)

	_, err := f.refunds.ProcessRefund(ctx, Request{PaymentID: p.ID, WalletAmount: amount(20), Method: models.RefundMethodWallet})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, f.paymentStatus(t, p.ID))
	state, _ := f.store.EntityState(entity)
	assert.False(t, state.IsRefunded)

	_, err = f.refunds.ProcessRefund(ctx, Request{PaymentID: p.ID, WalletAmount: amount(41), Method: models.RefundMethodWallet})
	assert.ErrorIs(t, err, domainErrors.ErrRefundExceedsRemaining)

	_, err = f.refunds.ProcessRefund(ctx, Request{PaymentID: p.ID, WalletAmount: amount(40), Method: models.RefundMethodWallet})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFullyRefunded, f.paymentStatus(t, p.ID))
	assert.True(t, f.balance(t).Equal(amount(100)))

	_, err = f.refunds.ProcessRefund(ctx, Request{PaymentID: p.ID, WalletAmount: amount(1), Method: models.RefundMethodWallet})
	assert.ErrorIs(t, err, domainErrors.ErrRefundExceedsRemaining)
}

func TestRefundIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.gatewayPayment(t, "pi_idem", 50)

	f.gateway.On("RefundExternal", mock.Anything, mock.Anything).
		Return(&gateway.RefundResult{ExternalRefundID: "re_idem", Status: gateway.RefundPending}, nil).Once()

	req := Request{PaymentID: p.ID, ExternalAmount: amount(50), Method: models.RefundMethodExternal, IdempotencyKey: "req-1"}
	first, err := f.refunds.ProcessRefund(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusPending, first.Status)

	again, err := f.refunds.ProcessRefund(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = f.refunds.ConfirmExternalLeg(ctx, first.ID, "re_idem")
	require.NoError(t, err)

	_, err = f.refunds.ProcessRefund(ctx, req)
	assert.ErrorIs(t, err, domainErrors.ErrRefundAlreadyFinalized)
	f.gateway.AssertExpectations(t)
}

func TestExternalRefundSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.gatewayPayment(t, "pi_ok", 80)

	f.gateway.On("RefundExternal", mock.Anything, mock.MatchedBy(func(req gateway.RefundRequest) bool {
		return req.PaymentReference == "pi_ok" && req.Amount.Equal(amount(30)) && req.IdempotencyKey != ""
	})).Return(&gateway.RefundResult{ExternalRefundID: "re_ok", Status: gateway.RefundSucceeded}, nil).Once()

	refund, err := f.refunds.ProcessRefund(ctx, Request{PaymentID: p.ID, ExternalAmount: amount(30), Method: models.RefundMethodExternal})
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusProcessed, refund.Status)
	require.NotNil(t, refund.ExternalReference)
	assert.Equal(t, "re_ok", *refund.ExternalReference)
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, f.paymentStatus(t, p.ID))
	assert.True(t, f.balance(t).IsZero(), "external legs never touch the ledger")
	f.gateway.AssertExpectations(t)
}

func TestExternalRefundTransportErrorRetriesThenEscalates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.gatewayPayment(t, "pi_flaky", 60)

	var keys []string
	f.gateway.On("RefundExternal", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			keys = append(keys, args.Get(1).(gateway.RefundRequest).IdempotencyKey)
		}).
		Return(nil, &gateway.Error{Op: "refund", Code: "transport", Message: "connection reset", Retryable: true})

	refund, err := f.refunds.ProcessRefund(ctx, Request{
		PaymentID: p.ID, WalletAmount: amount(20), ExternalAmount: amount(40), Method: models.RefundMethodExternal,
	})
	require.NoError(t, err, "transient gateway errors are accepted as pending")
	assert.Equal(t, models.RefundStatusPending, refund.Status)
	assert.True(t, refund.WalletLegConfirmed)
	assert.Equal(t, 1, refund.ExternalAttempts)
	assert.Len(t, f.queue.Tasks(queue.TaskRetryExternalRefund), 1)
	assert.True(t, f.balance(t).Equal(amount(20)))

	// the pending refund reserves its full amount
	_, err = f.refunds.ProcessRefund(ctx, Request{PaymentID: p.ID, WalletAmount: amount(1), Method: models.RefundMethodWallet})
	assert.ErrorIs(t, err, domainErrors.ErrRefundExceedsRemaining)

	refund, err = f.refunds.AttemptExternalLeg(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusPending, refund.Status)

	refund, err = f.refunds.AttemptExternalLeg(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusFailed, refund.Status)
	assert.NotNil(t, refund.EscalatedAt)
	assert.Equal(t, 3, refund.ExternalAttempts)
	assert.Len(t, f.queue.Tasks(queue.TaskRetryExternalRefund), 2)
	assert.Contains(t, f.events.Types(), events.RefundEscalated)

	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[1], keys[2])

	// the credited wallet leg stays reserved after escalation
	_, err = f.refunds.ProcessRefund(ctx, Request{PaymentID: p.ID, WalletAmount: amount(41), Method: models.RefundMethodWallet})
	assert.ErrorIs(t, err, domainErrors.ErrRefundExceedsRemaining)

	_, err = f.refunds.AttemptExternalLeg(ctx, refund.ID)
	assert.ErrorIs(t, err, domainErrors.ErrRefundAlreadyFinalized)
}

func TestExternalRefundRejectedEscalatesImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.gatewayPayment(t, "pi_rejected", 60)

	f.gateway.On("RefundExternal", mock.Anything, mock.Anything).
		Return(nil, &gateway.Error{Op: "refund", Code: "charge_already_refunded", Message: "already refunded"}).Once()

	refund, err := f.refunds.ProcessRefund(ctx, Request{PaymentID: p.ID, ExternalAmount: amount(60), Method: models.RefundMethodExternal})
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusFailed, refund.Status)
	assert.NotNil(t, refund.EscalatedAt)
	assert.Empty(t, f.queue.Tasks(queue.TaskRetryExternalRefund))
	assert.Equal(t, models.PaymentStatusSucceeded, f.paymentStatus(t, p.ID))

	// nothing was credited, so the amount is refundable again
	f.gateway.On("RefundExternal", mock.Anything, mock.Anything).
		Return(&gateway.RefundResult{ExternalRefundID: "re_second", Status: gateway.RefundSucceeded}, nil).Once()
	refund, err = f.refunds.ProcessRefund(ctx, Request{PaymentID: p.ID, ExternalAmount: amount(60), Method: models.RefundMethodExternal})
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusProcessed, refund.Status)
	assert.Equal(t, models.PaymentStatusFullyRefunded, f.paymentStatus(t, p.ID))
}

func TestGatewayPendingAwaitsConfirmation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.gatewayPayment(t, "pi_async", 60)

	f.gateway.On("RefundExternal", mock.Anything, mock.Anything).
		Return(&gateway.RefundResult{ExternalRefundID: "re_async", Status: gateway.RefundPending}, nil).Once()

	refund, err := f.refunds.ProcessRefund(ctx, Request{PaymentID: p.ID, ExternalAmount: amount(60), Method: models.RefundMethodExternal})
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusPending, refund.Status)
	require.NotNil(t, refund.ExternalReference)

	found, err := f.store.Refunds().FindPendingByExternalReference(ctx, "re_async")
	require.NoError(t, err)
	assert.Equal(t, refund.ID, found.ID)

	f.gateway.On("GetRefund", mock.Anything, "re_async").
		Return(&gateway.RefundResult{ExternalRefundID: "re_async", Status: gateway.RefundPending}, nil).Once()
	polled, err := f.refunds.PollExternalLeg(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusPending, polled.Status)

	confirmed, err := f.refunds.ConfirmExternalLeg(ctx, refund.ID, "re_async")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusProcessed, confirmed.Status)
	assert.Equal(t, models.PaymentStatusFullyRefunded, f.paymentStatus(t, p.ID))

	_, err = f.refunds.ConfirmExternalLeg(ctx, refund.ID, "re_async")
	assert.ErrorIs(t, err, domainErrors.ErrRefundAlreadyFinalized)
	f.gateway.AssertExpectations(t)
}

func TestManualRefundSkipsGateway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, _ := f.walletPayment(t, 100, 60)

	refund, err := f.refunds.ProcessRefund(ctx, Request{
		PaymentID: p.ID, WalletAmount: amount(10), ExternalAmount: amount(50), Method: models.RefundMethodManual, Actor: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusProcessed, refund.Status)
	assert.True(t, refund.ExternalLegConfirmed)
	assert.Equal(t, models.PaymentStatusFullyRefunded, f.paymentStatus(t, p.ID))
	assert.True(t, f.balance(t).Equal(amount(50)))
	f.gateway.AssertNotCalled(t, "RefundExternal", mock.Anything, mock.Anything)
}

func TestConcurrentRefundsNeverExceedPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, _ := f.walletPayment(t, 100, 60)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.refunds.ProcessRefund(ctx, Request{PaymentID: p.ID, WalletAmount: amount(10), Method: models.RefundMethodWallet})
			if err == nil {
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, processed)
	sum, err := f.store.Refunds().SumProcessed(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(amount(60)))
	assert.True(t, f.balance(t).Equal(amount(100)))
}
