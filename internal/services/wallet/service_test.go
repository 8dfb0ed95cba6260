package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domainErrors "paycore/internal/errors"
	"paycore/internal/events"
	"paycore/internal/models"
	"paycore/internal/repositories/cache"
	"paycore/internal/repositories/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetBalance(ctx context.Context, owner models.Owner) (decimal.Decimal, int64, bool, error) {
	args := m.Called(ctx, owner)
	return args.Get(0).(decimal.Decimal), args.Get(1).(int64), args.Bool(2), args.Error(3)
}

func (m *MockCache) SetBalance(ctx context.Context, owner models.Owner, balance decimal.Decimal, generation int64) (bool, error) {
	args := m.Called(ctx, owner, balance, generation)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) InvalidateBalance(ctx context.Context, owner models.Owner) error {
	return m.Called(ctx, owner).Error(0)
}

var owner = models.Owner{UserID: 1, TenantID: 1}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func newTestService(t *testing.T) (*Service, *events.Recorder) {
	t.Helper()
	recorder := &events.Recorder{}
	return NewService(memory.NewStore(), nil, recorder, nil, nil), recorder
}

func TestWalletService_CreditThenDebit(t *testing.T) {
	ctx := context.Background()
	svc, recorder := newTestService(t)

	_, err := svc.Credit(ctx, EntryRequest{Owner: owner, Amount: amount(100)})
	require.NoError(t, err)

	entry, err := svc.Debit(ctx, EntryRequest{Owner: owner, Amount: amount(60)}, ForbidOverdraft)
	require.NoError(t, err)
	assert.True(t, entry.Amount.Equal(amount(-60)))
	assert.Equal(t, models.EntryTypeDebit, entry.Type)

	balance, err := svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amount(40)), "balance %s", balance)

	_, err = svc.Debit(ctx, EntryRequest{Owner: owner, Amount: amount(50)}, ForbidOverdraft)
	assert.ErrorIs(t, err, domainErrors.ErrInsufficientBalance)
	assert.Equal(t, "LEDGER_INSUFFICIENT_FUNDS", domainErrors.Code(err))

	balance, err = svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amount(40)))

	assert.Equal(t, []events.Type{events.WalletCredited, events.WalletDebited}, recorder.Types())
}

func TestWalletService_AllowOverdraft(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Debit(ctx, EntryRequest{Owner: owner, Amount: amount(25)}, AllowOverdraft)
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amount(-25)))
}

func TestWalletService_InvalidAmount(t *testing.T) {
	ctx := context.Background()
	svc, recorder := newTestService(t)

	tests := []struct {
		name   string
		amount decimal.Decimal
	}{
		{"zero", decimal.Zero},
		{"negative", amount(-5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Credit(ctx, EntryRequest{Owner: owner, Amount: tt.amount})
			assert.ErrorIs(t, err, domainErrors.ErrInvalidEntryAmount)

			_, err = svc.Debit(ctx, EntryRequest{Owner: owner, Amount: tt.amount}, AllowOverdraft)
			assert.ErrorIs(t, err, domainErrors.ErrInvalidEntryAmount)
		})
	}
	assert.Empty(t, recorder.Events())
}

func TestWalletService_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Credit(ctx, EntryRequest{Owner: owner, Amount: amount(100)})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Debit(ctx, EntryRequest{Owner: owner, Amount: amount(10)}, ForbidOverdraft); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	balance, err := svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestWalletService_BalanceCache(t *testing.T) {
	ctx := context.Background()
	cache := new(MockCache)
	svc := NewService(memory.NewStore(), cache, nil, nil, nil)

	cache.On("InvalidateBalance", mock.Anything, owner).Return(nil).Once()
	_, err := svc.Credit(ctx, EntryRequest{Owner: owner, Amount: amount(30)})
	require.NoError(t, err)

	cache.On("GetBalance", mock.Anything, owner).Return(decimal.Zero, int64(4), false, nil).Once()
	cache.On("SetBalance", mock.Anything, owner, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(amount(30))
	}), int64(4)).Return(true, nil).Once()

	balance, err := svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amount(30)))

	cache.On("GetBalance", mock.Anything, owner).Return(amount(30), int64(4), true, nil).Once()
	balance, err = svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amount(30)))

	// A failed read gives no generation, so the sum is not written back.
	cache.On("GetBalance", mock.Anything, owner).Return(decimal.Zero, int64(0), false, errors.New("connection reset")).Once()
	balance, err = svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amount(30)))

	cache.AssertExpectations(t)
}

// writeBeforeSet commits a ledger write between the balance read and the
// cache write-back, the window a concurrent credit can land in.
type writeBeforeSet struct {
	*cache.CacheService
	write func()
}

func (c *writeBeforeSet) SetBalance(ctx context.Context, owner models.Owner, balance decimal.Decimal, generation int64) (bool, error) {
	if w := c.write; w != nil {
		c.write = nil
		w()
	}
	return c.CacheService.SetBalance(ctx, owner, balance, generation)
}

func TestWalletService_StaleBalanceIsNotCached(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := &writeBeforeSet{CacheService: cache.NewCacheService(client, time.Minute)}
	svc := NewService(memory.NewStore(), c, nil, nil, nil)

	_, err := svc.Credit(ctx, EntryRequest{Owner: owner, Amount: amount(30)})
	require.NoError(t, err)

	c.write = func() {
		_, err := svc.Credit(ctx, EntryRequest{Owner: owner, Amount: amount(20)})
		require.NoError(t, err)
	}
	balance, err := svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amount(30)), "the read itself predates the credit")

	_, _, found, err := c.GetBalance(ctx, owner)
	require.NoError(t, err)
	assert.False(t, found, "a sum read before the credit must not be cached")

	balance, err = svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amount(50)))

	cached, _, found, err := c.GetBalance(ctx, owner)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, cached.Equal(amount(50)))
}

func TestWalletService_Entries(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Entries(ctx, owner, 10, 0)
	assert.ErrorIs(t, err, domainErrors.ErrWalletNotFound)

	_, err = svc.Credit(ctx, EntryRequest{Owner: owner, Amount: amount(10), Reference: "first"})
	require.NoError(t, err)
	_, err = svc.Credit(ctx, EntryRequest{Owner: owner, Amount: amount(20), Reference: "second"})
	require.NoError(t, err)

	entries, err := svc.Entries(ctx, owner, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Reference)
}
