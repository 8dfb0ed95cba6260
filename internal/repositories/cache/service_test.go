package cache

import (
	"context"
	"testing"
	"time"

	"paycore/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	svc := NewCacheService(client, time.Minute)
	owner := models.Owner{UserID: 42, TenantID: 1}
	other := models.Owner{UserID: 42, TenantID: 2}

	_, gen, found, err := svc.GetBalance(ctx, owner)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, gen)

	stored, err := svc.SetBalance(ctx, owner, decimal.RequireFromString("12.50"), gen)
	require.NoError(t, err)
	require.True(t, stored)
	balance, _, found, err := svc.GetBalance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, balance.Equal(decimal.RequireFromString("12.50")))

	_, _, found, err = svc.GetBalance(ctx, other)
	require.NoError(t, err)
	assert.False(t, found, "tenants must not share a cache key")

	mr.FastForward(2 * time.Minute)
	_, _, found, err = svc.GetBalance(ctx, owner)
	require.NoError(t, err)
	assert.False(t, found, "entry must expire after the TTL")

	require.NoError(t, svc.InvalidateBalance(ctx, owner))
	_, gen, found, err = svc.GetBalance(ctx, owner)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(1), gen)

	require.NoError(t, svc.HealthCheck(ctx))
}

func TestSetBalanceRejectsStaleGeneration(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	svc := NewCacheService(client, time.Minute)
	owner := models.Owner{UserID: 7, TenantID: 1}

	_, readGen, _, err := svc.GetBalance(ctx, owner)
	require.NoError(t, err)

	// A ledger write commits after the read above.
	require.NoError(t, svc.InvalidateBalance(ctx, owner))

	stored, err := svc.SetBalance(ctx, owner, decimal.NewFromInt(10), readGen)
	require.NoError(t, err)
	assert.False(t, stored)
	_, gen, found, err := svc.GetBalance(ctx, owner)
	require.NoError(t, err)
	assert.False(t, found)

	stored, err = svc.SetBalance(ctx, owner, decimal.NewFromInt(25), gen)
	require.NoError(t, err)
	assert.True(t, stored)
	balance, _, found, err := svc.GetBalance(ctx, owner)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, balance.Equal(decimal.NewFromInt(25)))

	ttl := mr.TTL("wallet:balance:" + owner.String())
	assert.Greater(t, ttl, time.Duration(0))
}
