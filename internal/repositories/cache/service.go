package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"paycore/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCacheService(client *redis.Client, defaultTTL time.Duration) *CacheService {
	return &CacheService{
		client: client,
		ttl:    defaultTTL,
	}
}

// Base operations
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

func (s *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cache value: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Key generation
func (s *CacheService) GenerateKey(entityType, keyType string, value interface{}) string {
	return fmt.Sprintf("%s:%s:%v", entityType, keyType, value)
}

// Balance caching. Entries are only ever a read-through copy of the ledger
// sum. Each owner also has a generation counter that every committed ledger
// write bumps; a read-through value is stored only if the generation it was
// read under is still current, so a sum computed before a write can never
// overwrite the invalidation that followed it.
func (s *CacheService) balanceKey(owner models.Owner) string {
	return s.GenerateKey("wallet", "balance", owner)
}

func (s *CacheService) generationKey(owner models.Owner) string {
	return s.GenerateKey("wallet", "balance_gen", owner)
}

// KEYS[1] generation, KEYS[2] balance; ARGV generation, value, ttl in ms.
var setBalanceScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// GetBalance returns the cached balance with the owner's current generation.
// A miss still reports the generation SetBalance must be given.
func (s *CacheService) GetBalance(ctx context.Context, owner models.Owner) (decimal.Decimal, int64, bool, error) {
	vals, err := s.client.MGet(ctx, s.generationKey(owner), s.balanceKey(owner)).Result()
	if err != nil {
		return decimal.Zero, 0, false, fmt.Errorf("failed to get cache value: %w", err)
	}

	var generation int64
	if raw, ok := vals[0].(string); ok {
		if generation, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return decimal.Zero, 0, false, fmt.Errorf("invalid balance generation %q: %w", raw, err)
		}
	}
	raw, ok := vals[1].(string)
	if !ok {
		return decimal.Zero, generation, false, nil
	}
	var balance decimal.Decimal
	if err := json.Unmarshal([]byte(raw), &balance); err != nil {
		return decimal.Zero, generation, false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return balance, generation, true, nil
}

// SetBalance stores balance only while generation is still current. It
// reports whether the value was stored.
func (s *CacheService) SetBalance(ctx context.Context, owner models.Owner, balance decimal.Decimal, generation int64) (bool, error) {
	data, err := json.Marshal(balance)
	if err != nil {
		return false, fmt.Errorf("failed to marshal cache value: %w", err)
	}
	stored, err := setBalanceScript.Run(ctx, s.client,
		[]string{s.generationKey(owner), s.balanceKey(owner)},
		generation, string(data), s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to set balance: %w", err)
	}
	return stored == 1, nil
}

// InvalidateBalance bumps the owner's generation and drops the cached value
// in one transaction.
func (s *CacheService) InvalidateBalance(ctx context.Context, owner models.Owner) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, s.generationKey(owner))
		pipe.Del(ctx, s.balanceKey(owner))
		return nil
	})
	return err
}

// HealthCheck pings Redis.
func (s *CacheService) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

// GetStats returns the client pool statistics.
func (s *CacheService) GetStats() *redis.PoolStats {
	return s.client.PoolStats()
}
