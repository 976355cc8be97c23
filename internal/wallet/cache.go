package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletcore/internal/money"
)

// BalanceCache keeps the last balance read from the store for display when
// the store is unreachable. It is never consulted by transfers.
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (Balance, bool, error)
	Put(ctx context.Context, balance Balance) error
}

const balanceKeyPrefix = "wallet:balance:"

type cachedBalance struct {
	Minor int64     `json:"minor"`
	AsOf  time.Time `json:"as_of"`
}

// RedisBalanceCache stores last-known balances in Redis.
type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBalanceCache builds a cache whose entries expire after ttl.
func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) *RedisBalanceCache {
	return &RedisBalanceCache{client: client, ttl: ttl}
}

// Get returns the cached balance, reporting false when there is none.
func (c *RedisBalanceCache) Get(ctx context.Context, accountID string) (Balance, bool, error) {
	raw, err := c.client.Get(ctx, balanceKeyPrefix+accountID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, fmt.Errorf("read cached balance: %w", err)
	}
	var cb cachedBalance
	if err := json.Unmarshal(raw, &cb); err != nil {
		return Balance{}, false, fmt.Errorf("decode cached balance: %w", err)
	}
	return Balance{AccountID: accountID, Amount: money.FromMinor(cb.Minor), AsOf: cb.AsOf}, true, nil
}

// Put records b as the latest known balance.
func (c *RedisBalanceCache) Put(ctx context.Context, b Balance) error {
	raw, err := json.Marshal(cachedBalance{Minor: b.Amount.Minor(), AsOf: b.AsOf})
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, balanceKeyPrefix+b.AccountID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache balance: %w", err)
	}
	return nil
}
