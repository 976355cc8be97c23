package wallet

import (
	"context"
	"sync"
)

type memoryCache struct {
	mu      sync.RWMutex
	storage map[string]Balance
}

// NewMemoryCache constructs an in-process balance cache for development and tests.
func NewMemoryCache() BalanceCache {
	return &memoryCache{storage: make(map[string]Balance)}
}

func (c *memoryCache) Get(_ context.Context, accountID string) (Balance, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.storage[accountID]
	return b, ok, nil
}

func (c *memoryCache) Put(_ context.Context, b Balance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storage[b.AccountID] = b
	return nil
}
