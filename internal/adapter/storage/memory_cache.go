package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// MemoryCache keeps the product listing and idempotency keys in process.
type MemoryCache struct {
	mu         sync.Mutex
	generation int64
	listing    []domain.Product
	listedAt   time.Time
	hasListing bool
	keys       map[string]time.Time
	listTTL    time.Duration
	now        func() time.Time
}

var (
	_ port.ProductListCache = (*MemoryCache)(nil)
	_ port.IdempotencyStore = (*MemoryCache)(nil)
)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		keys:    make(map[string]time.Time),
		listTTL: productListTTL,
		now:     time.Now,
	}
}

func (c *MemoryCache) GetProductList(ctx context.Context) ([]domain.Product, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasListing || c.now().Sub(c.listedAt) > c.listTTL {
		return nil, c.generation, false, nil
	}
	return append([]domain.Product(nil), c.listing...), c.generation, true, nil
}

func (c *MemoryCache) SetProductList(ctx context.Context, generation int64, products []domain.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return nil
	}
	c.listing = append([]domain.Product(nil), products...)
	c.listedAt = c.now()
	c.hasListing = true
	return nil
}

func (c *MemoryCache) InvalidateProductList(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.listing = nil
	c.hasListing = false
	return nil
}

func (c *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if expires, ok := c.keys[key]; ok && now.Before(expires) {
		return false, nil
	}
	c.keys[key] = now.Add(idempotencyKeyTTL)
	return true, nil
}
