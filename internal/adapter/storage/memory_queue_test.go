package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

func TestMemoryQueue_DispatchNeverBlocks(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Dispatch(ctx, domain.OrderConfirmedEvent{OrderID: 1}))
	assert.ErrorIs(t, q.Dispatch(ctx, domain.OrderConfirmedEvent{OrderID: 2}), ErrQueueFull)
	assert.Equal(t, 1, q.Len())

	evt, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), evt.OrderID)
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Dispatch(ctx, domain.OrderConfirmedEvent{}), ErrQueueClosed)
	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueue_ReceiveHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryCache_GenerationGuard(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, gen, hit, _ := c.GetProductList(ctx)
	assert.False(t, hit)

	require.NoError(t, c.InvalidateProductList(ctx))
	require.NoError(t, c.SetProductList(ctx, gen, []domain.Product{{ID: 1}}))
	_, _, hit, _ = c.GetProductList(ctx)
	assert.False(t, hit, "write from before invalidation must be dropped")

	_, gen, _, _ = c.GetProductList(ctx)
	require.NoError(t, c.SetProductList(ctx, gen, []domain.Product{{ID: 1, Price: decimal.NewFromInt(2)}}))
	products, _, hit, _ := c.GetProductList(ctx)
	assert.True(t, hit)
	assert.Len(t, products, 1)
}

func TestMemoryCache_ListingExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.SetProductList(ctx, 0, []domain.Product{{ID: 1}})
	now = now.Add(productListTTL + time.Second)

	_, _, hit, _ := c.GetProductList(ctx)
	assert.False(t, hit)
}

func TestMemoryCache_SetIdempotency(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	ok, _ := c.SetIdempotency(ctx, "k")
	assert.True(t, ok)
	ok, _ = c.SetIdempotency(ctx, "k")
	assert.False(t, ok)
}
