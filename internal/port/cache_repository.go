package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type ProductListCache interface {
	// GetProductList returns the cached unfiltered listing. On a miss it
	// returns the current generation to hand back to SetProductList.
	GetProductList(ctx context.Context) (products []domain.Product, generation int64, hit bool, err error)

	// SetProductList stores the listing unless it was invalidated after
	// generation was read
	SetProductList(ctx context.Context, generation int64, products []domain.Product) error

	InvalidateProductList(ctx context.Context) error
}

type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)
}
