package auth

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type customerKey struct{}

func NewContext(ctx context.Context, customer domain.Customer) context.Context {
	return context.WithValue(ctx, customerKey{}, customer)
}

func FromContext(ctx context.Context) (domain.Customer, bool) {
	customer, ok := ctx.Value(customerKey{}).(domain.Customer)
	return customer, ok
}
