package service

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type CartService struct {
	carts   port.CartRepository
	catalog port.CatalogRepository
}

func NewCartService(carts port.CartRepository, catalog port.CatalogRepository) *CartService {
	return &CartService{carts: carts, catalog: catalog}
}

// AddItem creates the cart on first use and merges repeated products into
// one line.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, invalidArgument("quantity must be positive")
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, storeError("get product", err)
	}
	if product == nil {
		return nil, &ProductError{Err: ErrProductNotFound, ProductID: productID}
	}

	cart, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, storeError("get or create cart", err)
	}
	if err := s.carts.AddItem(ctx, cart.ID, productID, quantity); err != nil {
		return nil, storeError("add cart item", err)
	}

	return s.ViewCart(ctx, userID)
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID int64) error {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return storeError("get cart", err)
	}
	if cart == nil {
		return ErrCartNotFound
	}
	if err := s.carts.RemoveItem(ctx, cart.ID, productID); err != nil {
		return storeError("remove cart item", err)
	}
	return nil
}

// ViewCart returns an empty cart with ID 0 for a user who never added
// anything.
func (s *CartService) ViewCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, storeError("get cart", err)
	}
	if cart == nil {
		return &domain.Cart{UserID: userID, Items: []domain.CartItem{}}, nil
	}
	return cart, nil
}
