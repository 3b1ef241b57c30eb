package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type NewProduct struct {
	Name          string
	Category      string
	Price         decimal.Decimal
	StockQuantity int
}

// CatalogService serves product listings through a read-through cache of
// the unfiltered listing.
type CatalogService struct {
	catalog port.CatalogRepository
	cache   port.ProductListCache
	logger  *slog.Logger
}

func NewCatalogService(catalog port.CatalogRepository, cache port.ProductListCache, logger *slog.Logger) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{catalog: catalog, cache: cache, logger: logger}
}

func (s *CatalogService) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	if !filter.SortByPrice.Valid() {
		return nil, invalidArgument("sort_by_price must be asc or desc, got %q", filter.SortByPrice)
	}

	cacheable := filter.Unfiltered()
	var generation int64
	if cacheable {
		products, gen, hit, err := s.cache.GetProductList(ctx)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "read product listing cache", "err", err)
			cacheable = false
		case hit:
			return products, nil
		default:
			generation = gen
		}
	}

	products, err := s.catalog.ListProducts(ctx, filter)
	if err != nil {
		return nil, storeError("list products", err)
	}

	if cacheable {
		if err := s.cache.SetProductList(ctx, generation, products); err != nil {
			s.logger.WarnContext(ctx, "write product listing cache", "err", err)
		}
	}
	return products, nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, customer domain.Customer, input NewProduct) (*domain.Product, error) {
	if !customer.IsAdmin() {
		return nil, ErrForbidden
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalidArgument("name is required")
	}
	if err := validatePrice(input.Price); err != nil {
		return nil, err
	}
	if input.StockQuantity < 0 {
		return nil, invalidArgument("stock_quantity must not be negative")
	}
	category := strings.TrimSpace(input.Category)
	if category == "" {
		category = domain.DefaultCategory
	}

	product := &domain.Product{
		Name:          name,
		Category:      category,
		Price:         input.Price,
		StockQuantity: input.StockQuantity,
	}
	if err := s.catalog.CreateProduct(ctx, product); err != nil {
		return nil, storeError("create product", err)
	}

	s.invalidate(ctx)
	return product, nil
}

// UpdatePrice changes the list price. Stock and version are untouched and
// confirmed orders keep the price they were bought at.
func (s *CatalogService) UpdatePrice(ctx context.Context, customer domain.Customer, productID int64, price decimal.Decimal) error {
	if !customer.IsAdmin() {
		return ErrForbidden
	}
	if err := validatePrice(price); err != nil {
		return err
	}

	found, err := s.catalog.UpdatePrice(ctx, productID, price)
	if err != nil {
		return storeError("update price", err)
	}
	if !found {
		return &ProductError{Err: ErrProductNotFound, ProductID: productID}
	}

	s.invalidate(ctx)
	return nil
}

func (s *CatalogService) DeleteProduct(ctx context.Context, customer domain.Customer, productID int64) error {
	if !customer.IsAdmin() {
		return ErrForbidden
	}

	found, err := s.catalog.DeleteProduct(ctx, productID)
	if err != nil {
		return storeError("delete product", err)
	}
	if !found {
		return &ProductError{Err: ErrProductNotFound, ProductID: productID}
	}

	s.invalidate(ctx)
	return nil
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if err := s.cache.InvalidateProductList(ctx); err != nil {
		s.logger.WarnContext(ctx, "invalidate product listing", "err", err)
	}
}

func validatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return invalidArgument("price must not be negative")
	}
	if !price.Equal(price.Truncate(domain.PriceScale)) {
		return invalidArgument("price must have at most %d decimal places", domain.PriceScale)
	}
	return nil
}
