package port

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

// ErrTxConflict marks a transaction that lost to a concurrent writer: a
// stale version found at commit, a deadlock victim or a serialization
// failure. Resubmitting with fresh reads may succeed.
var ErrTxConflict = errors.New("transaction conflict")

// InventoryLedger owns product stock and version. ConditionalDecrement is
// the only write path for either field.
type InventoryLedger interface {
	// GetProduct returns nil, nil when the product does not exist
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)

	// ConditionalDecrement removes amount units if the product is still at
	// expectedVersion. It never retries on conflict.
	ConditionalDecrement(ctx context.Context, productID, expectedVersion int64, amount int) (domain.DecrementOutcome, error)
}

// OrderLedger is the append-only writer for orders and their items.
type OrderLedger interface {
	// CreateOrder inserts a PROCESSING order with a zero total
	CreateOrder(ctx context.Context, userID int64) (domain.OrderHandle, error)

	AppendItem(ctx context.Context, order domain.OrderHandle, productID int64, quantity int, unitPrice decimal.Decimal) error

	// Finalize sets the total and moves the order to CONFIRMED. It fails for
	// an order that is not PROCESSING.
	Finalize(ctx context.Context, order domain.OrderHandle, total decimal.Decimal) (*domain.Order, error)

	// Discard removes a PROCESSING order and its items
	Discard(ctx context.Context, order domain.OrderHandle) error
}

type OrderReader interface {
	// GetOrder returns the order with its items, or nil, nil when missing
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
}

type CartSnapshotReader interface {
	// SnapshotCart returns the user's cart lines in insertion order. A user
	// without a cart gets an empty snapshot.
	SnapshotCart(ctx context.Context, userID int64) (domain.CartSnapshot, error)
}

type CartClearer interface {
	ClearCart(ctx context.Context, cartID int64) error
}

type CartRepository interface {
	CartSnapshotReader
	CartClearer

	GetOrCreateCart(ctx context.Context, userID int64) (*domain.Cart, error)

	// GetCart returns the cart with items and their products, or nil, nil
	GetCart(ctx context.Context, userID int64) (*domain.Cart, error)

	// AddItem inserts the line or increments an existing one
	AddItem(ctx context.Context, cartID, productID int64, quantity int) error

	RemoveItem(ctx context.Context, cartID, productID int64) error
}

type CatalogRepository interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)

	// CreateProduct fills in ID, Version and timestamps
	CreateProduct(ctx context.Context, product *domain.Product) error

	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)

	// UpdatePrice reports false when the product does not exist
	UpdatePrice(ctx context.Context, productID int64, price decimal.Decimal) (bool, error)

	DeleteProduct(ctx context.Context, productID int64) (bool, error)
}

// CheckoutTx is the set of repositories bound to one transaction.
type CheckoutTx interface {
	CartSnapshotReader
	CartClearer
	InventoryLedger
	OrderLedger
}

type Store interface {
	CatalogRepository
	CartRepository
	OrderReader

	// WithinTx runs fn in a single all-or-nothing transaction. Any error
	// returned by fn rolls back every write made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx CheckoutTx) error) error

	Ping(ctx context.Context) error
}
