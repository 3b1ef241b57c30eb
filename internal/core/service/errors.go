package service

import (
	"errors"
	"fmt"

	"github.com/rl1809/storefront/internal/port"
)

var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrProductNotFound  = errors.New("product not found")
	ErrOutOfStock       = errors.New("out of stock")
	ErrStockChanged     = errors.New("stock changed")
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrCartNotFound    = errors.New("cart not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ProductError names the product a checkout failed on. It unwraps to one of
// ErrProductNotFound, ErrOutOfStock or ErrStockChanged.
type ProductError struct {
	Err       error
	ProductID int64
	Name      string
}

func (e *ProductError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%v: %s (product %d)", e.Err, e.Name, e.ProductID)
	}
	return fmt.Sprintf("%v: product %d", e.Err, e.ProductID)
}

func (e *ProductError) Unwrap() error {
	return e.Err
}

// Retryable reports whether resubmitting the same checkout may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrStockChanged)
}

func storeError(op string, err error) error {
	if err == nil || isCheckoutError(err) {
		return err
	}
	if errors.Is(err, port.ErrTxConflict) {
		return fmt.Errorf("%w: %s: %w", ErrStockChanged, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func isCheckoutError(err error) bool {
	return errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrStockChanged) ||
		errors.Is(err, ErrStoreUnavailable)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
