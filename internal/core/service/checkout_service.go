package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const sideEffectTimeout = 2 * time.Second

// CheckoutMetrics records one observation per checkout attempt.
type CheckoutMetrics interface {
	ObserveCheckout(outcome string, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCheckout(string, time.Duration) {}

// ConflictRetry is the opt-in policy for resubmitting a checkout that lost
// an optimistic lock. Retries == 0 keeps the fail-fast behaviour.
type ConflictRetry struct {
	Retries         uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type CheckoutOption func(*CheckoutService)

func WithLogger(logger *slog.Logger) CheckoutOption {
	return func(s *CheckoutService) { s.logger = logger }
}

func WithTracer(tracer trace.Tracer) CheckoutOption {
	return func(s *CheckoutService) { s.tracer = tracer }
}

func WithMetrics(metrics CheckoutMetrics) CheckoutOption {
	return func(s *CheckoutService) { s.metrics = metrics }
}

func WithConflictRetry(retry ConflictRetry) CheckoutOption {
	return func(s *CheckoutService) { s.retry = retry }
}

// CheckoutService turns a cart into a confirmed order. All reservation and
// pricing happens inside one store transaction.
type CheckoutService struct {
	store      port.Store
	cache      port.ProductListCache
	dispatcher port.NotificationDispatcher
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    CheckoutMetrics
	retry      ConflictRetry
	now        func() time.Time
}

func NewCheckoutService(store port.Store, cache port.ProductListCache, dispatcher port.NotificationDispatcher, opts ...CheckoutOption) *CheckoutService {
	s := &CheckoutService{
		store:      store,
		cache:      cache,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		tracer:     otel.Tracer("storefront/checkout"),
		metrics:    noopMetrics{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CheckoutService) Checkout(ctx context.Context, customer domain.Customer) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout", trace.WithAttributes(attribute.Int64("user_id", customer.ID)))
	defer span.End()

	start := time.Now()
	order, err := s.checkoutWithPolicy(ctx, customer.ID)
	s.metrics.ObserveCheckout(outcomeLabel(err), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.InfoContext(ctx, "checkout aborted", "user_id", customer.ID, "err", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("order_id", order.ID))
	s.logger.InfoContext(ctx, "checkout confirmed",
		"order_id", order.ID,
		"user_id", customer.ID,
		"items", len(order.Items),
		"total", order.TotalPrice.StringFixed(2),
	)

	s.afterCommit(ctx, customer, order)
	return order, nil
}

// GetOrder returns one of the customer's orders with its line items.
func (s *CheckoutService) GetOrder(ctx context.Context, customer domain.Customer, orderID int64) (*domain.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeError("get order", err)
	}
	if order == nil || (order.UserID != customer.ID && !customer.IsAdmin()) {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *CheckoutService) checkoutWithPolicy(ctx context.Context, userID int64) (*domain.Order, error) {
	if s.retry.Retries == 0 {
		return s.attempt(ctx, userID)
	}

	b := backoff.NewExponentialBackOff()
	if s.retry.InitialInterval > 0 {
		b.InitialInterval = s.retry.InitialInterval
	}
	if s.retry.MaxInterval > 0 {
		b.MaxInterval = s.retry.MaxInterval
	}

	attempts := 0
	return backoff.Retry(ctx, func() (*domain.Order, error) {
		attempts++
		order, err := s.attempt(ctx, userID)
		if err == nil {
			return order, nil
		}
		if !Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		s.logger.DebugContext(ctx, "checkout lost optimistic lock", "user_id", userID, "attempt", attempts, "err", err)
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.retry.Retries+1))
}

// attempt runs one checkout. Either the whole order commits or the store is
// left exactly as it was.
func (s *CheckoutService) attempt(ctx context.Context, userID int64) (*domain.Order, error) {
	var confirmed *domain.Order

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.CheckoutTx) error {
		snapshot, err := tx.SnapshotCart(ctx, userID)
		if err != nil {
			return storeError("snapshot cart", err)
		}
		if snapshot.Empty() {
			return ErrEmptyCart
		}

		handle, err := tx.CreateOrder(ctx, userID)
		if err != nil {
			return storeError("create order", err)
		}

		order, err := s.reserveAndPrice(ctx, tx, handle, snapshot)
		if err != nil {
			if discardErr := tx.Discard(ctx, handle); discardErr != nil {
				s.logger.WarnContext(ctx, "discard transient order", "order_id", handle.OrderID, "err", discardErr)
			}
			return err
		}

		if err := tx.ClearCart(ctx, snapshot.CartID); err != nil {
			return storeError("clear cart", err)
		}

		confirmed = order
		return nil
	})
	if err != nil {
		return nil, storeError("commit checkout", err)
	}
	return confirmed, nil
}

func (s *CheckoutService) reserveAndPrice(ctx context.Context, tx port.CheckoutTx, handle domain.OrderHandle, snapshot domain.CartSnapshot) (*domain.Order, error) {
	span := trace.SpanFromContext(ctx)
	total := decimal.Zero
	items := make([]domain.OrderItem, 0, len(snapshot.Lines))

	for i, line := range snapshot.Lines {
		product, err := tx.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, storeError("read product", err)
		}
		if product == nil {
			return nil, &ProductError{Err: ErrProductNotFound, ProductID: line.ProductID}
		}

		outcome, err := tx.ConditionalDecrement(ctx, product.ID, product.Version, line.Quantity)
		if err != nil {
			return nil, storeError("decrement stock", err)
		}

		switch o := outcome.(type) {
		case domain.DecrementSuccess:
			if err := tx.AppendItem(ctx, handle, product.ID, line.Quantity, o.Price); err != nil {
				return nil, storeError("append order item", err)
			}
			item := domain.OrderItem{
				OrderID:         handle.OrderID,
				ProductID:       product.ID,
				Quantity:        line.Quantity,
				PriceAtPurchase: o.Price,
			}
			items = append(items, item)
			total = total.Add(item.Subtotal())
			span.AddEvent("line reserved", trace.WithAttributes(
				attribute.Int("line", i),
				attribute.Int64("product_id", product.ID),
				attribute.Int64("new_version", o.NewVersion),
			))
		case domain.DecrementNotFound:
			return nil, &ProductError{Err: ErrProductNotFound, ProductID: product.ID}
		case domain.DecrementInsufficientStock:
			return nil, &ProductError{Err: ErrOutOfStock, ProductID: product.ID, Name: product.Name}
		case domain.DecrementConflict:
			return nil, &ProductError{Err: ErrStockChanged, ProductID: product.ID, Name: product.Name}
		default:
			return nil, fmt.Errorf("%w: unexpected decrement outcome %T", ErrStoreUnavailable, outcome)
		}
	}

	order, err := tx.Finalize(ctx, handle, total)
	if err != nil {
		return nil, storeError("finalize order", err)
	}
	order.Items = items
	return order, nil
}

// afterCommit runs the best-effort side effects. Their failures are logged
// and never reach the caller.
func (s *CheckoutService) afterCommit(ctx context.Context, customer domain.Customer, order *domain.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if err := s.cache.InvalidateProductList(ctx); err != nil {
		s.logger.WarnContext(ctx, "invalidate product listing", "order_id", order.ID, "err", err)
	}

	event := domain.OrderConfirmedEvent{
		EventID:    uuid.NewString(),
		Type:       domain.EventOrderConfirmed,
		OrderID:    order.ID,
		UserID:     customer.ID,
		UserEmail:  customer.Email,
		TotalPrice: order.TotalPrice,
		OccurredAt: s.now().UTC(),
	}
	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "dispatch order confirmation", "order_id", order.ID, "err", err)
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrStockChanged):
		return "stock_changed"
	default:
		return "store_unavailable"
	}
}
