package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var ErrOrderNotProcessing = errors.New("order is not processing")

type memCart struct {
	id     int64
	userID int64
	items  []domain.CartItem
}

// MemoryStore is an in-process Store. A transaction buffers its stock
// decrements and commit re-checks every touched product version under one
// mutex, so checkouts never wait on each other and the loser of a race
// sees ErrTxConflict. Nothing a transaction writes is visible before commit.
type MemoryStore struct {
	mu         sync.Mutex
	products   map[int64]domain.Product
	carts      map[int64]*memCart
	cartByUser map[int64]int64
	orders     map[int64]domain.Order
	seq        struct{ product, cart, cartItem, order, orderItem int64 }
	now        func() time.Time
}

var _ port.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:   make(map[int64]domain.Product),
		carts:      make(map[int64]*memCart),
		cartByUser: make(map[int64]int64),
		orders:     make(map[int64]domain.Order),
		now:        time.Now,
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Catalog

func (m *MemoryStore) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	products := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		products = append(products, p)
	}

	sort.Slice(products, func(i, j int) bool {
		a, b := products[i], products[j]
		switch filter.SortByPrice {
		case domain.PriceSortAsc:
			if !a.Price.Equal(b.Price) {
				return a.Price.LessThan(b.Price)
			}
		case domain.PriceSortDesc:
			if !a.Price.Equal(b.Price) {
				return a.Price.GreaterThan(b.Price)
			}
		}
		return a.ID < b.ID
	})
	return products, nil
}

func (m *MemoryStore) CreateProduct(ctx context.Context, product *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq.product++
	now := m.now()
	product.ID = m.seq.product
	product.Version = 1
	product.CreatedAt = now
	product.UpdatedAt = now
	m.products[product.ID] = *product
	return nil
}

func (m *MemoryStore) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) UpdatePrice(ctx context.Context, productID int64, price decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return false, nil
	}
	p.Price = price
	p.UpdatedAt = m.now()
	m.products[productID] = p
	return true, nil
}

func (m *MemoryStore) DeleteProduct(ctx context.Context, productID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[productID]; !ok {
		return false, nil
	}
	delete(m.products, productID)
	return true, nil
}

// Carts

func (m *MemoryStore) GetOrCreateCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.cartByUser[userID]; ok {
		return m.cartLocked(m.carts[id]), nil
	}

	m.seq.cart++
	c := &memCart{id: m.seq.cart, userID: userID}
	m.carts[c.id] = c
	m.cartByUser[userID] = c.id
	return m.cartLocked(c), nil
}

func (m *MemoryStore) GetCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.cartByUser[userID]
	if !ok {
		return nil, nil
	}
	return m.cartLocked(m.carts[id]), nil
}

func (m *MemoryStore) cartLocked(c *memCart) *domain.Cart {
	cart := &domain.Cart{ID: c.id, UserID: c.userID, Items: make([]domain.CartItem, 0, len(c.items))}
	for _, item := range c.items {
		if p, ok := m.products[item.ProductID]; ok {
			item.Product = &p
		}
		cart.Items = append(cart.Items, item)
	}
	return cart
}

func (m *MemoryStore) AddItem(ctx context.Context, cartID, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[cartID]
	if !ok {
		return fmt.Errorf("cart %d does not exist", cartID)
	}
	for i := range c.items {
		if c.items[i].ProductID == productID {
			c.items[i].Quantity += quantity
			return nil
		}
	}
	m.seq.cartItem++
	c.items = append(c.items, domain.CartItem{
		ID:        m.seq.cartItem,
		CartID:    cartID,
		ProductID: productID,
		Quantity:  quantity,
	})
	return nil
}

func (m *MemoryStore) RemoveItem(ctx context.Context, cartID, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[cartID]
	if !ok {
		return nil
	}
	for i := range c.items {
		if c.items[i].ProductID == productID {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) ClearCart(ctx context.Context, cartID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.carts[cartID]; ok {
		c.items = nil
	}
	return nil
}

func (m *MemoryStore) SnapshotCart(ctx context.Context, userID int64) (domain.CartSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := domain.CartSnapshot{UserID: userID, TakenAt: m.now()}
	id, ok := m.cartByUser[userID]
	if !ok {
		return snapshot, nil
	}
	c := m.carts[id]
	snapshot.CartID = c.id
	for _, item := range c.items {
		snapshot.Lines = append(snapshot.Lines, domain.CartLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return snapshot, nil
}

// Orders

func (m *MemoryStore) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return &o, nil
}

// OrderCount reports how many committed orders exist.
func (m *MemoryStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.CheckoutTx) error) error {
	tx := &memTx{
		store:        m,
		products:     make(map[int64]domain.Product),
		baseVersions: make(map[int64]int64),
		orders:       make(map[int64]*domain.Order),
		cleared:      make(map[int64]bool),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return tx.commit()
}

// memTx buffers writes until commit.
type memTx struct {
	store    *MemoryStore
	products map[int64]domain.Product
	// baseVersions holds the committed version each buffered decrement was
	// applied on top of.
	baseVersions map[int64]int64
	orders       map[int64]*domain.Order
	cleared      map[int64]bool
}

// commit applies the buffered writes only if no touched product changed
// since this transaction read it.
func (t *memTx) commit() error {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, base := range t.baseVersions {
		current, ok := m.products[id]
		if !ok || current.Version != base {
			return fmt.Errorf("commit: product %d changed: %w", id, port.ErrTxConflict)
		}
	}

	now := m.now()
	for id, pending := range t.products {
		current := m.products[id]
		current.StockQuantity = pending.StockQuantity
		current.Version = pending.Version
		current.UpdatedAt = now
		m.products[id] = current
	}
	for id, o := range t.orders {
		o.UpdatedAt = now
		m.orders[id] = *o
	}
	for cartID := range t.cleared {
		if c, ok := m.carts[cartID]; ok {
			c.items = nil
		}
	}
	return nil
}

func (t *memTx) SnapshotCart(ctx context.Context, userID int64) (domain.CartSnapshot, error) {
	snapshot, err := t.store.SnapshotCart(ctx, userID)
	if err != nil {
		return snapshot, err
	}
	if t.cleared[snapshot.CartID] {
		snapshot.Lines = nil
	}
	return snapshot, nil
}

func (t *memTx) ClearCart(ctx context.Context, cartID int64) error {
	t.cleared[cartID] = true
	return nil
}

func (t *memTx) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	if p, ok := t.products[productID]; ok {
		return &p, nil
	}
	return t.store.GetProduct(ctx, productID)
}

func (t *memTx) ConditionalDecrement(ctx context.Context, productID, expectedVersion int64, amount int) (domain.DecrementOutcome, error) {
	current, err := t.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	switch {
	case current == nil:
		return domain.DecrementNotFound{}, nil
	case current.Version != expectedVersion:
		return domain.DecrementConflict{CurrentVersion: current.Version}, nil
	case current.StockQuantity < amount:
		return domain.DecrementInsufficientStock{Available: current.StockQuantity}, nil
	}

	if _, buffered := t.baseVersions[productID]; !buffered {
		t.baseVersions[productID] = current.Version
	}
	updated := *current
	updated.StockQuantity -= amount
	updated.Version++
	t.products[productID] = updated
	return domain.DecrementSuccess{Price: updated.Price, NewVersion: updated.Version}, nil
}

func (t *memTx) CreateOrder(ctx context.Context, userID int64) (domain.OrderHandle, error) {
	m := t.store
	m.mu.Lock()
	m.seq.order++
	id := m.seq.order
	now := m.now()
	m.mu.Unlock()

	t.orders[id] = &domain.Order{
		ID:         id,
		UserID:     userID,
		TotalPrice: decimal.Zero,
		Status:     domain.OrderStatusProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return domain.OrderHandle{OrderID: id, UserID: userID}, nil
}

func (t *memTx) processing(orderID int64) (*domain.Order, error) {
	o, ok := t.orders[orderID]
	if !ok || o.Status != domain.OrderStatusProcessing {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrOrderNotProcessing)
	}
	return o, nil
}

func (t *memTx) AppendItem(ctx context.Context, order domain.OrderHandle, productID int64, quantity int, unitPrice decimal.Decimal) error {
	o, err := t.processing(order.OrderID)
	if err != nil {
		return err
	}

	m := t.store
	m.mu.Lock()
	m.seq.orderItem++
	id := m.seq.orderItem
	m.mu.Unlock()

	o.Items = append(o.Items, domain.OrderItem{
		ID:              id,
		OrderID:         o.ID,
		ProductID:       productID,
		Quantity:        quantity,
		PriceAtPurchase: unitPrice,
	})
	return nil
}

func (t *memTx) Finalize(ctx context.Context, order domain.OrderHandle, total decimal.Decimal) (*domain.Order, error) {
	o, err := t.processing(order.OrderID)
	if err != nil {
		return nil, err
	}
	o.TotalPrice = total
	o.Status = domain.OrderStatusConfirmed

	out := *o
	out.Items = append([]domain.OrderItem(nil), o.Items...)
	return &out, nil
}

func (t *memTx) Discard(ctx context.Context, order domain.OrderHandle) error {
	if _, err := t.processing(order.OrderID); err != nil {
		return err
	}
	delete(t.orders, order.OrderID)
	return nil
}
