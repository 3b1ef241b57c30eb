package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

func seedProduct(t *testing.T, s *MemoryStore, price string, stock int) *domain.Product {
	t.Helper()
	p := &domain.Product{Name: "p", Category: domain.DefaultCategory, Price: decimal.RequireFromString(price), StockQuantity: stock}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

func TestMemoryStore_DecrementOutcomes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := seedProduct(t, s, "5.00", 3)

	tests := []struct {
		name    string
		id      int64
		version int64
		amount  int
		want    domain.DecrementOutcome
	}{
		{"not found", 999, 1, 1, domain.DecrementNotFound{}},
		{"insufficient", p.ID, 1, 4, domain.DecrementInsufficientStock{Available: 3}},
		{"conflict", p.ID, 7, 1, domain.DecrementConflict{CurrentVersion: 1}},
		{"success", p.ID, 1, 2, domain.DecrementSuccess{Price: p.Price, NewVersion: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got domain.DecrementOutcome
			err := s.WithinTx(ctx, func(ctx context.Context, tx port.CheckoutTx) error {
				var err error
				got, err = tx.ConditionalDecrement(ctx, tt.id, tt.version, tt.amount)
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	current, _ := s.GetProduct(ctx, p.ID)
	assert.Equal(t, 1, current.StockQuantity)
	assert.Equal(t, int64(2), current.Version)
}

func TestMemoryStore_RollbackLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := seedProduct(t, s, "5.00", 3)
	cart, _ := s.GetOrCreateCart(ctx, 1)
	require.NoError(t, s.AddItem(ctx, cart.ID, p.ID, 1))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx port.CheckoutTx) error {
		h, err := tx.CreateOrder(ctx, 1)
		require.NoError(t, err)
		_, err = tx.ConditionalDecrement(ctx, p.ID, 1, 1)
		require.NoError(t, err)
		require.NoError(t, tx.AppendItem(ctx, h, p.ID, 1, p.Price))
		require.NoError(t, tx.ClearCart(ctx, cart.ID))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	current, _ := s.GetProduct(ctx, p.ID)
	assert.Equal(t, 3, current.StockQuantity)
	assert.Equal(t, int64(1), current.Version)
	assert.Zero(t, s.OrderCount())

	snapshot, _ := s.SnapshotCart(ctx, 1)
	assert.Len(t, snapshot.Lines, 1)
}

func TestMemoryStore_UncommittedWritesAreInvisible(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := seedProduct(t, s, "5.00", 3)

	err := s.WithinTx(ctx, func(ctx context.Context, tx port.CheckoutTx) error {
		_, err := tx.ConditionalDecrement(ctx, p.ID, 1, 1)
		require.NoError(t, err)

		outside, _ := s.GetProduct(ctx, p.ID)
		assert.Equal(t, 3, outside.StockQuantity)

		inside, _ := tx.GetProduct(ctx, p.ID)
		assert.Equal(t, 2, inside.StockQuantity)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_StaleCommitIsRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := seedProduct(t, s, "5.00", 1)

	var rivalErr error
	err := s.WithinTx(ctx, func(ctx context.Context, tx port.CheckoutTx) error {
		h, _ := tx.CreateOrder(ctx, 1)
		outcome, err := tx.ConditionalDecrement(ctx, p.ID, 1, 1)
		require.NoError(t, err)
		require.IsType(t, domain.DecrementSuccess{}, outcome)
		tx.AppendItem(ctx, h, p.ID, 1, p.Price)

		rivalErr = s.WithinTx(ctx, func(ctx context.Context, tx port.CheckoutTx) error {
			_, err := tx.ConditionalDecrement(ctx, p.ID, 1, 1)
			return err
		})
		return nil
	})
	require.NoError(t, rivalErr)
	assert.ErrorIs(t, err, port.ErrTxConflict)

	current, _ := s.GetProduct(ctx, p.ID)
	assert.Equal(t, 0, current.StockQuantity)
	assert.Equal(t, int64(2), current.Version)
	assert.Zero(t, s.OrderCount())
}

func TestMemoryStore_CrossedDecrementsNeverBlock(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := seedProduct(t, s, "5.00", 5)
	b := seedProduct(t, s, "3.00", 5)

	var firstDone sync.WaitGroup
	firstDone.Add(2)
	decrementBoth := func(first, second *domain.Product) error {
		return s.WithinTx(ctx, func(ctx context.Context, tx port.CheckoutTx) error {
			if _, err := tx.ConditionalDecrement(ctx, first.ID, 1, 1); err != nil {
				return err
			}
			firstDone.Done()
			firstDone.Wait()
			_, err := tx.ConditionalDecrement(ctx, second.ID, 1, 1)
			return err
		})
	}

	results := make(chan error, 2)
	go func() { results <- decrementBoth(a, b) }()
	go func() { results <- decrementBoth(b, a) }()

	var errs []error
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			errs = append(errs, err)
		case <-time.After(2 * time.Second):
			t.Fatal("crossed transactions blocked each other")
		}
	}

	committed := 0
	for _, err := range errs {
		if err == nil {
			committed++
			continue
		}
		assert.ErrorIs(t, err, port.ErrTxConflict)
	}
	assert.Equal(t, 1, committed)

	for _, p := range []*domain.Product{a, b} {
		current, _ := s.GetProduct(ctx, p.ID)
		assert.Equal(t, 4, current.StockQuantity)
		assert.Equal(t, int64(2), current.Version)
	}
}

func TestMemoryStore_FinalizeOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.WithinTx(ctx, func(ctx context.Context, tx port.CheckoutTx) error {
		h, _ := tx.CreateOrder(ctx, 1)
		order, err := tx.Finalize(ctx, h, decimal.NewFromInt(3))
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusConfirmed, order.Status)

		_, err = tx.Finalize(ctx, h, decimal.NewFromInt(4))
		assert.ErrorIs(t, err, ErrOrderNotProcessing)
		assert.ErrorIs(t, tx.Discard(ctx, h), ErrOrderNotProcessing)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.OrderCount())
}

func TestMemoryStore_CartLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := seedProduct(t, s, "5.00", 3)
	b := seedProduct(t, s, "3.00", 3)

	missing, err := s.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	cart, _ := s.GetOrCreateCart(ctx, 1)
	again, _ := s.GetOrCreateCart(ctx, 1)
	assert.Equal(t, cart.ID, again.ID)

	s.AddItem(ctx, cart.ID, b.ID, 1)
	s.AddItem(ctx, cart.ID, a.ID, 1)
	s.AddItem(ctx, cart.ID, b.ID, 2)

	snapshot, _ := s.SnapshotCart(ctx, 1)
	assert.Equal(t, []domain.CartLine{{ProductID: b.ID, Quantity: 3}, {ProductID: a.ID, Quantity: 1}}, snapshot.Lines)

	s.DeleteProduct(ctx, a.ID)
	view, _ := s.GetCart(ctx, 1)
	require.Len(t, view.Items, 2)
	assert.NotNil(t, view.Items[0].Product)
	assert.Nil(t, view.Items[1].Product)

	s.RemoveItem(ctx, cart.ID, b.ID)
	snapshot, _ = s.SnapshotCart(ctx, 1)
	assert.Equal(t, []domain.CartLine{{ProductID: a.ID, Quantity: 1}}, snapshot.Lines)
}

func TestMemoryStore_ListProducts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedProduct(t, s, "9.00", 1)
	cheap := seedProduct(t, s, "1.00", 1)
	book := &domain.Product{Name: "book", Category: "Books", Price: decimal.NewFromInt(4)}
	s.CreateProduct(ctx, book)

	all, _ := s.ListProducts(ctx, domain.ProductFilter{SortByPrice: domain.PriceSortAsc})
	require.Len(t, all, 3)
	assert.Equal(t, cheap.ID, all[0].ID)

	books, _ := s.ListProducts(ctx, domain.ProductFilter{Category: "Books"})
	require.Len(t, books, 1)
	assert.Equal(t, book.ID, books[0].ID)
}

func TestMemoryStore_UpdatePriceKeepsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := seedProduct(t, s, "5.00", 1)

	ok, err := s.UpdatePrice(ctx, p.ID, decimal.NewFromInt(7))
	require.NoError(t, err)
	assert.True(t, ok)

	current, _ := s.GetProduct(ctx, p.ID)
	assert.Equal(t, int64(1), current.Version)
	assert.True(t, current.Price.Equal(decimal.NewFromInt(7)))

	ok, _ = s.UpdatePrice(ctx, 404, decimal.NewFromInt(7))
	assert.False(t, ok)
}
