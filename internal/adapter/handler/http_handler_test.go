package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/auth"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const testSecret = "handler-secret"

var (
	adminUser    = domain.Customer{ID: 1, Email: "admin@example.com", Role: domain.RoleAdmin}
	customerUser = domain.Customer{ID: 2, Email: "buyer@example.com", Role: domain.RoleCustomer}
)

type testEnv struct {
	store    *storage.MemoryStore
	queue    *storage.MemoryQueue
	checkout *service.CheckoutService
	catalog  *service.CatalogService
	carts    *service.CartService
	router   *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	cache := storage.NewMemoryCache()
	queue := storage.NewMemoryQueue(16)

	env := &testEnv{
		store:    store,
		queue:    queue,
		checkout: service.NewCheckoutService(store, cache, queue, service.WithLogger(logger)),
		catalog:  service.NewCatalogService(store, cache, logger),
		carts:    service.NewCartService(store, store),
	}
	env.router = NewHTTPHandler(HTTPDeps{
		Checkout: env.checkout,
		Catalog:  env.catalog,
		Carts:    env.carts,
		Verifier: auth.NewVerifier(testSecret),
		Logger:   logger,
		Pingers:  map[string]Pinger{"store": store},
	}).Router()
	return env
}

func token(t *testing.T, c domain.Customer) string {
	t.Helper()
	tok, err := auth.Issue(testSecret, c, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (e *testEnv) do(t *testing.T, method, path, authz string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T, name, price string, stock int) int64 {
	t.Helper()
	p, err := e.catalog.CreateProduct(context.Background(), adminUser, service.NewProduct{
		Name: name, Price: decimal.RequireFromString(price), StockQuantity: stock,
	})
	require.NoError(t, err)
	return p.ID
}

func TestHTTP_CheckoutFlow(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "A", "5.00", 10)
	b := env.seed(t, "B", "3.00", 10)
	buyer := token(t, customerUser)

	rec := env.do(t, http.MethodPost, "/cart/items", buyer, gin.H{"product_id": a, "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/cart/items", buyer, gin.H{"product_id": b, "quantity": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/orders", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var order orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, "13.00", order.TotalPrice)
	assert.Equal(t, "CONFIRMED", order.Status)
	assert.Len(t, order.Items, 2)

	rec = env.do(t, http.MethodGet, "/cart", buyer, nil)
	var cart cartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cart))
	assert.Empty(t, cart.Items)

	rec = env.do(t, http.MethodGet, "/orders/"+itoa(order.ID), buyer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	other := token(t, domain.Customer{ID: 99, Role: domain.RoleCustomer})
	rec = env.do(t, http.MethodGet, "/orders/"+itoa(order.ID), other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1, env.queue.Len())
}

func TestHTTP_CheckoutErrors(t *testing.T) {
	env := newTestEnv(t)
	buyer := token(t, customerUser)

	rec := env.do(t, http.MethodPost, "/orders", buyer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cart is empty")

	scarce := env.seed(t, "Scarce", "1.00", 1)
	env.do(t, http.MethodPost, "/cart/items", buyer, gin.H{"product_id": scarce, "quantity": 2})
	rec = env.do(t, http.MethodPost, "/orders", buyer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Scarce")

	env.do(t, http.MethodDelete, "/cart/items/"+itoa(scarce), buyer, nil)
	gone := env.seed(t, "Gone", "1.00", 5)
	env.do(t, http.MethodPost, "/cart/items", buyer, gin.H{"product_id": gone, "quantity": 1})
	rec = env.do(t, http.MethodDelete, "/products/"+itoa(gone), token(t, adminUser), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/orders", buyer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTP_Auth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/cart", "Bearer nope", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/products", token(t, customerUser), gin.H{"name": "x", "price": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/products", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTP_Catalog(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, adminUser)

	rec := env.do(t, http.MethodPost, "/products", admin, gin.H{"name": "Book", "category": "Books", "price": "12.5", "stock_quantity": 4})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created productResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "12.50", created.Price)
	assert.Equal(t, int64(1), created.Version)

	env.do(t, http.MethodPost, "/products", admin, gin.H{"name": "Pen", "price": 2, "stock_quantity": 4})

	rec = env.do(t, http.MethodGet, "/products?category=Books", "", nil)
	var books []productResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &books))
	require.Len(t, books, 1)
	assert.Equal(t, "Book", books[0].Name)

	rec = env.do(t, http.MethodGet, "/products?sort_by_price=sideways", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, "/products/"+itoa(created.ID)+"/price", admin, gin.H{"price": "9.99"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/products?sort_by_price=desc", "", nil)
	var sorted []productResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sorted))
	require.Len(t, sorted, 2)
	assert.Equal(t, "9.99", sorted[0].Price)

	rec = env.do(t, http.MethodPatch, "/products/abc/price", admin, gin.H{"price": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_Cart(t *testing.T) {
	env := newTestEnv(t)
	buyer := token(t, customerUser)

	rec := env.do(t, http.MethodDelete, "/cart/items/1", buyer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/cart", buyer, nil)
	var empty cartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.Equal(t, int64(0), empty.ID)

	rec = env.do(t, http.MethodPost, "/cart/items", buyer, gin.H{"product_id": 404, "quantity": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/cart/items", buyer, gin.H{"product_id": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("down") }

func TestHTTP_Health(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	router := NewHTTPHandler(HTTPDeps{Pingers: map[string]Pinger{"redis": downPinger{}}, Verifier: auth.NewVerifier(testSecret)}).Router()
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrEmptyCart, http.StatusBadRequest},
		{&service.ProductError{Err: service.ErrProductNotFound, ProductID: 1}, http.StatusNotFound},
		{&service.ProductError{Err: service.ErrOutOfStock, ProductID: 1}, http.StatusBadRequest},
		{&service.ProductError{Err: service.ErrStockChanged, ProductID: 1}, http.StatusConflict},
		{service.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{service.ErrForbidden, http.StatusForbidden},
		{errors.New("?"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := httpStatus(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
