package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/rl1809/storefront/internal/auth"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	checkout *service.CheckoutService
	catalog  *service.CatalogService
	carts    *service.CartService
	verifier *auth.Verifier
	logger   *slog.Logger
	metrics  http.Handler
	pingers  map[string]Pinger
}

type HTTPDeps struct {
	Checkout *service.CheckoutService
	Catalog  *service.CatalogService
	Carts    *service.CartService
	Verifier *auth.Verifier
	Logger   *slog.Logger
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	Pingers map[string]Pinger
}

func NewHTTPHandler(deps HTTPDeps) *HTTPHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{
		checkout: deps.Checkout,
		catalog:  deps.Catalog,
		carts:    deps.Carts,
		verifier: deps.Verifier,
		logger:   logger,
		metrics:  deps.Metrics,
		pingers:  deps.Pingers,
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type productResponse struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	Price         string `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
	Version       int64  `json:"version"`
}

type cartItemResponse struct {
	ProductID int64            `json:"product_id"`
	Quantity  int              `json:"quantity"`
	Product   *productResponse `json:"product,omitempty"`
}

type cartResponse struct {
	ID     int64              `json:"id"`
	UserID int64              `json:"user_id"`
	Items  []cartItemResponse `json:"items"`
}

type orderItemResponse struct {
	ProductID       int64  `json:"product_id"`
	Quantity        int    `json:"quantity"`
	PriceAtPurchase string `json:"price_at_purchase"`
}

type orderResponse struct {
	ID         int64               `json:"id"`
	UserID     int64               `json:"user_id"`
	TotalPrice string              `json:"total_price"`
	Status     string              `json:"status"`
	Items      []orderItemResponse `json:"items"`
}

type createProductRequest struct {
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
}

type updatePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type addCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
}

// Router builds the gin engine with every route registered.
func (h *HTTPHandler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("storefront-http"), h.requestLogger())

	r.GET("/health", h.HealthCheck)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
	r.GET("/products", h.ListProducts)

	authed := r.Group("/", h.authenticate())
	authed.POST("/products", h.CreateProduct)
	authed.PATCH("/products/:id/price", h.UpdatePrice)
	authed.DELETE("/products/:id", h.DeleteProduct)

	authed.GET("/cart", h.ViewCart)
	authed.POST("/cart/items", h.AddCartItem)
	authed.DELETE("/cart/items/:product_id", h.RemoveCartItem)

	authed.POST("/orders", h.Checkout)
	authed.GET("/orders/:id", h.GetOrder)

	return r
}

func (h *HTTPHandler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		h.logger.InfoContext(c.Request.Context(), "http request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (h *HTTPHandler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		customer, err := h.verifier.ParseBearer(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Message: "could not validate credentials"})
			return
		}
		c.Request = c.Request.WithContext(auth.NewContext(c.Request.Context(), customer))
		c.Next()
	}
}

func customerFrom(c *gin.Context) domain.Customer {
	customer, _ := auth.FromContext(c.Request.Context())
	return customer
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	status := gin.H{"status": "ok"}
	code := http.StatusOK
	for name, p := range h.pingers {
		if err := p.Ping(c.Request.Context()); err != nil {
			h.logger.WarnContext(c.Request.Context(), "health check failed", "dependency", name, "err", err)
			status["status"] = "degraded"
			status[name] = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, status)
}

func (h *HTTPHandler) ListProducts(c *gin.Context) {
	filter := domain.ProductFilter{
		Category:    c.Query("category"),
		SortByPrice: domain.PriceSort(c.Query("sort_by_price")),
	}
	products, err := h.catalog.ListProducts(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]productResponse, 0, len(products))
	for i := range products {
		out = append(out, toProductResponse(&products[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *HTTPHandler) CreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), customerFrom(c), service.NewProduct{
		Name:          req.Name,
		Category:      req.Category,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProductResponse(product))
}

func (h *HTTPHandler) UpdatePrice(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}

	if err := h.catalog.UpdatePrice(c.Request.Context(), customerFrom(c), productID, req.Price); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) DeleteProduct(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteProduct(c.Request.Context(), customerFrom(c), productID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) ViewCart(c *gin.Context) {
	cart, err := h.carts.ViewCart(c.Request.Context(), customerFrom(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(cart))
}

func (h *HTTPHandler) AddCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "product_id and quantity are required"})
		return
	}

	cart, err := h.carts.AddItem(c.Request.Context(), customerFrom(c).ID, req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(cart))
}

func (h *HTTPHandler) RemoveCartItem(c *gin.Context) {
	productID, ok := pathID(c, "product_id")
	if !ok {
		return
	}
	if err := h.carts.RemoveItem(c.Request.Context(), customerFrom(c).ID, productID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "item removed"})
}

func (h *HTTPHandler) Checkout(c *gin.Context) {
	order, err := h.checkout.Checkout(c.Request.Context(), customerFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) GetOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := h.checkout.GetOrder(c.Request.Context(), customerFrom(c), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid " + name})
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	status, message := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, errorResponse{Message: message})
}

// httpStatus maps service errors to a status and a client-safe message.
func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrEmptyCart):
		return http.StatusBadRequest, "cart is empty"
	case errors.Is(err, service.ErrOutOfStock):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrProductNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrStockChanged):
		return http.StatusConflict, err.Error() + ", please retry"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "admin role required"
	case errors.Is(err, service.ErrCartNotFound):
		return http.StatusNotFound, "cart not found"
	case errors.Is(err, service.ErrOrderNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func toProductResponse(p *domain.Product) productResponse {
	return productResponse{
		ID:            p.ID,
		Name:          p.Name,
		Category:      p.Category,
		Price:         p.Price.StringFixed(2),
		StockQuantity: p.StockQuantity,
		Version:       p.Version,
	}
}

func toCartResponse(cart *domain.Cart) cartResponse {
	out := cartResponse{ID: cart.ID, UserID: cart.UserID, Items: make([]cartItemResponse, 0, len(cart.Items))}
	for _, item := range cart.Items {
		line := cartItemResponse{ProductID: item.ProductID, Quantity: item.Quantity}
		if item.Product != nil {
			p := toProductResponse(item.Product)
			line.Product = &p
		}
		out.Items = append(out.Items, line)
	}
	return out
}

func toOrderResponse(order *domain.Order) orderResponse {
	out := orderResponse{
		ID:         order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice.StringFixed(2),
		Status:     string(order.Status),
		Items:      make([]orderItemResponse, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		out.Items = append(out.Items, orderItemResponse{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase.StringFixed(2),
		})
	}
	return out
}
