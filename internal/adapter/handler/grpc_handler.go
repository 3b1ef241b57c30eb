package handler

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/auth"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

type GRPCHandler struct {
	checkout *service.CheckoutService
	catalog  *service.CatalogService
	carts    *service.CartService
}

var _ StorefrontServer = (*GRPCHandler)(nil)

func NewGRPCHandler(checkout *service.CheckoutService, catalog *service.CatalogService, carts *service.CartService) *GRPCHandler {
	return &GRPCHandler{checkout: checkout, catalog: catalog, carts: carts}
}

// NewGRPCServer returns a server with tracing and bearer-token auth on
// every unary call.
func NewGRPCServer(h *GRPCHandler, verifier *auth.Verifier, logger *slog.Logger) *grpc.Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			loggingInterceptor(logger),
			AuthInterceptor(verifier),
		),
	)
	RegisterStorefrontServer(srv, h)
	return srv
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if status.Code(err) == codes.Internal || status.Code(err) == codes.Unavailable {
			logger.ErrorContext(ctx, "grpc call failed", "method", info.FullMethod, "err", err)
		}
		return resp, err
	}
}

// AuthInterceptor resolves the caller from the "authorization" metadata.
// ListProducts is public and passes through without a token.
func AuthInterceptor(verifier *auth.Verifier) grpc.UnaryServerInterceptor {
	public := map[string]bool{
		"/" + storefrontServiceName + "/ListProducts": true,
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if public[info.FullMethod] {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		customer, err := verifier.ParseBearer(values[0])
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "could not validate credentials")
		}
		return handler(auth.NewContext(ctx, customer), req)
	}
}

func grpcCustomer(ctx context.Context) (domain.Customer, error) {
	customer, ok := auth.FromContext(ctx)
	if !ok {
		return domain.Customer{}, status.Error(codes.Unauthenticated, "missing caller")
	}
	return customer, nil
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRequest) (*OrderReply, error) {
	customer, err := grpcCustomer(ctx)
	if err != nil {
		return nil, err
	}
	order, err := h.checkout.Checkout(ctx, customer)
	if err != nil {
		return nil, grpcError(err)
	}
	return toOrderReply(order), nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderReply, error) {
	customer, err := grpcCustomer(ctx)
	if err != nil {
		return nil, err
	}
	order, err := h.checkout.GetOrder(ctx, customer, req.OrderID)
	if err != nil {
		return nil, grpcError(err)
	}
	return toOrderReply(order), nil
}

func (h *GRPCHandler) ListProducts(ctx context.Context, req *ListProductsRequest) (*ListProductsReply, error) {
	products, err := h.catalog.ListProducts(ctx, domain.ProductFilter{
		Category:    req.Category,
		SortByPrice: domain.PriceSort(req.SortByPrice),
	})
	if err != nil {
		return nil, grpcError(err)
	}

	out := &ListProductsReply{Products: make([]ProductReply, 0, len(products))}
	for _, p := range products {
		out.Products = append(out.Products, ProductReply{
			ID:            p.ID,
			Name:          p.Name,
			Category:      p.Category,
			Price:         p.Price.StringFixed(2),
			StockQuantity: int32(p.StockQuantity),
			Version:       p.Version,
		})
	}
	return out, nil
}

func (h *GRPCHandler) AddCartItem(ctx context.Context, req *AddCartItemRequest) (*CartReply, error) {
	customer, err := grpcCustomer(ctx)
	if err != nil {
		return nil, err
	}
	cart, err := h.carts.AddItem(ctx, customer.ID, req.ProductID, int(req.Quantity))
	if err != nil {
		return nil, grpcError(err)
	}
	return toCartReply(cart), nil
}

func (h *GRPCHandler) ViewCart(ctx context.Context, req *ViewCartRequest) (*CartReply, error) {
	customer, err := grpcCustomer(ctx)
	if err != nil {
		return nil, err
	}
	cart, err := h.carts.ViewCart(ctx, customer.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	return toCartReply(cart), nil
}

func grpcError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, service.ErrEmptyCart), errors.Is(err, service.ErrOutOfStock):
		code = codes.FailedPrecondition
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrCartNotFound),
		errors.Is(err, service.ErrOrderNotFound):
		code = codes.NotFound
	case errors.Is(err, service.ErrStockChanged):
		code = codes.Aborted
	case errors.Is(err, service.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, service.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "store unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

func toOrderReply(order *domain.Order) *OrderReply {
	out := &OrderReply{
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice.StringFixed(2),
		Status:     string(order.Status),
		Items:      make([]OrderItemReply, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		out.Items = append(out.Items, OrderItemReply{
			ProductID:       item.ProductID,
			Quantity:        int32(item.Quantity),
			PriceAtPurchase: item.PriceAtPurchase.StringFixed(2),
		})
	}
	return out
}

func toCartReply(cart *domain.Cart) *CartReply {
	out := &CartReply{CartID: cart.ID, Lines: make([]CartLineReply, 0, len(cart.Items))}
	for _, item := range cart.Items {
		out.Lines = append(out.Lines, CartLineReply{ProductID: item.ProductID, Quantity: int32(item.Quantity)})
	}
	return out
}
