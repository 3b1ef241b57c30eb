package handler

import (
	"context"

	"google.golang.org/grpc"
)

const storefrontServiceName = "storefront.v1.Storefront"

type CheckoutRequest struct{}

type GetOrderRequest struct {
	OrderID int64 `json:"order_id"`
}

type OrderItemReply struct {
	ProductID       int64  `json:"product_id"`
	Quantity        int32  `json:"quantity"`
	PriceAtPurchase string `json:"price_at_purchase"`
}

type OrderReply struct {
	OrderID    int64            `json:"order_id"`
	UserID     int64            `json:"user_id"`
	TotalPrice string           `json:"total_price"`
	Status     string           `json:"status"`
	Items      []OrderItemReply `json:"items"`
}

type ListProductsRequest struct {
	Category    string `json:"category"`
	SortByPrice string `json:"sort_by_price"`
}

type ProductReply struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	Price         string `json:"price"`
	StockQuantity int32  `json:"stock_quantity"`
	Version       int64  `json:"version"`
}

type ListProductsReply struct {
	Products []ProductReply `json:"products"`
}

type AddCartItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

type ViewCartRequest struct{}

type CartLineReply struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

type CartReply struct {
	CartID int64           `json:"cart_id"`
	Lines  []CartLineReply `json:"lines"`
}

type StorefrontServer interface {
	Checkout(context.Context, *CheckoutRequest) (*OrderReply, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderReply, error)
	ListProducts(context.Context, *ListProductsRequest) (*ListProductsReply, error)
	AddCartItem(context.Context, *AddCartItemRequest) (*CartReply, error)
	ViewCart(context.Context, *ViewCartRequest) (*CartReply, error)
}

func unaryMethod[Req, Resp any](name string, call func(StorefrontServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StorefrontServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + storefrontServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(StorefrontServer), ctx, req.(*Req))
			})
		},
	}
}

var StorefrontServiceDesc = grpc.ServiceDesc{
	ServiceName: storefrontServiceName,
	HandlerType: (*StorefrontServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Checkout", StorefrontServer.Checkout),
		unaryMethod("GetOrder", StorefrontServer.GetOrder),
		unaryMethod("ListProducts", StorefrontServer.ListProducts),
		unaryMethod("AddCartItem", StorefrontServer.AddCartItem),
		unaryMethod("ViewCart", StorefrontServer.ViewCart),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/storefront.json",
}

func RegisterStorefrontServer(s grpc.ServiceRegistrar, srv StorefrontServer) {
	s.RegisterService(&StorefrontServiceDesc, srv)
}

// StorefrontClient calls the service with the JSON codec.
type StorefrontClient struct {
	cc grpc.ClientConnInterface
}

func NewStorefrontClient(cc grpc.ClientConnInterface) *StorefrontClient {
	return &StorefrontClient{cc: cc}
}

func (c *StorefrontClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+storefrontServiceName+"/"+method, in, out, opts...)
}

func (c *StorefrontClient) Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	if err := c.invoke(ctx, "Checkout", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StorefrontClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	if err := c.invoke(ctx, "GetOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StorefrontClient) ListProducts(ctx context.Context, in *ListProductsRequest, opts ...grpc.CallOption) (*ListProductsReply, error) {
	out := new(ListProductsReply)
	if err := c.invoke(ctx, "ListProducts", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StorefrontClient) AddCartItem(ctx context.Context, in *AddCartItemRequest, opts ...grpc.CallOption) (*CartReply, error) {
	out := new(CartReply)
	if err := c.invoke(ctx, "AddCartItem", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StorefrontClient) ViewCart(ctx context.Context, in *ViewCartRequest, opts ...grpc.CallOption) (*CartReply, error) {
	out := new(CartReply)
	if err := c.invoke(ctx, "ViewCart", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
