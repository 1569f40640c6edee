package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls an exchange served by this package.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// CallOptions selects the JSON codec; pass it to grpc.WithDefaultCallOptions
// when dialing from outside this package.
func CallOptions() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, CallOptions()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResponse, error) {
	return invoke[SubmitOrderResponse](ctx, c, "SubmitOrder", req)
}

func (c *Client) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	return invoke[CancelOrderResponse](ctx, c, "CancelOrder", req)
}

func (c *Client) GetMarketData(ctx context.Context, req *GetMarketDataRequest) (*GetMarketDataResponse, error) {
	return invoke[GetMarketDataResponse](ctx, c, "GetMarketData", req)
}

func (c *Client) GetOrderBook(ctx context.Context, req *GetOrderBookRequest) (*GetOrderBookResponse, error) {
	return invoke[GetOrderBookResponse](ctx, c, "GetOrderBook", req)
}

func (c *Client) GetInventory(ctx context.Context, req *GetInventoryRequest) (*GetInventoryResponse, error) {
	return invoke[GetInventoryResponse](ctx, c, "GetInventory", req)
}

func (c *Client) GetTradeHistory(ctx context.Context, req *GetTradeHistoryRequest) (*GetTradeHistoryResponse, error) {
	return invoke[GetTradeHistoryResponse](ctx, c, "GetTradeHistory", req)
}

func (c *Client) UpdateSpreadConfig(ctx context.Context, req *UpdateSpreadConfigRequest) (*UpdateSpreadConfigResponse, error) {
	return invoke[UpdateSpreadConfigResponse](ctx, c, "UpdateSpreadConfig", req)
}
