// Package grpcserver exposes the exchange over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/dealer"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/ledger"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/market"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/orderbook"
	"github.com/ngaboserge/capitallab-simulator-sub003/logging"
	"github.com/ngaboserge/capitallab-simulator-sub003/service"
)

const ServiceName = "capitallab.Exchange"

var errBadRequest = errors.New("bad request")

// Engine is the part of service.Exchange the server needs.
type Engine interface {
	Submit(ctx context.Context, o orderbook.Order) (service.MatchResult, error)
	Cancel(ctx context.Context, orderID string) (bool, error)
	MarketData(symbol string) (market.Data, error)
	AllMarketData() map[string]market.Data
	Symbols() []string
	OrderBook(symbol string) (orderbook.Snapshot, error)
	Depth(symbol string, levels int) (orderbook.Depth, error)
	Inventory(symbol string) (dealer.Position, error)
	AllInventory() map[string]dealer.Position
	TradeHistory(symbol string, limit int) []ledger.Trade
	UpdateSpreadConfig(ctx context.Context, symbol string, p market.SpreadPatch) (market.SpreadConfig, error)
}

// ExchangeServer is the handler type registered with grpc.
type ExchangeServer interface {
	SubmitOrder(context.Context, *SubmitOrderRequest) (*SubmitOrderResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*CancelOrderResponse, error)
	GetMarketData(context.Context, *GetMarketDataRequest) (*GetMarketDataResponse, error)
	GetOrderBook(context.Context, *GetOrderBookRequest) (*GetOrderBookResponse, error)
	GetInventory(context.Context, *GetInventoryRequest) (*GetInventoryResponse, error)
	GetTradeHistory(context.Context, *GetTradeHistoryRequest) (*GetTradeHistoryResponse, error)
	UpdateSpreadConfig(context.Context, *UpdateSpreadConfigRequest) (*UpdateSpreadConfigResponse, error)
}

// Server adapts an Engine to gRPC.
type Server struct {
	eng Engine
	log *zap.Logger
}

var _ ExchangeServer = (*Server)(nil)

func NewServer(eng Engine, log *zap.Logger) *Server {
	return &Server{eng: eng, log: logging.OrNop(log).Named("grpc")}
}

// NewGRPCServer returns a grpc.Server with s registered and request
// logging installed.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(logInterceptor(s.log)))
	g := grpc.NewServer(opts...)
	Register(g, s)
	return g
}

func Register(r grpc.ServiceRegistrar, s ExchangeServer) {
	r.RegisterService(&ServiceDesc, s)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitOrder", ExchangeServer.SubmitOrder),
		unary("CancelOrder", ExchangeServer.CancelOrder),
		unary("GetMarketData", ExchangeServer.GetMarketData),
		unary("GetOrderBook", ExchangeServer.GetOrderBook),
		unary("GetInventory", ExchangeServer.GetInventory),
		unary("GetTradeHistory", ExchangeServer.GetTradeHistory),
		unary("UpdateSpreadConfig", ExchangeServer.UpdateSpreadConfig),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "capitallab/exchange",
}

func unary[Req, Resp any](name string, fn func(ExchangeServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, icpt grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if icpt == nil {
				return fn(srv.(ExchangeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return icpt(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(ExchangeServer), ctx, req.(*Req))
			})
		},
	}
}

func logInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("rpc",
			zap.String("method", info.FullMethod),
			zap.Stringer("code", status.Code(err)),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return resp, err
	}
}

// toStatus maps engine errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrUnknownSymbol):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrInvalidOrder),
		errors.Is(err, market.ErrInvalidSpreadConfig),
		errors.Is(err, errBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// -------------------- Commands --------------------

func (s *Server) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResponse, error) {
	o, err := toOrder(req)
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.eng.Submit(ctx, o)
	if err != nil {
		return nil, toStatus(err)
	}
	return fromResult(res), nil
}

func (s *Server) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	if req.OrderID == "" {
		return nil, toStatus(fmt.Errorf("%w: order id is required", errBadRequest))
	}
	ok, err := s.eng.Cancel(ctx, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CancelOrderResponse{Cancelled: ok}, nil
}

func (s *Server) UpdateSpreadConfig(ctx context.Context, req *UpdateSpreadConfigRequest) (*UpdateSpreadConfigResponse, error) {
	p, err := toPatch(req)
	if err != nil {
		return nil, toStatus(err)
	}
	c, err := s.eng.UpdateSpreadConfig(ctx, req.Symbol, p)
	if err != nil {
		return nil, toStatus(err)
	}
	return &UpdateSpreadConfigResponse{Symbol: req.Symbol, Config: fromSpreadConfig(c)}, nil
}

// -------------------- Queries --------------------

func (s *Server) GetMarketData(_ context.Context, req *GetMarketDataRequest) (*GetMarketDataResponse, error) {
	if req.Symbol != "" {
		d, err := s.eng.MarketData(req.Symbol)
		if err != nil {
			return nil, toStatus(err)
		}
		return &GetMarketDataResponse{Markets: []MarketData{fromMarketData(d)}}, nil
	}
	all := s.eng.AllMarketData()
	resp := &GetMarketDataResponse{Markets: make([]MarketData, 0, len(all))}
	for _, sym := range s.eng.Symbols() {
		resp.Markets = append(resp.Markets, fromMarketData(all[sym]))
	}
	return resp, nil
}

func (s *Server) GetOrderBook(_ context.Context, req *GetOrderBookRequest) (*GetOrderBookResponse, error) {
	snap, err := s.eng.OrderBook(req.Symbol)
	if err != nil {
		return nil, toStatus(err)
	}
	depth, err := s.eng.Depth(req.Symbol, req.Levels)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetOrderBookResponse{
		Symbol:    snap.Symbol,
		Bids:      fromEntries(snap.Bids),
		Asks:      fromEntries(snap.Asks),
		BidLevels: fromLevels(depth.Bids),
		AskLevels: fromLevels(depth.Asks),
	}, nil
}

func (s *Server) GetInventory(_ context.Context, req *GetInventoryRequest) (*GetInventoryResponse, error) {
	if req.Symbol != "" {
		p, err := s.eng.Inventory(req.Symbol)
		if err != nil {
			return nil, toStatus(err)
		}
		return &GetInventoryResponse{Positions: []Position{fromPosition(p)}}, nil
	}
	all := s.eng.AllInventory()
	resp := &GetInventoryResponse{Positions: make([]Position, 0, len(all))}
	for _, sym := range s.eng.Symbols() {
		resp.Positions = append(resp.Positions, fromPosition(all[sym]))
	}
	return resp, nil
}

func (s *Server) GetTradeHistory(_ context.Context, req *GetTradeHistoryRequest) (*GetTradeHistoryResponse, error) {
	trades := s.eng.TradeHistory(req.Symbol, req.Limit)
	resp := &GetTradeHistoryResponse{Trades: make([]Trade, 0, len(trades))}
	for _, t := range trades {
		resp.Trades = append(resp.Trades, fromTrade(t))
	}
	return resp, nil
}

// -------------------- Request parsing --------------------

func toOrder(req *SubmitOrderRequest) (orderbook.Order, error) {
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		return orderbook.Order{}, err
	}
	kind, err := orderbook.ParseKind(req.Type)
	if err != nil {
		return orderbook.Order{}, err
	}
	o := orderbook.Order{
		ID:       req.OrderID,
		UserID:   req.UserID,
		Symbol:   req.Symbol,
		Side:     side,
		Kind:     kind,
		Quantity: req.Quantity,
	}
	if req.LimitPrice != "" {
		if o.LimitPrice, err = decimal.NewFromString(req.LimitPrice); err != nil {
			return orderbook.Order{}, fmt.Errorf("%w: limit price: %w", service.ErrInvalidOrder, err)
		}
	}
	return o, nil
}

func toPatch(req *UpdateSpreadConfigRequest) (market.SpreadPatch, error) {
	p := market.SpreadPatch{
		VolatilityMultiplier: req.VolatilityMultiplier,
		LiquidityThreshold:   req.LiquidityThreshold,
		AutoAdjust:           req.AutoAdjust,
		ThinBookPenalty:      req.ThinBookPenalty,
		ImbalanceWeight:      req.ImbalanceWeight,
	}
	var err error
	if p.MinSpread, err = optDecimal("minSpread", req.MinSpread); err != nil {
		return p, err
	}
	if p.MaxSpread, err = optDecimal("maxSpread", req.MaxSpread); err != nil {
		return p, err
	}
	if p.BaseSpread, err = optDecimal("baseSpread", req.BaseSpread); err != nil {
		return p, err
	}
	if req.VolatilityWindow != nil {
		d, err := time.ParseDuration(*req.VolatilityWindow)
		if err != nil {
			return p, fmt.Errorf("%w: volatilityWindow: %w", errBadRequest, err)
		}
		p.VolatilityWindow = &d
	}
	return p, nil
}

func optDecimal(name string, s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errBadRequest, name, err)
	}
	return &d, nil
}
