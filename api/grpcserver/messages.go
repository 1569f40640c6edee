package grpcserver

import (
	"time"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/dealer"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/ledger"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/market"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/orderbook"
	"github.com/ngaboserge/capitallab-simulator-sub003/service"
)

// Prices and cash travel as decimal strings.

type SubmitOrderRequest struct {
	OrderID    string `json:"orderId,omitempty"`
	UserID     string `json:"userId"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Quantity   int64  `json:"quantity"`
	LimitPrice string `json:"limitPrice,omitempty"`
}

type Order struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Symbol            string    `json:"symbol"`
	Side              string    `json:"side"`
	Type              string    `json:"type"`
	Quantity          int64     `json:"quantity"`
	LimitPrice        string    `json:"limitPrice,omitempty"`
	FilledQuantity    int64     `json:"filledQuantity"`
	RemainingQuantity int64     `json:"remainingQuantity"`
	Status            string    `json:"status"`
	SubmittedAt       time.Time `json:"submittedAt"`
}

type Fill struct {
	TradeID      string `json:"tradeId"`
	Price        string `json:"price"`
	Quantity     int64  `json:"quantity"`
	Counterparty string `json:"counterparty"`
}

type SubmitOrderResponse struct {
	Order             Order    `json:"order"`
	Fills             []Fill   `json:"fills"`
	RemainingQuantity int64    `json:"remainingQuantity"`
	Rested            bool     `json:"rested"`
	CancelledResting  []string `json:"cancelledResting,omitempty"`
}

type CancelOrderRequest struct {
	OrderID string `json:"orderId"`
}

type CancelOrderResponse struct {
	Cancelled bool `json:"cancelled"`
}

// GetMarketDataRequest with an empty Symbol returns every symbol.
type GetMarketDataRequest struct {
	Symbol string `json:"symbol,omitempty"`
}

type MarketData struct {
	Symbol        string    `json:"symbol"`
	Bid           string    `json:"bid"`
	Ask           string    `json:"ask"`
	Last          string    `json:"last"`
	LastQuantity  int64     `json:"lastQuantity"`
	Spread        string    `json:"spread"`
	Volume        int64     `json:"volume"`
	High          string    `json:"high"`
	Low           string    `json:"low"`
	Open          string    `json:"open"`
	Change        string    `json:"change"`
	ChangePercent string    `json:"changePercent"`
	Timestamp     time.Time `json:"timestamp"`
}

type GetMarketDataResponse struct {
	Markets []MarketData `json:"markets"`
}

// GetOrderBookRequest.Levels limits the aggregated depth; 0 means all.
type GetOrderBookRequest struct {
	Symbol string `json:"symbol"`
	Levels int    `json:"levels,omitempty"`
}

type BookEntry struct {
	OrderID  string `json:"orderId"`
	UserID   string `json:"userId"`
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

type Level struct {
	Price      string `json:"price"`
	Quantity   int64  `json:"quantity"`
	OrderCount int    `json:"orderCount"`
}

type GetOrderBookResponse struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookEntry `json:"bids"`
	Asks      []BookEntry `json:"asks"`
	BidLevels []Level     `json:"bidLevels"`
	AskLevels []Level     `json:"askLevels"`
}

// GetInventoryRequest with an empty Symbol returns every symbol.
type GetInventoryRequest struct {
	Symbol string `json:"symbol,omitempty"`
}

type Position struct {
	Symbol        string `json:"symbol"`
	Shares        int64  `json:"shares"`
	AverageCost   string `json:"averageCost"`
	Cash          string `json:"cash"`
	RealizedPnL   string `json:"realizedPnl"`
	LastPrice     string `json:"lastPrice"`
	TotalValue    string `json:"totalValue"`
	UnrealizedPnL string `json:"unrealizedPnl"`
}

type GetInventoryResponse struct {
	Positions []Position `json:"positions"`
}

type GetTradeHistoryRequest struct {
	Symbol string `json:"symbol,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type Trade struct {
	ID          string    `json:"id"`
	Seq         uint64    `json:"seq"`
	Symbol      string    `json:"symbol"`
	Price       string    `json:"price"`
	Quantity    int64     `json:"quantity"`
	BuyOrderID  string    `json:"buyOrderId"`
	SellOrderID string    `json:"sellOrderId"`
	Kind        string    `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
}

type GetTradeHistoryResponse struct {
	Trades []Trade `json:"trades"`
}

// UpdateSpreadConfigRequest leaves nil fields unchanged.
type UpdateSpreadConfigRequest struct {
	Symbol               string   `json:"symbol"`
	MinSpread            *string  `json:"minSpread,omitempty"`
	MaxSpread            *string  `json:"maxSpread,omitempty"`
	BaseSpread           *string  `json:"baseSpread,omitempty"`
	VolatilityMultiplier *float64 `json:"volatilityMultiplier,omitempty"`
	LiquidityThreshold   *int64   `json:"liquidityThreshold,omitempty"`
	AutoAdjust           *bool    `json:"autoAdjust,omitempty"`
	ThinBookPenalty      *float64 `json:"thinBookPenalty,omitempty"`
	ImbalanceWeight      *float64 `json:"imbalanceWeight,omitempty"`
	VolatilityWindow     *string  `json:"volatilityWindow,omitempty"`
}

type SpreadConfig struct {
	MinSpread            string  `json:"minSpread"`
	MaxSpread            string  `json:"maxSpread"`
	BaseSpread           string  `json:"baseSpread"`
	VolatilityMultiplier float64 `json:"volatilityMultiplier"`
	LiquidityThreshold   int64   `json:"liquidityThreshold"`
	AutoAdjust           bool    `json:"autoAdjust"`
	ThinBookPenalty      float64 `json:"thinBookPenalty"`
	ImbalanceWeight      float64 `json:"imbalanceWeight"`
	VolatilityWindow     string  `json:"volatilityWindow"`
}

type UpdateSpreadConfigResponse struct {
	Symbol string       `json:"symbol"`
	Config SpreadConfig `json:"config"`
}

// -------------------- Converters --------------------

func fromOrder(o orderbook.Order) Order {
	out := Order{
		ID:                o.ID,
		UserID:            o.UserID,
		Symbol:            o.Symbol,
		Side:              o.Side.String(),
		Type:              o.Kind.String(),
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		Status:            o.Status.String(),
		SubmittedAt:       o.SubmittedAt,
	}
	if o.Kind == orderbook.Limit {
		out.LimitPrice = o.LimitPrice.String()
	}
	return out
}

func fromResult(r service.MatchResult) *SubmitOrderResponse {
	out := &SubmitOrderResponse{
		Order:             fromOrder(r.Order),
		Fills:             make([]Fill, 0, len(r.Fills)),
		RemainingQuantity: r.RemainingQuantity,
		Rested:            r.Rested,
		CancelledResting:  r.CancelledResting,
	}
	for _, f := range r.Fills {
		out.Fills = append(out.Fills, Fill{
			TradeID:      f.TradeID,
			Price:        f.Price.String(),
			Quantity:     f.Quantity,
			Counterparty: f.Counterparty.ID(),
		})
	}
	return out
}

func fromMarketData(d market.Data) MarketData {
	return MarketData{
		Symbol:        d.Symbol,
		Bid:           d.Bid.String(),
		Ask:           d.Ask.String(),
		Last:          d.Last.String(),
		LastQuantity:  d.LastQuantity,
		Spread:        d.Spread.String(),
		Volume:        d.Volume,
		High:          d.High.String(),
		Low:           d.Low.String(),
		Open:          d.Open.String(),
		Change:        d.Change.String(),
		ChangePercent: d.ChangePercent.String(),
		Timestamp:     d.Timestamp,
	}
}

func fromEntries(list []orderbook.EntryView) []BookEntry {
	out := make([]BookEntry, 0, len(list))
	for _, e := range list {
		out = append(out, BookEntry{
			OrderID:  e.OrderID,
			UserID:   e.UserID,
			Price:    e.Price.String(),
			Quantity: e.Quantity,
		})
	}
	return out
}

func fromLevels(list []orderbook.LevelView) []Level {
	out := make([]Level, 0, len(list))
	for _, l := range list {
		out = append(out, Level{
			Price:      l.Price.String(),
			Quantity:   l.Quantity,
			OrderCount: l.OrderCount,
		})
	}
	return out
}

func fromPosition(p dealer.Position) Position {
	return Position{
		Symbol:        p.Symbol,
		Shares:        p.Shares,
		AverageCost:   p.AverageCost.String(),
		Cash:          p.Cash.String(),
		RealizedPnL:   p.RealizedPnL.String(),
		LastPrice:     p.LastPrice.String(),
		TotalValue:    p.TotalValue.String(),
		UnrealizedPnL: p.UnrealizedPnL.String(),
	}
}

func fromTrade(t ledger.Trade) Trade {
	return Trade{
		ID:          t.ID,
		Seq:         t.Seq,
		Symbol:      t.Symbol,
		Price:       t.Price.String(),
		Quantity:    t.Quantity,
		BuyOrderID:  t.BuyOrderID(),
		SellOrderID: t.SellOrderID(),
		Kind:        t.Kind.String(),
		Timestamp:   t.Timestamp,
	}
}

func fromSpreadConfig(c market.SpreadConfig) SpreadConfig {
	return SpreadConfig{
		MinSpread:            c.MinSpread.String(),
		MaxSpread:            c.MaxSpread.String(),
		BaseSpread:           c.BaseSpread.String(),
		VolatilityMultiplier: c.VolatilityMultiplier,
		LiquidityThreshold:   c.LiquidityThreshold,
		AutoAdjust:           c.AutoAdjust,
		ThinBookPenalty:      c.ThinBookPenalty,
		ImbalanceWeight:      c.ImbalanceWeight,
		VolatilityWindow:     c.VolatilityWindow.String(),
	}
}
