package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/dealer"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/ledger"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/market"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/orderbook"
	"github.com/ngaboserge/capitallab-simulator-sub003/infra/journal"
)

// Fill is one execution from the incoming order's point of view.
type Fill struct {
	TradeID      string
	Price        decimal.Decimal
	Quantity     int64
	Counterparty ledger.Counterparty
}

type MatchResult struct {
	// Order is the submitted order with its final fill state.
	Order             orderbook.Order
	Fills             []Fill
	RemainingQuantity int64
	Accepted          bool
	// Rested is set when a limit remainder was parked in the book.
	Rested bool
	// CancelledResting lists resting orders removed by self-trade
	// prevention during the pass.
	CancelledResting []string
}

func (r MatchResult) FilledQuantity() int64 {
	var n int64
	for _, f := range r.Fills {
		n += f.Quantity
	}
	return n
}

// Submit runs one matching pass for o. A rejected order changes nothing.
// A market order that cannot be fully filled ends CANCELLED with its
// remainder reported; it never rests.
func (e *Exchange) Submit(ctx context.Context, o orderbook.Order) (MatchResult, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSubmit(time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return MatchResult{}, err
	}
	v, err := e.tradableVenue(o.Symbol)
	if err != nil {
		e.reject(o, err)
		return MatchResult{}, err
	}
	if err := o.Validate(); err != nil {
		e.reject(o, err)
		return MatchResult{}, err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	v.mu.Lock()
	if _, ok := e.restingSymbol(o.ID); ok {
		v.mu.Unlock()
		err := fmt.Errorf("%w: %w: %s", ErrInvalidOrder, ErrDuplicateOrder, o.ID)
		e.reject(o, err)
		return MatchResult{}, err
	}
	now := e.now()
	if o.SubmittedAt.IsZero() {
		o.SubmittedAt = now
	}
	seq, err := e.record(journal.RecordSubmit, now, encodeSubmit(o))
	if err != nil {
		v.mu.Unlock()
		e.reject(o, err)
		return MatchResult{}, err
	}
	res, trades := e.execute(v, o, seq, now)
	// Trades reach the sink in pass order for the symbol.
	e.publish(ctx, trades)
	v.mu.Unlock()

	e.log.Debug("order processed",
		zap.String("order_id", res.Order.ID),
		zap.String("symbol", res.Order.Symbol),
		zap.Stringer("side", res.Order.Side),
		zap.Stringer("kind", res.Order.Kind),
		zap.Int64("filled", res.Order.FilledQuantity),
		zap.Int64("remaining", res.RemainingQuantity),
		zap.Stringer("status", res.Order.Status))
	return res, nil
}

func (e *Exchange) tradableVenue(symbol string) (*venue, error) {
	v, err := e.venue(symbol)
	if err != nil {
		return nil, err
	}
	if !v.tradable {
		return nil, fmt.Errorf("%w: %s is not tradable", ErrUnknownSymbol, symbol)
	}
	return v, nil
}

func (e *Exchange) reject(o orderbook.Order, err error) {
	e.metrics.Order(o.Symbol, "rejected")
	e.log.Debug("order rejected",
		zap.String("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.Error(err))
}

func (e *Exchange) publish(ctx context.Context, trades []ledger.Trade) {
	if e.sink == nil || len(trades) == 0 {
		return
	}
	if err := e.sink.PublishTrades(context.WithoutCancel(ctx), trades); err != nil {
		e.log.Error("trade sink failed",
			zap.Int("trades", len(trades)),
			zap.Uint64("first_seq", trades[0].Seq),
			zap.Error(err))
	}
}

// execute is the matching pass proper. The caller holds v.mu and has
// already journaled the command under seq.
func (e *Exchange) execute(v *venue, o orderbook.Order, seq uint64, now time.Time) (MatchResult, []ledger.Trade) {
	o.Reset()
	p := pass{ex: e, v: v, o: &o, now: now}

	for _, route := range e.routing.Routes(&o) {
		if o.RemainingQuantity == 0 || p.halted {
			break
		}
		switch route {
		case RouteBook:
			p.matchBook()
		case RouteDealer:
			p.matchDealer()
		}
	}

	res := MatchResult{Accepted: true, CancelledResting: p.cancelled}
	switch {
	case o.RemainingQuantity == 0:
	case p.halted || o.Kind == orderbook.Market:
		o.Status = orderbook.Cancelled
	default:
		res.Rested = p.rest(seq)
	}

	if len(p.trades) > 0 {
		prints := make([]market.Print, len(p.trades))
		for i, t := range p.trades {
			prints[i] = market.Print{Price: t.Price, Quantity: t.Quantity}
		}
		v.data.ApplyFills(prints, e.tuning, now)
		e.ledger.Record(p.trades...)
		e.recompute(v, now)
	}

	res.Order = o
	res.Fills = p.fills
	res.RemainingQuantity = o.RemainingQuantity
	e.observe(v, &res, p.trades)
	return res, p.trades
}

func (e *Exchange) recompute(v *venue, now time.Time) {
	bidQty, askQty := v.book.Totals()
	recent := e.ledger.Since(v.symbol, now.Add(-v.spread.VolatilityWindow))
	prices := make([]decimal.Decimal, len(recent))
	for i, t := range recent {
		prices[i] = t.Price
	}
	market.Recompute(&v.data, v.spread, market.Inputs{
		BidQty: bidQty,
		AskQty: askQty,
		Prices: prices,
	}, e.tuning.TickSize, now)
}

func (e *Exchange) observe(v *venue, res *MatchResult, trades []ledger.Trade) {
	if e.metrics == nil {
		return
	}
	outcome := "accepted"
	switch {
	case res.Order.Status == orderbook.Filled:
		outcome = "filled"
	case res.Rested:
		outcome = "rested"
	case res.Order.Status == orderbook.Cancelled:
		outcome = "cancelled"
	}
	e.metrics.Order(v.symbol, outcome)
	for _, t := range trades {
		e.metrics.Fill(v.symbol, t.Kind.String(), t.Quantity)
	}
	bidQty, askQty := v.book.Totals()
	e.metrics.Market(v.symbol, v.data.Spread, v.inv.Shares, v.inv.Cash, bidQty, askQty)
}

// pass carries the state of one matching pass.
type pass struct {
	ex  *Exchange
	v   *venue
	o   *orderbook.Order
	now time.Time

	fills     []Fill
	trades    []ledger.Trade
	cancelled []string
	// halted is set when self-trade prevention cancels the incoming order.
	halted bool
}

// matchBook walks the opposite side best level first, FIFO within a
// level, trading at the resting price.
func (p *pass) matchBook() {
	book := p.v.book
	for p.o.RemainingQuantity > 0 {
		lvl := book.Best(p.o.Side.Opposite())
		if lvl == nil || !p.o.Accepts(lvl.Price) {
			return
		}
		rest := lvl.Head()

		if p.o.UserID != "" && rest.UserID == p.o.UserID {
			switch p.ex.selfTrade {
			case SelfTradeCancelResting:
				id := rest.OrderID
				book.Cancel(id)
				p.ex.unindex(id)
				p.cancelled = append(p.cancelled, id)
				continue
			case SelfTradeCancelIncoming:
				p.halted = true
				return
			}
		}

		qty := min(p.o.RemainingQuantity, rest.Quantity)
		price := lvl.Price
		other := ledger.User(rest.OrderID, rest.UserID)
		if book.Reduce(rest, qty) {
			p.ex.unindex(other.OrderID)
		}
		p.o.Fill(qty)
		p.trade(price, qty, other)
	}
}

// matchDealer fills what it can of the remainder from inventory at the
// current quote: the ask for a buyer, the bid for a seller.
func (p *pass) matchDealer() {
	quote := p.v.data.Ask
	if p.o.Side == orderbook.Sell {
		quote = p.v.data.Bid
	}
	req := dealer.Request{
		Side:     p.o.Side,
		Quantity: p.o.RemainingQuantity,
		Quote:    quote,
	}
	if p.o.Kind == orderbook.Limit {
		req.Limit = decimal.NewNullDecimal(p.o.LimitPrice)
	}
	ex := p.v.inv.Fill(req)
	if ex.Quantity == 0 {
		return
	}
	p.o.Fill(ex.Quantity)
	p.trade(ex.Price, ex.Quantity, ledger.Dealer())
}

func (p *pass) trade(price decimal.Decimal, qty int64, other ledger.Counterparty) {
	self := ledger.User(p.o.ID, p.o.UserID)
	buyer, seller := self, other
	if p.o.Side == orderbook.Sell {
		buyer, seller = other, self
	}
	t := ledger.Trade{
		ID:        uuid.NewString(),
		Seq:       p.ex.seq.Next(),
		Symbol:    p.v.symbol,
		Price:     price,
		Quantity:  qty,
		Buyer:     buyer,
		Seller:    seller,
		Timestamp: p.now,
		Kind:      ledger.KindOf(buyer, seller),
	}
	p.trades = append(p.trades, t)
	p.fills = append(p.fills, Fill{
		TradeID:      t.ID,
		Price:        price,
		Quantity:     qty,
		Counterparty: other,
	})
}

// rest parks the limit remainder at the limit price.
func (p *pass) rest(seq uint64) bool {
	if !p.ex.index(p.o.ID, p.v.symbol) {
		// Same id raced in on another symbol.
		p.o.Status = orderbook.Cancelled
		p.ex.log.Warn("duplicate order id at rest time, remainder cancelled",
			zap.String("order_id", p.o.ID), zap.String("symbol", p.v.symbol))
		return false
	}
	err := p.v.book.Insert(&orderbook.Entry{
		OrderID:    p.o.ID,
		UserID:     p.o.UserID,
		Side:       p.o.Side,
		Price:      p.o.LimitPrice,
		Quantity:   p.o.RemainingQuantity,
		InsertedAt: p.now,
		Seq:        seq,
	})
	if err != nil {
		p.ex.unindex(p.o.ID)
		p.o.Status = orderbook.Cancelled
		p.ex.log.Error("rest failed", zap.String("order_id", p.o.ID), zap.Error(err))
		return false
	}
	return true
}

// Cancel removes a resting order. It reports true only when an entry was
// actually removed; unknown, filled and already cancelled ids give false.
func (e *Exchange) Cancel(ctx context.Context, orderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	symbol, ok := e.restingSymbol(orderID)
	if !ok {
		return false, nil
	}
	v := e.venues[symbol]

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.book.Has(orderID) {
		return false, nil
	}
	if _, err := e.record(journal.RecordCancel, e.now(), encodeCancel(symbol, orderID)); err != nil {
		return false, err
	}
	e.cancelResting(v, orderID)
	return true, nil
}

func (e *Exchange) cancelResting(v *venue, orderID string) bool {
	entry, ok := v.book.Cancel(orderID)
	if !ok {
		return false
	}
	e.unindex(orderID)
	e.metrics.Order(v.symbol, "cancelled")
	bidQty, askQty := v.book.Totals()
	e.metrics.Market(v.symbol, v.data.Spread, v.inv.Shares, v.inv.Cash, bidQty, askQty)
	e.log.Debug("order cancelled",
		zap.String("order_id", orderID),
		zap.String("symbol", v.symbol),
		zap.Int64("quantity", entry.Quantity))
	return true
}
