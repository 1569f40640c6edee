package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/ledger"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/market"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/orderbook"
	"github.com/ngaboserge/capitallab-simulator-sub003/infra/journal"
	"github.com/ngaboserge/capitallab-simulator-sub003/metrics"
)

var ctx = context.Background()

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func acme() Instrument {
	return Instrument{
		Symbol:        "ACME",
		Tradable:      true,
		Open:          dec("285"),
		Bid:           dec("285"),
		Ask:           dec("286"),
		DealerShares:  10000,
		DealerCash:    dec("1000000"),
		DealerAvgCost: dec("280"),
		Spread:        market.DefaultSpreadConfig(),
	}
}

// noDealer is an instrument whose dealer can neither buy nor sell, so
// only the book provides liquidity.
func noDealer(symbol string) Instrument {
	in := acme()
	in.Symbol = symbol
	in.DealerShares = 0
	in.DealerCash = decimal.Zero
	return in
}

func newExchange(t *testing.T, cfg Config, opts ...Option) *Exchange {
	t.Helper()
	opts = append([]Option{WithClock(newClock().Now)}, opts...)
	ex, err := New(cfg, opts...)
	require.NoError(t, err)
	return ex
}

func limit(id, user, symbol string, side orderbook.Side, qty int64, price string) orderbook.Order {
	return orderbook.Order{
		ID: id, UserID: user, Symbol: symbol, Side: side,
		Kind: orderbook.Limit, Quantity: qty, LimitPrice: dec(price),
	}
}

func mkt(id, user, symbol string, side orderbook.Side, qty int64) orderbook.Order {
	return orderbook.Order{
		ID: id, UserID: user, Symbol: symbol, Side: side,
		Kind: orderbook.Market, Quantity: qty,
	}
}

type recordingJournal struct {
	mu   sync.Mutex
	recs []*journal.Record
	err  error
}

func (j *recordingJournal) Append(r *journal.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.recs = append(j.recs, r)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	trades []ledger.Trade
	err    error
}

func (s *recordingSink) PublishTrades(_ context.Context, trades []ledger.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trades...)
	return s.err
}

func TestMarketBuyFilledByDealer(t *testing.T) {
	ex := newExchange(t, Config{Instruments: []Instrument{acme()}})

	res, err := ex.Submit(ctx, mkt("o1", "alice", "ACME", orderbook.Buy, 100))
	require.NoError(t, err)

	require.True(t, res.Accepted)
	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Price.Equal(dec("286")))
	assert.Equal(t, int64(100), res.Fills[0].Quantity)
	assert.True(t, res.Fills[0].Counterparty.IsDealer())
	assert.Zero(t, res.RemainingQuantity)
	assert.Equal(t, orderbook.Filled, res.Order.Status)

	pos, err := ex.Inventory("ACME")
	require.NoError(t, err)
	assert.Equal(t, int64(9900), pos.Shares)
	assert.True(t, pos.Cash.Equal(dec("1028600")))

	trades := ex.TradeHistory("ACME", 10)
	require.Len(t, trades, 1)
	assert.Equal(t, ledger.DealerToUser, trades[0].Kind)
	assert.Equal(t, "o1", trades[0].BuyOrderID())
	assert.Equal(t, ledger.DealerID, trades[0].SellOrderID())

	md, err := ex.MarketData("ACME")
	require.NoError(t, err)
	assert.True(t, md.Last.Equal(dec("286")))
	assert.Equal(t, int64(100), md.LastQuantity)
	assert.Equal(t, int64(100), md.Volume)
	assert.True(t, md.High.Equal(dec("286")))
}

func TestLimitBuyMatchesBookThenRests(t *testing.T) {
	in := acme()
	in.DealerCash = decimal.Zero
	ex := newExchange(t, Config{Instruments: []Instrument{in}})

	res, err := ex.Submit(ctx, limit("a1", "A", "ACME", orderbook.Sell, 50, "284"))
	require.NoError(t, err)
	require.True(t, res.Rested, "dealer without cash cannot take the sell")

	res, err = ex.Submit(ctx, limit("b1", "B", "ACME", orderbook.Buy, 80, "285"))
	require.NoError(t, err)

	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Price.Equal(dec("284")))
	assert.Equal(t, int64(50), res.Fills[0].Quantity)
	assert.Equal(t, "a1", res.Fills[0].Counterparty.OrderID)
	// Dealer ask 286 is above the 285 limit.
	assert.Equal(t, int64(30), res.RemainingQuantity)
	assert.True(t, res.Rested)
	assert.Equal(t, orderbook.Partial, res.Order.Status)

	book, err := ex.OrderBook("ACME")
	require.NoError(t, err)
	assert.Empty(t, book.Asks)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, int64(30), book.Bids[0].Quantity)
	assert.True(t, book.Bids[0].Price.Equal(dec("285")))

	pos, _ := ex.Inventory("ACME")
	assert.Equal(t, int64(10000), pos.Shares)

	trades := ex.TradeHistory("", 0)
	require.Len(t, trades, 1)
	assert.Equal(t, ledger.UserToUser, trades[0].Kind)
}

func TestLimitRemainderFilledByDealerWithinLimit(t *testing.T) {
	ex := newExchange(t, Config{Instruments: []Instrument{acme()}})

	res, err := ex.Submit(ctx, limit("b1", "B", "ACME", orderbook.Buy, 40, "290"))
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Counterparty.IsDealer())
	assert.True(t, res.Fills[0].Price.Equal(dec("286")))
	assert.False(t, res.Rested)
}

func TestUserSellToDealer(t *testing.T) {
	ex := newExchange(t, Config{Instruments: []Instrument{acme()}})

	res, err := ex.Submit(ctx, mkt("s1", "S", "ACME", orderbook.Sell, 10))
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Price.Equal(dec("285")))

	trades := ex.TradeHistory("ACME", 1)
	assert.Equal(t, ledger.UserToDealer, trades[0].Kind)
	assert.Equal(t, ledger.DealerID, trades[0].BuyOrderID())

	pos, _ := ex.Inventory("ACME")
	assert.Equal(t, int64(10010), pos.Shares)
	assert.True(t, pos.Cash.Equal(dec("997150")))
}

func TestPriceTimePriority(t *testing.T) {
	ex := newExchange(t, Config{Instruments: []Instrument{noDealer("ACME")}})

	for _, o := range []orderbook.Order{
		limit("b1", "u1", "ACME", orderbook.Buy, 5, "100"),
		limit("b2", "u2", "ACME", orderbook.Buy, 5, "100"),
		limit("b3", "u3", "ACME", orderbook.Buy, 5, "101"),
	} {
		res, err := ex.Submit(ctx, o)
		require.NoError(t, err)
		require.True(t, res.Rested)
	}

	res, err := ex.Submit(ctx, mkt("s1", "seller", "ACME", orderbook.Sell, 12))
	require.NoError(t, err)
	require.Len(t, res.Fills, 3)

	var ids []string
	for _, f := range res.Fills {
		ids = append(ids, f.Counterparty.OrderID)
	}
	assert.Equal(t, []string{"b3", "b1", "b2"}, ids)
	assert.True(t, res.Fills[0].Price.Equal(dec("101")))
	assert.True(t, res.Fills[2].Price.Equal(dec("100")))
	assert.Equal(t, int64(2), res.Fills[2].Quantity)

	book, _ := ex.OrderBook("ACME")
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "b2", book.Bids[0].OrderID)
	assert.Equal(t, int64(3), book.Bids[0].Quantity)
}

func TestNoNegativeMatching(t *testing.T) {
	ex := newExchange(t, Config{Instruments: []Instrument{noDealer("ACME")}})

	_, err := ex.Submit(ctx, limit("a1", "u1", "ACME", orderbook.Sell, 10, "101"))
	require.NoError(t, err)

	res, err := ex.Submit(ctx, limit("b1", "u2", "ACME", orderbook.Buy, 10, "100"))
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.True(t, res.Rested)
	assert.Equal(t, orderbook.Pending, res.Order.Status)

	res, err = ex.Submit(ctx, limit("s1", "u3", "ACME", orderbook.Sell, 4, "100.5"))
	require.NoError(t, err)
	assert.Empty(t, res.Fills)

	book, _ := ex.OrderBook("ACME")
	assert.Len(t, book.Bids, 1)
	assert.Len(t, book.Asks, 2)
	assert.Equal(t, "s1", book.Asks[0].OrderID)
}

func TestMarketRemainderIsCancelled(t *testing.T) {
	ex := newExchange(t, Config{Instruments: []Instrument{noDealer("ACME")}})
	before, _ := ex.MarketData("ACME")

	res, err := ex.Submit(ctx, mkt("m1", "u1", "ACME", orderbook.Buy, 100))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Empty(t, res.Fills)
	assert.Equal(t, int64(100), res.RemainingQuantity)
	assert.Equal(t, orderbook.Cancelled, res.Order.Status)
	assert.False(t, res.Rested)

	book, _ := ex.OrderBook("ACME")
	assert.Empty(t, book.Bids)

	after, _ := ex.MarketData("ACME")
	assert.Equal(t, before, after, "no fills, no market data change")
}

func TestDealerCappedByShares(t *testing.T) {
	in := acme()
	in.DealerShares = 30
	ex := newExchange(t, Config{Instruments: []Instrument{in}})

	res, err := ex.Submit(ctx, mkt("m1", "u1", "ACME", orderbook.Buy, 100))
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, int64(30), res.Fills[0].Quantity)
	assert.Equal(t, int64(70), res.RemainingQuantity)

	pos, _ := ex.Inventory("ACME")
	assert.Zero(t, pos.Shares)
	assert.True(t, pos.AverageCost.IsZero())
}

func TestDealerCappedByCash(t *testing.T) {
	in := acme()
	in.DealerCash = dec("1000")
	ex := newExchange(t, Config{Instruments: []Instrument{in}})

	res, err := ex.Submit(ctx, mkt("m1", "u1", "ACME", orderbook.Sell, 10))
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, int64(3), res.Fills[0].Quantity) // floor(1000/285)

	pos, _ := ex.Inventory("ACME")
	assert.False(t, pos.Cash.IsNegative())
	assert.True(t, pos.Cash.Equal(dec("145")))
}

func TestCancelIsIdempotent(t *testing.T) {
	j := &recordingJournal{}
	ex := newExchange(t, Config{Instruments: []Instrument{noDealer("ACME")}}, WithJournal(j))

	_, err := ex.Submit(ctx, limit("b1", "u1", "ACME", orderbook.Buy, 5, "100"))
	require.NoError(t, err)

	ok, err := ex.Cancel(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ex.Cancel(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ex.Cancel(ctx, "never-existed")
	require.NoError(t, err)
	assert.False(t, ok)

	book, _ := ex.OrderBook("ACME")
	assert.Empty(t, book.Bids)
	// Only the submit and the effective cancel are journaled.
	assert.Len(t, j.recs, 2)
	assert.Equal(t, journal.RecordCancel, j.recs[1].Type)
}

func TestCancelFilledOrderIsNoop(t *testing.T) {
	ex := newExchange(t, Config{Instruments: []Instrument{noDealer("ACME")}})
	_, err := ex.Submit(ctx, limit("a1", "u1", "ACME", orderbook.Sell, 5, "100"))
	require.NoError(t, err)
	_, err = ex.Submit(ctx, mkt("m1", "u2", "ACME", orderbook.Buy, 5))
	require.NoError(t, err)

	ok, err := ex.Cancel(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRejectionsLeaveNoTrace(t *testing.T) {
	halted := acme()
	halted.Symbol = "HALT"
	halted.Tradable = false

	j := &recordingJournal{}
	sink := &recordingSink{}
	ex := newExchange(t, Config{Instruments: []Instrument{noDealer("ACME"), halted}}, WithJournal(j), WithTradeSink(sink))

	_, err := ex.Submit(ctx, limit("r1", "u1", "ACME", orderbook.Buy, 5, "100"))
	require.NoError(t, err)
	before := ex.Export()
	before.Created = time.Time{}

	cases := []struct {
		name string
		o    orderbook.Order
		want error
	}{
		{"unknown symbol", mkt("x1", "u", "NOPE", orderbook.Buy, 1), ErrUnknownSymbol},
		{"not tradable", mkt("x2", "u", "HALT", orderbook.Buy, 1), ErrUnknownSymbol},
		{"zero quantity", mkt("x3", "u", "ACME", orderbook.Buy, 0), ErrInvalidOrder},
		{"negative quantity", limit("x4", "u", "ACME", orderbook.Sell, -1, "100"), ErrInvalidOrder},
		{"limit without price", orderbook.Order{ID: "x5", Symbol: "ACME", Kind: orderbook.Limit, Quantity: 1}, ErrInvalidOrder},
		{"duplicate resting id", limit("r1", "u", "ACME", orderbook.Sell, 1, "100"), ErrDuplicateOrder},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ex.Submit(ctx, tc.o)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err = ex.Submit(ctx, limit("r1", "u", "ACME", orderbook.Sell, 1, "100"))
	assert.ErrorIs(t, err, ErrInvalidOrder, "duplicate is also an invalid order")

	after := ex.Export()
	after.Created = time.Time{}
	assert.Equal(t, before, after)
	assert.Len(t, j.recs, 1)
	assert.Empty(t, sink.trades)
}

func TestJournalFailureRejects(t *testing.T) {
	j := &recordingJournal{err: errors.New("disk full")}
	ex := newExchange(t, Config{Instruments: []Instrument{acme()}}, WithJournal(j))

	_, err := ex.Submit(ctx, mkt("m1", "u1", "ACME", orderbook.Buy, 10))
	assert.ErrorIs(t, err, ErrJournal)

	pos, _ := ex.Inventory("ACME")
	assert.Equal(t, int64(10000), pos.Shares)
	assert.Empty(t, ex.TradeHistory("", 0))

	_, err = ex.UpdateSpreadConfig(ctx, "ACME", market.SpreadPatch{AutoAdjust: new(bool)})
	assert.ErrorIs(t, err, ErrJournal)
	cfg, _ := ex.SpreadConfig("ACME")
	assert.True(t, cfg.AutoAdjust)
}

func TestGeneratedOrderID(t *testing.T) {
	ex := newExchange(t, Config{Instruments: []Instrument{noDealer("ACME")}})
	res, err := ex.Submit(ctx, limit("", "u1", "ACME", orderbook.Buy, 1, "100"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Order.ID)

	ok, err := ex.Cancel(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSelfTradePolicies(t *testing.T) {
	setup := func(t *testing.T, p SelfTradePolicy) *Exchange {
		ex := newExchange(t, Config{Instruments: []Instrument{noDealer("ACME")}, SelfTrade: p})
		_, err := ex.Submit(ctx, limit("a1", "alice", "ACME", orderbook.Sell, 5, "100"))
		require.NoError(t, err)
		_, err = ex.Submit(ctx, limit("a2", "bob", "ACME", orderbook.Sell, 5, "100"))
		require.NoError(t, err)
		return ex
	}

	t.Run("allow", func(t *testing.T) {
		ex := setup(t, SelfTradeAllow)
		res, err := ex.Submit(ctx, limit("b1", "alice", "ACME", orderbook.Buy, 5, "100"))
		require.NoError(t, err)
		require.Len(t, res.Fills, 1)
		assert.Equal(t, "a1", res.Fills[0].Counterparty.OrderID)
	})

	t.Run("cancel resting", func(t *testing.T) {
		ex := setup(t, SelfTradeCancelResting)
		res, err := ex.Submit(ctx, limit("b1", "alice", "ACME", orderbook.Buy, 5, "100"))
		require.NoError(t, err)
		assert.Equal(t, []string{"a1"}, res.CancelledResting)
		require.Len(t, res.Fills, 1)
		assert.Equal(t, "a2", res.Fills[0].Counterparty.OrderID)

		ok, _ := ex.Cancel(ctx, "a1")
		assert.False(t, ok)
	})

	t.Run("cancel incoming", func(t *testing.T) {
		ex := setup(t, SelfTradeCancelIncoming)
		res, err := ex.Submit(ctx, limit("b1", "alice", "ACME", orderbook.Buy, 5, "100"))
		require.NoError(t, err)
		assert.Empty(t, res.Fills)
		assert.Equal(t, orderbook.Cancelled, res.Order.Status)
		assert.False(t, res.Rested)

		book, _ := ex.OrderBook("ACME")
		assert.Len(t, book.Asks, 2)
		assert.Empty(t, book.Bids)
	})
}

func TestDealerFirstRouting(t *testing.T) {
	in := acme()
	in.DealerShares = 10
	ex := newExchange(t, Config{Instruments: []Instrument{in}}, WithRouting(DealerFirst{}))

	_, err := ex.Submit(ctx, limit("a1", "u1", "ACME", orderbook.Sell, 10, "290"))
	require.NoError(t, err)

	res, err := ex.Submit(ctx, mkt("m1", "u2", "ACME", orderbook.Buy, 15))
	require.NoError(t, err)
	require.Len(t, res.Fills, 2)
	assert.True(t, res.Fills[0].Counterparty.IsDealer())
	assert.Equal(t, int64(10), res.Fills[0].Quantity)
	assert.Equal(t, "a1", res.Fills[1].Counterparty.OrderID)
	assert.Equal(t, int64(5), res.Fills[1].Quantity)
}

func TestSpreadRecomputedAfterFill(t *testing.T) {
	ex := newExchange(t, Config{Instruments: []Instrument{acme()}})

	_, err := ex.Submit(ctx, mkt("m1", "u1", "ACME", orderbook.Buy, 100))
	require.NoError(t, err)

	md, _ := ex.MarketData("ACME")
	// Empty book: thin penalty only, one trade gives no volatility.
	assert.True(t, md.Spread.Equal(dec("1.5")), "spread = %s", md.Spread)
	assert.True(t, md.Ask.Sub(md.Bid).Equal(md.Spread))
	// last moved 285 -> 286, quotes nudged by 0.7 around the new mid.
	assert.True(t, md.Bid.Add(md.Ask).Div(decimal.NewFromInt(2)).Equal(dec("286.2")))
}

func TestUpdateSpreadConfig(t *testing.T) {
	j := &recordingJournal{}
	ex := newExchange(t, Config{Instruments: []Instrument{acme()}}, WithJournal(j))

	off := false
	cfg, err := ex.UpdateSpreadConfig(ctx, "ACME", market.SpreadPatch{AutoAdjust: &off})
	require.NoError(t, err)
	assert.False(t, cfg.AutoAdjust)
	require.Len(t, j.recs, 1)
	assert.Equal(t, journal.RecordSpreadConfig, j.recs[0].Type)

	_, err = ex.Submit(ctx, mkt("m1", "u1", "ACME", orderbook.Buy, 10))
	require.NoError(t, err)
	md, _ := ex.MarketData("ACME")
	assert.True(t, md.Spread.Equal(dec("1")), "fixed spread keeps its width")

	bad := dec("10")
	_, err = ex.UpdateSpreadConfig(ctx, "ACME", market.SpreadPatch{MinSpread: &bad})
	assert.ErrorIs(t, err, market.ErrInvalidSpreadConfig)

	_, err = ex.UpdateSpreadConfig(ctx, "NOPE", market.SpreadPatch{})
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestUpdateSpreadConfigRespreadsAtOnce(t *testing.T) {
	ex := newExchange(t, Config{Instruments: []Instrument{acme()}})

	// a resting order that does not fill, so no pass recomputes the spread
	_, err := ex.Submit(ctx, limit("b1", "u1", "ACME", orderbook.Buy, 10, "280"))
	require.NoError(t, err)

	base, ceiling := dec("0.6"), dec("0.8")
	_, err = ex.UpdateSpreadConfig(ctx, "ACME", market.SpreadPatch{BaseSpread: &base, MaxSpread: &ceiling})
	require.NoError(t, err)

	md, _ := ex.MarketData("ACME")
	assert.True(t, md.Spread.GreaterThanOrEqual(dec("0.5")), "spread = %s", md.Spread)
	assert.True(t, md.Spread.LessThanOrEqual(ceiling), "spread = %s", md.Spread)
	assert.True(t, md.Ask.Sub(md.Bid).Equal(md.Spread))
	assert.True(t, md.Mid().Equal(dec("285.5")), "mid = %s", md.Mid())

	// turning auto-adjust off keeps the quotes where they are
	off := false
	_, err = ex.UpdateSpreadConfig(ctx, "ACME", market.SpreadPatch{AutoAdjust: &off})
	require.NoError(t, err)
	after, _ := ex.MarketData("ACME")
	assert.True(t, after.Spread.Equal(md.Spread))
}

func TestQueriesAcrossSymbols(t *testing.T) {
	ex := newExchange(t, Config{Instruments: []Instrument{acme(), noDealer("BOLT")}})

	assert.Equal(t, []string{"ACME", "BOLT"}, ex.Symbols())
	assert.Len(t, ex.AllMarketData(), 2)
	inv := ex.AllInventory()
	assert.Equal(t, int64(10000), inv["ACME"].Shares)
	assert.Zero(t, inv["BOLT"].Shares)

	_, err := ex.MarketData("NOPE")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	_, err = ex.OrderBook("NOPE")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	_, err = ex.Inventory("NOPE")
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	_, err = ex.Submit(ctx, limit("b1", "u1", "BOLT", orderbook.Buy, 3, "99"))
	require.NoError(t, err)
	_, err = ex.Submit(ctx, limit("b2", "u2", "BOLT", orderbook.Buy, 4, "99"))
	require.NoError(t, err)
	d, err := ex.Depth("BOLT", 1)
	require.NoError(t, err)
	require.Len(t, d.Bids, 1)
	assert.Equal(t, int64(7), d.Bids[0].Quantity)
	assert.Equal(t, 2, d.Bids[0].OrderCount)

	_, err = ex.Submit(ctx, mkt("m1", "u3", "ACME", orderbook.Buy, 1))
	require.NoError(t, err)
	assert.Len(t, ex.TradeHistory("ACME", 10), 1)
	assert.Empty(t, ex.TradeHistory("BOLT", 10))
	assert.Len(t, ex.TradeHistory("", 10), 1)
}

func TestTradeSinkReceivesTrades(t *testing.T) {
	sink := &recordingSink{err: errors.New("outbox down")}
	ex := newExchange(t, Config{Instruments: []Instrument{acme()}}, WithTradeSink(sink))

	res, err := ex.Submit(ctx, mkt("m1", "u1", "ACME", orderbook.Buy, 5))
	require.NoError(t, err, "sink errors never fail a submit")
	require.Len(t, sink.trades, 1)
	assert.Equal(t, res.Fills[0].TradeID, sink.trades[0].ID)
}

// gatedSink holds the first batch until release is closed.
type gatedSink struct {
	mu      sync.Mutex
	calls   int
	buyers  []string
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSink) PublishTrades(_ context.Context, trades []ledger.Trade) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		close(s.entered)
		<-s.release
	}
	s.mu.Lock()
	s.buyers = append(s.buyers, trades[0].BuyOrderID())
	s.mu.Unlock()
	return nil
}

func TestTradeSinkKeepsPassOrder(t *testing.T) {
	sink := &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
	ex := newExchange(t, Config{Instruments: []Instrument{acme()}}, WithTradeSink(sink))

	errs := make(chan error, 2)
	go func() {
		_, err := ex.Submit(ctx, mkt("m1", "u1", "ACME", orderbook.Buy, 5))
		errs <- err
	}()
	<-sink.entered

	go func() {
		_, err := ex.Submit(ctx, mkt("m2", "u2", "ACME", orderbook.Buy, 5))
		errs <- err
	}()
	// give the second pass a chance to overtake
	time.Sleep(50 * time.Millisecond)
	close(sink.release)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"m1", "m2"}, sink.buyers)
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	ex := newExchange(t, Config{Instruments: []Instrument{acme()}}, WithMetrics(metrics.New(reg)))

	_, err := ex.Submit(ctx, mkt("m1", "u1", "ACME", orderbook.Buy, 5))
	require.NoError(t, err)
	_, err = ex.Submit(ctx, mkt("m2", "u1", "NOPE", orderbook.Buy, 5))
	require.Error(t, err)

	n, err := testutil.GatherAndCount(reg, "capitallab_orders_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = testutil.GatherAndCount(reg, "capitallab_fills_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentSymbols(t *testing.T) {
	ex := newExchange(t, Config{Instruments: []Instrument{acme(), func() Instrument {
		in := acme()
		in.Symbol = "BOLT"
		return in
	}()}})

	var wg sync.WaitGroup
	for _, sym := range []string{"ACME", "BOLT"} {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(sym string, w int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					side := orderbook.Buy
					if (i+w)%2 == 0 {
						side = orderbook.Sell
					}
					_, err := ex.Submit(ctx, limit("", "u", sym, side, 3, "285.5"))
					assert.NoError(t, err)
				}
			}(sym, w)
		}
	}
	wg.Wait()

	for _, sym := range []string{"ACME", "BOLT"} {
		v := ex.venues[sym]
		assert.False(t, v.book.Crossed())
		assert.GreaterOrEqual(t, v.inv.Shares, int64(0))
		assert.False(t, v.inv.Cash.IsNegative())
	}
}

func TestConfigValidation(t *testing.T) {
	bad := acme()
	bad.Ask = dec("284")
	_, err := New(Config{Instruments: []Instrument{bad}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	wide := acme()
	wide.Ask = dec("295")
	_, err = New(Config{Instruments: []Instrument{wide}})
	assert.ErrorIs(t, err, ErrInvalidConfig, "auto-adjust seed must respect spread bounds")

	_, err = New(Config{Instruments: []Instrument{acme(), acme()}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	sp := acme()
	sp.Spread.MinSpread = dec("2")
	_, err = New(Config{Instruments: []Instrument{sp}})
	assert.ErrorIs(t, err, market.ErrInvalidSpreadConfig)
}

func TestParseSelfTradePolicy(t *testing.T) {
	p, err := ParseSelfTradePolicy("cancel_resting")
	require.NoError(t, err)
	assert.Equal(t, SelfTradeCancelResting, p)
	p, err = ParseSelfTradePolicy("")
	require.NoError(t, err)
	assert.Equal(t, SelfTradeAllow, p)
	_, err = ParseSelfTradePolicy("nope")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
