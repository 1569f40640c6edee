package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/dealer"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/ledger"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/market"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/orderbook"
	"github.com/ngaboserge/capitallab-simulator-sub003/infra/journal"
	"github.com/ngaboserge/capitallab-simulator-sub003/infra/sequence"
	"github.com/ngaboserge/capitallab-simulator-sub003/logging"
	"github.com/ngaboserge/capitallab-simulator-sub003/metrics"
)

// Instrument seeds one symbol.
type Instrument struct {
	Symbol   string
	Tradable bool

	Open decimal.Decimal
	Bid  decimal.Decimal
	Ask  decimal.Decimal

	DealerShares  int64
	DealerCash    decimal.Decimal
	DealerAvgCost decimal.Decimal

	Spread market.SpreadConfig
}

type Config struct {
	Instruments    []Instrument
	Tuning         market.Tuning
	LedgerCapacity int
	SelfTrade      SelfTradePolicy
}

// Validate checks instruments and their spread configs.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Instruments))
	for _, in := range c.Instruments {
		if in.Symbol == "" {
			return fmt.Errorf("%w: instrument without symbol", ErrInvalidConfig)
		}
		if seen[in.Symbol] {
			return fmt.Errorf("%w: duplicate instrument %s", ErrInvalidConfig, in.Symbol)
		}
		seen[in.Symbol] = true

		if !in.Bid.IsPositive() || in.Ask.LessThan(in.Bid) {
			return fmt.Errorf("%w: %s needs 0 < bid <= ask", ErrInvalidConfig, in.Symbol)
		}
		if in.DealerShares < 0 || in.DealerCash.IsNegative() {
			return fmt.Errorf("%w: %s dealer inventory must not be negative", ErrInvalidConfig, in.Symbol)
		}
		if err := in.Spread.Validate(); err != nil {
			return fmt.Errorf("%s: %w", in.Symbol, err)
		}
		if in.Spread.AutoAdjust {
			w := in.Ask.Sub(in.Bid)
			if w.LessThan(in.Spread.MinSpread) || w.GreaterThan(in.Spread.MaxSpread) {
				return fmt.Errorf("%w: %s seed spread %s outside [%s, %s]",
					ErrInvalidConfig, in.Symbol, w, in.Spread.MinSpread, in.Spread.MaxSpread)
			}
		}
	}
	return nil
}

// Journal is where accepted commands are written before they apply.
type Journal interface {
	Append(*journal.Record) error
}

// TradeSink receives the trades of each matching pass while the symbol
// lock is still held, so one symbol's batches arrive in pass order. It
// must not call back into the Exchange. Errors are logged, never returned
// to the submitter.
type TradeSink interface {
	PublishTrades(ctx context.Context, trades []ledger.Trade) error
}

type Option func(*Exchange)

func WithLogger(l *zap.Logger) Option {
	return func(e *Exchange) { e.log = logging.OrNop(l).Named("exchange") }
}

func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

func WithJournal(j Journal) Option {
	return func(e *Exchange) { e.journal = j }
}

func WithTradeSink(s TradeSink) Option {
	return func(e *Exchange) { e.sink = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Exchange) { e.metrics = m }
}

func WithRouting(p RoutingPolicy) Option {
	return func(e *Exchange) { e.routing = p }
}

func WithSequencer(s *sequence.Sequencer) Option {
	return func(e *Exchange) { e.seq = s }
}

// venue is one symbol's mutable state. Everything in it is guarded by mu.
type venue struct {
	mu       sync.Mutex
	symbol   string
	tradable bool
	book     *orderbook.OrderBook
	data     market.Data
	inv      *dealer.Inventory
	spread   market.SpreadConfig
}

type Exchange struct {
	// venues is fixed after New.
	venues  map[string]*venue
	symbols []string

	tuning    market.Tuning
	selfTrade SelfTradePolicy
	routing   RoutingPolicy

	ledger *ledger.Ledger

	idxMu  sync.Mutex
	orders map[string]string // resting order id -> symbol

	jmu     sync.Mutex
	journal Journal
	seq     *sequence.Sequencer

	sink    TradeSink
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func New(cfg Config, opts ...Option) (*Exchange, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Tuning.PriceDamping.IsZero() && cfg.Tuning.TickSize.IsZero() {
		cfg.Tuning = market.DefaultTuning()
	}

	e := &Exchange{
		venues:    make(map[string]*venue, len(cfg.Instruments)),
		tuning:    cfg.Tuning,
		selfTrade: cfg.SelfTrade,
		routing:   BookFirst{},
		ledger:    ledger.New(cfg.LedgerCapacity),
		orders:    make(map[string]string),
		seq:       sequence.New(0),
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	now := e.now()
	for _, in := range cfg.Instruments {
		open := in.Open
		if !open.IsPositive() {
			open = in.Bid.Add(in.Ask).Div(decimal.NewFromInt(2))
		}
		e.venues[in.Symbol] = &venue{
			symbol:   in.Symbol,
			tradable: in.Tradable,
			book:     orderbook.New(in.Symbol),
			data:     market.NewData(in.Symbol, open, in.Bid, in.Ask, now),
			inv: &dealer.Inventory{
				Symbol:      in.Symbol,
				Shares:      in.DealerShares,
				Cash:        in.DealerCash,
				AverageCost: in.DealerAvgCost,
			},
			spread: in.Spread,
		}
		e.symbols = append(e.symbols, in.Symbol)
	}
	sort.Strings(e.symbols)

	e.log.Info("exchange ready",
		zap.Strings("symbols", e.symbols),
		zap.Stringer("self_trade", e.selfTrade))
	return e, nil
}

func (e *Exchange) venue(symbol string) (*venue, error) {
	v, ok := e.venues[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return v, nil
}

// Symbols lists configured symbols in sorted order.
func (e *Exchange) Symbols() []string {
	return append([]string(nil), e.symbols...)
}

// Sequence is the last sequence number issued.
func (e *Exchange) Sequence() uint64 {
	return e.seq.Current()
}

// ---- queries ----

func (e *Exchange) MarketData(symbol string) (market.Data, error) {
	v, err := e.venue(symbol)
	if err != nil {
		return market.Data{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.data, nil
}

func (e *Exchange) AllMarketData() map[string]market.Data {
	out := make(map[string]market.Data, len(e.venues))
	for _, s := range e.symbols {
		v := e.venues[s]
		v.mu.Lock()
		out[s] = v.data
		v.mu.Unlock()
	}
	return out
}

func (e *Exchange) OrderBook(symbol string) (orderbook.Snapshot, error) {
	v, err := e.venue(symbol)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.book.Snapshot(), nil
}

func (e *Exchange) Depth(symbol string, levels int) (orderbook.Depth, error) {
	v, err := e.venue(symbol)
	if err != nil {
		return orderbook.Depth{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.book.Depth(levels), nil
}

func (e *Exchange) Inventory(symbol string) (dealer.Position, error) {
	v, err := e.venue(symbol)
	if err != nil {
		return dealer.Position{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inv.Position(v.data.Last), nil
}

func (e *Exchange) AllInventory() map[string]dealer.Position {
	out := make(map[string]dealer.Position, len(e.venues))
	for _, s := range e.symbols {
		v := e.venues[s]
		v.mu.Lock()
		out[s] = v.inv.Position(v.data.Last)
		v.mu.Unlock()
	}
	return out
}

// TradeHistory returns up to limit trades, newest first. An empty symbol
// returns trades for every symbol.
func (e *Exchange) TradeHistory(symbol string, limit int) []ledger.Trade {
	return e.ledger.History(symbol, limit)
}

func (e *Exchange) SpreadConfig(symbol string) (market.SpreadConfig, error) {
	v, err := e.venue(symbol)
	if err != nil {
		return market.SpreadConfig{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.spread, nil
}

// UpdateSpreadConfig merges p into the symbol's spread config. With
// AutoAdjust on, quotes are re-spread at once so the live spread stays
// inside the new bounds.
func (e *Exchange) UpdateSpreadConfig(ctx context.Context, symbol string, p market.SpreadPatch) (market.SpreadConfig, error) {
	if err := ctx.Err(); err != nil {
		return market.SpreadConfig{}, err
	}
	v, err := e.venue(symbol)
	if err != nil {
		return market.SpreadConfig{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	next, err := v.spread.Apply(p)
	if err != nil {
		return market.SpreadConfig{}, err
	}
	now := e.now()
	if _, err := e.record(journal.RecordSpreadConfig, now, encodeSpreadConfig(symbol, next)); err != nil {
		return market.SpreadConfig{}, err
	}
	e.setSpread(v, next, now)

	e.log.Info("spread config updated",
		zap.String("symbol", symbol),
		zap.Stringer("min", next.MinSpread),
		zap.Stringer("base", next.BaseSpread),
		zap.Stringer("max", next.MaxSpread),
		zap.Bool("auto_adjust", next.AutoAdjust))
	return next, nil
}

func (e *Exchange) setSpread(v *venue, c market.SpreadConfig, now time.Time) {
	v.spread = c
	if c.AutoAdjust {
		e.recompute(v, now)
		bidQty, askQty := v.book.Totals()
		e.metrics.Market(v.symbol, v.data.Spread, v.inv.Shares, v.inv.Cash, bidQty, askQty)
	}
}

// record takes the next sequence number and journals the command under it.
// Both happen under jmu so journal order matches sequence order.
func (e *Exchange) record(t journal.RecordType, at time.Time, payload []byte) (uint64, error) {
	e.jmu.Lock()
	defer e.jmu.Unlock()

	seq := e.seq.Next()
	if e.journal == nil {
		return seq, nil
	}
	if err := e.journal.Append(journal.NewRecord(t, seq, at, payload)); err != nil {
		e.log.Error("journal append failed", zap.Uint64("seq", seq), zap.Stringer("type", t), zap.Error(err))
		return 0, fmt.Errorf("%w: %w", ErrJournal, err)
	}
	return seq, nil
}

// ---- resting order index ----

func (e *Exchange) restingSymbol(orderID string) (string, bool) {
	e.idxMu.Lock()
	defer e.idxMu.Unlock()
	s, ok := e.orders[orderID]
	return s, ok
}

func (e *Exchange) index(orderID, symbol string) bool {
	e.idxMu.Lock()
	defer e.idxMu.Unlock()
	if _, ok := e.orders[orderID]; ok {
		return false
	}
	e.orders[orderID] = symbol
	return true
}

func (e *Exchange) unindex(orderID string) {
	e.idxMu.Lock()
	delete(e.orders, orderID)
	e.idxMu.Unlock()
}
