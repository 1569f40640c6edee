package orderbook

import (
	"errors"
	"fmt"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

var ErrDuplicateOrder = errors.New("order already resting in book")

const btreeDegree = 16

type bookSide struct {
	side   Side
	levels *btree.BTreeG[*PriceLevel]
	total  int64
}

func newBookSide(s Side) *bookSide {
	return &bookSide{
		side: s,
		levels: btree.NewG(btreeDegree, func(a, b *PriceLevel) bool {
			return a.Price.LessThan(b.Price)
		}),
	}
}

// best is the highest bid or the lowest ask.
func (s *bookSide) best() *PriceLevel {
	var (
		lvl *PriceLevel
		ok  bool
	)
	if s.side == Buy {
		lvl, ok = s.levels.Max()
	} else {
		lvl, ok = s.levels.Min()
	}
	if !ok {
		return nil
	}
	return lvl
}

// walk visits levels from best to worst until fn returns false.
func (s *bookSide) walk(fn func(*PriceLevel) bool) {
	if s.side == Buy {
		s.levels.Descend(fn)
	} else {
		s.levels.Ascend(fn)
	}
}

func (s *bookSide) getOrCreate(price decimal.Decimal) *PriceLevel {
	if lvl, ok := s.levels.Get(&PriceLevel{Price: price}); ok {
		return lvl
	}
	lvl := &PriceLevel{Price: price}
	s.levels.ReplaceOrInsert(lvl)
	return lvl
}

func (s *bookSide) remove(e *Entry) {
	lvl := e.level
	s.total -= e.Quantity
	lvl.unlink(e)
	if lvl.Empty() {
		s.levels.Delete(lvl)
	}
}

// OrderBook is single-writer: callers serialise access per symbol.
type OrderBook struct {
	Symbol string

	bids  *bookSide
	asks  *bookSide
	index map[string]*Entry
}

func New(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   newBookSide(Buy),
		asks:   newBookSide(Sell),
		index:  make(map[string]*Entry),
	}
}

func (b *OrderBook) side(s Side) *bookSide {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// Insert parks e at the tail of its price level.
func (b *OrderBook) Insert(e *Entry) error {
	if e.Quantity <= 0 {
		return fmt.Errorf("%w: resting quantity must be positive", ErrInvalidOrder)
	}
	if _, ok := b.index[e.OrderID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, e.OrderID)
	}
	s := b.side(e.Side)
	s.getOrCreate(e.Price).Enqueue(e)
	s.total += e.Quantity
	b.index[e.OrderID] = e
	return nil
}

// Best returns the best level on side s, or nil when that side is empty.
func (b *OrderBook) Best(s Side) *PriceLevel {
	return b.side(s).best()
}

// Reduce takes qty off a resting entry and removes it at zero.
// It reports whether the entry left the book.
func (b *OrderBook) Reduce(e *Entry, qty int64) bool {
	if qty <= 0 || qty > e.Quantity {
		panic(fmt.Sprintf("orderbook: reduce of %d exceeds resting %d on %s", qty, e.Quantity, e.OrderID))
	}
	s := b.side(e.Side)
	e.Quantity -= qty
	e.level.TotalQty -= qty
	s.total -= qty
	if e.Quantity > 0 {
		return false
	}
	s.remove(e)
	delete(b.index, e.OrderID)
	return true
}

// Cancel removes a resting order. Unknown ids are a no-op.
func (b *OrderBook) Cancel(orderID string) (Entry, bool) {
	e, ok := b.index[orderID]
	if !ok {
		return Entry{}, false
	}
	out := *e
	b.side(e.Side).remove(e)
	delete(b.index, orderID)
	out.level, out.next, out.prev = nil, nil, nil
	return out, true
}

func (b *OrderBook) Has(orderID string) bool {
	_, ok := b.index[orderID]
	return ok
}

// Totals returns the resting quantity on each side.
func (b *OrderBook) Totals() (bidQty, askQty int64) {
	return b.bids.total, b.asks.total
}

func (b *OrderBook) Len() int {
	return len(b.index)
}

// Crossed reports a best bid at or above the best ask. A correct matching
// pass never leaves the book in this state.
func (b *OrderBook) Crossed() bool {
	bid, ask := b.bids.best(), b.asks.best()
	if bid == nil || ask == nil {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// ---- traversal helpers ----

func (b *OrderBook) BidsWalk(fn func(*PriceLevel) bool) {
	b.bids.walk(fn)
}

func (b *OrderBook) AsksWalk(fn func(*PriceLevel) bool) {
	b.asks.walk(fn)
}
