package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryView is a read-only copy of a resting entry.
type EntryView struct {
	OrderID    string
	UserID     string
	Side       Side
	Price      decimal.Decimal
	Quantity   int64
	InsertedAt time.Time
	Seq        uint64
}

// Snapshot lists resting entries in priority order: bids by price
// descending, asks by price ascending, FIFO within a level.
type Snapshot struct {
	Symbol string
	Bids   []EntryView
	Asks   []EntryView
}

type LevelView struct {
	Price      decimal.Decimal
	Quantity   int64
	OrderCount int
}

type Depth struct {
	Symbol string
	Bids   []LevelView
	Asks   []LevelView
}

func (b *OrderBook) Snapshot() Snapshot {
	return Snapshot{
		Symbol: b.Symbol,
		Bids:   entries(b.bids),
		Asks:   entries(b.asks),
	}
}

// Depth aggregates the best n levels per side; n <= 0 means all.
func (b *OrderBook) Depth(n int) Depth {
	return Depth{
		Symbol: b.Symbol,
		Bids:   levels(b.bids, n),
		Asks:   levels(b.asks, n),
	}
}

// Restore re-parks entries taken from a Snapshot. Entries must be in
// snapshot order so that FIFO position inside each level is kept.
func (b *OrderBook) Restore(s Snapshot) error {
	for _, list := range [][]EntryView{s.Bids, s.Asks} {
		for _, v := range list {
			if err := b.Insert(&Entry{
				OrderID:    v.OrderID,
				UserID:     v.UserID,
				Side:       v.Side,
				Price:      v.Price,
				Quantity:   v.Quantity,
				InsertedAt: v.InsertedAt,
				Seq:        v.Seq,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func entries(s *bookSide) []EntryView {
	out := make([]EntryView, 0, s.levels.Len())
	s.walk(func(lvl *PriceLevel) bool {
		for e := lvl.Head(); e != nil; e = e.Next() {
			out = append(out, EntryView{
				OrderID:    e.OrderID,
				UserID:     e.UserID,
				Side:       e.Side,
				Price:      lvl.Price,
				Quantity:   e.Quantity,
				InsertedAt: e.InsertedAt,
				Seq:        e.Seq,
			})
		}
		return true
	})
	return out
}

func levels(s *bookSide, n int) []LevelView {
	out := make([]LevelView, 0, s.levels.Len())
	s.walk(func(lvl *PriceLevel) bool {
		if n > 0 && len(out) == n {
			return false
		}
		out = append(out, LevelView{
			Price:      lvl.Price,
			Quantity:   lvl.TotalQty,
			OrderCount: lvl.OrderCount,
		})
		return true
	})
	return out
}
