package service

import (
	"fmt"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/orderbook"
	"github.com/ngaboserge/capitallab-simulator-sub003/snapshot"
)

// Export captures every symbol at one sequence number. All symbol locks
// are held together, in sorted order, so no command is half applied.
func (e *Exchange) Export() snapshot.State {
	for _, s := range e.symbols {
		e.venues[s].mu.Lock()
	}
	defer func() {
		for _, s := range e.symbols {
			e.venues[s].mu.Unlock()
		}
	}()

	st := snapshot.State{
		Seq:     e.seq.Current(),
		Created: e.now(),
		Markets: make([]snapshot.Market, 0, len(e.symbols)),
		Trades:  e.ledger.All(),
	}
	for _, s := range e.symbols {
		v := e.venues[s]
		st.Markets = append(st.Markets, snapshot.Market{
			Symbol:    s,
			Book:      v.book.Snapshot(),
			Data:      v.data,
			Inventory: *v.inv,
			Spread:    v.spread,
		})
	}
	return st
}

// Restore replaces the state of every symbol named in st. It is meant
// for a freshly built exchange, before Replay and before traffic.
func (e *Exchange) Restore(st snapshot.State) error {
	for _, m := range st.Markets {
		v, err := e.venue(m.Symbol)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		book := orderbook.New(m.Symbol)
		if err := book.Restore(m.Book); err != nil {
			return fmt.Errorf("restore %s: %w", m.Symbol, err)
		}

		v.mu.Lock()
		for _, id := range restingIDs(v.book) {
			e.unindex(id)
		}
		v.book = book
		v.data = m.Data
		inv := m.Inventory
		v.inv = &inv
		v.spread = m.Spread
		for _, id := range restingIDs(book) {
			e.index(id, m.Symbol)
		}
		v.mu.Unlock()
	}
	e.ledger.Record(st.Trades...)
	e.seq.Observe(st.Seq)

	e.log.Info("state restored")
	return nil
}

func restingIDs(b *orderbook.OrderBook) []string {
	s := b.Snapshot()
	ids := make([]string, 0, len(s.Bids)+len(s.Asks))
	for _, v := range s.Bids {
		ids = append(ids, v.OrderID)
	}
	for _, v := range s.Asks {
		ids = append(ids, v.OrderID)
	}
	return ids
}
