package ledger

import (
	"sync"
	"time"
)

const DefaultCapacity = 1000

// Ledger is a bounded trade history shared by all symbols. Once full, each
// Record evicts the oldest trade.
type Ledger struct {
	mu   sync.RWMutex
	buf  []Trade
	head int // next write position
	size int
}

func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{buf: make([]Trade, capacity)}
}

func (l *Ledger) Record(trades ...Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range trades {
		l.buf[l.head] = t
		l.head = (l.head + 1) % len(l.buf)
		if l.size < len(l.buf) {
			l.size++
		}
	}
}

// History returns up to limit trades, newest first. An empty symbol
// matches every symbol; limit <= 0 means no limit.
func (l *Ledger) History(symbol string, limit int) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Trade, 0, min(l.size, max(limit, 0)))
	l.newestFirst(func(t *Trade) bool {
		if symbol != "" && t.Symbol != symbol {
			return true
		}
		out = append(out, *t)
		return limit <= 0 || len(out) < limit
	})
	return out
}

// Since returns symbol's trades stamped at or after from, newest first.
func (l *Ledger) Since(symbol string, from time.Time) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Trade
	l.newestFirst(func(t *Trade) bool {
		if t.Symbol == symbol && !t.Timestamp.Before(from) {
			out = append(out, *t)
		}
		return true
	})
	return out
}

// All returns every retained trade, oldest first.
func (l *Ledger) All() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Trade, l.size)
	start := (l.head - l.size + len(l.buf)) % len(l.buf)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(start+i)%len(l.buf)]
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

func (l *Ledger) Capacity() int {
	return len(l.buf)
}

func (l *Ledger) newestFirst(fn func(*Trade) bool) {
	for i := 1; i <= l.size; i++ {
		idx := (l.head - i + len(l.buf)) % len(l.buf)
		if !fn(&l.buf[idx]) {
			return
		}
	}
}
