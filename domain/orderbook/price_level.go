package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry is a resting order's footprint in the book.
type Entry struct {
	OrderID    string
	UserID     string
	Side       Side
	Price      decimal.Decimal
	Quantity   int64
	InsertedAt time.Time
	Seq        uint64

	level *PriceLevel
	next  *Entry
	prev  *Entry
}

func (e *Entry) Next() *Entry {
	return e.next
}

// PriceLevel is a FIFO queue at a single price.
type PriceLevel struct {
	Price decimal.Decimal

	head *Entry
	tail *Entry

	TotalQty   int64
	OrderCount int
}

func (p *PriceLevel) Enqueue(e *Entry) {
	e.level = p
	if p.head == nil {
		p.head = e
		p.tail = e
	} else {
		p.tail.next = e
		e.prev = p.tail
		p.tail = e
	}
	p.TotalQty += e.Quantity
	p.OrderCount++
}

// unlink removes e from anywhere in the queue in O(1).
func (p *PriceLevel) unlink(e *Entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		p.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		p.tail = e.prev
	}
	e.next = nil
	e.prev = nil
	e.level = nil

	p.TotalQty -= e.Quantity
	p.OrderCount--
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Read-only helper
func (p *PriceLevel) Head() *Entry {
	return p.head
}
