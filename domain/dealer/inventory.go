// Package dealer holds the engine's own inventory, used to fill orders
// when no resting counterparty is available.
package dealer

import (
	"github.com/shopspring/decimal"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/orderbook"
)

const costPrecision = 8

// Inventory is the dealer's holding in one symbol. Shares and Cash never
// go negative: Fill caps quantity before mutating.
type Inventory struct {
	Symbol      string
	Shares      int64
	AverageCost decimal.Decimal
	Cash        decimal.Decimal
	RealizedPnL decimal.Decimal
}

// Request asks the dealer to take the other side of a taker's remainder
// at Quote. A valid Limit bounds the execution price.
type Request struct {
	Side     orderbook.Side
	Quantity int64
	Quote    decimal.Decimal
	Limit    decimal.NullDecimal
}

type Execution struct {
	Price    decimal.Decimal
	Quantity int64
}

// Capacity returns how much of r the dealer could fill, without mutating.
func (inv *Inventory) Capacity(r Request) int64 {
	if r.Quantity <= 0 || !r.Quote.IsPositive() {
		return 0
	}
	switch r.Side {
	case orderbook.Buy:
		if r.Limit.Valid && r.Quote.GreaterThan(r.Limit.Decimal) {
			return 0
		}
		return min(r.Quantity, inv.Shares)
	case orderbook.Sell:
		if r.Limit.Valid && r.Quote.LessThan(r.Limit.Decimal) {
			return 0
		}
		affordable := inv.Cash.Div(r.Quote).Floor().IntPart()
		// Div rounds at 16 places; never spend more than Cash.
		for affordable > 0 && r.Quote.Mul(decimal.NewFromInt(affordable)).GreaterThan(inv.Cash) {
			affordable--
		}
		return min(r.Quantity, max(affordable, 0))
	}
	return 0
}

// Fill executes as much of r as the inventory allows. A zero quantity
// execution leaves the inventory untouched.
func (inv *Inventory) Fill(r Request) Execution {
	qty := inv.Capacity(r)
	if qty == 0 {
		return Execution{Price: r.Quote}
	}
	notional := r.Quote.Mul(decimal.NewFromInt(qty))

	if r.Side == orderbook.Buy {
		// Taker buys, dealer sells.
		inv.RealizedPnL = inv.RealizedPnL.Add(r.Quote.Sub(inv.AverageCost).Mul(decimal.NewFromInt(qty)))
		inv.Shares -= qty
		inv.Cash = inv.Cash.Add(notional)
		if inv.Shares == 0 {
			inv.AverageCost = decimal.Zero
		}
	} else {
		held := inv.AverageCost.Mul(decimal.NewFromInt(inv.Shares))
		inv.Shares += qty
		inv.Cash = inv.Cash.Sub(notional)
		inv.AverageCost = held.Add(notional).Div(decimal.NewFromInt(inv.Shares)).Round(costPrecision)
	}
	return Execution{Price: r.Quote, Quantity: qty}
}

// Position is a read view of an Inventory valued at the last trade price.
type Position struct {
	Inventory
	LastPrice     decimal.Decimal
	TotalValue    decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

func (inv *Inventory) Position(last decimal.Decimal) Position {
	shares := decimal.NewFromInt(inv.Shares)
	return Position{
		Inventory:     *inv,
		LastPrice:     last,
		TotalValue:    shares.Mul(last).Add(inv.Cash),
		UnrealizedPnL: last.Sub(inv.AverageCost).Mul(shares),
	}
}
