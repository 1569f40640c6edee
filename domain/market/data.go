package market

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

const percentPrecision = 4

// Data is the per-symbol market snapshot. Ask >= Bid always.
type Data struct {
	Symbol        string
	Bid           decimal.Decimal
	Ask           decimal.Decimal
	Last          decimal.Decimal
	LastQuantity  int64
	Spread        decimal.Decimal
	Volume        int64
	High          decimal.Decimal
	Low           decimal.Decimal
	Open          decimal.Decimal
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
	Timestamp     time.Time
}

// Tuning holds the price-update constants. They are tunables, not
// calibrated values.
type Tuning struct {
	// PriceDamping is the share of a last-price move applied to bid and ask.
	PriceDamping decimal.Decimal
	// TickSize is the lowest price a quote may reach.
	TickSize decimal.Decimal
}

func DefaultTuning() Tuning {
	return Tuning{
		PriceDamping: decimal.RequireFromString("0.7"),
		TickSize:     decimal.RequireFromString("0.01"),
	}
}

func NewData(symbol string, open, bid, ask decimal.Decimal, now time.Time) Data {
	if ask.LessThan(bid) {
		bid, ask = ask, bid
	}
	return Data{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      open,
		Spread:    ask.Sub(bid),
		High:      open,
		Low:       open,
		Open:      open,
		Timestamp: now,
	}
}

// Print is one execution in a matching pass.
type Print struct {
	Price    decimal.Decimal
	Quantity int64
}

// ApplyFills folds a matching pass into the snapshot. Last trade fields
// come from the final print; bid and ask move by the damped change in last
// price, keeping their width.
func (d *Data) ApplyFills(prints []Print, tu Tuning, now time.Time) {
	if len(prints) == 0 {
		return
	}
	var qty int64
	for _, p := range prints {
		qty += p.Quantity
	}
	final := prints[len(prints)-1]
	prev := d.Last

	d.Last = final.Price
	d.LastQuantity = final.Quantity
	d.Volume += qty
	d.High = decimal.Max(d.High, final.Price)
	d.Low = decimal.Min(d.Low, final.Price)
	d.Change = d.Last.Sub(d.Open)
	if d.Open.IsPositive() {
		d.ChangePercent = d.Change.Div(d.Open).Mul(hundred).Round(percentPrecision)
	}

	nudge := d.Last.Sub(prev).Mul(tu.PriceDamping)
	d.Bid = d.Bid.Add(nudge)
	d.Ask = d.Ask.Add(nudge)
	d.floor(tu.TickSize)
	d.Spread = d.Ask.Sub(d.Bid)
	d.Timestamp = now
}

// Recenter sets bid and ask spread apart around the current midpoint.
func (d *Data) Recenter(spread, tick decimal.Decimal, now time.Time) {
	mid := d.Bid.Add(d.Ask).Div(two)
	half := spread.Div(two)
	d.Bid = mid.Sub(half)
	d.Ask = mid.Add(half)
	d.floor(tick)
	d.Spread = d.Ask.Sub(d.Bid)
	d.Timestamp = now
}

// Mid is the midpoint of bid and ask.
func (d *Data) Mid() decimal.Decimal {
	return d.Bid.Add(d.Ask).Div(two)
}

// floor shifts both quotes up so the bid never drops below tick.
func (d *Data) floor(tick decimal.Decimal) {
	if !tick.IsPositive() || d.Bid.GreaterThanOrEqual(tick) {
		return
	}
	shift := tick.Sub(d.Bid)
	d.Bid = d.Bid.Add(shift)
	d.Ask = d.Ask.Add(shift)
}
