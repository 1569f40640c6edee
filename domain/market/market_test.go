package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var epoch = time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)

func TestNewDataOrdersQuotes(t *testing.T) {
	md := NewData("ACME", d("100"), d("101"), d("99"), epoch)
	assert.True(t, md.Bid.Equal(d("99")))
	assert.True(t, md.Ask.Equal(d("101")))
	assert.True(t, md.Spread.Equal(d("2")))
	assert.True(t, md.High.Equal(d("100")))
	assert.True(t, md.Low.Equal(d("100")))
}

func TestApplyFillsUsesFinalPrint(t *testing.T) {
	md := NewData("ACME", d("285"), d("284"), d("286"), epoch)

	md.ApplyFills([]Print{
		{Price: d("284"), Quantity: 50},
		{Price: d("286"), Quantity: 30},
	}, DefaultTuning(), epoch.Add(time.Second))

	assert.True(t, md.Last.Equal(d("286")))
	assert.Equal(t, int64(30), md.LastQuantity)
	assert.Equal(t, int64(80), md.Volume)
	assert.True(t, md.High.Equal(d("286")))
	assert.True(t, md.Low.Equal(d("285")))
	assert.True(t, md.Change.Equal(d("1")))
	assert.True(t, md.ChangePercent.Equal(d("0.3509")), md.ChangePercent.String())

	// last moved +1, quotes move +0.7 each
	assert.True(t, md.Bid.Equal(d("284.7")), md.Bid.String())
	assert.True(t, md.Ask.Equal(d("286.7")), md.Ask.String())
	assert.True(t, md.Spread.Equal(d("2")))
	assert.Equal(t, epoch.Add(time.Second), md.Timestamp)
}

func TestApplyFillsFloorsAtTick(t *testing.T) {
	md := NewData("PENNY", d("1"), d("0.5"), d("1.5"), epoch)
	md.ApplyFills([]Print{{Price: d("0.01"), Quantity: 1}}, DefaultTuning(), epoch)

	assert.True(t, md.Bid.GreaterThanOrEqual(d("0.01")))
	assert.True(t, md.Spread.Equal(d("1")))
}

func TestApplyNoFillsIsNoop(t *testing.T) {
	md := NewData("ACME", d("10"), d("9"), d("11"), epoch)
	before := md
	md.ApplyFills(nil, DefaultTuning(), epoch.Add(time.Hour))
	assert.Equal(t, before, md)
}

func TestComputeSpreadBaseline(t *testing.T) {
	cfg := DefaultSpreadConfig()
	cfg.MinSpread, cfg.MaxSpread, cfg.BaseSpread = d("0.5"), d("5.0"), d("1.0")
	cfg.LiquidityThreshold = 100

	got := ComputeSpread(cfg, Inputs{BidQty: 200, AskQty: 200})
	assert.True(t, got.Equal(d("1.0")), got.String())
}

func TestComputeSpreadThinBook(t *testing.T) {
	cfg := DefaultSpreadConfig()
	cfg.LiquidityThreshold = 100

	got := ComputeSpread(cfg, Inputs{})
	assert.True(t, got.Equal(d("1.5")), got.String())
}

func TestComputeSpreadImbalance(t *testing.T) {
	cfg := DefaultSpreadConfig()
	cfg.LiquidityThreshold = 100

	// |300-100|/400 = 0.5, * weight 0.5 = 0.25
	got := ComputeSpread(cfg, Inputs{BidQty: 300, AskQty: 100})
	assert.True(t, got.Equal(d("1.25")), got.String())
}

func TestComputeSpreadClamps(t *testing.T) {
	cfg := DefaultSpreadConfig()
	cfg.VolatilityMultiplier = 1000
	cfg.LiquidityThreshold = 0

	wild := []decimal.Decimal{d("1"), d("100"), d("1"), d("100")}
	assert.True(t, ComputeSpread(cfg, Inputs{Prices: wild}).Equal(cfg.MaxSpread))

	cfg.BaseSpread = cfg.MinSpread
	cfg.ImbalanceWeight = 0
	assert.True(t, ComputeSpread(cfg, Inputs{BidQty: 1}).Equal(cfg.MinSpread))
}

func TestVolatility(t *testing.T) {
	assert.Zero(t, Volatility(nil))
	assert.Zero(t, Volatility([]decimal.Decimal{d("100")}))
	assert.Zero(t, Volatility([]decimal.Decimal{d("100"), d("100")}))
	// mean 100, population stddev 10
	assert.InDelta(t, 0.1, Volatility([]decimal.Decimal{d("90"), d("110")}), 1e-12)
}

func TestRecomputeRespectsAutoAdjust(t *testing.T) {
	md := NewData("ACME", d("100"), d("99"), d("101"), epoch)
	cfg := DefaultSpreadConfig()
	cfg.LiquidityThreshold = 0

	cfg.AutoAdjust = false
	assert.False(t, Recompute(&md, cfg, Inputs{}, d("0.01"), epoch))
	assert.True(t, md.Spread.Equal(d("2")))

	cfg.AutoAdjust = true
	require.True(t, Recompute(&md, cfg, Inputs{}, d("0.01"), epoch))
	assert.True(t, md.Bid.Equal(d("99.5")))
	assert.True(t, md.Ask.Equal(d("100.5")))
	assert.True(t, md.Spread.Equal(d("1")))
}

func TestSpreadConfigApply(t *testing.T) {
	cfg := DefaultSpreadConfig()

	base := d("2")
	next, err := cfg.Apply(SpreadPatch{BaseSpread: &base})
	require.NoError(t, err)
	assert.True(t, next.BaseSpread.Equal(base))
	assert.True(t, cfg.BaseSpread.Equal(d("1")), "receiver must not change")

	tooBig := d("10")
	_, err = cfg.Apply(SpreadPatch{BaseSpread: &tooBig})
	assert.ErrorIs(t, err, ErrInvalidSpreadConfig)

	zero := decimal.Zero
	_, err = cfg.Apply(SpreadPatch{MinSpread: &zero})
	assert.ErrorIs(t, err, ErrInvalidSpreadConfig)

	off := false
	next, err = cfg.Apply(SpreadPatch{AutoAdjust: &off})
	require.NoError(t, err)
	assert.False(t, next.AutoAdjust)
}

func TestRecomputedSpreadStaysInBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := DefaultSpreadConfig()
		cfg.VolatilityMultiplier = rapid.Float64Range(0, 50).Draw(t, "volMult")
		cfg.LiquidityThreshold = rapid.Int64Range(0, 5000).Draw(t, "threshold")

		n := rapid.IntRange(0, 20).Draw(t, "n")
		prices := make([]decimal.Decimal, n)
		for i := range prices {
			prices[i] = decimal.NewFromInt(rapid.Int64Range(1, 100000).Draw(t, "price")).Shift(-2)
		}
		in := Inputs{
			BidQty: rapid.Int64Range(0, 10000).Draw(t, "bids"),
			AskQty: rapid.Int64Range(0, 10000).Draw(t, "asks"),
			Prices: prices,
		}

		md := NewData("X", d("50"), d("49"), d("51"), epoch)
		Recompute(&md, cfg, in, d("0.01"), epoch)

		if md.Ask.LessThan(md.Bid) {
			t.Fatalf("ask %s below bid %s", md.Ask, md.Bid)
		}
		if md.Spread.LessThan(cfg.MinSpread) || md.Spread.GreaterThan(cfg.MaxSpread) {
			t.Fatalf("spread %s outside [%s, %s]", md.Spread, cfg.MinSpread, cfg.MaxSpread)
		}
	})
}
