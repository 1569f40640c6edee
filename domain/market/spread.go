package market

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidSpreadConfig = errors.New("invalid spread config")

const spreadPrecision = 8

// SpreadConfig is the per-symbol spread policy.
type SpreadConfig struct {
	MinSpread            decimal.Decimal
	MaxSpread            decimal.Decimal
	BaseSpread           decimal.Decimal
	VolatilityMultiplier float64
	LiquidityThreshold   int64
	AutoAdjust           bool

	// ThinBookPenalty multiplies the spread when depth is under
	// LiquidityThreshold.
	ThinBookPenalty float64
	// ImbalanceWeight scales the |imbalance|/depth widening.
	ImbalanceWeight float64
	// VolatilityWindow is how far back trade prices feed volatility.
	VolatilityWindow time.Duration
}

func DefaultSpreadConfig() SpreadConfig {
	return SpreadConfig{
		MinSpread:            decimal.RequireFromString("0.5"),
		MaxSpread:            decimal.RequireFromString("5.0"),
		BaseSpread:           decimal.RequireFromString("1.0"),
		VolatilityMultiplier: 2,
		LiquidityThreshold:   1000,
		AutoAdjust:           true,
		ThinBookPenalty:      1.5,
		ImbalanceWeight:      0.5,
		VolatilityWindow:     5 * time.Minute,
	}
}

func (c SpreadConfig) Validate() error {
	if !c.MinSpread.IsPositive() {
		return fmt.Errorf("%w: min spread must be positive", ErrInvalidSpreadConfig)
	}
	if c.BaseSpread.LessThan(c.MinSpread) || c.MaxSpread.LessThan(c.BaseSpread) {
		return fmt.Errorf("%w: need min <= base <= max, got %s/%s/%s",
			ErrInvalidSpreadConfig, c.MinSpread, c.BaseSpread, c.MaxSpread)
	}
	if c.VolatilityMultiplier < 0 || c.ThinBookPenalty < 0 || c.ImbalanceWeight < 0 {
		return fmt.Errorf("%w: multipliers must not be negative", ErrInvalidSpreadConfig)
	}
	if c.LiquidityThreshold < 0 {
		return fmt.Errorf("%w: liquidity threshold must not be negative", ErrInvalidSpreadConfig)
	}
	if c.VolatilityWindow <= 0 {
		return fmt.Errorf("%w: volatility window must be positive", ErrInvalidSpreadConfig)
	}
	return nil
}

// SpreadPatch is a partial SpreadConfig; nil fields are left unchanged.
type SpreadPatch struct {
	MinSpread            *decimal.Decimal
	MaxSpread            *decimal.Decimal
	BaseSpread           *decimal.Decimal
	VolatilityMultiplier *float64
	LiquidityThreshold   *int64
	AutoAdjust           *bool
	ThinBookPenalty      *float64
	ImbalanceWeight      *float64
	VolatilityWindow     *time.Duration
}

// Apply returns c with p merged in, or an error if the result is invalid.
func (c SpreadConfig) Apply(p SpreadPatch) (SpreadConfig, error) {
	if p.MinSpread != nil {
		c.MinSpread = *p.MinSpread
	}
	if p.MaxSpread != nil {
		c.MaxSpread = *p.MaxSpread
	}
	if p.BaseSpread != nil {
		c.BaseSpread = *p.BaseSpread
	}
	if p.VolatilityMultiplier != nil {
		c.VolatilityMultiplier = *p.VolatilityMultiplier
	}
	if p.LiquidityThreshold != nil {
		c.LiquidityThreshold = *p.LiquidityThreshold
	}
	if p.AutoAdjust != nil {
		c.AutoAdjust = *p.AutoAdjust
	}
	if p.ThinBookPenalty != nil {
		c.ThinBookPenalty = *p.ThinBookPenalty
	}
	if p.ImbalanceWeight != nil {
		c.ImbalanceWeight = *p.ImbalanceWeight
	}
	if p.VolatilityWindow != nil {
		c.VolatilityWindow = *p.VolatilityWindow
	}
	if err := c.Validate(); err != nil {
		return SpreadConfig{}, err
	}
	return c, nil
}

// Inputs are the book and tape observations a spread is computed from.
type Inputs struct {
	BidQty int64
	AskQty int64
	Prices []decimal.Decimal
}

// ComputeSpread is a pure function of cfg and in; the result always lies
// in [MinSpread, MaxSpread].
func ComputeSpread(cfg SpreadConfig, in Inputs) decimal.Decimal {
	imbalance := in.BidQty - in.AskQty
	depth := in.BidQty + in.AskQty

	factor := 1 + Volatility(in.Prices)*cfg.VolatilityMultiplier
	if depth < cfg.LiquidityThreshold {
		factor *= cfg.ThinBookPenalty
	}
	if depth > 0 {
		skew := math.Abs(float64(imbalance)) / float64(depth)
		factor *= 1 + skew*cfg.ImbalanceWeight
	}

	spread := cfg.BaseSpread.Mul(decimal.NewFromFloat(factor)).Round(spreadPrecision)
	return decimal.Min(decimal.Max(spread, cfg.MinSpread), cfg.MaxSpread)
}

// Volatility is the population standard deviation of prices divided by
// their mean. Fewer than two prices give zero.
func Volatility(prices []decimal.Decimal) float64 {
	if len(prices) < 2 {
		return 0
	}
	var sum float64
	vals := make([]float64, len(prices))
	for i, p := range prices {
		vals[i] = p.InexactFloat64()
		sum += vals[i]
	}
	mean := sum / float64(len(vals))
	if mean <= 0 {
		return 0
	}
	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq/float64(len(vals))) / mean
}

// Recompute re-spreads d around its midpoint when cfg.AutoAdjust is set.
// It reports whether d changed.
func Recompute(d *Data, cfg SpreadConfig, in Inputs, tick decimal.Decimal, now time.Time) bool {
	if !cfg.AutoAdjust {
		return false
	}
	d.Recenter(ComputeSpread(cfg, in), tick, now)
	return true
}
