package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/market"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/orderbook"
)

// Journal payloads are protobuf wire messages written field by field.
// Field numbers are part of the on-disk format and must not be reused.

var errPayload = errors.New("malformed journal payload")

const (
	submitID protowire.Number = iota + 1
	submitUser
	submitSymbol
	submitSide
	submitKind
	submitQuantity
	submitLimit
	submitAt
)

const (
	cancelSymbol protowire.Number = iota + 1
	cancelOrderID
)

const (
	spreadSymbol protowire.Number = iota + 1
	spreadMin
	spreadMax
	spreadBase
	spreadVolMultiplier
	spreadLiquidity
	spreadAutoAdjust
	spreadThinPenalty
	spreadImbalanceWeight
	spreadWindow
)

func appendString(b []byte, n protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, n, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, n protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, n, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, n protowire.Number, f float64) []byte {
	b = protowire.AppendTag(b, n, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(f))
}

func encodeSubmit(o orderbook.Order) []byte {
	var b []byte
	b = appendString(b, submitID, o.ID)
	b = appendString(b, submitUser, o.UserID)
	b = appendString(b, submitSymbol, o.Symbol)
	b = appendVarint(b, submitSide, uint64(o.Side))
	b = appendVarint(b, submitKind, uint64(o.Kind))
	b = appendVarint(b, submitQuantity, protowire.EncodeZigZag(o.Quantity))
	if o.Kind == orderbook.Limit {
		b = appendString(b, submitLimit, o.LimitPrice.String())
	}
	b = appendVarint(b, submitAt, protowire.EncodeZigZag(o.SubmittedAt.UnixNano()))
	return b
}

func encodeCancel(symbol, orderID string) []byte {
	var b []byte
	b = appendString(b, cancelSymbol, symbol)
	b = appendString(b, cancelOrderID, orderID)
	return b
}

func encodeSpreadConfig(symbol string, c market.SpreadConfig) []byte {
	var b []byte
	b = appendString(b, spreadSymbol, symbol)
	b = appendString(b, spreadMin, c.MinSpread.String())
	b = appendString(b, spreadMax, c.MaxSpread.String())
	b = appendString(b, spreadBase, c.BaseSpread.String())
	b = appendDouble(b, spreadVolMultiplier, c.VolatilityMultiplier)
	b = appendVarint(b, spreadLiquidity, protowire.EncodeZigZag(c.LiquidityThreshold))
	b = appendVarint(b, spreadAutoAdjust, protowire.EncodeBool(c.AutoAdjust))
	b = appendDouble(b, spreadThinPenalty, c.ThinBookPenalty)
	b = appendDouble(b, spreadImbalanceWeight, c.ImbalanceWeight)
	b = appendVarint(b, spreadWindow, protowire.EncodeZigZag(int64(c.VolatilityWindow)))
	return b
}

// field is one decoded wire field. Exactly one of s, v is meaningful,
// depending on the wire type.
type field struct {
	s string
	v uint64
}

func decodeFields(b []byte) (map[protowire.Number]field, error) {
	out := make(map[protowire.Number]field)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", errPayload, protowire.ParseError(n))
		}
		b = b[n:]

		var f field
		switch typ {
		case protowire.BytesType:
			s, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, fmt.Errorf("%w: %w", errPayload, protowire.ParseError(m))
			}
			f.s, n = s, m
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("%w: %w", errPayload, protowire.ParseError(m))
			}
			f.v, n = v, m
		case protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return nil, fmt.Errorf("%w: %w", errPayload, protowire.ParseError(m))
			}
			f.v, n = v, m
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("%w: %w", errPayload, protowire.ParseError(m))
			}
			n = m
		}
		out[num] = f
		b = b[n:]
	}
	return out, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", errPayload, err)
	}
	return d, nil
}

func decodeSubmit(b []byte) (orderbook.Order, error) {
	f, err := decodeFields(b)
	if err != nil {
		return orderbook.Order{}, err
	}
	limit, err := parseDecimal(f[submitLimit].s)
	if err != nil {
		return orderbook.Order{}, err
	}
	return orderbook.Order{
		ID:          f[submitID].s,
		UserID:      f[submitUser].s,
		Symbol:      f[submitSymbol].s,
		Side:        orderbook.Side(f[submitSide].v),
		Kind:        orderbook.Kind(f[submitKind].v),
		Quantity:    protowire.DecodeZigZag(f[submitQuantity].v),
		LimitPrice:  limit,
		SubmittedAt: time.Unix(0, protowire.DecodeZigZag(f[submitAt].v)).UTC(),
	}, nil
}

func decodeCancel(b []byte) (symbol, orderID string, err error) {
	f, err := decodeFields(b)
	if err != nil {
		return "", "", err
	}
	return f[cancelSymbol].s, f[cancelOrderID].s, nil
}

func decodeSpreadConfig(b []byte) (string, market.SpreadConfig, error) {
	f, err := decodeFields(b)
	if err != nil {
		return "", market.SpreadConfig{}, err
	}
	var c market.SpreadConfig
	if c.MinSpread, err = parseDecimal(f[spreadMin].s); err != nil {
		return "", c, err
	}
	if c.MaxSpread, err = parseDecimal(f[spreadMax].s); err != nil {
		return "", c, err
	}
	if c.BaseSpread, err = parseDecimal(f[spreadBase].s); err != nil {
		return "", c, err
	}
	c.VolatilityMultiplier = math.Float64frombits(f[spreadVolMultiplier].v)
	c.LiquidityThreshold = protowire.DecodeZigZag(f[spreadLiquidity].v)
	c.AutoAdjust = protowire.DecodeBool(f[spreadAutoAdjust].v)
	c.ThinBookPenalty = math.Float64frombits(f[spreadThinPenalty].v)
	c.ImbalanceWeight = math.Float64frombits(f[spreadImbalanceWeight].v)
	c.VolatilityWindow = time.Duration(protowire.DecodeZigZag(f[spreadWindow].v))
	return f[spreadSymbol].s, c, nil
}
