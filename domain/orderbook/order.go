package orderbook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidOrder = errors.New("invalid order")

type Side int8
type Kind int8
type Status int8

const (
	Buy Side = iota
	Sell
)

const (
	Market Kind = iota
	Limit
)

const (
	Pending Status = iota
	Partial
	Filled
	Cancelled
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

func (k Kind) String() string {
	if k == Limit {
		return "LIMIT"
	}
	return "MARKET"
}

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Partial:
		return "PARTIAL"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(s) {
	case "BUY", "BID":
		return Buy, nil
	case "SELL", "ASK":
		return Sell, nil
	}
	return 0, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s)
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(s) {
	case "MARKET":
		return Market, nil
	case "LIMIT":
		return Limit, nil
	}
	return 0, fmt.Errorf("%w: unknown order kind %q", ErrInvalidOrder, s)
}

// Order is a request to trade. The engine owns the fill fields once the
// order has been accepted.
type Order struct {
	ID          string
	UserID      string
	Symbol      string
	Side        Side
	Kind        Kind
	Quantity    int64
	LimitPrice  decimal.Decimal
	SubmittedAt time.Time

	FilledQuantity    int64
	RemainingQuantity int64
	Status            Status
}

// Validate checks the caller-supplied fields only.
func (o *Order) Validate() error {
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, o.Quantity)
	}
	switch o.Kind {
	case Limit:
		if !o.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit order requires a positive limit price", ErrInvalidOrder)
		}
	case Market:
		if !o.LimitPrice.IsZero() {
			return fmt.Errorf("%w: market order cannot carry a limit price", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown order kind %d", ErrInvalidOrder, o.Kind)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, o.Side)
	}
	return nil
}

// Reset prepares a validated order for a matching pass.
func (o *Order) Reset() {
	o.FilledQuantity = 0
	o.RemainingQuantity = o.Quantity
	o.Status = Pending
}

// Fill records an execution, keeping Filled+Remaining == Quantity.
func (o *Order) Fill(qty int64) {
	if qty <= 0 || qty > o.RemainingQuantity {
		panic(fmt.Sprintf("orderbook: fill of %d exceeds remaining %d on %s", qty, o.RemainingQuantity, o.ID))
	}
	o.FilledQuantity += qty
	o.RemainingQuantity -= qty
	if o.RemainingQuantity == 0 {
		o.Status = Filled
	} else {
		o.Status = Partial
	}
}

// Accepts reports whether a counterparty price is acceptable to this order.
func (o *Order) Accepts(price decimal.Decimal) bool {
	if o.Kind == Market {
		return true
	}
	if o.Side == Buy {
		return price.LessThanOrEqual(o.LimitPrice)
	}
	return price.GreaterThanOrEqual(o.LimitPrice)
}

func (o *Order) Remaining() int64 {
	return o.RemainingQuantity
}
