package service

import (
	"fmt"
	"strings"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/orderbook"
)

// SelfTradePolicy decides what happens when an order would match a
// resting order from the same user.
type SelfTradePolicy int8

const (
	// SelfTradeAllow matches the two orders like any other pair.
	SelfTradeAllow SelfTradePolicy = iota
	// SelfTradeCancelResting removes the resting order and keeps matching.
	SelfTradeCancelResting
	// SelfTradeCancelIncoming stops the pass and cancels what is left of
	// the incoming order.
	SelfTradeCancelIncoming
)

func (p SelfTradePolicy) String() string {
	switch p {
	case SelfTradeCancelResting:
		return "cancel_resting"
	case SelfTradeCancelIncoming:
		return "cancel_incoming"
	default:
		return "allow"
	}
}

func ParseSelfTradePolicy(s string) (SelfTradePolicy, error) {
	switch strings.ToLower(s) {
	case "", "allow":
		return SelfTradeAllow, nil
	case "cancel_resting":
		return SelfTradeCancelResting, nil
	case "cancel_incoming":
		return SelfTradeCancelIncoming, nil
	}
	return 0, fmt.Errorf("%w: unknown self-trade policy %q", ErrInvalidConfig, s)
}

type Route int8

const (
	RouteBook Route = iota
	RouteDealer
)

// RoutingPolicy orders the liquidity sources tried for an incoming order.
// Whatever is left after every route rests (limit) or is cancelled
// (market).
type RoutingPolicy interface {
	Routes(o *orderbook.Order) []Route
}

// BookFirst matches resting orders before asking the dealer.
type BookFirst struct{}

func (BookFirst) Routes(*orderbook.Order) []Route {
	return []Route{RouteBook, RouteDealer}
}

// DealerFirst asks the dealer before touching the book.
type DealerFirst struct{}

func (DealerFirst) Routes(*orderbook.Order) []Route {
	return []Route{RouteDealer, RouteBook}
}
