package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// DealerID stands in for the dealer wherever an order id is expected.
const DealerID = "MARKET_MAKER"

type PartyKind int8

const (
	PartyUser PartyKind = iota
	PartyDealer
)

// Counterparty is either a user order or the dealer. Build it with User
// or Dealer; the zero value is a user with no ids.
type Counterparty struct {
	Kind    PartyKind
	OrderID string
	UserID  string
}

func User(orderID, userID string) Counterparty {
	return Counterparty{Kind: PartyUser, OrderID: orderID, UserID: userID}
}

func Dealer() Counterparty {
	return Counterparty{Kind: PartyDealer}
}

func (c Counterparty) IsDealer() bool {
	return c.Kind == PartyDealer
}

// ID is the order id, or DealerID for the dealer.
func (c Counterparty) ID() string {
	if c.IsDealer() {
		return DealerID
	}
	return c.OrderID
}

func (c Counterparty) String() string {
	if c.IsDealer() {
		return "dealer"
	}
	return "user:" + c.UserID + "/" + c.OrderID
}

type Kind int8

const (
	UserToUser Kind = iota
	// UserToDealer: a user sold and the dealer bought.
	UserToDealer
	// DealerToUser: the dealer sold and a user bought.
	DealerToUser
)

func (k Kind) String() string {
	switch k {
	case UserToUser:
		return "USER_TO_USER"
	case UserToDealer:
		return "USER_TO_DEALER"
	case DealerToUser:
		return "DEALER_TO_USER"
	default:
		return "UNKNOWN"
	}
}

type Trade struct {
	ID        string
	Seq       uint64
	Symbol    string
	Price     decimal.Decimal
	Quantity  int64
	Buyer     Counterparty
	Seller    Counterparty
	Timestamp time.Time
	Kind      Kind
}

func (t Trade) BuyOrderID() string {
	return t.Buyer.ID()
}

func (t Trade) SellOrderID() string {
	return t.Seller.ID()
}

// KindOf derives the trade kind from who was on each side.
func KindOf(buyer, seller Counterparty) Kind {
	switch {
	case seller.IsDealer():
		return DealerToUser
	case buyer.IsDealer():
		return UserToDealer
	default:
		return UserToUser
	}
}
