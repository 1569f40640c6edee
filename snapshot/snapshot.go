package snapshot

import (
	"time"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/dealer"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/ledger"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/market"
	"github.com/ngaboserge/capitallab-simulator-sub003/domain/orderbook"
)

const formatVersion = 1

type State struct {
	Version int
	Seq     uint64
	Created time.Time
	Markets []Market
	// Trades is the ledger content, oldest first.
	Trades []ledger.Trade
}

type Market struct {
	Symbol    string
	Book      orderbook.Snapshot
	Data      market.Data
	Inventory dealer.Inventory
	Spread    market.SpreadConfig
}
