package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/ledger"
)

const eventVersion = 1

// TradeEvent is the wire shape of an executed trade.
type TradeEvent struct {
	V           int       `json:"v"`
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	Seq         uint64    `json:"seq"`
	Symbol      string    `json:"symbol"`
	Price       string    `json:"price"`
	Quantity    int64     `json:"quantity"`
	BuyOrderID  string    `json:"buyOrderId"`
	SellOrderID string    `json:"sellOrderId"`
	Kind        string    `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewTradeEvent(t ledger.Trade) TradeEvent {
	return TradeEvent{
		V:           eventVersion,
		Type:        "trade",
		ID:          t.ID,
		Seq:         t.Seq,
		Symbol:      t.Symbol,
		Price:       t.Price.String(),
		Quantity:    t.Quantity,
		BuyOrderID:  t.BuyOrderID(),
		SellOrderID: t.SellOrderID(),
		Kind:        t.Kind.String(),
		Timestamp:   t.Timestamp,
	}
}

// Sink writes trades into the outbox, one batch per matching pass.
type Sink struct {
	box *Outbox
}

func NewSink(box *Outbox) *Sink {
	return &Sink{box: box}
}

func (s *Sink) PublishTrades(ctx context.Context, trades []ledger.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recs := make([]*Record, 0, len(trades))
	for _, t := range trades {
		payload, err := json.Marshal(NewTradeEvent(t))
		if err != nil {
			return err
		}
		recs = append(recs, &Record{Seq: t.Seq, Key: []byte(t.Symbol), Payload: payload})
	}
	return s.box.PutBatch(recs)
}
