// Package ticker publishes per-symbol market data snapshots to Kafka.
package ticker

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/market"
	"github.com/ngaboserge/capitallab-simulator-sub003/logging"
	"github.com/ngaboserge/capitallab-simulator-sub003/metrics"
)

type Source interface {
	AllMarketData() map[string]market.Data
}

type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// Event is the wire shape of one market data snapshot.
type Event struct {
	V             int       `json:"v"`
	Type          string    `json:"type"`
	Symbol        string    `json:"symbol"`
	Bid           string    `json:"bid"`
	Ask           string    `json:"ask"`
	Last          string    `json:"last"`
	LastQuantity  int64     `json:"lastQuantity"`
	Spread        string    `json:"spread"`
	Volume        int64     `json:"volume"`
	High          string    `json:"high"`
	Low           string    `json:"low"`
	Open          string    `json:"open"`
	Change        string    `json:"change"`
	ChangePercent string    `json:"changePercent"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewEvent(d market.Data) Event {
	return Event{
		V:             1,
		Type:          "market_data",
		Symbol:        d.Symbol,
		Bid:           d.Bid.String(),
		Ask:           d.Ask.String(),
		Last:          d.Last.String(),
		LastQuantity:  d.LastQuantity,
		Spread:        d.Spread.String(),
		Volume:        d.Volume,
		High:          d.High.String(),
		Low:           d.Low.String(),
		Open:          d.Open.String(),
		Change:        d.Change.String(),
		ChangePercent: d.ChangePercent.String(),
		Timestamp:     d.Timestamp,
	}
}

type Ticker struct {
	src      Source
	pub      Publisher
	interval time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics

	// last publish time per symbol; unchanged symbols are skipped
	seen map[string]time.Time
}

func New(src Source, pub Publisher, interval time.Duration, log *zap.Logger, m *metrics.Metrics) *Ticker {
	return &Ticker{
		src:      src,
		pub:      pub,
		interval: interval,
		log:      logging.OrNop(log).Named("ticker"),
		metrics:  m,
		seen:     make(map[string]time.Time),
	}
}

func (t *Ticker) Run(ctx context.Context) error {
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			if _, err := t.Tick(ctx); err != nil {
				t.log.Warn("publish failed", zap.Error(err))
			}
		}
	}
}

// Tick publishes every symbol whose market data changed since the last
// successful tick, keyed by symbol. It returns how many were published.
func (t *Ticker) Tick(ctx context.Context) (int, error) {
	all := t.src.AllMarketData()
	symbols := make([]string, 0, len(all))
	for s := range all {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var msgs []kafka.Message
	for _, s := range symbols {
		d := all[s]
		if last, ok := t.seen[s]; ok && last.Equal(d.Timestamp) {
			continue
		}
		val, err := json.Marshal(NewEvent(d))
		if err != nil {
			return 0, err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(s), Value: val, Time: d.Timestamp})
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if err := t.pub.Publish(ctx, msgs...); err != nil {
		return 0, err
	}
	for _, m := range msgs {
		s := string(m.Key)
		t.seen[s] = all[s].Timestamp
		t.metrics.Tick()
	}
	return len(msgs), nil
}
