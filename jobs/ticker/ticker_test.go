package ticker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/market"
)

type fakeSource map[string]market.Data

func (f fakeSource) AllMarketData() map[string]market.Data { return f }

type fakePublisher struct {
	msgs []kafka.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func data(symbol string, at time.Time) market.Data {
	return market.NewData(symbol, decimal.NewFromInt(100), decimal.NewFromInt(99), decimal.NewFromInt(101), at)
}

func TestTickPublishesChangedSymbolsOnly(t *testing.T) {
	t0 := time.Unix(100, 0).UTC()
	src := fakeSource{"ACME": data("ACME", t0), "BOLT": data("BOLT", t0)}
	pub := &fakePublisher{}
	tk := New(src, pub, time.Second, nil, nil)
	ctx := context.Background()

	n, err := tk.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ACME", string(pub.msgs[0].Key))

	var ev Event
	require.NoError(t, json.Unmarshal(pub.msgs[0].Value, &ev))
	assert.Equal(t, "market_data", ev.Type)
	assert.Equal(t, "101", ev.Ask)
	assert.Equal(t, "2", ev.Spread)

	n, err = tk.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	src["BOLT"] = data("BOLT", t0.Add(time.Second))
	n, err = tk.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "BOLT", string(pub.msgs[2].Key))
}

func TestTickRetriesAfterFailure(t *testing.T) {
	src := fakeSource{"ACME": data("ACME", time.Unix(1, 0))}
	pub := &fakePublisher{err: errors.New("broker down")}
	tk := New(src, pub, time.Second, nil, nil)

	_, err := tk.Tick(context.Background())
	assert.Error(t, err)

	pub.err = nil
	n, err := tk.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
