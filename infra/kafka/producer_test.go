package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducerSendAndPublish(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "market-data")
	ctx := context.Background()

	require.NoError(t, p.Send(ctx, []byte("ACME"), []byte("a")))
	require.NoError(t, p.Publish(ctx,
		kafka.Message{Key: []byte("ACME"), Value: []byte("b")},
		kafka.Message{Key: []byte("BOLT"), Value: []byte("c")},
	))
	require.NoError(t, p.Publish(ctx))

	require.Len(t, w.msgs, 3)
	assert.Equal(t, "BOLT", string(w.msgs[2].Key))
	assert.Equal(t, "market-data", p.Topic())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducerPropagatesErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := NewProducerWithWriter(w, "t")
	assert.Error(t, p.Send(context.Background(), nil, []byte("x")))
}

func TestNewProducerConfiguresWriter(t *testing.T) {
	p := NewProducer(Config{Brokers: []string{"localhost:9092"}, Topic: "trades"})
	kw, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "trades", kw.Topic)
	assert.Equal(t, kafka.RequireAll, kw.RequiredAcks)
	assert.False(t, kw.Async)
}
