// Package broadcaster drains the trade outbox into Kafka. Delivery is at
// least once: an entry is deleted only after the broker acknowledged it.
package broadcaster

import (
	"context"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ngaboserge/capitallab-simulator-sub003/infra/outbox"
	"github.com/ngaboserge/capitallab-simulator-sub003/logging"
	"github.com/ngaboserge/capitallab-simulator-sub003/metrics"
)

const DefaultInterval = 250 * time.Millisecond

// errStop ends a scan early without reporting failure.
var errStop = errors.New("stop scan")

type Broadcaster struct {
	box      *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*Broadcaster)

func WithInterval(d time.Duration) Option {
	return func(b *Broadcaster) { b.interval = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Broadcaster) { b.log = logging.OrNop(l).Named("broadcaster") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// NewProducer dials brokers with acks from all in-sync replicas.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_8_0_0
	return sarama.NewSyncProducer(brokers, cfg)
}

func New(box *outbox.Outbox, producer sarama.SyncProducer, topic string, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		box:      box,
		producer: producer,
		topic:    topic,
		interval: DefaultInterval,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run drains the outbox every interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.Info("started", zap.String("topic", b.topic), zap.Duration("interval", b.interval))

	t := time.NewTicker(b.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return nil
		case <-t.C:
			if _, err := b.DrainOnce(); err != nil {
				b.log.Error("drain failed", zap.Error(err))
			}
		}
	}
}

// DrainOnce sends pending entries in sequence order. It stops at the
// first failed send so that later trades never overtake an earlier one.
func (b *Broadcaster) DrainOnce() (int, error) {
	sent := 0
	err := b.box.ScanPending(func(rec *outbox.Record) error {
		if err := b.box.MarkSent(rec.Seq); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.ByteEncoder(rec.Key),
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.metrics.OutboxFailed()
			b.log.Warn("send failed, will retry",
				zap.Uint64("seq", rec.Seq),
				zap.Uint32("retries", rec.Retries),
				zap.Error(err))
			if err := b.box.MarkFailed(rec.Seq); err != nil {
				return err
			}
			return errStop
		}

		if err := b.box.MarkAcked(rec.Seq); err != nil {
			return err
		}
		b.metrics.OutboxSent()
		sent++
		return nil
	})
	if errors.Is(err, errStop) {
		err = nil
	}
	return sent, err
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
