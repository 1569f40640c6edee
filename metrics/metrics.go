// Package metrics exposes the engine's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const namespace = "capitallab"

type Metrics struct {
	orders        *prometheus.CounterVec
	fills         *prometheus.CounterVec
	filledQty     *prometheus.CounterVec
	submitLatency prometheus.Histogram
	spread        *prometheus.GaugeVec
	dealerShares  *prometheus.GaugeVec
	dealerCash    *prometheus.GaugeVec
	bookDepth     *prometheus.GaugeVec
	outboxSent    prometheus.Counter
	outboxFailed  prometheus.Counter
	ticks         prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders submitted by symbol and outcome",
		}, []string{"symbol", "outcome"}),

		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Executions by symbol and counterparty kind",
		}, []string{"symbol", "kind"}),

		filledQty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filled_quantity_total",
			Help:      "Shares executed by symbol",
		}, []string{"symbol"}),

		submitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_latency_seconds",
			Help:      "Time spent in a matching pass",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),

		spread: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spread",
			Help:      "Current ask minus bid",
		}, []string{"symbol"}),

		dealerShares: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dealer_shares",
			Help:      "Shares held by the dealer",
		}, []string{"symbol"}),

		dealerCash: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dealer_cash",
			Help:      "Cash held by the dealer",
		}, []string{"symbol"}),

		bookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orderbook_depth",
			Help:      "Resting quantity by side",
		}, []string{"symbol", "side"}),

		outboxSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_sent_total",
			Help:      "Trade events delivered to Kafka",
		}),

		outboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_failed_total",
			Help:      "Trade event deliveries that failed",
		}),

		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_data_published_total",
			Help:      "Market data snapshots published",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.orders, m.fills, m.filledQty, m.submitLatency,
			m.spread, m.dealerShares, m.dealerCash, m.bookDepth,
			m.outboxSent, m.outboxFailed, m.ticks,
		)
	}
	return m
}

// Order counts one submit outcome: accepted, rejected, rested, filled.
func (m *Metrics) Order(symbol, outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(symbol, outcome).Inc()
}

func (m *Metrics) Fill(symbol, kind string, qty int64) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(symbol, kind).Inc()
	m.filledQty.WithLabelValues(symbol).Add(float64(qty))
}

func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d.Seconds())
}

// Market records the per-symbol state after a matching pass.
func (m *Metrics) Market(symbol string, spread decimal.Decimal, shares int64, cash decimal.Decimal, bidQty, askQty int64) {
	if m == nil {
		return
	}
	m.spread.WithLabelValues(symbol).Set(spread.InexactFloat64())
	m.dealerShares.WithLabelValues(symbol).Set(float64(shares))
	m.dealerCash.WithLabelValues(symbol).Set(cash.InexactFloat64())
	m.bookDepth.WithLabelValues(symbol, "bid").Set(float64(bidQty))
	m.bookDepth.WithLabelValues(symbol, "ask").Set(float64(askQty))
}

func (m *Metrics) OutboxSent() {
	if m == nil {
		return
	}
	m.outboxSent.Inc()
}

func (m *Metrics) OutboxFailed() {
	if m == nil {
		return
	}
	m.outboxFailed.Inc()
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}
