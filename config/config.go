// Package config loads the engine configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/market"
	"github.com/ngaboserge/capitallab-simulator-sub003/logging"
	"github.com/ngaboserge/capitallab-simulator-sub003/service"
)

const (
	EnvLogLevel     = "CAPITALLAB_LOG_LEVEL"
	EnvGRPCAddr     = "CAPITALLAB_GRPC_ADDR"
	EnvKafkaBrokers = "CAPITALLAB_KAFKA_BROKERS"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Instruments []Instrument   `yaml:"instruments"`
	Engine      EngineConf     `yaml:"engine"`
	Paths       PathsConf      `yaml:"paths"`
	Kafka       KafkaConf      `yaml:"kafka"`
	Snapshot    SnapshotConf   `yaml:"snapshot"`
	Server      ServerConf     `yaml:"server"`
	Logging     logging.Config `yaml:"logging"`
}

type Instrument struct {
	Symbol   string `yaml:"symbol"`
	Tradable *bool  `yaml:"tradable,omitempty"`

	Open string `yaml:"open,omitempty"`
	Bid  string `yaml:"bid"`
	Ask  string `yaml:"ask"`

	DealerShares  int64  `yaml:"dealer_shares"`
	DealerCash    string `yaml:"dealer_cash"`
	DealerAvgCost string `yaml:"dealer_avg_cost,omitempty"`

	Spread *SpreadConf `yaml:"spread,omitempty"`
}

// SpreadConf overrides fields of the default spread config; unset fields
// keep their default.
type SpreadConf struct {
	Min                  string        `yaml:"min,omitempty"`
	Max                  string        `yaml:"max,omitempty"`
	Base                 string        `yaml:"base,omitempty"`
	VolatilityMultiplier *float64      `yaml:"volatility_multiplier,omitempty"`
	LiquidityThreshold   *int64        `yaml:"liquidity_threshold,omitempty"`
	AutoAdjust           *bool         `yaml:"auto_adjust,omitempty"`
	ThinBookPenalty      *float64      `yaml:"thin_book_penalty,omitempty"`
	ImbalanceWeight      *float64      `yaml:"imbalance_weight,omitempty"`
	VolatilityWindow     time.Duration `yaml:"volatility_window,omitempty"`
}

type EngineConf struct {
	PriceDamping   string `yaml:"price_damping"`
	TickSize       string `yaml:"tick_size"`
	LedgerCapacity int    `yaml:"ledger_capacity"`
	SelfTrade      string `yaml:"self_trade"`
	DealerFirst    bool   `yaml:"dealer_first"`
}

type PathsConf struct {
	Journal   string `yaml:"journal"`
	Outbox    string `yaml:"outbox"`
	Snapshots string `yaml:"snapshots"`
}

type KafkaConf struct {
	Brokers         []string      `yaml:"brokers"`
	TradeTopic      string        `yaml:"trade_topic"`
	MarketDataTopic string        `yaml:"market_data_topic"`
	DrainInterval   time.Duration `yaml:"drain_interval"`
	TickInterval    time.Duration `yaml:"tick_interval"`
}

// SnapshotConf controls periodic snapshots; Keep 0 keeps every file.
type SnapshotConf struct {
	Interval time.Duration `yaml:"interval"`
	Keep     int           `yaml:"keep"`
}

type ServerConf struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func Default() Config {
	return Config{
		Engine: EngineConf{
			PriceDamping:   "0.7",
			TickSize:       "0.01",
			LedgerCapacity: 10000,
			SelfTrade:      service.SelfTradeAllow.String(),
		},
		Paths: PathsConf{
			Journal:   "./data/journal",
			Outbox:    "./data/outbox",
			Snapshots: "./data/snapshots",
		},
		Kafka: KafkaConf{
			TradeTopic:      "capitallab.trades",
			MarketDataTopic: "capitallab.market-data",
			DrainInterval:   250 * time.Millisecond,
			TickInterval:    time.Second,
		},
		Snapshot: SnapshotConf{
			Interval: time.Minute,
			Keep:     3,
		},
		Server: ServerConf{
			GRPCAddr:    ":50051",
			MetricsAddr: ":9102",
		},
		Logging: logging.NewDefaultConfig(),
	}
}

// Load reads path over Default, then applies .env and environment
// overrides. A missing .env is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse YAML: %w", err)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("cannot load .env: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, cfg.Validate()
}

func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvGRPCAddr); ok && v != "" {
		c.Server.GRPCAddr = v
	}
	if v, ok := lookup(EnvKafkaBrokers); ok {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
}

// Validate converts the config into an engine config and reports the
// first problem found.
func (c Config) Validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("%w: no instruments", ErrInvalid)
	}
	if c.Paths.Journal == "" || c.Paths.Outbox == "" || c.Paths.Snapshots == "" {
		return fmt.Errorf("%w: journal, outbox and snapshot paths are required", ErrInvalid)
	}
	if c.Kafka.DrainInterval <= 0 || c.Kafka.TickInterval <= 0 {
		return fmt.Errorf("%w: kafka intervals must be positive", ErrInvalid)
	}
	if c.Snapshot.Interval <= 0 || c.Snapshot.Keep < 0 {
		return fmt.Errorf("%w: snapshot interval must be positive and keep not negative", ErrInvalid)
	}
	ec, err := c.ServiceConfig()
	if err != nil {
		return err
	}
	return ec.Validate()
}

// Routing is the order routing policy the engine should use.
func (c Config) Routing() service.RoutingPolicy {
	if c.Engine.DealerFirst {
		return service.DealerFirst{}
	}
	return service.BookFirst{}
}

// ServiceConfig builds the engine config.
func (c Config) ServiceConfig() (service.Config, error) {
	damping, err := dec("engine.price_damping", c.Engine.PriceDamping, decimal.Zero)
	if err != nil {
		return service.Config{}, err
	}
	tick, err := dec("engine.tick_size", c.Engine.TickSize, decimal.Zero)
	if err != nil {
		return service.Config{}, err
	}
	st, err := service.ParseSelfTradePolicy(c.Engine.SelfTrade)
	if err != nil {
		return service.Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	out := service.Config{
		Tuning:         market.Tuning{PriceDamping: damping, TickSize: tick},
		LedgerCapacity: c.Engine.LedgerCapacity,
		SelfTrade:      st,
	}
	for _, in := range c.Instruments {
		inst, err := in.instrument()
		if err != nil {
			return service.Config{}, err
		}
		out.Instruments = append(out.Instruments, inst)
	}
	return out, nil
}

func (in Instrument) instrument() (service.Instrument, error) {
	field := func(name string) string { return in.Symbol + "." + name }

	bid, err := dec(field("bid"), in.Bid, decimal.Zero)
	if err != nil {
		return service.Instrument{}, err
	}
	ask, err := dec(field("ask"), in.Ask, decimal.Zero)
	if err != nil {
		return service.Instrument{}, err
	}
	open, err := dec(field("open"), in.Open, decimal.Zero)
	if err != nil {
		return service.Instrument{}, err
	}
	cash, err := dec(field("dealer_cash"), in.DealerCash, decimal.Zero)
	if err != nil {
		return service.Instrument{}, err
	}
	avg, err := dec(field("dealer_avg_cost"), in.DealerAvgCost, decimal.Zero)
	if err != nil {
		return service.Instrument{}, err
	}
	spread, err := in.Spread.apply(market.DefaultSpreadConfig(), field)
	if err != nil {
		return service.Instrument{}, err
	}

	tradable := true
	if in.Tradable != nil {
		tradable = *in.Tradable
	}
	return service.Instrument{
		Symbol:        in.Symbol,
		Tradable:      tradable,
		Open:          open,
		Bid:           bid,
		Ask:           ask,
		DealerShares:  in.DealerShares,
		DealerCash:    cash,
		DealerAvgCost: avg,
		Spread:        spread,
	}, nil
}

func (s *SpreadConf) apply(c market.SpreadConfig, field func(string) string) (market.SpreadConfig, error) {
	if s == nil {
		return c, nil
	}
	var err error
	if c.MinSpread, err = dec(field("spread.min"), s.Min, c.MinSpread); err != nil {
		return c, err
	}
	if c.MaxSpread, err = dec(field("spread.max"), s.Max, c.MaxSpread); err != nil {
		return c, err
	}
	if c.BaseSpread, err = dec(field("spread.base"), s.Base, c.BaseSpread); err != nil {
		return c, err
	}
	if s.VolatilityMultiplier != nil {
		c.VolatilityMultiplier = *s.VolatilityMultiplier
	}
	if s.LiquidityThreshold != nil {
		c.LiquidityThreshold = *s.LiquidityThreshold
	}
	if s.AutoAdjust != nil {
		c.AutoAdjust = *s.AutoAdjust
	}
	if s.ThinBookPenalty != nil {
		c.ThinBookPenalty = *s.ThinBookPenalty
	}
	if s.ImbalanceWeight != nil {
		c.ImbalanceWeight = *s.ImbalanceWeight
	}
	if s.VolatilityWindow > 0 {
		c.VolatilityWindow = s.VolatilityWindow
	}
	return c, nil
}

func dec(name, s string, def decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %w", ErrInvalid, name, err)
	}
	return d, nil
}
