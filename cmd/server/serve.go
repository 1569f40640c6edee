package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ngaboserge/capitallab-simulator-sub003/api/grpcserver"
	"github.com/ngaboserge/capitallab-simulator-sub003/config"
	"github.com/ngaboserge/capitallab-simulator-sub003/infra/kafka"
	"github.com/ngaboserge/capitallab-simulator-sub003/jobs/broadcaster"
	"github.com/ngaboserge/capitallab-simulator-sub003/jobs/ticker"
	"github.com/ngaboserge/capitallab-simulator-sub003/logging"
	"github.com/ngaboserge/capitallab-simulator-sub003/metrics"
	"github.com/ngaboserge/capitallab-simulator-sub003/snapshot"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine with its gRPC API and background jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log, _, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	n, err := openNode(cfg, log, m)
	if err != nil {
		return err
	}
	defer n.Close()

	snaps := &snapshot.Writer{Dir: cfg.Paths.Snapshots, Keep: cfg.Snapshot.Keep}
	eg, ctx := errgroup.WithContext(ctx)

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	grpcSrv := grpcserver.NewGRPCServer(grpcserver.NewServer(n.ex, log))
	eg.Go(func() error {
		log.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		return grpcSrv.Serve(lis)
	})
	eg.Go(func() error {
		<-ctx.Done()
		grpcSrv.GracefulStop()
		return nil
	})

	// ---------------- Metrics ----------------

	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		httpSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		eg.Go(func() error {
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	// ---------------- Background jobs ----------------

	eg.Go(func() error {
		return n.ex.RunSnapshots(ctx, snaps, n.journal, cfg.Snapshot.Interval)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := broadcaster.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		bc := broadcaster.New(n.box, producer, cfg.Kafka.TradeTopic,
			broadcaster.WithInterval(cfg.Kafka.DrainInterval),
			broadcaster.WithLogger(log),
			broadcaster.WithMetrics(m))
		defer bc.Close()
		eg.Go(func() error { return bc.Run(ctx) })

		feed := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.MarketDataTopic})
		defer feed.Close()
		tk := ticker.New(n.ex, feed, cfg.Kafka.TickInterval, log, m)
		eg.Go(func() error { return tk.Run(ctx) })
	} else {
		log.Warn("no kafka brokers configured, trades stay in the outbox")
	}

	err = eg.Wait()

	if _, serr := n.ex.TakeSnapshot(snaps, n.journal); serr != nil {
		log.Error("final snapshot failed", zap.Error(serr))
	}
	log.Info("engine stopped")
	return err
}
