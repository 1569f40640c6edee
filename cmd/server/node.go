package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ngaboserge/capitallab-simulator-sub003/config"
	"github.com/ngaboserge/capitallab-simulator-sub003/infra/journal"
	"github.com/ngaboserge/capitallab-simulator-sub003/infra/outbox"
	"github.com/ngaboserge/capitallab-simulator-sub003/infra/sequence"
	"github.com/ngaboserge/capitallab-simulator-sub003/metrics"
	"github.com/ngaboserge/capitallab-simulator-sub003/service"
	"github.com/ngaboserge/capitallab-simulator-sub003/snapshot"
)

// node owns the engine and its stores.
type node struct {
	log     *zap.Logger
	seq     *sequence.Sequencer
	journal *journal.Journal
	box     *outbox.Outbox
	ex      *service.Exchange
}

// openNode builds the exchange, attaches its journal and outbox and
// recovers state from the latest snapshot plus the journal tail.
func openNode(cfg config.Config, log *zap.Logger, m *metrics.Metrics) (*node, error) {
	engineCfg, err := cfg.ServiceConfig()
	if err != nil {
		return nil, err
	}

	n := &node{log: log, seq: sequence.New(0)}
	if n.journal, err = journal.Open(journal.Config{Dir: cfg.Paths.Journal, Sync: true}); err != nil {
		return nil, fmt.Errorf("journal init failed: %w", err)
	}
	if n.box, err = outbox.Open(cfg.Paths.Outbox); err != nil {
		_ = n.journal.Close()
		return nil, fmt.Errorf("outbox init failed: %w", err)
	}

	n.ex, err = service.New(engineCfg,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithRouting(cfg.Routing()),
		service.WithSequencer(n.seq),
		service.WithJournal(n.journal),
		service.WithTradeSink(outbox.NewSink(n.box)),
	)
	if err != nil {
		n.Close()
		return nil, err
	}
	if err := n.recover(cfg.Paths); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) recover(paths config.PathsConf) error {
	var after uint64
	st, err := snapshot.LoadLatest(paths.Snapshots)
	switch {
	case errors.Is(err, snapshot.ErrNoSnapshot):
	case err != nil:
		return fmt.Errorf("snapshot load failed: %w", err)
	default:
		if err := n.ex.Restore(st); err != nil {
			return fmt.Errorf("snapshot restore failed: %w", err)
		}
		after = st.Seq
	}

	last, err := n.ex.Replay(paths.Journal, after)
	if err != nil {
		return fmt.Errorf("journal replay failed: %w", err)
	}

	// Trades still in the outbox may carry sequence numbers past the
	// journal when their sends never completed.
	pending, err := n.box.LastSeq()
	if err != nil {
		return fmt.Errorf("outbox scan failed: %w", err)
	}
	n.seq.Observe(pending)

	n.log.Info("recovered",
		zap.Uint64("snapshot_seq", after),
		zap.Uint64("journal_seq", last),
		zap.Uint64("seq", n.seq.Current()))
	return nil
}

func (n *node) Close() {
	if err := n.box.Close(); err != nil {
		n.log.Warn("outbox close failed", zap.Error(err))
	}
	if err := n.journal.Close(); err != nil {
		n.log.Warn("journal close failed", zap.Error(err))
	}
}
