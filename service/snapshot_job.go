package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ngaboserge/capitallab-simulator-sub003/snapshot"
)

// Truncater drops journal segments already covered by a snapshot.
type Truncater interface {
	TruncateBefore(seq uint64) error
}

// TakeSnapshot writes the current state and truncates the journal up to
// the snapshot's sequence.
func (e *Exchange) TakeSnapshot(w *snapshot.Writer, j Truncater) (uint64, error) {
	st := e.Export()
	path, err := w.Write(st)
	if err != nil {
		return 0, err
	}
	if j != nil {
		if err := j.TruncateBefore(st.Seq); err != nil {
			e.log.Warn("journal truncation failed", zap.Uint64("seq", st.Seq), zap.Error(err))
		}
	}
	e.log.Info("snapshot written", zap.String("path", path), zap.Uint64("seq", st.Seq))
	return st.Seq, nil
}

// RunSnapshots snapshots every interval until ctx is done. Unchanged
// state is not written twice.
func (e *Exchange) RunSnapshots(ctx context.Context, w *snapshot.Writer, j Truncater, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if e.seq.Current() == last {
				continue
			}
			seq, err := e.TakeSnapshot(w, j)
			if err != nil {
				e.log.Error("snapshot failed", zap.Error(err))
				continue
			}
			last = seq
		}
	}
}
