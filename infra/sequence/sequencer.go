package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing numbers. The exchange takes one
// per journaled command; resting entries use it as their time-priority
// tie-break.
type Sequencer struct {
	last atomic.Uint64
}

// New starts after start: the first Next returns start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued number.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Observe moves the sequencer forward to v if it is behind. Replay uses
// it so that numbering resumes after the last journaled record.
func (s *Sequencer) Observe(v uint64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
