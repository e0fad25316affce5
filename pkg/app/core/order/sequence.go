package order

import "sync/atomic"

// Sequencer generates strictly monotonic ids. Zero is never issued.
type Sequencer struct {
	next atomic.Uint64
}

// NewSequencer starts after start; pass the last issued id when restoring.
func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next id.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued id.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}
