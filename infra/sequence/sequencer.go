// Package sequence issues command ids.
package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing command ids. It is owned by one
// pipeline and passed by handle; there is no package-level instance.
type Sequencer struct {
	last atomic.Uint64
}

// New starts a sequencer whose first id will be last+1.
func New(last uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current is the most recently issued id, or the recovery point if none has
// been issued since.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset moves the sequencer to a recovery point. Only used before the
// pipeline starts admitting.
func (s *Sequencer) Reset(last uint64) {
	s.last.Store(last)
}

// Observe advances past an id seen during replay; it never moves backwards.
func (s *Sequencer) Observe(id uint64) {
	for {
		cur := s.last.Load()
		if id <= cur || s.last.CompareAndSwap(cur, id) {
			return
		}
	}
}
