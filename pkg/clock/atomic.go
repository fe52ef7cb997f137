package clock

import (
	"sync/atomic"

	"jrnldb/pkg/types"
)

// AtomicClock hands out LSNs. The engine owns one per environment;
// every journaled event consumes the next value.
type AtomicClock struct {
	atomic.Uint64
}

func NewAtomic(init types.LSN) *AtomicClock {
	var ac AtomicClock
	ac.Set(init)
	return &ac
}

func (ac *AtomicClock) Val() types.LSN {
	return types.LSN(ac.Load())
}

func (ac *AtomicClock) Next() types.LSN {
	return types.LSN(ac.Add(1))
}

// Set moves the clock to t; it does not check that t is above the
// current value. Used after recovery so that new LSNs continue above
// everything found in the journal.
func (ac *AtomicClock) Set(t types.LSN) {
	ac.Store(uint64(t))
}
