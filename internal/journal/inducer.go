package journal

import "jrnldb/pkg/dberrors"

// CrashPoint names a checkpoint inside AppendChangeset where a crash
// can be injected deterministically.
type CrashPoint int

const (
	// CrashBetweenPages fires after a page has been appended to the
	// buffer, before the next one.
	CrashBetweenPages CrashPoint = iota
	// CrashBeforePatch fires after all pages are buffered, before the
	// followup size is patched into the header.
	CrashBeforePatch
	// CrashAfterFlush fires after the changeset has been flushed to
	// the file.
	CrashAfterFlush
)

// Inducer arms crash points with a countdown. The n-th time an armed
// point is reached it reports ErrSimulatedCrash; the caller abandons
// the environment to simulate the crash.
type Inducer struct {
	countdown map[CrashPoint]int
}

func NewInducer() *Inducer {
	return &Inducer{countdown: make(map[CrashPoint]int)}
}

// Arm makes the point fire on its n-th hit (n >= 1).
func (i *Inducer) Arm(p CrashPoint, n int) {
	i.countdown[p] = n
}

func (i *Inducer) induce(p CrashPoint) error {
	if i == nil {
		return nil
	}
	n, ok := i.countdown[p]
	if !ok {
		return nil
	}
	n--
	if n > 0 {
		i.countdown[p] = n
		return nil
	}
	delete(i.countdown, p)
	return dberrors.ErrSimulatedCrash
}
