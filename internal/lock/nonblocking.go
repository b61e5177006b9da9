package lock

import "sync/atomic"

// NonBlocking is a single-slot lock whose acquire never waits.
type NonBlocking struct {
	held atomic.Bool
}

// TryLock takes the slot and reports true, or reports false at once if the
// slot is already taken.
func (l *NonBlocking) TryLock() bool {
	return l.held.CompareAndSwap(false, true)
}

// Unlock frees the slot unconditionally.
func (l *NonBlocking) Unlock() {
	l.held.Store(false)
}

func (l *NonBlocking) Locked() bool {
	return l.held.Load()
}
