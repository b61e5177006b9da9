// Package lock provides the mutual exclusion primitives used by the uploader:
// a FIFO blocking lock, a keyed family of FIFO locks and a single-slot
// try-lock that never queues.
package lock

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/v2/lists/arraylist"
)

// Fair is a mutual exclusion lock that grants ownership in strict FIFO order.
// Unlock hands the lock directly to the oldest waiter, so a caller arriving
// later can never barge ahead of one already queued.
//
// The zero value is an unlocked Fair.
type Fair struct {
	mu      sync.Mutex
	held    bool
	waiters *arraylist.List[chan struct{}]
}

func (l *Fair) queue() *arraylist.List[chan struct{}] {
	if l.waiters == nil {
		l.waiters = arraylist.New[chan struct{}]()
	}
	return l.waiters
}

// Lock blocks until the caller owns the lock.
func (l *Fair) Lock() {
	_ = l.LockContext(context.Background())
}

// LockContext is Lock with cancellation. On error the caller does not own
// the lock and has left the queue.
func (l *Fair) LockContext(ctx context.Context) error {
	l.mu.Lock()
	q := l.queue()
	if !l.held && q.Empty() {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.Add(ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		if i := q.IndexOf(ch); i >= 0 {
			q.Remove(i)
			l.mu.Unlock()
			return ctx.Err()
		}
		l.mu.Unlock()
		// ownership was handed over while we were giving up
		l.Unlock()
		return ctx.Err()
	}
}

// Unlock releases the lock, waking the oldest waiter if there is one.
// It panics if the lock is not held.
func (l *Fair) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		panic("lock: unlock of unlocked Fair")
	}
	q := l.queue()
	if next, ok := q.Get(0); ok {
		q.Remove(0)
		close(next)
		return
	}
	l.held = false
}

// Waiting returns the number of queued callers.
func (l *Fair) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue().Size()
}
