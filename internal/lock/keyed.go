package lock

import (
	"context"
	"sync"
)

// Keyed is a family of Fair locks addressed by string. Callers using the same
// key serialize in FIFO order; different keys never contend. Entries are
// dropped once nobody holds or waits for them.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	Fair
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*keyedEntry)}
}

func (k *Keyed) acquire(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock blocks until the caller owns key or ctx is done.
func (k *Keyed) Lock(ctx context.Context, key string) error {
	e := k.acquire(key)
	if err := e.LockContext(ctx); err != nil {
		k.release(key, e)
		return err
	}
	return nil
}

// Unlock releases key. It panics if key is not held.
func (k *Keyed) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		panic("lock: unlock of unlocked key " + key)
	}
	e.Unlock()
	k.release(key, e)
}

// Len returns the number of keys currently held or waited for.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
