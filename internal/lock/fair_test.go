package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestFairFIFO(t *testing.T) {
	var l Fair
	l.Lock()

	const n = 8
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Lock()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			l.Unlock()
		}(i)
		// queue goroutines one at a time so arrival order is known
		waitFor(t, func() bool { return l.Waiting() == i+1 })
	}

	l.Unlock()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
	assert.Equal(t, 0, l.Waiting())
}

func TestFairMutualExclusion(t *testing.T) {
	var l Fair
	var inside, maxInside int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			time.Sleep(100 * time.Microsecond)
			inside--
			l.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
}

func TestFairLockContextCancelled(t *testing.T) {
	var l Fair
	l.Lock()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.LockContext(ctx) }()
	waitFor(t, func() bool { return l.Waiting() == 1 })

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, 0, l.Waiting())

	// the holder can still hand the lock to a fresh caller
	l.Unlock()
	require.NoError(t, l.LockContext(context.Background()))
	l.Unlock()
}

func TestFairUnlockOfUnlocked(t *testing.T) {
	var l Fair
	assert.Panics(t, func() { l.Unlock() })
}

func TestNonBlocking(t *testing.T) {
	var l NonBlocking
	assert.False(t, l.Locked())
	assert.True(t, l.TryLock())
	assert.False(t, l.TryLock())
	assert.True(t, l.Locked())

	l.Unlock()
	assert.True(t, l.TryLock())

	// release is unconditional
	l.Unlock()
	l.Unlock()
	assert.False(t, l.Locked())
}
