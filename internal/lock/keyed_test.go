package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedDifferentKeysDoNotContend(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	require.NoError(t, k.Lock(ctx, "a.png"))
	done := make(chan struct{})
	go func() {
		assert.NoError(t, k.Lock(ctx, "b.png"))
		k.Unlock("b.png")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a different key blocked")
	}
	k.Unlock("a.png")
	assert.Equal(t, 0, k.Len())
}

func TestKeyedSameKeySerializes(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	var (
		mu     sync.Mutex
		inside int
		peak   int
		wg     sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, k.Lock(ctx, "img.png"))
			mu.Lock()
			inside++
			if inside > peak {
				peak = inside
			}
			mu.Unlock()
			time.Sleep(100 * time.Microsecond)
			mu.Lock()
			inside--
			mu.Unlock()
			k.Unlock("img.png")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peak)
	assert.Equal(t, 0, k.Len())
}

func TestKeyedCancelledWaiterReleasesEntry(t *testing.T) {
	k := NewKeyed()
	require.NoError(t, k.Lock(context.Background(), "x"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, k.Lock(ctx, "x"), context.DeadlineExceeded)

	k.Unlock("x")
	assert.Equal(t, 0, k.Len())
	assert.Panics(t, func() { k.Unlock("x") })
}
