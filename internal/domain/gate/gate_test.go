package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_AdmitsUpToCapacity(t *testing.T) {
	g := New(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Acquire(ctx))
	}

	// Fourth acquire must not be admitted while all slots are held.
	assert.False(t, g.TryAcquire())

	g.Release()
	assert.True(t, g.TryAcquire())
}

func TestGate_QueuedCallerProceedsAfterRelease(t *testing.T) {
	g := New(1)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx))

	proceeded := make(chan struct{})
	go func() {
		if err := g.Acquire(ctx); err == nil {
			close(proceeded)
		}
	}()

	select {
	case <-proceeded:
		t.Fatal("queued caller proceeded while slot was held")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()

	select {
	case <-proceeded:
	case <-time.After(time.Second):
		t.Fatal("queued caller never admitted after release")
	}
	g.Release()
}

func TestGate_AcquireHonorsContext(t *testing.T) {
	g := New(1)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	g.Release()
}

func TestGate_BoundsConcurrency(t *testing.T) {
	const slots = 3
	g := New(slots)

	var inFlight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(context.Background()))
			defer g.Release()

			n := atomic.AddInt64(&inFlight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(slots))
	assert.Greater(t, atomic.LoadInt64(&peak), int64(0))
}

func TestNew_ClampsToOne(t *testing.T) {
	g := New(0)
	assert.Equal(t, 1, g.Slots())

	g = New(-5)
	assert.Equal(t, 1, g.Slots())
}

func TestGate_InFlightTracksHeldSlots(t *testing.T) {
	g := New(2)
	assert.Equal(t, 0, g.InFlight())

	require.NoError(t, g.Acquire(context.Background()))
	require.True(t, g.TryAcquire())
	assert.Equal(t, 2, g.InFlight())

	g.Release()
	assert.Equal(t, 1, g.InFlight())
	g.Release()
	assert.Equal(t, 0, g.InFlight())
}
