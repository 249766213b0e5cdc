package gate

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of generation pipelines in flight system-wide.
// Waiters queue inside the weighted semaphore, so admission is starvation-free.
type Gate struct {
	sem      *semaphore.Weighted
	slots    int64
	inFlight atomic.Int64
}

// New creates a gate with the given number of slots. Values below one are
// clamped so a misconfigured gate still admits work.
func New(slots int) *Gate {
	if slots < 1 {
		slots = 1
	}
	return &Gate{
		sem:   semaphore.NewWeighted(int64(slots)),
		slots: int64(slots),
	}
}

// Slots reports the configured capacity.
func (g *Gate) Slots() int {
	return int(g.slots)
}

// InFlight reports how many slots are currently held.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Acquire blocks the calling goroutine until a slot frees or ctx is done.
// Callers must pair a successful Acquire with exactly one Release, normally
// via defer so error paths cannot leak the slot.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inFlight.Add(1)
	return nil
}

// TryAcquire grabs a slot without waiting, reporting whether it succeeded.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.inFlight.Add(1)
	return true
}

// Release frees a previously acquired slot.
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}
