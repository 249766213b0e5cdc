package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	snap      Snapshot
	expiresAt time.Time
}

// MemoryStore keeps sessions in a map with TTL-based eviction. A background
// sweep removes expired entries so the map stays bounded under sustained
// load from many distinct users.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]memoryEntry
	ttl     time.Duration
	ticker  *time.Ticker
	stopCh  chan struct{}
	stopped sync.Once
}

// NewMemoryStore creates a memory store sweeping every cleanup interval.
func NewMemoryStore(ttl, cleanup time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[int64]memoryEntry),
		ttl:     ttl,
		ticker:  time.NewTicker(cleanup),
		stopCh:  make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *MemoryStore) sweepLoop() {
	for {
		select {
		case <-s.ticker.C:
			s.sweep(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, entry := range s.entries {
		// A user mid-generation is never evicted; their Complete call will
		// refresh the entry.
		if entry.snap.State != StateGenerating && now.After(entry.expiresAt) {
			delete(s.entries, userID)
		}
	}
}

// Len reports the live entry count (used by tests and the status endpoint).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Get(_ context.Context, userID int64) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[userID]
	if !ok {
		return nil, nil
	}
	if entry.snap.State != StateGenerating && time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	snap := entry.snap
	return &snap, nil
}

func (s *MemoryStore) Put(_ context.Context, userID int64, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = memoryEntry{
		snap:      *snap,
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}

func (s *MemoryStore) Close() error {
	s.stopped.Do(func() {
		s.ticker.Stop()
		close(s.stopCh)
	})
	return nil
}
