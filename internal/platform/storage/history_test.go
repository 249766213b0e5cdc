package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rizo-card-bot/internal/domain/card"
)

func openTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHistoryStore_RecordAndRecent(t *testing.T) {
	store := openTestStore(t)

	attempts := []card.Attempt{
		{Number: 1, Credential: "...key1", Endpoint: "edit", Err: "rate limited"},
		{Number: 2, Credential: "...key2", Endpoint: "edit"},
	}
	require.NoError(t, store.Record("req-1", 10, 20, true, attempts, "", 4200*time.Millisecond))
	require.NoError(t, store.Record("req-2", 11, 21, false, nil, "all attempts failed", time.Second))

	records, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]GenerationRecord{}
	for _, r := range records {
		byID[r.RequestID] = r
	}
	ok := byID["req-1"]
	assert.True(t, ok.Success)
	assert.Equal(t, int64(10), ok.UserID)
	assert.Equal(t, int64(4200), ok.DurationMS)
	assert.Contains(t, string(ok.Attempts), "rate limited")

	failed := byID["req-2"]
	assert.False(t, failed.Success)
	assert.Equal(t, "all attempts failed", failed.Error)
}

func TestHistoryStore_DuplicateRequestIDRejected(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Record("req-1", 1, 1, true, nil, "", 0))
	require.Error(t, store.Record("req-1", 1, 1, true, nil, "", 0))
}

func TestHistoryStore_StatsSince(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Record("req-1", 1, 1, true, nil, "", 0))
	require.NoError(t, store.Record("req-2", 2, 2, true, nil, "", 0))
	require.NoError(t, store.Record("req-3", 3, 3, false, nil, "boom", 0))

	stats, err := store.StatsSince(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Failed)

	empty, err := store.StatsSince(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
}

func TestHistoryStore_RecentLimit(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(
			string(rune('a'+i)), int64(i), int64(i), true, nil, "", 0))
	}
	records, err := store.Recent(3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
