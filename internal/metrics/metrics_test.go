package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ada/internal/store"
)

func newTestCollector(t *testing.T) (*store.Store, *Collector) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, NewCollector(s)
}

func TestSnapshotPercentages(t *testing.T) {
	_, c := newTestCollector(t)

	for i := 0; i < 6; i++ {
		c.Record(TierDeterministic, 2*time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		c.Record(TierLocal, 800*time.Millisecond)
	}
	c.Record(TierAPI, 2*time.Second)
	c.RecordFallback()

	s := c.Snapshot()
	assert.Equal(t, int64(10), s.Total)
	assert.InDelta(t, 60, s.DeterministicPct, 0.01)
	assert.InDelta(t, 30, s.LocalPct, 0.01)
	assert.InDelta(t, 10, s.APIPct, 0.01)
	assert.InDelta(t, 10, s.FallbackRate, 0.01)
	assert.InDelta(t, 9*perCallCostUSD, s.EstimatedSavingsUSD, 1e-9)
	assert.InDelta(t, 2, s.AvgLatencyMs[TierDeterministic], 0.01)
}

func TestP99BoundedWindow(t *testing.T) {
	_, c := newTestCollector(t)

	// 150 samples; only the last 100 count. The first 50 are huge and must
	// age out of the window.
	for i := 0; i < 50; i++ {
		c.Record(TierLocal, 10*time.Second)
	}
	for i := 0; i < 100; i++ {
		c.Record(TierLocal, 100*time.Millisecond)
	}

	s := c.Snapshot()
	assert.InDelta(t, 100, s.P99LatencyMs[TierLocal], 0.01, "old spikes aged out")
}

func TestDebouncedPersistenceAndFlush(t *testing.T) {
	s, c := newTestCollector(t)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Record(TierAPI, time.Second) // first record persists (lastPersist zero)
	c.now = func() time.Time { return base.Add(5 * time.Second) }
	c.Record(TierAPI, time.Second) // inside debounce: not persisted

	var onDisk persisted
	found, err := s.LoadRouterMetrics(&onDisk)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), onDisk.Tiers[TierAPI].Count, "second record debounced")

	c.Flush()
	found, err = s.LoadRouterMetrics(&onDisk)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), onDisk.Tiers[TierAPI].Count, "flush wrote the latest state")
}

func TestPersistSnapshotIsIndependent(t *testing.T) {
	_, c := newTestCollector(t)
	c.Record(TierAPI, 100*time.Millisecond)

	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	// Counters recorded after the copy must not leak into it.
	c.Record(TierAPI, 999*time.Millisecond)
	c.RecordFallback()

	require.Contains(t, snap.Tiers, TierAPI)
	assert.EqualValues(t, 1, snap.Tiers[TierAPI].Count)
	assert.Len(t, snap.Tiers[TierAPI].LatencyWindow, 1)
	assert.Zero(t, snap.Fallbacks)
}

func TestCollectorResumesFromStore(t *testing.T) {
	s, c := newTestCollector(t)
	c.Record(TierLocal, 500*time.Millisecond)
	c.Flush()

	resumed := NewCollector(s)
	snap := resumed.Snapshot()
	assert.Equal(t, int64(1), snap.Total)
	assert.InDelta(t, 500, snap.AvgLatencyMs[TierLocal], 0.01)
}
