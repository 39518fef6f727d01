package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(at *time.Time) *Breaker {
	b := New("test")
	b.now = func() time.Time { return *at }
	return b
}

func TestOpensAfterThreeFailures(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&now)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.Snapshot().State, "two failures stay closed")
	assert.True(t, b.ShouldAllow())

	b.RecordFailure()
	assert.Equal(t, Open, b.Snapshot().State)
	assert.False(t, b.ShouldAllow())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&now)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.Snapshot().State, "threshold counts consecutive failures only")
}

func TestHalfOpenAtResetBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&now)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(59 * time.Second)
	assert.False(t, b.ShouldAllow(), "still open before the reset timeout")

	// Exactly lastFailure + resetTimeout allows the probe.
	now = now.Add(time.Second)
	assert.True(t, b.ShouldAllow())
	assert.Equal(t, HalfOpen, b.Snapshot().State)
}

func TestHalfOpenClosesAfterTwoSuccesses(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&now)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(DefaultResetTimeout)
	require.True(t, b.ShouldAllow())

	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.Snapshot().State, "one success is not enough")
	b.RecordSuccess()

	snap := b.Snapshot()
	assert.Equal(t, Closed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&now)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(DefaultResetTimeout)
	require.True(t, b.ShouldAllow())

	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, Open, b.Snapshot().State)
	assert.False(t, b.ShouldAllow())

	// The failed probe restarts the reset clock.
	now = now.Add(DefaultResetTimeout)
	assert.True(t, b.ShouldAllow())
}

func TestSnapshotIsByValue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&now)

	snap := b.Snapshot()
	b.RecordFailure()
	assert.Equal(t, 0, snap.FailureCount, "snapshot does not track later mutations")
	assert.Equal(t, 1, b.Snapshot().FailureCount)
}
