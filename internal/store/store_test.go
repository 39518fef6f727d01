package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ada/internal/facts"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleFact(text string) *facts.Fact {
	return &facts.Fact{
		Domain:     facts.DomainPreferences,
		Fact:       text,
		Confidence: facts.ConfidenceHigh,
		Source:     facts.SourceInferred,
	}
}

// =============================================================================
// FACTS
// =============================================================================

func TestInsertAndGetFact(t *testing.T) {
	s := newTestStore(t)

	f := sampleFact("le gusta el cafe sin azucar")
	require.NoError(t, s.InsertFact(f))
	require.NotEmpty(t, f.ID)

	got, err := s.GetFact(f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Fact, got.Fact)
	assert.Equal(t, facts.DomainPreferences, got.Domain)
	assert.True(t, got.Active())

	_, err = s.GetFact("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveFactsFiltersArchivedAndStale(t *testing.T) {
	s := newTestStore(t)

	keep := sampleFact("trabaja desde casa los viernes")
	require.NoError(t, s.InsertFact(keep))

	archived := sampleFact("dato archivado")
	require.NoError(t, s.InsertFact(archived))
	require.NoError(t, s.ArchiveFact(archived.ID))

	stale := sampleFact("dato viejo")
	stale.LastConfirmedAt = time.Now().AddDate(0, 0, -200)
	require.NoError(t, s.InsertFact(stale))
	_, err := s.SweepStale(time.Now())
	require.NoError(t, err)

	active, err := s.ActiveFacts("", 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep.ID, active[0].ID)
}

func TestSupersedeFact(t *testing.T) {
	s := newTestStore(t)

	old := sampleFact("vive en Madrid")
	require.NoError(t, s.InsertFact(old))

	repl := sampleFact("vive en Barcelona")
	require.NoError(t, s.SupersedeFact(old.ID, repl))

	oldGot, err := s.GetFact(old.ID)
	require.NoError(t, err)
	assert.True(t, oldGot.Archived)

	newGot, err := s.GetFact(repl.ID)
	require.NoError(t, err)
	assert.Equal(t, old.ID, newGot.Supersedes)
	assert.True(t, newGot.Active())
}

func TestTouchFactClearsStaleness(t *testing.T) {
	s := newTestStore(t)

	f := sampleFact("odia las reuniones por la tarde")
	f.LastConfirmedAt = time.Now().AddDate(0, 0, -150)
	require.NoError(t, s.InsertFact(f))

	n, err := s.SweepStale(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.TouchFact(f.ID, time.Now()))
	got, err := s.GetFact(f.ID)
	require.NoError(t, err)
	assert.False(t, got.Stale)
}

func TestSweepStaleBoundary(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	at119 := sampleFact("confirmado hace 119 dias")
	at119.LastConfirmedAt = now.AddDate(0, 0, -119)
	require.NoError(t, s.InsertFact(at119))

	at120 := sampleFact("confirmado hace 120 dias")
	at120.LastConfirmedAt = now.AddDate(0, 0, -120)
	require.NoError(t, s.InsertFact(at120))

	n, err := s.SweepStale(now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetFact(at120.ID)
	require.NoError(t, err)
	assert.True(t, got.Stale)
	got, err = s.GetFact(at119.ID)
	require.NoError(t, err)
	assert.False(t, got.Stale)
}

// =============================================================================
// QUEUES
// =============================================================================

func TestExtractionQueueLifecycle(t *testing.T) {
	s := newTestStore(t)
	backoff := []time.Duration{0, 5 * time.Second, 30 * time.Second}

	require.NoError(t, s.EnqueueExtraction("mi hermana se muda a Valencia"))

	items, err := s.ClaimExtractions(5, backoff, time.Now())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, StatusProcessing, items[0].Status)

	// Already claimed: nothing left.
	again, err := s.ClaimExtractions(5, backoff, time.Now())
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, s.CompleteExtraction(items[0].ID))
}

func TestExtractionBackoffDelaysRetry(t *testing.T) {
	s := newTestStore(t)
	backoff := []time.Duration{0, 5 * time.Second, 30 * time.Second}
	now := time.Now()

	require.NoError(t, s.EnqueueExtraction("dato que falla"))
	items, err := s.ClaimExtractions(5, backoff, now)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, s.FailExtraction(items[0].ID, "timeout", 3))

	// Attempt 1 requires 5s of backoff.
	items, err = s.ClaimExtractions(5, backoff, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Empty(t, items, "still inside the backoff window")

	items, err = s.ClaimExtractions(5, backoff, now.Add(6*time.Second))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
}

func TestExtractionFailsPermanentlyAfterMaxAttempts(t *testing.T) {
	s := newTestStore(t)
	backoff := []time.Duration{0, 0, 0}
	now := time.Now()

	require.NoError(t, s.EnqueueExtraction("irrecuperable"))
	for i := 0; i < 3; i++ {
		items, err := s.ClaimExtractions(5, backoff, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.Len(t, items, 1, "attempt %d", i+1)
		require.NoError(t, s.FailExtraction(items[0].ID, "siempre falla", 3))
	}

	items, err := s.ClaimExtractions(5, backoff, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, items, "row stays failed after three attempts")
}

func TestRecoverQueuesResetsOrphans(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.EnqueueExtraction("huerfano"))
	_, err := s.ClaimExtractions(5, []time.Duration{0}, time.Now())
	require.NoError(t, err)

	// Simulated crash: the processing row is still there on next boot.
	require.NoError(t, s.RecoverQueues())
	items, err := s.ClaimExtractions(5, []time.Duration{0, 0, 0}, time.Now())
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestQueueCapDropsOldest(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < MaxQueueDepth+25; i++ {
		require.NoError(t, s.EnqueueEmbedding("fact"))
	}

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(1) FROM pending_embeddings WHERE status = 'pending'").Scan(&n))
	assert.Equal(t, MaxQueueDepth, n)

	var minID int64
	require.NoError(t, s.db.QueryRow("SELECT MIN(id) FROM pending_embeddings").Scan(&minID))
	assert.Equal(t, int64(26), minID, "oldest rows were dropped")
}

func TestEnqueueMissingEmbeddings(t *testing.T) {
	s := newTestStore(t)

	f1 := sampleFact("sin embedding")
	require.NoError(t, s.InsertFact(f1))
	f2 := sampleFact("con embedding")
	require.NoError(t, s.InsertFact(f2))
	require.NoError(t, s.UpsertEmbedding(f2.ID, make([]float32, EmbeddingDim), "v1"))

	n, err := s.EnqueueMissingEmbeddings("v1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Idempotent: the pending row blocks re-enqueue.
	n, err = s.EnqueueMissingEmbeddings("v1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// REMINDERS
// =============================================================================

func TestReminderMonotonicTransitions(t *testing.T) {
	s := newTestStore(t)

	r, err := s.CreateReminder("llamar al dentista", time.Now().Add(time.Hour))
	require.NoError(t, err)

	ok, err := s.AdvanceReminder(r.ID, ReminderPending, ReminderTriggered)
	require.NoError(t, err)
	assert.True(t, ok)

	// Repeating the same transition fails the CAS.
	ok, err = s.AdvanceReminder(r.ID, ReminderPending, ReminderTriggered)
	require.NoError(t, err)
	assert.False(t, ok)

	// Skipping a state is rejected outright.
	_, err = s.AdvanceReminder(r.ID, ReminderPending, ReminderDelivered)
	assert.Error(t, err)

	ok, err = s.AdvanceReminder(r.ID, ReminderTriggered, ReminderDelivered)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOrphanTriggeredFindsCrashedDispatches(t *testing.T) {
	s := newTestStore(t)

	past, err := s.CreateReminder("quedo a medias", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = s.AdvanceReminder(past.ID, ReminderPending, ReminderTriggered)
	require.NoError(t, err)

	future, err := s.CreateReminder("aun no toca", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = s.AdvanceReminder(future.ID, ReminderPending, ReminderTriggered)
	require.NoError(t, err)

	orphans, err := s.OrphanTriggered(time.Now())
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, past.ID, orphans[0].ID)
}

func TestCancelReminderOnlyPending(t *testing.T) {
	s := newTestStore(t)

	r, err := s.CreateReminder("cancelable", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.CancelReminder(r.ID))
	assert.ErrorIs(t, s.CancelReminder(r.ID), ErrNotFound)
}

// =============================================================================
// CACHE AND STATE
// =============================================================================

func TestCacheEntriesSkipExpiredAndForeignVersions(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.PutCacheEntry(&CacheEntry{
		QueryHash: "h1", FactIDsHash: "f", SystemVersion: "v1",
		Response: "hola!", TTLSeconds: 300, CreatedAt: now,
	}))
	require.NoError(t, s.PutCacheEntry(&CacheEntry{
		QueryHash: "h2", FactIDsHash: "f", SystemVersion: "v1",
		Response: "viejo", TTLSeconds: 60, CreatedAt: now.Add(-2 * time.Minute),
	}))
	require.NoError(t, s.PutCacheEntry(&CacheEntry{
		QueryHash: "h3", FactIDsHash: "f", SystemVersion: "v2",
		Response: "otra version", TTLSeconds: 300, CreatedAt: now,
	}))

	entries, err := s.CacheEntries("v1", now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "h1", entries[0].QueryHash)

	purged, err := s.PurgeCache("v1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)
}

func TestStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	type state struct {
		MutexSkips int    `json:"mutexSkips"`
		LastType   string `json:"lastType"`
	}

	var missing state
	found, err := s.LoadProactiveState(&missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SaveProactiveState(state{MutexSkips: 3, LastType: "greeting"}))
	var got state
	found, err = s.LoadProactiveState(&got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, got.MutexSkips)
}

// =============================================================================
// VECTORS
// =============================================================================

func testVector(seed float32) []float32 {
	v := make([]float32, EmbeddingDim)
	for i := range v {
		v[i] = seed * float32(i%7)
	}
	v[0] = 1
	return v
}

func TestVectorSearchFallbackScan(t *testing.T) {
	s := newTestStore(t)

	a := sampleFact("le gusta el senderismo")
	require.NoError(t, s.InsertFact(a))
	b := sampleFact("trabaja en marketing")
	require.NoError(t, s.InsertFact(b))

	va := testVector(0.5)
	vb := make([]float32, EmbeddingDim)
	vb[1] = 1

	require.NoError(t, s.UpsertEmbedding(a.ID, va, "v1"))
	require.NoError(t, s.UpsertEmbedding(b.ID, vb, "v1"))

	matches, err := s.VectorSearch(va, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, a.ID, matches[0].FactID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
}

func TestUpsertEmbeddingRejectsWrongDimension(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.UpsertEmbedding("x", []float32{1, 2, 3}, "v1"))
}

func TestDeleteEmbedding(t *testing.T) {
	s := newTestStore(t)

	f := sampleFact("borrable")
	require.NoError(t, s.InsertFact(f))
	require.NoError(t, s.UpsertEmbedding(f.ID, testVector(1), "v1"))

	has, err := s.HasEmbedding(f.ID, "v1")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.DeleteEmbedding(f.ID))
	has, err = s.HasEmbedding(f.ID, "v1")
	require.NoError(t, err)
	assert.False(t, has)
}
