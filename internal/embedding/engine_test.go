package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ada/internal/breaker"
	"ada/internal/facts"
	"ada/internal/ollama"
	"ada/internal/store"
)

type fakeEmbedClient struct {
	installed []ollama.ModelInfo
	pullErr   error
	tagsErr   error
	embedErr  error
	pulls     int
	embeds    int
	dim       int
}

func (f *fakeEmbedClient) Embed(_ context.Context, _, _ string) ([]float32, error) {
	f.embeds++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedClient) Tags(context.Context) ([]ollama.ModelInfo, error) {
	if f.tagsErr != nil {
		return nil, f.tagsErr
	}
	return f.installed, nil
}

func (f *fakeEmbedClient) Pull(_ context.Context, model string, _ func(ollama.PullProgress)) error {
	f.pulls++
	if f.pullErr != nil {
		return f.pullErr
	}
	f.installed = append(f.installed, ollama.ModelInfo{Name: model})
	return nil
}

func newReadyClient() *fakeEmbedClient {
	return &fakeEmbedClient{
		installed: []ollama.ModelInfo{{Name: "all-minilm"}},
		dim:       store.EmbeddingDim,
	}
}

func TestEngineLazyInitialization(t *testing.T) {
	fc := newReadyClient()
	e := NewEngine(fc, "all-minilm", store.EmbeddingDim, nil)

	assert.False(t, e.Ready())
	vec, err := e.Embed(context.Background(), "hola")
	require.NoError(t, err)
	assert.Len(t, vec, store.EmbeddingDim)
	assert.True(t, e.Ready())
	assert.Zero(t, fc.pulls, "installed model is not re-pulled")
}

func TestEnginePullsMissingModelOnce(t *testing.T) {
	fc := &fakeEmbedClient{dim: store.EmbeddingDim}
	var messages []string
	e := NewEngine(fc, "all-minilm", store.EmbeddingDim, func(m string) { messages = append(messages, m) })

	_, err := e.Embed(context.Background(), "hola")
	require.NoError(t, err)
	assert.Equal(t, 1, fc.pulls)
	require.Len(t, messages, 1, "single user-visible progress line")
	assert.Contains(t, messages[0], "descargando")
}

func TestEngineSkipPullFailsOnMissingModel(t *testing.T) {
	fc := &fakeEmbedClient{dim: store.EmbeddingDim}
	e := NewEngine(fc, "all-minilm", store.EmbeddingDim, nil)
	e.SkipPull = true

	_, err := e.Embed(context.Background(), "hola")
	require.Error(t, err)
	assert.Zero(t, fc.pulls, "no download when pulls are disabled")
	assert.False(t, e.Ready())
}

func TestEngineBacksOffAndGivesUp(t *testing.T) {
	fc := &fakeEmbedClient{tagsErr: errors.New("server down"), dim: store.EmbeddingDim}
	e := NewEngine(fc, "all-minilm", store.EmbeddingDim, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err, "first attempt fails loudly")

	// Inside the 5s backoff: silent no-op.
	vec, err := e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Nil(t, vec)

	now = now.Add(6 * time.Second)
	_, err = e.Embed(context.Background(), "x")
	require.Error(t, err, "second attempt")

	now = now.Add(11 * time.Second)
	_, err = e.Embed(context.Background(), "x")
	require.Error(t, err, "third attempt")

	// Permanently given up: always the quiet path now.
	now = now.Add(time.Hour)
	vec, err = e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Nil(t, vec)
}

func TestEngineRecoversWithinAttemptBudget(t *testing.T) {
	fc := &fakeEmbedClient{tagsErr: errors.New("starting up"), dim: store.EmbeddingDim}
	e := NewEngine(fc, "all-minilm", store.EmbeddingDim, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)

	fc.tagsErr = nil
	fc.installed = []ollama.ModelInfo{{Name: "all-minilm"}}
	now = now.Add(10 * time.Second)
	vec, err := e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.NotNil(t, vec)
	assert.True(t, e.Ready())
}

// =============================================================================
// WORKER
// =============================================================================

func newWorkerFixture(t *testing.T) (*store.Store, *fakeEmbedClient, *Engine, *Worker, *breaker.Breaker) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fc := newReadyClient()
	e := NewEngine(fc, "all-minilm", store.EmbeddingDim, nil)
	br := breaker.New("embeddings")
	w := NewWorker(s, e, br)
	return s, fc, e, w, br
}

func queueFact(t *testing.T, s *store.Store, text string) *facts.Fact {
	t.Helper()
	f := &facts.Fact{Domain: facts.DomainGeneral, Fact: text, Confidence: facts.ConfidenceHigh, Source: facts.SourceInferred}
	require.NoError(t, s.InsertFact(f))
	require.NoError(t, s.EnqueueEmbedding(f.ID))
	return f
}

func TestWorkerTickEmbedsQueuedFacts(t *testing.T) {
	s, _, _, w, _ := newWorkerFixture(t)
	f := queueFact(t, s, "le encanta cocinar pasta")

	w.Tick(context.Background())

	has, err := s.HasEmbedding(f.ID, "all-minilm")
	require.NoError(t, err)
	assert.True(t, has)

	items, err := s.ClaimEmbeddings(10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, items, "queue drained")
}

func TestWorkerCompletesDeletedFacts(t *testing.T) {
	s, fc, _, w, _ := newWorkerFixture(t)
	require.NoError(t, s.EnqueueEmbedding("no-such-fact"))

	w.Tick(context.Background())

	items, err := s.ClaimEmbeddings(10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, fc.embeds, "only the readiness poke, no fact embed")
}

func TestWorkerFailureFeedsBreaker(t *testing.T) {
	s, fc, e, w, br := newWorkerFixture(t)
	queueFact(t, s, "algo que fallara")

	// Warm the engine, then make every embed fail.
	_, err := e.Embed(context.Background(), "hola")
	require.NoError(t, err)
	fc.embedErr = errors.New("engine exploded")

	w.Tick(context.Background())

	assert.Equal(t, 1, br.Snapshot().FailureCount)

	// The item went back to pending with one recorded attempt.
	items, err := s.ClaimEmbeddings(10, time.Now())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
}

func TestWorkerStartStopDoesNotLeak(t *testing.T) {
	_, _, _, w, _ := newWorkerFixture(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	require.NoError(t, w.Start())
	w.Stop()
}
