// Package retrieval answers "which facts matter for this query" with a
// hybrid of vector similarity and keyword overlap. Embeddings are the
// better signal but arrive asynchronously; keyword search is always
// available, so the merge degrades gracefully to keyword-only.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ada/internal/breaker"
	"ada/internal/embedding"
	"ada/internal/facts"
	"ada/internal/logging"
	"ada/internal/store"
	"ada/internal/textutil"
)

const (
	vectorWeight  = 0.7
	keywordWeight = 0.3

	// Vector candidates below this similarity are noise.
	vectorFloor = 0.4
)

// ScoredFact is one retrieval result.
type ScoredFact struct {
	Fact         *facts.Fact
	Score        float64
	VectorScore  float64
	KeywordScore float64
}

// Retriever runs hybrid fact retrieval.
type Retriever struct {
	store   *store.Store
	engine  *embedding.Engine
	breaker *breaker.Breaker
	now     func() time.Time
}

// New wires the retriever. br is the shared embedding-subsystem breaker.
func New(s *store.Store, engine *embedding.Engine, br *breaker.Breaker) *Retriever {
	return &Retriever{store: s, engine: engine, breaker: br, now: time.Now}
}

// Retrieve returns up to limit facts relevant to query, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) ([]ScoredFact, error) {
	if limit <= 0 {
		return nil, nil
	}
	timer := logging.StartTimer(logging.CategoryRetrieval, "Retrieve")
	defer timer.Stop()

	active, err := r.store.ActiveFacts("", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load facts: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	keywordScores := keywordScore(query, active)
	vectorScores := r.vectorScore(ctx, query, limit)

	now := r.now()
	var out []ScoredFact
	for _, f := range active {
		vs := vectorScores[f.ID]
		ks := keywordScores[f.ID]
		combined := vectorWeight*vs + keywordWeight*ks
		if vectorScores == nil {
			// Keyword-only fallback: the overlap is the whole score.
			combined = ks
		}
		if combined <= 0 {
			continue
		}

		// Decay gate: older facts need to earn their slot.
		decay := facts.GetDecayStatus(f.LastConfirmedAt, now)
		if !decay.Inject || combined < decay.RelevanceThreshold {
			continue
		}

		out = append(out, ScoredFact{Fact: f, Score: combined, VectorScore: vs, KeywordScore: ks})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}

	logging.Retrieval("query matched %d facts (vector=%v)", len(out), vectorScores != nil)
	return out, nil
}

// vectorScore embeds the query and searches the index. A nil map means the
// vector path was unavailable and scoring is keyword-only.
func (r *Retriever) vectorScore(ctx context.Context, query string, limit int) map[string]float64 {
	if r.engine == nil || !r.breaker.ShouldAllow() {
		return nil
	}

	// Embed initializes the engine lazily; nil-nil means it is still
	// backing off and the query proceeds keyword-only.
	vec, err := r.engine.Embed(ctx, query)
	if err != nil {
		r.breaker.RecordFailure()
		logging.Get(logging.CategoryRetrieval).Warn("query embedding failed: %v", err)
		return nil
	}
	if vec == nil {
		return nil
	}
	r.breaker.RecordSuccess()

	matches, err := r.store.VectorSearch(vec, 2*limit)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("vector search failed: %v", err)
		return nil
	}

	scores := make(map[string]float64, len(matches))
	for _, m := range matches {
		if m.Similarity < vectorFloor {
			continue
		}
		scores[m.FactID] = m.Similarity
	}
	return scores
}

func keywordScore(query string, active []*facts.Fact) map[string]float64 {
	queryWords := textutil.Keywords(query)
	scores := make(map[string]float64, len(active))
	for _, f := range active {
		if s := textutil.Overlap(queryWords, textutil.Keywords(f.Fact)); s > 0 {
			scores[f.ID] = s
		}
	}
	return scores
}
