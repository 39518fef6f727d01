// Package extraction runs the background fact-extraction pipeline: queued
// user messages go to the local model, which returns a JSON array of
// candidate facts. Each candidate is validated independently; bad items are
// dropped, good ones survive. Partial success is the normal case.
package extraction

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ada/internal/facts"
	"ada/internal/jsonextract"
	"ada/internal/logging"
	"ada/internal/ollama"
	"ada/internal/store"
	"ada/internal/textutil"
)

const (
	workerTick      = 5 * time.Second
	batchSize       = 5
	maxAttempts     = 3
	extractDeadline = 30 * time.Second

	// A candidate whose keywords overlap an existing fact this much is a
	// re-mention: refresh the old fact instead of inserting a duplicate.
	dedupeOverlap = 0.8
)

// Backoff delays indexed by attempt count.
var retryBackoff = []time.Duration{0, 5 * time.Second, 30 * time.Second}

// Generator is the model call the worker depends on.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, opts *ollama.GenerateOptions) (*ollama.GenerateResponse, error)
}

// Worker drains the pending_extractions queue every five seconds.
type Worker struct {
	store     *store.Store
	generator Generator
	model     string

	mu           sync.Mutex
	isProcessing bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker wires the worker to the store and the classifier model.
func NewWorker(s *store.Store, g Generator, model string) *Worker {
	return &Worker{
		store:     s,
		generator: g,
		model:     model,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the tick loop.
func (w *Worker) Start() {
	go func() {
		defer close(w.doneCh)
		ticker := time.NewTicker(workerTick)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.Tick(context.Background())
			}
		}
	}()
}

// Stop halts the loop; an in-flight tick is left to finish on its own
// goroutine but no new tick starts.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// Enqueue applies the pre-filter and queues the message when it might
// contain a fact. Returns whether it was queued.
func (w *Worker) Enqueue(message string) (bool, error) {
	if !facts.ShouldExtract(message) {
		return false, nil
	}
	if err := w.store.EnqueueExtraction(message); err != nil {
		return false, err
	}
	return true, nil
}

// Tick processes one batch. The in-flight flag makes ticks strictly
// sequential.
func (w *Worker) Tick(ctx context.Context) {
	w.mu.Lock()
	if w.isProcessing {
		w.mu.Unlock()
		return
	}
	w.isProcessing = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.isProcessing = false
		w.mu.Unlock()
	}()

	items, err := w.store.ClaimExtractions(batchSize, retryBackoff, time.Now())
	if err != nil {
		logging.Get(logging.CategoryExtraction).Error("failed to claim extraction work: %v", err)
		return
	}

	for _, item := range items {
		if err := w.processMessage(ctx, item); err != nil {
			logging.Get(logging.CategoryExtraction).Warn("extraction of item %d failed: %v", item.ID, err)
			if failErr := w.store.FailExtraction(item.ID, err.Error(), maxAttempts); failErr != nil {
				logging.Get(logging.CategoryExtraction).Error("failed to record extraction failure: %v", failErr)
			}
			continue
		}
		if err := w.store.CompleteExtraction(item.ID); err != nil {
			logging.Get(logging.CategoryExtraction).Error("failed to complete extraction: %v", err)
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, item store.QueueItem) error {
	genCtx, cancel := context.WithTimeout(ctx, extractDeadline)
	defer cancel()

	resp, err := w.generator.Generate(genCtx, w.model, buildPrompt(item.Message), &ollama.GenerateOptions{
		Temperature: 0.1,
		NumPredict:  300,
	})
	if err != nil {
		return fmt.Errorf("model call failed: %w", err)
	}

	candidates, err := parseCandidates(resp.Response)
	if err != nil {
		return err
	}

	existing, err := w.store.ActiveFacts("", 0)
	if err != nil {
		return fmt.Errorf("failed to load existing facts: %w", err)
	}

	saved := 0
	for _, c := range candidates {
		f, ok := c.validate()
		if !ok {
			logging.Get(logging.CategoryExtraction).Debug("dropping invalid candidate: %+v", c)
			continue
		}

		if prior := findReMention(existing, f.Fact); prior != nil {
			if err := w.store.TouchFact(prior.ID, time.Now()); err != nil {
				logging.Get(logging.CategoryExtraction).Warn("failed to refresh fact %s: %v", prior.ID, err)
			}
			continue
		}

		if err := w.store.InsertFact(f); err != nil {
			logging.Get(logging.CategoryExtraction).Warn("failed to insert fact: %v", err)
			continue
		}
		if err := w.store.EnqueueEmbedding(f.ID); err != nil {
			logging.Get(logging.CategoryExtraction).Warn("failed to queue embedding for %s: %v", f.ID, err)
		}
		existing = append(existing, f)
		saved++
	}

	if saved > 0 {
		logging.Extraction("extracted %d facts from message (queue item %d)", saved, item.ID)
	}
	return nil
}

// =============================================================================
// PROMPT AND PARSING
// =============================================================================

func buildPrompt(message string) string {
	var b strings.Builder
	b.WriteString("Extrae datos personales duraderos del siguiente mensaje del usuario.\n")
	b.WriteString("Responde SOLO con un array JSON. Cada elemento: {\"fact\": string, \"domain\": string, \"confidence\": string}.\n")
	b.WriteString("Dominios validos: health, preferences, work, relationships, schedule, goals, general, decisions, personal, projects.\n")
	b.WriteString("Confianza: high, medium o low.\n")
	b.WriteString("Si no hay datos que recordar, responde [].\n\n")
	b.WriteString("Mensaje: ")
	b.WriteString(message)
	return b.String()
}

// candidate is one untrusted item of the model's array.
type candidate struct {
	Fact       string `json:"fact"`
	Domain     string `json:"domain"`
	Confidence string `json:"confidence"`
}

// validate turns a candidate into a Fact, or rejects it. Items are judged
// one by one so a single bad element never sinks the batch.
func (c candidate) validate() (*facts.Fact, bool) {
	text := strings.TrimSpace(c.Fact)
	if text == "" || len(text) > facts.MaxFactLength {
		return nil, false
	}

	domain := facts.Domain(strings.ToLower(strings.TrimSpace(c.Domain)))
	if !facts.ValidDomain(domain) {
		return nil, false
	}

	confidence := facts.Confidence(strings.ToLower(strings.TrimSpace(c.Confidence)))
	if !facts.ValidConfidence(confidence) {
		return nil, false
	}

	return &facts.Fact{
		Domain:     domain,
		Fact:       text,
		Confidence: confidence,
		Source:     facts.SourceInferred,
	}, true
}

func parseCandidates(response string) ([]candidate, error) {
	var out []candidate
	if err := jsonextract.Array(response, &out); err != nil {
		return nil, fmt.Errorf("no fact array in model output: %w", err)
	}
	return out, nil
}

// findReMention returns an existing active fact whose keyword overlap with
// text reaches the dedupe threshold.
func findReMention(existing []*facts.Fact, text string) *facts.Fact {
	textWords := textutil.Keywords(text)
	for _, f := range existing {
		if textutil.Overlap(textWords, textutil.Keywords(f.Fact)) >= dedupeOverlap {
			return f
		}
	}
	return nil
}
