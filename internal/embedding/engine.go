// Package embedding owns the embedding model lifecycle and the background
// worker that turns queued facts into vectors.
//
// The engine is lazy: nothing is downloaded or loaded until the first Embed
// call. Initialization failures back off exponentially and give up after
// three attempts; callers treat a not-ready engine as a no-op, never an
// error surface.
package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ada/internal/logging"
	"ada/internal/ollama"
)

const (
	embedDeadline   = 30 * time.Second
	initBackoffBase = 5 * time.Second
	maxInitAttempts = 3
)

// Client is the slice of the model server API the engine needs.
type Client interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
	Tags(ctx context.Context) ([]ollama.ModelInfo, error)
	Pull(ctx context.Context, model string, progress func(ollama.PullProgress)) error
}

// Progress receives one user-visible line during the first model download.
type Progress func(message string)

// Engine produces embeddings through the local model server.
type Engine struct {
	client    Client
	model     string
	dimension int
	progress  Progress

	// SkipPull fails initialization instead of downloading a missing
	// model. Set before the first Embed call.
	SkipPull bool

	mu           sync.Mutex
	ready        bool
	initAttempts int
	nextInitAt   time.Time
	notifiedPull bool

	now func() time.Time
}

// NewEngine creates a lazy engine. progress may be nil.
func NewEngine(client Client, model string, dimension int, progress Progress) *Engine {
	return &Engine{
		client:    client,
		model:     model,
		dimension: dimension,
		progress:  progress,
		now:       time.Now,
	}
}

// ModelVersion identifies the embedding space; stored alongside vectors so
// a model switch triggers a backfill.
func (e *Engine) ModelVersion() string { return e.model }

// Dimension returns the vector width.
func (e *Engine) Dimension() int { return e.dimension }

// Ready reports whether the model is initialized without triggering a load.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Embed returns the vector for text, initializing the model on first use.
// Returns (nil, nil) while initialization is backing off so callers can
// degrade to keyword-only behavior.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	if ok, err := e.ensureReady(ctx); !ok {
		return nil, err
	}

	embedCtx, cancel := context.WithTimeout(ctx, embedDeadline)
	defer cancel()
	vec, err := e.client.Embed(embedCtx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(vec) != e.dimension {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vec), e.dimension)
	}
	return vec, nil
}

// ensureReady initializes the model if needed. (false, nil) means the
// engine is in backoff or permanently given up; (false, err) an attempt
// just failed.
func (e *Engine) ensureReady(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.ready {
		e.mu.Unlock()
		return true, nil
	}
	if e.initAttempts >= maxInitAttempts {
		e.mu.Unlock()
		return false, nil
	}
	if !e.nextInitAt.IsZero() && e.now().Before(e.nextInitAt) {
		e.mu.Unlock()
		return false, nil
	}
	e.mu.Unlock()

	err := e.initialize(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		e.ready = true
		e.initAttempts = 0
		logging.Embedding("embedding model %s ready", e.model)
		return true, nil
	}

	e.initAttempts++
	// 5s, 10s, 20s between attempts.
	delay := initBackoffBase * time.Duration(1<<uint(e.initAttempts-1))
	e.nextInitAt = e.now().Add(delay)
	if e.initAttempts >= maxInitAttempts {
		logging.Get(logging.CategoryEmbedding).Error("embedding init gave up after %d attempts: %v", e.initAttempts, err)
	} else {
		logging.Get(logging.CategoryEmbedding).Warn("embedding init failed (attempt %d, retry in %s): %v", e.initAttempts, delay, err)
	}
	return false, fmt.Errorf("embedding model not ready: %w", err)
}

// initialize makes sure the model is installed, pulling it on first run.
func (e *Engine) initialize(ctx context.Context) error {
	tagsCtx, cancel := context.WithTimeout(ctx, embedDeadline)
	installed, err := e.client.Tags(tagsCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("model server unreachable: %w", err)
	}

	for _, mi := range installed {
		if mi.Name == e.model {
			return nil
		}
	}

	if e.SkipPull {
		return fmt.Errorf("model %s not installed and pulls are disabled", e.model)
	}

	e.mu.Lock()
	notify := !e.notifiedPull && e.progress != nil
	e.notifiedPull = true
	e.mu.Unlock()
	if notify {
		e.progress("descargando modelo de embeddings, puede tardar un poco…")
	}

	logging.Embedding("pulling embedding model %s", e.model)
	return e.client.Pull(ctx, e.model, func(p ollama.PullProgress) {
		if p.Total > 0 {
			logging.Get(logging.CategoryEmbedding).Debug("pull %s: %d/%d", p.Status, p.Completed, p.Total)
		}
	})
}

// Dispose releases the engine. The server owns the actual model memory, so
// this only blocks further use.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = false
	e.initAttempts = maxInitAttempts
	logging.Embedding("embedding engine disposed")
}
