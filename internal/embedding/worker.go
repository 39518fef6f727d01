package embedding

import (
	"context"
	"errors"
	"time"

	"ada/internal/breaker"
	"ada/internal/logging"
	"ada/internal/store"
)

const (
	workerTick   = 10 * time.Second
	batchSize    = 10
	maxAttempts  = 3
	tickDeadline = 2 * time.Minute
)

// Worker drains the pending_embeddings queue. One tick processes at most
// ten items; a processing lock guarantees ticks never overlap even if a
// batch outlives the interval.
type Worker struct {
	store   *store.Store
	engine  *Engine
	breaker *breaker.Breaker

	processingLock chan struct{} // 1-buffered; TryLock semantics

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker wires the worker. br guards the embedding subsystem and may be
// shared with retrieval.
func NewWorker(s *store.Store, engine *Engine, br *breaker.Breaker) *Worker {
	w := &Worker{
		store:          s,
		engine:         engine,
		breaker:        br,
		processingLock: make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	w.processingLock <- struct{}{}
	return w
}

// Start runs the startup recovery pass and launches the tick loop.
func (w *Worker) Start() error {
	if err := w.store.RecoverQueues(); err != nil {
		return err
	}
	if _, err := w.store.EnqueueMissingEmbeddings(w.engine.ModelVersion()); err != nil {
		return err
	}

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
	return nil
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	// Drain the lock so a concurrent manual Tick has finished too.
	<-w.processingLock
}

// Tick processes one batch. No-op when a previous tick is still running or
// the engine is not ready.
func (w *Worker) Tick(ctx context.Context) {
	select {
	case <-w.processingLock:
	default:
		return
	}
	defer func() { w.processingLock <- struct{}{} }()

	if !w.engine.Ready() {
		// Poke lazy initialization with a trivial embed; backoff inside
		// the engine keeps this cheap.
		if _, err := w.engine.Embed(ctx, "hola"); err != nil || !w.engine.Ready() {
			return
		}
	}

	tickCtx, cancel := context.WithTimeout(ctx, tickDeadline)
	defer cancel()

	items, err := w.store.ClaimEmbeddings(batchSize, time.Now())
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("failed to claim embedding work: %v", err)
		return
	}
	if len(items) == 0 {
		return
	}

	done := 0
	for _, item := range items {
		if err := w.processItem(tickCtx, item); err != nil {
			w.breaker.RecordFailure()
			if failErr := w.store.FailEmbedding(item.ID, err.Error(), maxAttempts); failErr != nil {
				logging.Get(logging.CategoryEmbedding).Error("failed to record embedding failure: %v", failErr)
			}
			continue
		}
		w.breaker.RecordSuccess()
		done++
	}
	logging.Embedding("embedded %d/%d queued facts", done, len(items))
}

func (w *Worker) processItem(ctx context.Context, item store.QueueItem) error {
	fact, err := w.store.GetFact(item.FactID)
	if errors.Is(err, store.ErrNotFound) {
		// Fact deleted while queued; nothing to embed.
		return w.store.CompleteEmbedding(item.ID)
	}
	if err != nil {
		return err
	}

	vec, err := w.engine.Embed(ctx, fact.Fact)
	if err != nil {
		return err
	}
	if vec == nil {
		return errors.New("embedding engine not ready")
	}

	if err := w.store.UpsertEmbedding(fact.ID, vec, w.engine.ModelVersion()); err != nil {
		return err
	}
	return w.store.CompleteEmbedding(item.ID)
}
