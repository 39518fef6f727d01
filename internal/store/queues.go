package store

import (
	"database/sql"
	"fmt"
	"time"

	"ada/internal/logging"
)

// Queue item statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// MaxQueueDepth caps each work queue; on overflow the oldest pending rows
// are dropped.
const MaxQueueDepth = 500

// QueueItem is a row of either work queue.
type QueueItem struct {
	ID            int64
	Message       string // extraction queue: raw user message
	FactID        string // embedding queue: fact awaiting a vector
	Status        string
	Attempts      int
	LastAttemptAt time.Time
	LastError     string
}

// =============================================================================
// EXTRACTION QUEUE
// =============================================================================

// EnqueueExtraction queues a message for the fact-extraction worker.
func (s *Store) EnqueueExtraction(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		"INSERT INTO pending_extractions (message, status, created_at) VALUES (?, ?, ?)",
		message, StatusPending, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to enqueue extraction: %w", err)
	}
	return s.enforceQueueCap("pending_extractions")
}

// ClaimExtractions transitions up to limit pending rows to processing and
// returns them. Rows with prior attempts are skipped until their backoff
// window (since last_attempt_at) has passed; the caller supplies the
// per-attempt-count delays.
func (s *Store) ClaimExtractions(limit int, backoff []time.Duration, now time.Time) ([]QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, message, attempts, last_attempt_at
		FROM pending_extractions
		WHERE status = ?
		ORDER BY id
		LIMIT ?`, StatusPending, limit*2)
	if err != nil {
		return nil, fmt.Errorf("failed to query extraction queue: %w", err)
	}

	var eligible []QueueItem
	for rows.Next() {
		var it QueueItem
		var lastAttempt sql.NullTime
		if err := rows.Scan(&it.ID, &it.Message, &it.Attempts, &lastAttempt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan extraction row: %w", err)
		}
		it.LastAttemptAt = lastAttempt.Time
		if it.Attempts > 0 && it.Attempts < len(backoff) {
			if now.UTC().Sub(it.LastAttemptAt) < backoff[it.Attempts] {
				continue
			}
		}
		eligible = append(eligible, it)
		if len(eligible) == limit {
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range eligible {
		if _, err := s.db.Exec(
			"UPDATE pending_extractions SET status = ?, last_attempt_at = ? WHERE id = ?",
			StatusProcessing, now.UTC(), eligible[i].ID); err != nil {
			return nil, fmt.Errorf("failed to claim extraction: %w", err)
		}
		eligible[i].Status = StatusProcessing
	}
	return eligible, nil
}

// CompleteExtraction marks a claimed row done.
func (s *Store) CompleteExtraction(id int64) error {
	return s.setQueueStatus("pending_extractions", id, StatusCompleted, "")
}

// FailExtraction records a failed attempt. Rows return to pending until
// maxAttempts, then stay failed.
func (s *Store) FailExtraction(id int64, reason string, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE pending_extractions
		SET attempts = attempts + 1,
		    last_error = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END
		WHERE id = ?`,
		reason, maxAttempts, StatusFailed, StatusPending, id)
	if err != nil {
		return fmt.Errorf("failed to record extraction failure: %w", err)
	}
	return nil
}

// =============================================================================
// EMBEDDING QUEUE
// =============================================================================

// EnqueueEmbedding queues a fact for the embedding worker.
func (s *Store) EnqueueEmbedding(factID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		"INSERT INTO pending_embeddings (fact_id, status, created_at) VALUES (?, ?, ?)",
		factID, StatusPending, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to enqueue embedding: %w", err)
	}
	return s.enforceQueueCap("pending_embeddings")
}

// ClaimEmbeddings transitions up to limit pending rows to processing.
func (s *Store) ClaimEmbeddings(limit int, now time.Time) ([]QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, fact_id, attempts FROM pending_embeddings
		WHERE status = ? ORDER BY id LIMIT ?`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedding queue: %w", err)
	}
	var items []QueueItem
	for rows.Next() {
		var it QueueItem
		if err := rows.Scan(&it.ID, &it.FactID, &it.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		if _, err := s.db.Exec(
			"UPDATE pending_embeddings SET status = ?, last_attempt_at = ? WHERE id = ?",
			StatusProcessing, now.UTC(), items[i].ID); err != nil {
			return nil, fmt.Errorf("failed to claim embedding: %w", err)
		}
		items[i].Status = StatusProcessing
	}
	return items, nil
}

// CompleteEmbedding marks a claimed row done.
func (s *Store) CompleteEmbedding(id int64) error {
	return s.setQueueStatus("pending_embeddings", id, StatusCompleted, "")
}

// FailEmbedding records a failed embedding attempt.
func (s *Store) FailEmbedding(id int64, reason string, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE pending_embeddings
		SET attempts = attempts + 1,
		    last_error = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END
		WHERE id = ?`,
		reason, maxAttempts, StatusFailed, StatusPending, id)
	if err != nil {
		return fmt.Errorf("failed to record embedding failure: %w", err)
	}
	return nil
}

// EnqueueMissingEmbeddings queues every active fact that has no embedding
// under the given model version and no pending/processing queue row.
// Startup step after a model version change.
func (s *Store) EnqueueMissingEmbeddings(modelVersion string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO pending_embeddings (fact_id, status, created_at)
		SELECT f.id, ?, ?
		FROM facts f
		WHERE f.archived = 0 AND f.stale = 0
		  AND NOT EXISTS (SELECT 1 FROM fact_embeddings e WHERE e.fact_id = f.id AND e.model_version = ?)
		  AND NOT EXISTS (SELECT 1 FROM pending_embeddings p WHERE p.fact_id = f.id AND p.status IN (?, ?))`,
		StatusPending, time.Now().UTC(), modelVersion, StatusPending, StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue missing embeddings: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("queued %d facts for embedding backfill", n)
	}
	return int(n), nil
}

// =============================================================================
// RECOVERY
// =============================================================================

// RecoverQueues is the startup pass: orphan processing rows return to
// pending and failed rows older than seven days are purged.
func (s *Store) RecoverQueues() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	weekAgo := time.Now().UTC().AddDate(0, 0, -7)
	for _, table := range []string{"pending_extractions", "pending_embeddings"} {
		res, err := s.db.Exec(
			fmt.Sprintf("UPDATE %s SET status = ? WHERE status = ?", table),
			StatusPending, StatusProcessing)
		if err != nil {
			return fmt.Errorf("failed to reset orphans in %s: %w", table, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			logging.Store("reset %d orphan processing rows in %s", n, table)
		}

		if _, err := s.db.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE status = ? AND created_at < ?", table),
			StatusFailed, weekAgo); err != nil {
			return fmt.Errorf("failed to purge old failures in %s: %w", table, err)
		}
	}
	return nil
}

// enforceQueueCap drops the oldest pending rows past MaxQueueDepth.
// Caller holds s.mu.
func (s *Store) enforceQueueCap(table string) error {
	_, err := s.db.Exec(fmt.Sprintf(`
		DELETE FROM %s WHERE status = 'pending' AND id NOT IN (
			SELECT id FROM %s WHERE status = 'pending' ORDER BY id DESC LIMIT %d
		)`, table, table, MaxQueueDepth))
	if err != nil {
		return fmt.Errorf("failed to enforce queue cap on %s: %w", table, err)
	}
	return nil
}

func (s *Store) setQueueStatus(table string, id int64, status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		fmt.Sprintf("UPDATE %s SET status = ?, last_error = ? WHERE id = ?", table),
		status, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	return nil
}
