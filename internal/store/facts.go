package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ada/internal/facts"
	"ada/internal/logging"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

const decayBatchSize = 100

// InsertFact persists a new fact. A missing ID is generated; timestamps
// default to now.
func (s *Store) InsertFact(f *facts.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.LastConfirmedAt.IsZero() {
		f.LastConfirmedAt = now
	}

	_, err := s.db.Exec(`
		INSERT INTO facts (id, domain, fact, confidence, scope, source, created_at, last_confirmed_at, stale, archived, supersedes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, string(f.Domain), f.Fact, string(f.Confidence), f.Scope, string(f.Source),
		f.CreatedAt.UTC(), f.LastConfirmedAt.UTC(), f.Stale, f.Archived, nullable(f.Supersedes))
	if err != nil {
		return fmt.Errorf("failed to insert fact: %w", err)
	}
	logging.StoreDebug("inserted fact %s (%s)", f.ID, f.Domain)
	return nil
}

// GetFact returns a fact by id.
func (s *Store) GetFact(id string) (*facts.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanFact(s.db.QueryRow(factColumns+" WHERE id = ?", id))
}

// ActiveFacts returns non-archived, non-stale facts, optionally filtered by
// domain, newest confirmation first.
func (s *Store) ActiveFacts(domain facts.Domain, limit int) ([]*facts.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := factColumns + " WHERE archived = 0 AND stale = 0"
	args := []interface{}{}
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, string(domain))
	}
	query += " ORDER BY last_confirmed_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// TouchFact refreshes last_confirmed_at and clears staleness. Used when a
// fact is re-mentioned.
func (s *Store) TouchFact(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE facts SET last_confirmed_at = ?, stale = 0 WHERE id = ?", at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SupersedeFact archives old and inserts replacement with its supersedes
// pointer set, in one transaction.
func (s *Store) SupersedeFact(oldID string, replacement *facts.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("UPDATE facts SET archived = 1 WHERE id = ?", oldID)
	if err != nil {
		return fmt.Errorf("failed to archive fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if replacement.ID == "" {
		replacement.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if replacement.CreatedAt.IsZero() {
		replacement.CreatedAt = now
	}
	if replacement.LastConfirmedAt.IsZero() {
		replacement.LastConfirmedAt = now
	}
	replacement.Supersedes = oldID

	if _, err := tx.Exec(`
		INSERT INTO facts (id, domain, fact, confidence, scope, source, created_at, last_confirmed_at, stale, archived, supersedes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		replacement.ID, string(replacement.Domain), replacement.Fact, string(replacement.Confidence),
		replacement.Scope, string(replacement.Source), replacement.CreatedAt.UTC(), replacement.LastConfirmedAt.UTC(),
		replacement.Supersedes); err != nil {
		return fmt.Errorf("failed to insert replacement: %w", err)
	}
	return tx.Commit()
}

// ArchiveFact hides a fact from retrieval without deleting it.
func (s *Store) ArchiveFact(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE facts SET archived = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to archive fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllFacts wipes the facts table and its embeddings («reminders clear»
// style debugging, and the facts clear command).
func (s *Store) DeleteAllFacts() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range []string{"DELETE FROM facts", "DELETE FROM fact_embeddings", "DELETE FROM pending_embeddings"} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to clear facts: %w", err)
		}
	}
	if s.vectorExt {
		if _, err := tx.Exec("DELETE FROM facts_vec"); err != nil {
			return fmt.Errorf("failed to clear vector index: %w", err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// DECAY SWEEP
// =============================================================================

// SweepStale marks facts whose last confirmation is 120 days or older as
// stale, in batches of 100 so a large table never blocks the write path.
// Aging and low-priority are computed at query time, never written.
func (s *Store) SweepStale(now time.Time) (int, error) {
	cutoff := now.UTC().AddDate(0, 0, -facts.StaleAfterDays)
	total := 0

	for {
		s.mu.Lock()
		res, err := s.db.Exec(`
			UPDATE facts SET stale = 1
			WHERE id IN (
				SELECT id FROM facts
				WHERE archived = 0 AND stale = 0 AND last_confirmed_at <= ?
				LIMIT ?
			)`, cutoff, decayBatchSize)
		s.mu.Unlock()
		if err != nil {
			return total, fmt.Errorf("failed to sweep stale facts: %w", err)
		}

		n, _ := res.RowsAffected()
		total += int(n)
		if n < decayBatchSize {
			break
		}
		// Yield between batches.
		time.Sleep(time.Millisecond)
	}

	if total > 0 {
		logging.Store("decay sweep marked %d facts stale", total)
	}
	return total, nil
}

// =============================================================================
// SCANNING
// =============================================================================

const factColumns = `SELECT id, domain, fact, confidence, scope, source, created_at, last_confirmed_at, stale, archived, supersedes FROM facts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(row rowScanner) (*facts.Fact, error) {
	var f facts.Fact
	var supersedes sql.NullString
	err := row.Scan(&f.ID, (*string)(&f.Domain), &f.Fact, (*string)(&f.Confidence),
		&f.Scope, (*string)(&f.Source), &f.CreatedAt, &f.LastConfirmedAt,
		&f.Stale, &f.Archived, &supersedes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan fact: %w", err)
	}
	f.Supersedes = supersedes.String
	return &f, nil
}

func scanFacts(rows *sql.Rows) ([]*facts.Fact, error) {
	var out []*facts.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
