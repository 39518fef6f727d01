package store

import (
	"fmt"
	"sort"
	"time"

	"ada/internal/logging"
	"ada/internal/vecmath"
)

// VectorMatch is one ANN candidate.
type VectorMatch struct {
	FactID     string
	Similarity float64
}

// UpsertEmbedding stores a fact's vector and mirrors it into the ANN index
// when available.
func (s *Store) UpsertEmbedding(factID string, vector []float32, modelVersion string) error {
	if len(vector) != EmbeddingDim {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(vector), EmbeddingDim)
	}
	blob := vecmath.Serialize(vector)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO fact_embeddings (fact_id, vector, model_version, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fact_id) DO UPDATE SET
			vector = excluded.vector,
			model_version = excluded.model_version,
			created_at = excluded.created_at`,
		factID, blob, modelVersion, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}

	if s.vectorExt {
		// vec0 has no upsert; delete-then-insert.
		if _, err := tx.Exec("DELETE FROM facts_vec WHERE fact_id = ?", factID); err != nil {
			return fmt.Errorf("failed to clear vector index row: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO facts_vec (fact_id, embedding) VALUES (?, ?)", factID, blob); err != nil {
			return fmt.Errorf("failed to insert into vector index: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteEmbedding removes a fact's vector from both tables.
func (s *Store) DeleteEmbedding(factID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM fact_embeddings WHERE fact_id = ?", factID); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	if s.vectorExt {
		if _, err := s.db.Exec("DELETE FROM facts_vec WHERE fact_id = ?", factID); err != nil {
			return fmt.Errorf("failed to delete vector index row: %w", err)
		}
	}
	return nil
}

// HasEmbedding reports whether a fact has a vector under modelVersion.
func (s *Store) HasEmbedding(factID, modelVersion string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(1) FROM fact_embeddings WHERE fact_id = ? AND model_version = ?",
		factID, modelVersion).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check embedding: %w", err)
	}
	return n > 0, nil
}

// VectorSearch returns the k nearest facts to the query vector with cosine
// similarity scores. Uses the ANN index when present, otherwise a full scan
// over fact_embeddings.
func (s *Store) VectorSearch(query []float32, k int) ([]VectorMatch, error) {
	if len(query) != EmbeddingDim {
		return nil, fmt.Errorf("query has %d dimensions, want %d", len(query), EmbeddingDim)
	}
	if k <= 0 {
		return nil, nil
	}

	if s.vectorExt {
		matches, err := s.annSearch(query, k)
		if err == nil {
			return matches, nil
		}
		logging.Get(logging.CategoryStore).Warn("ANN search failed, falling back to scan: %v", err)
	}
	return s.scanSearch(query, k)
}

func (s *Store) annSearch(query []float32, k int) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT fact_id, distance FROM facts_vec
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance`, vecmath.Serialize(query), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VectorMatch
	for rows.Next() {
		var m VectorMatch
		var distance float64
		if err := rows.Scan(&m.FactID, &distance); err != nil {
			return nil, err
		}
		// Cosine distance to similarity.
		m.Similarity = 1 - distance
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) scanSearch(query []float32, k int) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT fact_id, vector FROM fact_embeddings")
	if err != nil {
		return nil, fmt.Errorf("failed to scan embeddings: %w", err)
	}
	defer rows.Close()

	var out []VectorMatch
	for rows.Next() {
		var factID string
		var blob []byte
		if err := rows.Scan(&factID, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		vec, err := vecmath.Deserialize(blob)
		if err != nil {
			logging.StoreDebug("skipping corrupt embedding for %s: %v", factID, err)
			continue
		}
		out = append(out, VectorMatch{FactID: factID, Similarity: vecmath.Cosine(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
