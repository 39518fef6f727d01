package store

import (
	"fmt"
	"time"
)

// CacheEntry is a persisted semantic-cache row. The embedding travels
// serialized so a hit can be re-scored without touching the engine.
type CacheEntry struct {
	QueryHash      string
	QueryEmbedding []byte
	FactIDsHash    string
	SystemVersion  string
	Response       string
	TTLSeconds     int
	CreatedAt      time.Time
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// PutCacheEntry inserts or overwrites a cache row. Concurrent writers for
// the same hash may race; last write wins.
func (s *Store) PutCacheEntry(e *CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO response_cache (query_hash, query_embedding, fact_ids_hash, system_version, response, ttl_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(query_hash) DO UPDATE SET
			query_embedding = excluded.query_embedding,
			fact_ids_hash = excluded.fact_ids_hash,
			system_version = excluded.system_version,
			response = excluded.response,
			ttl_seconds = excluded.ttl_seconds,
			created_at = excluded.created_at`,
		e.QueryHash, e.QueryEmbedding, e.FactIDsHash, e.SystemVersion, e.Response, e.TTLSeconds, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// CacheEntries returns every unexpired row for the given system version.
// The semantic match runs in memory over this set.
func (s *Store) CacheEntries(systemVersion string, now time.Time) ([]*CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT query_hash, query_embedding, fact_ids_hash, system_version, response, ttl_seconds, created_at
		FROM response_cache WHERE system_version = ?`, systemVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	defer rows.Close()

	var out []*CacheEntry
	for rows.Next() {
		var e CacheEntry
		if err := rows.Scan(&e.QueryHash, &e.QueryEmbedding, &e.FactIDsHash, &e.SystemVersion,
			&e.Response, &e.TTLSeconds, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		if e.Expired(now) {
			continue
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// PurgeCache drops expired rows and every row from other system versions
// (a model or personality change invalidates them all).
func (s *Store) PurgeCache(systemVersion string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		DELETE FROM response_cache
		WHERE system_version != ?
		   OR datetime(created_at, '+' || ttl_seconds || ' seconds') < datetime(?)`,
		systemVersion, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
