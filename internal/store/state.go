package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Singleton JSON blobs: proactive-loop state and router metrics both
// persist as a single row each.

// LoadState unmarshals the singleton row of table into out. Missing row
// leaves out untouched and returns false.
func (s *Store) loadJSON(table string, out interface{}) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(fmt.Sprintf("SELECT data FROM %s WHERE id = 1", table)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", table, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", table, err)
	}
	return true, nil
}

func (s *Store) saveJSON(table string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", table, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(fmt.Sprintf(
		"INSERT INTO %s (id, data) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data", table),
		string(data))
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", table, err)
	}
	return nil
}

// LoadProactiveState fills out from the persisted proactive-loop state.
func (s *Store) LoadProactiveState(out interface{}) (bool, error) {
	return s.loadJSON("proactive_state", out)
}

// SaveProactiveState persists the proactive-loop state.
func (s *Store) SaveProactiveState(v interface{}) error {
	return s.saveJSON("proactive_state", v)
}

// LoadRouterMetrics fills out from the persisted metrics snapshot.
func (s *Store) LoadRouterMetrics(out interface{}) (bool, error) {
	return s.loadJSON("router_metrics", out)
}

// SaveRouterMetrics persists the metrics snapshot.
func (s *Store) SaveRouterMetrics(v interface{}) error {
	return s.saveJSON("router_metrics", v)
}
