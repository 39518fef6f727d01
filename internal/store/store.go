// Package store is the persistence layer: facts, embeddings, work queues,
// reminders, the response cache, and runtime state, all in one SQLite file.
//
// Vector search uses the sqlite-vec vec0 virtual table when the extension is
// compiled in (build tag sqlite_vec). Without it the store falls back to a
// brute-force scan over fact_embeddings, which is fine at personal-use scale.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"ada/internal/logging"
)

// EmbeddingDim is the fixed width of stored vectors.
const EmbeddingDim = 384

// Store wraps the SQLite handle. A single connection with WAL keeps the
// write path serialized without table locks surfacing as errors.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec available
}

// New opens (or creates) the database at path and runs schema setup plus
// startup recovery. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected, ANN search enabled")
		if err := s.initVectorTable(); err != nil {
			logging.Get(logging.CategoryStore).Warn("vec0 table setup failed, falling back to scan: %v", err)
			s.vectorExt = false
		}
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available, using brute-force vector scan")
	}

	logging.Store("Store ready at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		fact TEXT NOT NULL,
		confidence TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_confirmed_at DATETIME NOT NULL,
		stale INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		supersedes TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_facts_domain ON facts(domain);
	CREATE INDEX IF NOT EXISTS idx_facts_active ON facts(archived, stale);

	CREATE TABLE IF NOT EXISTS fact_embeddings (
		fact_id TEXT PRIMARY KEY,
		vector BLOB NOT NULL,
		model_version TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_extractions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt_at DATETIME,
		last_error TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_extractions_status ON pending_extractions(status);

	CREATE TABLE IF NOT EXISTS pending_embeddings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fact_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt_at DATETIME,
		last_error TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_embeddings_status ON pending_embeddings(status);

	CREATE TABLE IF NOT EXISTS reminders (
		id TEXT PRIMARY KEY,
		message TEXT NOT NULL,
		trigger_at DATETIME NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(status, trigger_at);

	CREATE TABLE IF NOT EXISTS response_cache (
		query_hash TEXT PRIMARY KEY,
		query_embedding BLOB,
		fact_ids_hash TEXT NOT NULL,
		system_version TEXT NOT NULL,
		response TEXT NOT NULL,
		ttl_seconds INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS proactive_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS router_metrics (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// detectVecExtension probes for vec0 virtual table support.
func (s *Store) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

func (s *Store) initVectorTable() error {
	_, err := s.db.Exec(fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS facts_vec USING vec0(fact_id TEXT PRIMARY KEY, embedding float[%d] distance_metric=cosine)",
		EmbeddingDim))
	return err
}

// VectorExt reports whether ANN search is available.
func (s *Store) VectorExt() bool { return s.vectorExt }

// DB exposes the handle for status queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	logging.Store("Closing store")
	return s.db.Close()
}
