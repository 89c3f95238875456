// Package store implements SQLite persistence for promptloop: the daily
// token ledger, versioned prompt sections, learning memory, discovered rules,
// and paired evaluation scores.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// LocalStore is the main SQLite-backed store.
//
// Ledger counters are mutated exclusively through single-statement atomic
// SQL updates; no method reads a counter into memory and writes it back.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore initializes the SQLite database at the given path.
func NewLocalStore(path string) (*LocalStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &LocalStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	// One row per calendar day. Counters are non-negative by construction:
	// every mutation is an atomic increment guarded or floored in SQL.
	ledgerTable := `
	CREATE TABLE IF NOT EXISTS daily_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		day TEXT NOT NULL,
		budget INTEGER NOT NULL,
		learning_budget INTEGER NOT NULL,
		user_tokens INTEGER NOT NULL DEFAULT 0,
		learning_tokens INTEGER NOT NULL DEFAULT 0,
		reserved_tokens INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(day)
	);
	`

	// Per-category consumption, one counter row per (day, category) so the
	// breakdown can be updated with an atomic upsert instead of a
	// read-modify-write on a serialized map.
	categoryTable := `
	CREATE TABLE IF NOT EXISTS ledger_categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		day TEXT NOT NULL,
		category TEXT NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		UNIQUE(day, category)
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_categories_day ON ledger_categories(day);
	`

	// Versioned prompt sections. Rows are never deleted; deactivation keeps
	// the full audit trail.
	sectionTable := `
	CREATE TABLE IF NOT EXISTS prompt_sections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		section_key TEXT NOT NULL,
		version INTEGER NOT NULL,
		content TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		order_index INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT '',
		changelog TEXT NOT NULL DEFAULT '',
		parent_version INTEGER,
		arena_win_rate REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(section_key, version)
	);
	CREATE INDEX IF NOT EXISTS idx_sections_key ON prompt_sections(section_key);
	CREATE INDEX IF NOT EXISTS idx_sections_active ON prompt_sections(section_key, is_active);
	`

	// Rejected mutation attempts against the active version of a key.
	// Append-only side table, ordered by insertion.
	attemptTable := `
	CREATE TABLE IF NOT EXISTS section_failed_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		section_key TEXT NOT NULL,
		version INTEGER NOT NULL,
		changelog TEXT NOT NULL DEFAULT '',
		fail_reason TEXT NOT NULL DEFAULT '',
		attempted_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_key ON section_failed_attempts(section_key, version);
	`

	// Append-only distillation output; only the most recent row is read.
	memoryTable := `
	CREATE TABLE IF NOT EXISTS learning_memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		compiled_text TEXT NOT NULL,
		bullet_count INTEGER NOT NULL,
		source_entries INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	ruleTable := `
	CREATE TABLE IF NOT EXISTS discovered_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		incorporated INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_rules_confidence ON discovered_rules(confidence);
	`

	// Paired automated/community evaluation scores consumed by calibration.
	evalTable := `
	CREATE TABLE IF NOT EXISTS eval_scores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tag TEXT NOT NULL,
		ai_score REAL NOT NULL,
		community_score REAL NOT NULL,
		sample_size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_eval_tag ON eval_scores(tag);
	`

	for _, table := range []string{ledgerTable, categoryTable, sectionTable, attemptTable, memoryTable, ruleTable, evalTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// GetDB exposes the underlying connection for integration tests.
func (s *LocalStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// GetStats returns row counts per table.
func (s *LocalStore) GetStats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{
		"daily_ledger", "ledger_categories", "prompt_sections",
		"section_failed_attempts", "learning_memory", "discovered_rules",
		"eval_scores",
	}

	for _, table := range tables {
		var count int64
		err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		stats[table] = count
	}

	return stats, nil
}
