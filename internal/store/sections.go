package store

import (
	"database/sql"
	"fmt"
	"time"

	"promptloop/internal/logging"
)

// PromptSection is one versioned prompt fragment. Identity is
// (SectionKey, Version); at most one version per key is active.
type PromptSection struct {
	ID            int64
	SectionKey    string
	Version       int
	Content       string
	IsActive      bool
	OrderIndex    int
	Source        string
	Changelog     string
	ParentVersion sql.NullInt64
	ArenaWinRate  sql.NullFloat64
	CreatedAt     time.Time
}

// FailedAttempt records a mutation that was tried against the active version
// of a key and rejected.
type FailedAttempt struct {
	ID          int64
	SectionKey  string
	Version     int
	Changelog   string
	FailReason  string
	AttemptedAt time.Time
}

// MaxSectionVersion returns the highest version for a key, 0 when the key
// has no rows yet.
func (s *LocalStore) MaxSectionVersion(key string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(version) FROM prompt_sections WHERE section_key = ?`, key).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max version: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

// LatestSection returns the highest-versioned row for a key regardless of
// activation state, or nil when the key is new.
func (s *LocalStore) LatestSection(key string) (*PromptSection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(sectionSelect+`
		WHERE section_key = ?
		ORDER BY version DESC
		LIMIT 1`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest section: %w", err)
	}
	defer rows.Close()

	sections, err := scanSections(rows)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, nil
	}
	return sections[0], nil
}

// InsertSection persists a new, inactive section version. Existing rows are
// never mutated by insertion.
func (s *LocalStore) InsertSection(sec *PromptSection) error {
	timer := logging.StartTimer(logging.CategoryStore, "InsertSection")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Inserting section: key=%s version=%d source=%s",
		sec.SectionKey, sec.Version, sec.Source)

	res, err := s.db.Exec(`
		INSERT INTO prompt_sections
			(section_key, version, content, is_active, order_index, source, changelog, parent_version)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		sec.SectionKey, sec.Version, sec.Content, sec.OrderIndex,
		sec.Source, sec.Changelog, sec.ParentVersion,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to insert section %s v%d: %v",
			sec.SectionKey, sec.Version, err)
		return fmt.Errorf("failed to insert section: %w", err)
	}

	sec.ID, _ = res.LastInsertId()
	return nil
}

// GetActiveSection returns the active row for a key, or nil when none is
// active.
func (s *LocalStore) GetActiveSection(key string) (*PromptSection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(sectionSelect+`
		WHERE section_key = ? AND is_active = 1
		ORDER BY version DESC`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query active section: %w", err)
	}
	defer rows.Close()

	sections, err := scanSections(rows)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, nil
	}
	// More than one active row can be observed transiently during
	// activation; the highest version wins, matching assembly dedup.
	return sections[0], nil
}

// GetActiveSections returns all active rows whose key is in keys, in a
// single consistent-snapshot query.
func (s *LocalStore) GetActiveSections(keys []string) ([]*PromptSection, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetActiveSections")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(keys) == 0 {
		return nil, nil
	}

	query := sectionSelect + ` WHERE is_active = 1 AND section_key IN (?`
	args := []interface{}{keys[0]}
	for _, key := range keys[1:] {
		query += ",?"
		args = append(args, key)
	}
	query += ") ORDER BY section_key, version DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to query active sections: %v", err)
		return nil, fmt.Errorf("failed to query active sections: %w", err)
	}
	defer rows.Close()

	return scanSections(rows)
}

// ListSectionVersions returns every version of a key, newest first, with the
// full audit trail intact.
func (s *LocalStore) ListSectionVersions(key string) ([]*PromptSection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(sectionSelect+`
		WHERE section_key = ?
		ORDER BY version DESC`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list section versions: %w", err)
	}
	defer rows.Close()

	return scanSections(rows)
}

// ActivateSectionVersion atomically deactivates every version of a key and
// activates the target version, recording the arena win rate measured during
// promotion. Readers never observe zero or two active rows across the
// transaction boundary.
func (s *LocalStore) ActivateSectionVersion(key string, version int, winRate float64) error {
	timer := logging.StartTimer(logging.CategoryStore, "ActivateSectionVersion")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin activation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE prompt_sections SET is_active = 0 WHERE section_key = ?`, key); err != nil {
		return fmt.Errorf("failed to deactivate prior versions: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE prompt_sections
		SET is_active = 1, arena_win_rate = ?
		WHERE section_key = ? AND version = ?`,
		winRate, key, version)
	if err != nil {
		return fmt.Errorf("failed to activate version: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to activate version: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("section %s v%d not found", key, version)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activation: %w", err)
	}

	logging.Store("Activated section %s v%d (win_rate=%.3f)", key, version, winRate)
	return nil
}

// AppendFailedAttempt records a rejected mutation against the currently
// active version of a key. Returns an error when the key has no active
// version to attribute the attempt to.
func (s *LocalStore) AppendFailedAttempt(key, changelog, failReason string) error {
	timer := logging.StartTimer(logging.CategoryStore, "AppendFailedAttempt")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	var version int
	err := s.db.QueryRow(`
		SELECT version FROM prompt_sections
		WHERE section_key = ? AND is_active = 1
		ORDER BY version DESC LIMIT 1`, key).Scan(&version)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no active version for section %s", key)
	}
	if err != nil {
		return fmt.Errorf("failed to find active version: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO section_failed_attempts (section_key, version, changelog, fail_reason)
		VALUES (?, ?, ?, ?)`,
		key, version, changelog, failReason)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to record attempt for %s: %v", key, err)
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	logging.StoreDebug("Recorded failed attempt: key=%s version=%d reason=%s", key, version, failReason)
	return nil
}

// GetFailedAttempts returns the attempt log for a (key, version) pair in
// insertion order.
func (s *LocalStore) GetFailedAttempts(key string, version int) ([]FailedAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, section_key, version, changelog, fail_reason, attempted_at
		FROM section_failed_attempts
		WHERE section_key = ? AND version = ?
		ORDER BY attempted_at, id`, key, version)
	if err != nil {
		return nil, fmt.Errorf("failed to read attempts: %w", err)
	}
	defer rows.Close()

	var attempts []FailedAttempt
	for rows.Next() {
		var a FailedAttempt
		if err := rows.Scan(&a.ID, &a.SectionKey, &a.Version, &a.Changelog, &a.FailReason, &a.AttemptedAt); err != nil {
			continue
		}
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

const sectionSelect = `
	SELECT id, section_key, version, content, is_active, order_index,
	       source, changelog, parent_version, arena_win_rate, created_at
	FROM prompt_sections`

// scanSections scans rows into PromptSection structs.
func scanSections(rows *sql.Rows) ([]*PromptSection, error) {
	var sections []*PromptSection

	for rows.Next() {
		sec := &PromptSection{}
		err := rows.Scan(
			&sec.ID, &sec.SectionKey, &sec.Version, &sec.Content, &sec.IsActive,
			&sec.OrderIndex, &sec.Source, &sec.Changelog, &sec.ParentVersion,
			&sec.ArenaWinRate, &sec.CreatedAt,
		)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to scan section row: %v", err)
			continue
		}
		sections = append(sections, sec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating section rows: %w", err)
	}

	return sections, nil
}
