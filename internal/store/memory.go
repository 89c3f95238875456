package store

import (
	"database/sql"
	"fmt"
	"time"

	"promptloop/internal/logging"
)

// LearningMemory is one compiled distillation output. Rows are append-only;
// consumers read only the newest one.
type LearningMemory struct {
	ID            int64
	CompiledText  string
	BulletCount   int
	SourceEntries int
	CreatedAt     time.Time
}

// AppendLearningMemory persists a new compiled memory snapshot.
func (s *LocalStore) AppendLearningMemory(compiledText string, bulletCount, sourceEntries int) error {
	timer := logging.StartTimer(logging.CategoryStore, "AppendLearningMemory")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO learning_memory (compiled_text, bullet_count, source_entries)
		VALUES (?, ?, ?)`,
		compiledText, bulletCount, sourceEntries)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to append learning memory: %v", err)
		return fmt.Errorf("failed to append learning memory: %w", err)
	}

	logging.Store("Appended learning memory: %d bullets from %d source entries",
		bulletCount, sourceEntries)
	return nil
}

// LatestLearningMemory returns the most recent compiled memory, or nil when
// no distillation has run yet.
func (s *LocalStore) LatestLearningMemory() (*LearningMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mem := &LearningMemory{}
	err := s.db.QueryRow(`
		SELECT id, compiled_text, bullet_count, source_entries, created_at
		FROM learning_memory
		ORDER BY id DESC LIMIT 1`).Scan(
		&mem.ID, &mem.CompiledText, &mem.BulletCount, &mem.SourceEntries, &mem.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read learning memory: %w", err)
	}

	return mem, nil
}
