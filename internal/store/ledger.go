package store

import (
	"database/sql"
	"fmt"
	"time"

	"promptloop/internal/logging"
)

// DayFormat is the calendar-day key format for ledger rows.
const DayFormat = "2006-01-02"

// DailyTokenRecord is one ledger row: the shared token quota and its
// consumption for a single calendar day.
type DailyTokenRecord struct {
	ID             int64
	Day            string
	Budget         int64
	LearningBudget int64 // Fixed at creation; a forecast, not a running balance
	UserTokens     int64
	LearningTokens int64
	ReservedTokens int64
	CreatedAt      time.Time
}

// CreateDailyRecord inserts a ledger row for the given day if none exists.
// Idempotent: concurrent callers race harmlessly on the UNIQUE(day)
// constraint and all observe the same row afterwards.
func (s *LocalStore) CreateDailyRecord(day string, budget, learningBudget int64) error {
	timer := logging.StartTimer(logging.CategoryStore, "CreateDailyRecord")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO daily_ledger (day, budget, learning_budget)
		VALUES (?, ?, ?)`,
		day, budget, learningBudget,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create ledger row for %s: %v", day, err)
		return fmt.Errorf("failed to create ledger row: %w", err)
	}

	logging.StoreDebug("Ledger row ensured: day=%s budget=%d learning_budget=%d", day, budget, learningBudget)
	return nil
}

// GetDailyRecord returns the ledger row for a day, or nil if absent.
func (s *LocalStore) GetDailyRecord(day string) (*DailyTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := &DailyTokenRecord{}
	err := s.db.QueryRow(`
		SELECT id, day, budget, learning_budget, user_tokens, learning_tokens, reserved_tokens, created_at
		FROM daily_ledger WHERE day = ?`, day,
	).Scan(&rec.ID, &rec.Day, &rec.Budget, &rec.LearningBudget,
		&rec.UserTokens, &rec.LearningTokens, &rec.ReservedTokens, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to read ledger row for %s: %v", day, err)
		return nil, fmt.Errorf("failed to read ledger row: %w", err)
	}

	return rec, nil
}

// TrailingAvgUserTokens averages user_tokens over the most recent `days`
// ledger rows strictly before `day`. Returns 0 when no history exists.
func (s *LocalStore) TrailingAvgUserTokens(day string, days int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var avg sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT AVG(user_tokens) FROM (
			SELECT user_tokens FROM daily_ledger
			WHERE day < ?
			ORDER BY day DESC
			LIMIT ?
		)`, day, days,
	).Scan(&avg)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to compute trailing average: %v", err)
		return 0, fmt.Errorf("failed to compute trailing average: %w", err)
	}

	if !avg.Valid {
		return 0, nil
	}
	return int64(avg.Float64), nil
}

// TryReserveTokens atomically adds `estimate` to reserved_tokens, but only
// if total committed plus reserved capacity stays within budget*(1+slack).
// Returns false without mutating when the guard fails. The guard and the
// increment are one SQL statement, so concurrent reservations cannot
// jointly overshoot.
func (s *LocalStore) TryReserveTokens(day string, estimate int64, slack float64) (bool, error) {
	timer := logging.StartTimer(logging.CategoryStore, "TryReserveTokens")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE daily_ledger
		SET reserved_tokens = reserved_tokens + ?
		WHERE day = ?
		  AND user_tokens + learning_tokens + reserved_tokens + ? <= CAST(budget * ? AS INTEGER)`,
		estimate, day, estimate, 1.0+slack,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Guarded reservation failed for %s: %v", day, err)
		return false, fmt.Errorf("failed to reserve tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reserve tokens: %w", err)
	}

	logging.StoreDebug("Guarded reservation: day=%s estimate=%d granted=%v", day, estimate, affected > 0)
	return affected > 0, nil
}

// ForceReserveTokens atomically adds `estimate` to reserved_tokens with no
// capacity guard. Used for user calls, which are never rejected.
func (s *LocalStore) ForceReserveTokens(day string, estimate int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE daily_ledger SET reserved_tokens = reserved_tokens + ? WHERE day = ?`,
		estimate, day,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Unconditional reservation failed for %s: %v", day, err)
		return fmt.Errorf("failed to reserve tokens: %w", err)
	}

	logging.StoreDebug("Unconditional reservation: day=%s estimate=%d", day, estimate)
	return nil
}

// SettleTokenUsage atomically records actual consumption and releases the
// original reservation: adds `actual` to user_tokens or learning_tokens and
// subtracts `reservedEstimate` from reserved_tokens (floored at zero).
// The release uses the estimate, not the actual, because the estimate is
// what was held.
func (s *LocalStore) SettleTokenUsage(day string, reservedEstimate, actual int64, isUserCall bool) error {
	timer := logging.StartTimer(logging.CategoryStore, "SettleTokenUsage")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter := "learning_tokens"
	if isUserCall {
		counter = "user_tokens"
	}

	query := fmt.Sprintf(`
		UPDATE daily_ledger
		SET %s = %s + ?,
		    reserved_tokens = MAX(0, reserved_tokens - ?)
		WHERE day = ?`, counter, counter)

	_, err := s.db.Exec(query, actual, reservedEstimate, day)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to settle usage for %s: %v", day, err)
		return fmt.Errorf("failed to settle token usage: %w", err)
	}

	logging.StoreDebug("Settled usage: day=%s counter=%s actual=%d released=%d",
		day, counter, actual, reservedEstimate)
	return nil
}

// AddCategoryTokens atomically increments the per-category counter for a day.
func (s *LocalStore) AddCategoryTokens(day, category string, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO ledger_categories (day, category, tokens)
		VALUES (?, ?, ?)
		ON CONFLICT(day, category) DO UPDATE SET tokens = tokens + excluded.tokens`,
		day, category, tokens,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to update category %s for %s: %v", category, day, err)
		return fmt.Errorf("failed to update category breakdown: %w", err)
	}

	return nil
}

// GetCategoryBreakdown returns the category→tokens map for a day.
func (s *LocalStore) GetCategoryBreakdown(day string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT category, tokens FROM ledger_categories WHERE day = ?`, day)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to read category breakdown for %s: %v", day, err)
		return nil, fmt.Errorf("failed to read category breakdown: %w", err)
	}
	defer rows.Close()

	breakdown := make(map[string]int64)
	for rows.Next() {
		var category string
		var tokens int64
		if err := rows.Scan(&category, &tokens); err != nil {
			continue
		}
		breakdown[category] = tokens
	}

	return breakdown, rows.Err()
}

// ListDailyRecords returns ledger rows in descending day order, bounded by
// limit. The ledger is never pruned; it forms the usage trend history.
func (s *LocalStore) ListDailyRecords(limit int) ([]DailyTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 30
	}

	rows, err := s.db.Query(`
		SELECT id, day, budget, learning_budget, user_tokens, learning_tokens, reserved_tokens, created_at
		FROM daily_ledger
		ORDER BY day DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger rows: %w", err)
	}
	defer rows.Close()

	var records []DailyTokenRecord
	for rows.Next() {
		var rec DailyTokenRecord
		if err := rows.Scan(&rec.ID, &rec.Day, &rec.Budget, &rec.LearningBudget,
			&rec.UserTokens, &rec.LearningTokens, &rec.ReservedTokens, &rec.CreatedAt); err != nil {
			continue
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
