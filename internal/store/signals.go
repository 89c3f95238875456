package store

import (
	"fmt"
	"time"

	"promptloop/internal/logging"
)

// DiscoveredRule is a behavioral rule surfaced by analysis, waiting to be
// folded into compiled memory.
type DiscoveredRule struct {
	ID           int64
	Rule         string
	Confidence   float64
	Incorporated bool
	CreatedAt    time.Time
}

// EvalScore is one paired automated/community scoring observation.
type EvalScore struct {
	ID             int64
	Tag            string
	AIScore        float64
	CommunityScore float64
	SampleSize     int
	CreatedAt      time.Time
}

// InsertDiscoveredRule stores a new rule candidate.
func (s *LocalStore) InsertDiscoveredRule(rule string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO discovered_rules (rule, confidence) VALUES (?, ?)`,
		rule, confidence)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	logging.StoreDebug("Inserted discovered rule (confidence=%.2f): %s", confidence, rule)
	return nil
}

// UnincorporatedRules returns rules at or above the confidence floor that
// have not yet been folded into compiled memory, strongest first.
func (s *LocalStore) UnincorporatedRules(minConfidence float64) ([]DiscoveredRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, rule, confidence, incorporated, created_at
		FROM discovered_rules
		WHERE incorporated = 0 AND confidence >= ?
		ORDER BY confidence DESC, id`, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []DiscoveredRule
	for rows.Next() {
		var r DiscoveredRule
		if err := rows.Scan(&r.ID, &r.Rule, &r.Confidence, &r.Incorporated, &r.CreatedAt); err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to scan rule row: %v", err)
			continue
		}
		rules = append(rules, r)
	}

	return rules, rows.Err()
}

// MarkRulesIncorporated flags rules as folded into compiled memory so the
// next distillation pass skips them.
func (s *LocalStore) MarkRulesIncorporated(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE discovered_rules SET incorporated = 1 WHERE id IN (?`
	args := []interface{}{ids[0]}
	for _, id := range ids[1:] {
		query += ",?"
		args = append(args, id)
	}
	query += ")"

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to mark rules incorporated: %w", err)
	}

	logging.StoreDebug("Marked %d rules incorporated", len(ids))
	return nil
}

// InsertEvalScore records one paired scoring observation for a tag.
func (s *LocalStore) InsertEvalScore(tag string, aiScore, communityScore float64, sampleSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO eval_scores (tag, ai_score, community_score, sample_size)
		VALUES (?, ?, ?, ?)`,
		tag, aiScore, communityScore, sampleSize)
	if err != nil {
		return fmt.Errorf("failed to insert eval score: %w", err)
	}

	return nil
}

// RecentEvalScores returns the newest observations up to limit, newest
// first. Calibration rewinds this window to compute per-tag deltas.
func (s *LocalStore) RecentEvalScores(limit int) ([]EvalScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, tag, ai_score, community_score, sample_size, created_at
		FROM eval_scores
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query eval scores: %w", err)
	}
	defer rows.Close()

	var scores []EvalScore
	for rows.Next() {
		var sc EvalScore
		if err := rows.Scan(&sc.ID, &sc.Tag, &sc.AIScore, &sc.CommunityScore, &sc.SampleSize, &sc.CreatedAt); err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to scan eval score row: %v", err)
			continue
		}
		scores = append(scores, sc)
	}

	return scores, rows.Err()
}
