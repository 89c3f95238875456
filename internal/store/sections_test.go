package store

import (
	"testing"
)

func insertTestSection(t *testing.T, s *LocalStore, key string, version, orderIndex int, content string) {
	t.Helper()

	sec := &PromptSection{
		SectionKey: key,
		Version:    version,
		Content:    content,
		OrderIndex: orderIndex,
		Source:     "seed",
	}
	if err := s.InsertSection(sec); err != nil {
		t.Fatalf("Failed to insert section %s v%d: %v", key, version, err)
	}
}

func TestInsertSectionInactive(t *testing.T) {
	s := newTestStore(t)

	insertTestSection(t, s, "tone", 1, 3, "Be direct.")

	active, err := s.GetActiveSection("tone")
	if err != nil {
		t.Fatalf("Failed to query active section: %v", err)
	}
	if active != nil {
		t.Error("New sections must be inserted inactive")
	}

	latest, err := s.LatestSection("tone")
	if err != nil {
		t.Fatalf("Failed to query latest section: %v", err)
	}
	if latest == nil || latest.Version != 1 || latest.OrderIndex != 3 {
		t.Errorf("Unexpected latest section: %+v", latest)
	}
}

func TestMaxSectionVersion(t *testing.T) {
	s := newTestStore(t)

	if v, err := s.MaxSectionVersion("identity"); err != nil || v != 0 {
		t.Errorf("Expected 0 for unknown key, got v=%d err=%v", v, err)
	}

	insertTestSection(t, s, "identity", 1, 0, "v1")
	insertTestSection(t, s, "identity", 2, 0, "v2")

	v, err := s.MaxSectionVersion("identity")
	if err != nil {
		t.Fatalf("Failed to read max version: %v", err)
	}
	if v != 2 {
		t.Errorf("Expected max version 2, got %d", v)
	}
}

func TestActivateSectionVersionExclusive(t *testing.T) {
	s := newTestStore(t)

	insertTestSection(t, s, "tone", 1, 0, "v1")
	insertTestSection(t, s, "tone", 2, 0, "v2")

	if err := s.ActivateSectionVersion("tone", 1, 0.5); err != nil {
		t.Fatalf("Failed to activate v1: %v", err)
	}
	if err := s.ActivateSectionVersion("tone", 2, 0.72); err != nil {
		t.Fatalf("Failed to activate v2: %v", err)
	}

	versions, err := s.ListSectionVersions("tone")
	if err != nil {
		t.Fatalf("Failed to list versions: %v", err)
	}
	activeCount := 0
	for _, v := range versions {
		if v.IsActive {
			activeCount++
			if v.Version != 2 {
				t.Errorf("Expected v2 active, got v%d", v.Version)
			}
			if !v.ArenaWinRate.Valid || v.ArenaWinRate.Float64 != 0.72 {
				t.Errorf("Expected win rate 0.72, got %+v", v.ArenaWinRate)
			}
		}
	}
	if activeCount != 1 {
		t.Errorf("Expected exactly one active version, got %d", activeCount)
	}
}

func TestActivateSectionVersionMissing(t *testing.T) {
	s := newTestStore(t)

	insertTestSection(t, s, "tone", 1, 0, "v1")
	if err := s.ActivateSectionVersion("tone", 1, 0.6); err != nil {
		t.Fatalf("Failed to activate v1: %v", err)
	}

	if err := s.ActivateSectionVersion("tone", 99, 0.9); err == nil {
		t.Fatal("Expected error activating missing version")
	}

	// Failed activation must not have deactivated the existing version
	active, err := s.GetActiveSection("tone")
	if err != nil {
		t.Fatalf("Failed to query active section: %v", err)
	}
	if active == nil || active.Version != 1 {
		t.Errorf("Expected v1 still active after failed activation, got %+v", active)
	}
}

func TestGetActiveSectionsFiltersKeys(t *testing.T) {
	s := newTestStore(t)

	for _, key := range []string{"identity", "tone", "scoring_rubric"} {
		insertTestSection(t, s, key, 1, 0, key+" content")
		if err := s.ActivateSectionVersion(key, 1, 0.5); err != nil {
			t.Fatalf("Failed to activate %s: %v", key, err)
		}
	}

	sections, err := s.GetActiveSections([]string{"identity", "tone", "missing_key"})
	if err != nil {
		t.Fatalf("Failed to query active sections: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("Expected 2 sections, got %d", len(sections))
	}
	for _, sec := range sections {
		if sec.SectionKey != "identity" && sec.SectionKey != "tone" {
			t.Errorf("Unexpected section key %s", sec.SectionKey)
		}
	}

	sections, err = s.GetActiveSections(nil)
	if err != nil {
		t.Fatalf("Empty key list errored: %v", err)
	}
	if len(sections) != 0 {
		t.Errorf("Expected no sections for empty key list, got %d", len(sections))
	}
}

func TestAppendFailedAttempt(t *testing.T) {
	s := newTestStore(t)

	if err := s.AppendFailedAttempt("tone", "tried X", "lost arena"); err == nil {
		t.Fatal("Expected error with no active version")
	}

	insertTestSection(t, s, "tone", 1, 0, "v1")
	if err := s.ActivateSectionVersion("tone", 1, 0.5); err != nil {
		t.Fatalf("Failed to activate: %v", err)
	}

	if err := s.AppendFailedAttempt("tone", "tried X", "lost arena"); err != nil {
		t.Fatalf("Failed to append attempt: %v", err)
	}
	if err := s.AppendFailedAttempt("tone", "tried Y", "regressed score"); err != nil {
		t.Fatalf("Failed to append attempt: %v", err)
	}

	attempts, err := s.GetFailedAttempts("tone", 1)
	if err != nil {
		t.Fatalf("Failed to read attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Changelog != "tried X" || attempts[1].FailReason != "regressed score" {
		t.Errorf("Attempts out of order: %+v", attempts)
	}
}

func TestLearningMemoryAppendOnly(t *testing.T) {
	s := newTestStore(t)

	mem, err := s.LatestLearningMemory()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if mem != nil {
		t.Error("Expected nil before any distillation")
	}

	if err := s.AppendLearningMemory("first", 2, 5); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := s.AppendLearningMemory("second", 3, 8); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	mem, err = s.LatestLearningMemory()
	if err != nil {
		t.Fatalf("Failed to read memory: %v", err)
	}
	if mem.CompiledText != "second" || mem.BulletCount != 3 || mem.SourceEntries != 8 {
		t.Errorf("Unexpected latest memory: %+v", mem)
	}
}

func TestDiscoveredRuleLifecycle(t *testing.T) {
	s := newTestStore(t)

	rules := []struct {
		rule       string
		confidence float64
	}{
		{"always cite line numbers", 0.9},
		{"avoid speculative praise", 0.75},
		{"weak signal", 0.4},
	}
	for _, r := range rules {
		if err := s.InsertDiscoveredRule(r.rule, r.confidence); err != nil {
			t.Fatalf("Failed to insert rule: %v", err)
		}
	}

	pending, err := s.UnincorporatedRules(0.7)
	if err != nil {
		t.Fatalf("Failed to query rules: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 rules above threshold, got %d", len(pending))
	}
	if pending[0].Confidence != 0.9 {
		t.Errorf("Expected strongest rule first, got %.2f", pending[0].Confidence)
	}

	ids := []int64{pending[0].ID, pending[1].ID}
	if err := s.MarkRulesIncorporated(ids); err != nil {
		t.Fatalf("Failed to mark incorporated: %v", err)
	}

	pending, err = s.UnincorporatedRules(0.7)
	if err != nil {
		t.Fatalf("Failed to query rules: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending rules, got %d", len(pending))
	}
}

func TestRecentEvalScoresWindow(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.InsertEvalScore("golang", float64(i), float64(i)+0.5, 4); err != nil {
			t.Fatalf("Failed to insert score: %v", err)
		}
	}

	scores, err := s.RecentEvalScores(3)
	if err != nil {
		t.Fatalf("Failed to read scores: %v", err)
	}
	if len(scores) != 3 {
		t.Fatalf("Expected 3 scores, got %d", len(scores))
	}
	if scores[0].AIScore != 4 {
		t.Errorf("Expected newest first, got ai_score %.1f", scores[0].AIScore)
	}
}
