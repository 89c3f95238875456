package budget

import (
	"path/filepath"
	"testing"
	"time"

	"promptloop/internal/config"
	"promptloop/internal/store"
)

func newTestAllocator(t *testing.T) (*Allocator, *store.LocalStore) {
	t.Helper()

	s, err := store.NewLocalStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.DefaultBudgetConfig()
	return NewAllocator(s, &cfg), s
}

func fixedDay(a *Allocator, day string) {
	t, _ := time.Parse(store.DayFormat, day)
	a.now = func() time.Time { return t }
}

func seedUserHistory(t *testing.T, s *store.LocalStore, days map[string]int64) {
	t.Helper()

	for day, tokens := range days {
		if err := s.CreateDailyRecord(day, 500000, 0); err != nil {
			t.Fatalf("Failed to seed day %s: %v", day, err)
		}
		if err := s.SettleTokenUsage(day, 0, tokens, true); err != nil {
			t.Fatalf("Failed to seed usage for %s: %v", day, err)
		}
	}
}

func TestGetOrCreateTodayRecordForecast(t *testing.T) {
	a, s := newTestAllocator(t)
	fixedDay(a, "2026-08-28")

	seedUserHistory(t, s, map[string]int64{
		"2026-08-25": 100000,
		"2026-08-26": 100000,
		"2026-08-27": 100000,
	})

	rec, err := a.GetOrCreateTodayRecord()
	if err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}
	// 500000 * 0.75 - 100000 = 275000
	if rec.LearningBudget != 275000 {
		t.Errorf("Expected learning budget 275000, got %d", rec.LearningBudget)
	}
	if rec.Budget != 500000 {
		t.Errorf("Expected budget 500000, got %d", rec.Budget)
	}
}

func TestGetOrCreateTodayRecordFloor(t *testing.T) {
	a, s := newTestAllocator(t)
	fixedDay(a, "2026-08-28")

	// Heavy user history pushes the forecast below the floor
	seedUserHistory(t, s, map[string]int64{"2026-08-27": 400000})

	rec, err := a.GetOrCreateTodayRecord()
	if err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}
	if rec.LearningBudget != 50000 {
		t.Errorf("Expected floor 50000, got %d", rec.LearningBudget)
	}
}

func TestGetOrCreateTodayRecordStable(t *testing.T) {
	a, _ := newTestAllocator(t)
	fixedDay(a, "2026-08-28")

	first, err := a.GetOrCreateTodayRecord()
	if err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}

	// Consumption must not change the forecast on later reads
	if !a.ReserveTokens(10000, "critique", false) {
		t.Fatal("Reservation failed")
	}
	second, err := a.GetOrCreateTodayRecord()
	if err != nil {
		t.Fatalf("Failed to re-read record: %v", err)
	}
	if second.LearningBudget != first.LearningBudget {
		t.Errorf("Learning budget drifted: %d -> %d", first.LearningBudget, second.LearningBudget)
	}
	if second.ReservedTokens != 10000 {
		t.Errorf("Expected reserved 10000, got %d", second.ReservedTokens)
	}
}

func TestHasLearningBudgetThresholds(t *testing.T) {
	a, s := newTestAllocator(t)
	fixedDay(a, "2026-08-28")

	// Trailing avg 100000 -> learning budget 275000
	seedUserHistory(t, s, map[string]int64{
		"2026-08-25": 100000,
		"2026-08-26": 100000,
		"2026-08-27": 100000,
	})

	cases := []struct {
		priority int
		want     bool
	}{
		{1, true},  // threshold 0
		{2, true},  // 100000
		{3, true},  // 175000
		{4, true},  // 250000
		{5, false}, // 350000 > 275000
		{6, true},  // fill-remaining, threshold 0
	}
	for _, tc := range cases {
		if got := a.HasLearningBudget(tc.priority); got != tc.want {
			t.Errorf("HasLearningBudget(%d) = %v, want %v", tc.priority, got, tc.want)
		}
	}

	if a.HasLearningBudget(0) || a.HasLearningBudget(7) {
		t.Error("Out-of-range priorities must be denied")
	}
}

func TestHasLearningBudgetMonotonic(t *testing.T) {
	a, _ := newTestAllocator(t)
	fixedDay(a, "2026-08-28")

	// With no history, learning budget = 500000*0.75 = 375000: all pass.
	// Monotonicity: admission at p implies admission at every lower priority.
	prev := true
	for p := 2; p <= 5; p++ {
		got := a.HasLearningBudget(p)
		if got && !prev {
			t.Errorf("Admission at priority %d without admission at %d", p, p-1)
		}
		prev = got
	}
}

func TestHasLearningBudgetDisabled(t *testing.T) {
	a, _ := newTestAllocator(t)
	fixedDay(a, "2026-08-28")
	a.cfg.Enabled = false

	for p := 1; p <= 6; p++ {
		if a.HasLearningBudget(p) {
			t.Errorf("Priority %d admitted while disabled", p)
		}
	}
}

func TestHasLearningBudgetPersistenceError(t *testing.T) {
	a, s := newTestAllocator(t)
	fixedDay(a, "2026-08-28")
	s.Close()

	if !a.HasLearningBudget(1) {
		t.Error("Priority 1 must fail open on persistence error")
	}
	for p := 2; p <= 6; p++ {
		if a.HasLearningBudget(p) {
			t.Errorf("Priority %d must fail closed on persistence error", p)
		}
	}
}

func TestLearningBudgetFixedAfterConsumption(t *testing.T) {
	a, s := newTestAllocator(t)
	fixedDay(a, "2026-08-28")

	seedUserHistory(t, s, map[string]int64{
		"2026-08-25": 100000,
		"2026-08-26": 100000,
		"2026-08-27": 100000,
	})

	if !a.HasLearningBudget(4) {
		t.Fatal("Expected priority 4 admitted at learning budget 275000")
	}

	// Consume 30000 background tokens
	if !a.ReserveTokens(30000, "critique", false) {
		t.Fatal("Reservation failed")
	}
	if err := a.RecordTokenUsage(30000, 30000, "critique", false); err != nil {
		t.Fatalf("Failed to record usage: %v", err)
	}

	// The admission check still compares against the fixed 275000, so
	// priority 5 (350000) stays denied and priority 4 stays admitted.
	if a.HasLearningBudget(5) {
		t.Error("Priority 5 admitted against a consumed budget")
	}
	if !a.HasLearningBudget(4) {
		t.Error("Priority 4 denied after consumption; forecast must not shrink")
	}
}

func TestReserveTokensBackgroundCap(t *testing.T) {
	a, _ := newTestAllocator(t)
	fixedDay(a, "2026-08-28")

	// Budget 500000, slack 0.05: cap 525000
	if !a.ReserveTokens(525000, "distill", false) {
		t.Error("Reservation at exact cap rejected")
	}
	if a.ReserveTokens(1, "distill", false) {
		t.Error("Reservation beyond cap granted")
	}
}

func TestReserveTokensUserAlwaysSucceeds(t *testing.T) {
	a, s := newTestAllocator(t)
	fixedDay(a, "2026-08-28")

	if !a.ReserveTokens(525000, "distill", false) {
		t.Fatal("Cap-filling reservation failed")
	}
	// User call exceeds the cap and still succeeds, with the hold visible
	if !a.ReserveTokens(50000, "analysis", true) {
		t.Error("User reservation rejected")
	}

	rec, err := s.GetDailyRecord("2026-08-28")
	if err != nil {
		t.Fatalf("Failed to read record: %v", err)
	}
	if rec.ReservedTokens != 575000 {
		t.Errorf("Expected reserved 575000, got %d", rec.ReservedTokens)
	}
}

func TestReserveTokensPersistenceError(t *testing.T) {
	a, s := newTestAllocator(t)
	fixedDay(a, "2026-08-28")
	s.Close()

	if !a.ReserveTokens(1000, "analysis", true) {
		t.Error("User reservation must fail open on persistence error")
	}
	if a.ReserveTokens(1000, "distill", false) {
		t.Error("Background reservation must fail closed on persistence error")
	}
}

func TestRecordTokenUsageCategories(t *testing.T) {
	a, s := newTestAllocator(t)
	fixedDay(a, "2026-08-28")

	if !a.ReserveTokens(5000, "critique", false) {
		t.Fatal("Reservation failed")
	}
	if err := a.RecordTokenUsage(5000, 4100, "critique", false); err != nil {
		t.Fatalf("Failed to record: %v", err)
	}

	// Failure path: zero actual releases the hold, no category entry
	if !a.ReserveTokens(2000, "mutation", false) {
		t.Fatal("Reservation failed")
	}
	if err := a.RecordTokenUsage(2000, 0, "mutation", false); err != nil {
		t.Fatalf("Failed to record failure: %v", err)
	}

	rec, _ := s.GetDailyRecord("2026-08-28")
	if rec.LearningTokens != 4100 {
		t.Errorf("Expected learning tokens 4100, got %d", rec.LearningTokens)
	}
	if rec.ReservedTokens != 0 {
		t.Errorf("Expected all reservations released, got %d", rec.ReservedTokens)
	}

	breakdown, _ := s.GetCategoryBreakdown("2026-08-28")
	if breakdown["critique"] != 4100 {
		t.Errorf("Expected critique 4100, got %d", breakdown["critique"])
	}
	if _, ok := breakdown["mutation"]; ok {
		t.Error("Zero-consumption call created a category entry")
	}
}

func TestResetDailyBudgetIdempotent(t *testing.T) {
	a, s := newTestAllocator(t)
	fixedDay(a, "2026-08-28")

	if err := a.ResetDailyBudget(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if !a.ReserveTokens(1000, "critique", false) {
		t.Fatal("Reservation failed")
	}
	if err := a.ResetDailyBudget(); err != nil {
		t.Fatalf("Second reset failed: %v", err)
	}

	rec, _ := s.GetDailyRecord("2026-08-28")
	if rec.ReservedTokens != 1000 {
		t.Errorf("Reset disturbed existing counters: %+v", rec)
	}
}

func TestResetDailyBudgetNewDay(t *testing.T) {
	a, s := newTestAllocator(t)

	fixedDay(a, "2026-08-28")
	if err := a.ResetDailyBudget(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	fixedDay(a, "2026-08-29")
	if err := a.ResetDailyBudget(); err != nil {
		t.Fatalf("Next-day reset failed: %v", err)
	}

	records, err := s.ListDailyRecords(10)
	if err != nil {
		t.Fatalf("Failed to list records: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 ledger rows, got %d", len(records))
	}
}

func TestTodayStatus(t *testing.T) {
	a, _ := newTestAllocator(t)
	fixedDay(a, "2026-08-28")

	if !a.ReserveTokens(3000, "critique", false) {
		t.Fatal("Reservation failed")
	}
	if err := a.RecordTokenUsage(3000, 2500, "critique", false); err != nil {
		t.Fatalf("Failed to record: %v", err)
	}

	status, err := a.TodayStatus()
	if err != nil {
		t.Fatalf("Failed to read status: %v", err)
	}
	if status.Record.LearningTokens != 2500 {
		t.Errorf("Unexpected record: %+v", status.Record)
	}
	if status.Breakdown["critique"] != 2500 {
		t.Errorf("Unexpected breakdown: %+v", status.Breakdown)
	}
}
