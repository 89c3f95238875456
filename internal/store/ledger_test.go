package store

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()

	s, err := NewLocalStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateDailyRecordIdempotent(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateDailyRecord("2026-08-28", 500000, 275000); err != nil {
		t.Fatalf("First create failed: %v", err)
	}
	// Second create with different values must not clobber the first row
	if err := s.CreateDailyRecord("2026-08-28", 999999, 1); err != nil {
		t.Fatalf("Second create failed: %v", err)
	}

	rec, err := s.GetDailyRecord("2026-08-28")
	if err != nil {
		t.Fatalf("Failed to read record: %v", err)
	}
	if rec == nil {
		t.Fatal("Expected record, got nil")
	}
	if rec.Budget != 500000 || rec.LearningBudget != 275000 {
		t.Errorf("Expected original values 500000/275000, got %d/%d", rec.Budget, rec.LearningBudget)
	}
}

func TestGetDailyRecordMissing(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.GetDailyRecord("2026-01-01")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rec != nil {
		t.Errorf("Expected nil for missing day, got %+v", rec)
	}
}

func TestTrailingAvgUserTokens(t *testing.T) {
	s := newTestStore(t)

	days := []struct {
		day    string
		tokens int64
	}{
		{"2026-08-25", 90000},
		{"2026-08-26", 100000},
		{"2026-08-27", 110000},
	}
	for _, d := range days {
		if err := s.CreateDailyRecord(d.day, 500000, 0); err != nil {
			t.Fatalf("Failed to create record: %v", err)
		}
		if err := s.SettleTokenUsage(d.day, 0, d.tokens, true); err != nil {
			t.Fatalf("Failed to settle usage: %v", err)
		}
	}

	avg, err := s.TrailingAvgUserTokens("2026-08-28", 7)
	if err != nil {
		t.Fatalf("Failed to compute average: %v", err)
	}
	if avg != 100000 {
		t.Errorf("Expected trailing average 100000, got %d", avg)
	}

	// Window of 2 must only see the two most recent days
	avg, err = s.TrailingAvgUserTokens("2026-08-28", 2)
	if err != nil {
		t.Fatalf("Failed to compute average: %v", err)
	}
	if avg != 105000 {
		t.Errorf("Expected trailing average 105000, got %d", avg)
	}

	// Rows at or after the target day are excluded
	avg, err = s.TrailingAvgUserTokens("2026-08-25", 7)
	if err != nil {
		t.Fatalf("Failed to compute average: %v", err)
	}
	if avg != 0 {
		t.Errorf("Expected 0 with no prior history, got %d", avg)
	}
}

func TestTryReserveTokensGuard(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateDailyRecord("2026-08-28", 1000, 0); err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}

	// 1000 budget with 5% slack allows up to 1050 held
	ok, err := s.TryReserveTokens("2026-08-28", 1050, 0.05)
	if err != nil {
		t.Fatalf("Reservation failed: %v", err)
	}
	if !ok {
		t.Error("Expected reservation at exactly budget*(1+slack) to succeed")
	}

	// Anything further must be rejected without mutating
	ok, err = s.TryReserveTokens("2026-08-28", 1, 0.05)
	if err != nil {
		t.Fatalf("Reservation failed: %v", err)
	}
	if ok {
		t.Error("Expected reservation over capacity to be rejected")
	}

	rec, err := s.GetDailyRecord("2026-08-28")
	if err != nil {
		t.Fatalf("Failed to read record: %v", err)
	}
	if rec.ReservedTokens != 1050 {
		t.Errorf("Expected reserved_tokens 1050 after rejected attempt, got %d", rec.ReservedTokens)
	}
}

func TestTryReserveTokensConcurrent(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateDailyRecord("2026-08-28", 1000, 0); err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}

	// 20 goroutines each try to hold 100 tokens against a 1000 budget with
	// no slack. The guard must admit exactly 10 of them.
	var wg sync.WaitGroup
	granted := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryReserveTokens("2026-08-28", 100, 0)
			if err != nil {
				t.Errorf("Reservation failed: %v", err)
				return
			}
			granted <- ok
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for ok := range granted {
		if ok {
			count++
		}
	}
	if count != 10 {
		t.Errorf("Expected exactly 10 grants, got %d", count)
	}

	rec, _ := s.GetDailyRecord("2026-08-28")
	if rec.ReservedTokens != 1000 {
		t.Errorf("Expected reserved_tokens 1000, got %d", rec.ReservedTokens)
	}
}

func TestSettleTokenUsage(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateDailyRecord("2026-08-28", 500000, 275000); err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}
	if ok, err := s.TryReserveTokens("2026-08-28", 5000, 0.05); err != nil || !ok {
		t.Fatalf("Reservation failed: ok=%v err=%v", ok, err)
	}

	// Settle a background call: actual lands in learning_tokens, the
	// estimate is released from reserved_tokens.
	if err := s.SettleTokenUsage("2026-08-28", 5000, 4200, false); err != nil {
		t.Fatalf("Failed to settle: %v", err)
	}

	rec, err := s.GetDailyRecord("2026-08-28")
	if err != nil {
		t.Fatalf("Failed to read record: %v", err)
	}
	if rec.LearningTokens != 4200 {
		t.Errorf("Expected learning_tokens 4200, got %d", rec.LearningTokens)
	}
	if rec.UserTokens != 0 {
		t.Errorf("Expected user_tokens 0, got %d", rec.UserTokens)
	}
	if rec.ReservedTokens != 0 {
		t.Errorf("Expected reserved_tokens released to 0, got %d", rec.ReservedTokens)
	}

	// User call with no prior reservation: reserved floor stays at zero
	if err := s.SettleTokenUsage("2026-08-28", 3000, 2500, true); err != nil {
		t.Fatalf("Failed to settle user call: %v", err)
	}
	rec, _ = s.GetDailyRecord("2026-08-28")
	if rec.UserTokens != 2500 {
		t.Errorf("Expected user_tokens 2500, got %d", rec.UserTokens)
	}
	if rec.ReservedTokens != 0 {
		t.Errorf("Expected reserved_tokens floored at 0, got %d", rec.ReservedTokens)
	}
}

func TestCategoryBreakdown(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateDailyRecord("2026-08-28", 500000, 0); err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}

	adds := []struct {
		category string
		tokens   int64
	}{
		{"critique", 1000},
		{"mutation", 500},
		{"critique", 250},
	}
	for _, a := range adds {
		if err := s.AddCategoryTokens("2026-08-28", a.category, a.tokens); err != nil {
			t.Fatalf("Failed to add category tokens: %v", err)
		}
	}

	breakdown, err := s.GetCategoryBreakdown("2026-08-28")
	if err != nil {
		t.Fatalf("Failed to read breakdown: %v", err)
	}
	want := map[string]int64{"critique": 1250, "mutation": 500}
	if diff := cmp.Diff(want, breakdown); diff != "" {
		t.Errorf("Breakdown mismatch (-want +got):\n%s", diff)
	}
}

func TestListDailyRecordsOrder(t *testing.T) {
	s := newTestStore(t)

	for _, day := range []string{"2026-08-26", "2026-08-28", "2026-08-27"} {
		if err := s.CreateDailyRecord(day, 500000, 0); err != nil {
			t.Fatalf("Failed to create record: %v", err)
		}
	}

	records, err := s.ListDailyRecords(2)
	if err != nil {
		t.Fatalf("Failed to list records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Day != "2026-08-28" || records[1].Day != "2026-08-27" {
		t.Errorf("Expected newest-first order, got %s, %s", records[0].Day, records[1].Day)
	}
}
