// Package budget arbitrates the shared daily token quota between guaranteed
// user traffic and discretionary background work. Background calls are
// admission-gated by priority and capacity-capped; user calls never block.
package budget

import (
	"fmt"
	"time"

	"promptloop/internal/config"
	"promptloop/internal/logging"
	"promptloop/internal/store"
)

// Allocator owns the day's learning allotment and the reserve/record
// bracketing around LLM calls. All counter mutations go through the store's
// atomic SQL updates.
type Allocator struct {
	store *store.LocalStore
	cfg   *config.BudgetConfig
	now   func() time.Time
}

// NewAllocator creates an allocator over the given store and budget config.
func NewAllocator(s *store.LocalStore, cfg *config.BudgetConfig) *Allocator {
	return &Allocator{
		store: s,
		cfg:   cfg,
		now:   time.Now,
	}
}

// today returns the current calendar-day key.
func (a *Allocator) today() string {
	return a.now().Format(store.DayFormat)
}

// GetOrCreateTodayRecord returns today's ledger row, creating it lazily.
// The learning budget is a forecast made once at creation:
// max(budget * LearningPercent - trailing avg user tokens, LearningFloor).
// It is fixed for the day; consumption never shrinks it.
func (a *Allocator) GetOrCreateTodayRecord() (*store.DailyTokenRecord, error) {
	day := a.today()

	rec, err := a.store.GetDailyRecord(day)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}

	trailing, err := a.store.TrailingAvgUserTokens(day, a.cfg.TrailingDays)
	if err != nil {
		return nil, err
	}

	learningBudget := int64(float64(a.cfg.DailyBudget)*a.cfg.LearningPercent) - trailing
	if learningBudget < a.cfg.LearningFloor {
		learningBudget = a.cfg.LearningFloor
	}

	if err := a.store.CreateDailyRecord(day, a.cfg.DailyBudget, learningBudget); err != nil {
		return nil, err
	}

	logging.Budget("Created ledger row for %s: budget=%d learning_budget=%d trailing_avg=%d",
		day, a.cfg.DailyBudget, learningBudget, trailing)

	rec, err = a.store.GetDailyRecord(day)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("ledger row for %s missing after creation", day)
	}
	return rec, nil
}

// HasLearningBudget reports whether a background call at the given priority
// is admitted today. Priority 1 always runs when the subsystem is enabled;
// priorities 2-5 require the day's learning budget to clear their threshold;
// priority 6 fills remaining capacity and is gated only by the reservation
// cap. Persistence errors fail closed except at priority 1.
func (a *Allocator) HasLearningBudget(priority int) bool {
	if !a.cfg.Enabled {
		return false
	}

	threshold, err := a.cfg.ThresholdFor(priority)
	if err != nil {
		logging.Get(logging.CategoryBudget).Warn("Admission check with invalid priority %d", priority)
		return false
	}

	rec, err := a.GetOrCreateTodayRecord()
	if err != nil {
		logging.Get(logging.CategoryBudget).Error("Admission check persistence error (priority=%d): %v", priority, err)
		return priority == 1
	}

	admitted := rec.LearningBudget >= threshold
	logging.BudgetDebug("Admission check: priority=%d threshold=%d learning_budget=%d admitted=%v",
		priority, threshold, rec.LearningBudget, admitted)
	return admitted
}

// ReserveTokens provisionally holds an estimate against today's ledger.
// Background calls are rejected without mutation when committed plus held
// capacity would exceed budget*(1+OverrunSlack). User calls always succeed;
// the reservation is still recorded for visibility, and a persistence error
// on a user call fails open.
func (a *Allocator) ReserveTokens(estimate int64, category string, isUserCall bool) bool {
	if _, err := a.GetOrCreateTodayRecord(); err != nil {
		logging.Get(logging.CategoryBudget).Error("Reservation persistence error (category=%s): %v", category, err)
		return isUserCall
	}

	day := a.today()

	if isUserCall {
		if err := a.store.ForceReserveTokens(day, estimate); err != nil {
			logging.Get(logging.CategoryBudget).Error("User reservation persistence error: %v", err)
		}
		return true
	}

	granted, err := a.store.TryReserveTokens(day, estimate, a.cfg.OverrunSlack)
	if err != nil {
		logging.Get(logging.CategoryBudget).Error("Background reservation persistence error: %v", err)
		return false
	}
	if !granted {
		logging.Budget("Background reservation rejected: category=%s estimate=%d", category, estimate)
	}
	return granted
}

// RecordTokenUsage settles a completed call: adds actual consumption to the
// matching counter, releases the original reservation, and updates the
// category breakdown. Callers invoke this on success and failure alike
// (failure passes actualTokens=0) so reservations never leak past the call.
func (a *Allocator) RecordTokenUsage(reservedEstimate, actualTokens int64, category string, isUserCall bool) error {
	day := a.today()

	if err := a.store.SettleTokenUsage(day, reservedEstimate, actualTokens, isUserCall); err != nil {
		return fmt.Errorf("failed to record token usage: %w", err)
	}

	if category != "" && actualTokens > 0 {
		if err := a.store.AddCategoryTokens(day, category, actualTokens); err != nil {
			return fmt.Errorf("failed to record category usage: %w", err)
		}
	}

	logging.BudgetDebug("Recorded usage: category=%s actual=%d released=%d user=%v",
		category, actualTokens, reservedEstimate, isUserCall)
	return nil
}

// ResetDailyBudget guarantees a fresh ledger row exists for the current day.
// Idempotent; the scheduler fires it just after midnight.
func (a *Allocator) ResetDailyBudget() error {
	rec, err := a.GetOrCreateTodayRecord()
	if err != nil {
		return fmt.Errorf("failed to reset daily budget: %w", err)
	}

	logging.Budget("Daily budget ready for %s: budget=%d learning_budget=%d",
		rec.Day, rec.Budget, rec.LearningBudget)
	return nil
}

// Status is today's ledger row joined with its category breakdown, for
// reporting surfaces.
type Status struct {
	Record    *store.DailyTokenRecord
	Breakdown map[string]int64
}

// TodayStatus returns today's ledger row and per-category consumption.
func (a *Allocator) TodayStatus() (*Status, error) {
	rec, err := a.GetOrCreateTodayRecord()
	if err != nil {
		return nil, err
	}

	breakdown, err := a.store.GetCategoryBreakdown(rec.Day)
	if err != nil {
		return nil, err
	}

	return &Status{Record: rec, Breakdown: breakdown}, nil
}
