package config

import "fmt"

// BudgetConfig configures the daily token budget allocator.
//
// The priority thresholds and the overrun slack are fixed absolute values,
// deliberately not scaled with DailyBudget. Operators tuning the daily quota
// are expected to tune the tier thresholds alongside it.
type BudgetConfig struct {
	// Enabled gates all background learning work. When false,
	// HasLearningBudget always answers no.
	Enabled bool `yaml:"enabled"`

	// DailyBudget is the total shared token quota per calendar day.
	DailyBudget int64 `yaml:"daily_budget"`

	// LearningPercent is the fraction of DailyBudget considered for
	// background work before subtracting forecast user load (0.0-1.0).
	LearningPercent float64 `yaml:"learning_percent"`

	// LearningFloor is the minimum learning allotment per day, applied even
	// when forecast user load would leave less.
	LearningFloor int64 `yaml:"learning_floor"`

	// OverrunSlack allows background reservations to overshoot DailyBudget
	// by this fraction, absorbing estimation error (default 0.05).
	OverrunSlack float64 `yaml:"overrun_slack"`

	// TrailingDays is the window for the user-load forecast.
	TrailingDays int `yaml:"trailing_days"`

	// PriorityThresholds maps priority tiers 2..5 to the minimum learning
	// allotment required for admission. Tier 1 always runs; tier 6 fills
	// remaining capacity and is gated only by the caller's scheduling order.
	PriorityThresholds map[int]int64 `yaml:"priority_thresholds"`
}

// DefaultBudgetConfig returns the default allocator settings.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		Enabled:         true,
		DailyBudget:     500_000,
		LearningPercent: 0.75,
		LearningFloor:   50_000,
		OverrunSlack:    0.05,
		TrailingDays:    7,
		PriorityThresholds: map[int]int64{
			2: 100_000,
			3: 175_000,
			4: 250_000,
			5: 350_000,
		},
	}
}

// Validate checks allocator settings are within acceptable ranges.
func (c BudgetConfig) Validate() error {
	if c.DailyBudget <= 0 {
		return fmt.Errorf("daily_budget must be > 0")
	}
	if c.LearningPercent < 0 || c.LearningPercent > 1 {
		return fmt.Errorf("learning_percent must be in [0, 1]")
	}
	if c.LearningFloor < 0 {
		return fmt.Errorf("learning_floor must be >= 0")
	}
	if c.OverrunSlack < 0 || c.OverrunSlack > 0.5 {
		return fmt.Errorf("overrun_slack must be in [0, 0.5]")
	}
	if c.TrailingDays < 1 {
		return fmt.Errorf("trailing_days must be >= 1")
	}

	// Tiers 2..5 must carry strictly increasing thresholds
	prev := int64(0)
	for p := 2; p <= 5; p++ {
		threshold, ok := c.PriorityThresholds[p]
		if !ok {
			return fmt.Errorf("priority_thresholds missing tier %d", p)
		}
		if threshold <= prev {
			return fmt.Errorf("priority_thresholds must be strictly increasing (tier %d)", p)
		}
		prev = threshold
	}

	return nil
}

// ThresholdFor returns the admission threshold for a priority tier.
// Tiers 1 and 6 have a zero threshold; tier 6 is expected to be checked last
// by the caller's own scheduling order.
func (c BudgetConfig) ThresholdFor(priority int) (int64, error) {
	switch {
	case priority == 1 || priority == 6:
		return 0, nil
	case priority >= 2 && priority <= 5:
		return c.PriorityThresholds[priority], nil
	default:
		return 0, fmt.Errorf("priority must be 1..6, got %d", priority)
	}
}
