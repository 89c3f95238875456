package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	if cfg.Budget.DailyBudget != 500_000 {
		t.Errorf("unexpected default daily budget: %d", cfg.Budget.DailyBudget)
	}
	if cfg.Distill.MaxBullets != 10 {
		t.Errorf("unexpected default max bullets: %d", cfg.Distill.MaxBullets)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load should fall back to defaults: %v", err)
	}
	if cfg.Name != "promptloop" {
		t.Errorf("expected default name, got %q", cfg.Name)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
budget:
  enabled: true
  daily_budget: 1000000
  learning_percent: 0.5
  learning_floor: 10000
  overrun_slack: 0.1
  trailing_days: 7
  priority_thresholds:
    2: 50000
    3: 100000
    4: 200000
    5: 400000
llm:
  provider: gemini
  model: gemini-2.0-flash
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Budget.DailyBudget != 1_000_000 {
		t.Errorf("daily_budget not overridden: %d", cfg.Budget.DailyBudget)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("llm provider not overridden: %s", cfg.LLM.Provider)
	}
	// Untouched sections keep defaults
	if cfg.Distill.TopK != 20 {
		t.Errorf("distill defaults lost: %d", cfg.Distill.TopK)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
budget:
  enabled: true
  daily_budget: 1000
  learning_percent: 0.5
  learning_floor: 100
  overrun_slack: 0.05
  trailing_days: 7
  priority_thresholds:
    2: 500
    3: 400
    4: 600
    5: 700
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non-increasing thresholds")
	}
}

func TestBudgetConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BudgetConfig)
		wantErr bool
	}{
		{"defaults", func(c *BudgetConfig) {}, false},
		{"zero budget", func(c *BudgetConfig) { c.DailyBudget = 0 }, true},
		{"percent over 1", func(c *BudgetConfig) { c.LearningPercent = 1.5 }, true},
		{"negative floor", func(c *BudgetConfig) { c.LearningFloor = -1 }, true},
		{"missing tier", func(c *BudgetConfig) { delete(c.PriorityThresholds, 4) }, true},
		{"equal thresholds", func(c *BudgetConfig) { c.PriorityThresholds[3] = c.PriorityThresholds[2] }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultBudgetConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestThresholdFor(t *testing.T) {
	cfg := DefaultBudgetConfig()

	for _, p := range []int{1, 6} {
		got, err := cfg.ThresholdFor(p)
		if err != nil || got != 0 {
			t.Errorf("ThresholdFor(%d) = %d, %v; want 0, nil", p, got, err)
		}
	}

	prev := int64(-1)
	for p := 2; p <= 5; p++ {
		got, err := cfg.ThresholdFor(p)
		if err != nil {
			t.Fatalf("ThresholdFor(%d): %v", p, err)
		}
		if got <= prev {
			t.Errorf("thresholds not increasing at tier %d: %d <= %d", p, got, prev)
		}
		prev = got
	}

	if _, err := cfg.ThresholdFor(0); err == nil {
		t.Error("expected error for priority 0")
	}
	if _, err := cfg.ThresholdFor(7); err == nil {
		t.Error("expected error for priority 7")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("PROMPTLOOP_DB", "/tmp/other.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.LLM.APIKey != "test-key" || cfg.LLM.Provider != "gemini" {
		t.Errorf("env override not applied: provider=%s", cfg.LLM.Provider)
	}
	if cfg.Storage.DatabasePath != "/tmp/other.db" {
		t.Errorf("db path override not applied: %s", cfg.Storage.DatabasePath)
	}
}
