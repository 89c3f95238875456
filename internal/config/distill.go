package config

import "fmt"

// DistillConfig configures learning memory distillation.
type DistillConfig struct {
	// WindowDays is the trailing window for signal collection.
	WindowDays int `yaml:"window_days"`

	// TopK bounds the slice pulled from each signal source.
	TopK int `yaml:"top_k"`

	// MaxBullets is the hard ceiling on compiled bullets, independent of how
	// many raw signals exist.
	MaxBullets int `yaml:"max_bullets"`

	// MinRuleConfidence filters discovered rules (0.0-1.0).
	MinRuleConfidence float64 `yaml:"min_rule_confidence"`
}

// DefaultDistillConfig returns default distillation settings.
func DefaultDistillConfig() DistillConfig {
	return DistillConfig{
		WindowDays:        14,
		TopK:              20,
		MaxBullets:        10,
		MinRuleConfidence: 0.7,
	}
}

// Validate checks distillation settings.
func (c DistillConfig) Validate() error {
	if c.WindowDays < 1 {
		return fmt.Errorf("window_days must be >= 1")
	}
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be >= 1")
	}
	if c.MaxBullets < 1 {
		return fmt.Errorf("max_bullets must be >= 1")
	}
	if c.MinRuleConfidence < 0 || c.MinRuleConfidence > 1 {
		return fmt.Errorf("min_rule_confidence must be in [0, 1]")
	}
	return nil
}
