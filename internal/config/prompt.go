package config

import "fmt"

// PromptConfig configures prompt assembly and calibration.
type PromptConfig struct {
	// BaseSectionKeys is the fixed key set every assembled prompt requires.
	BaseSectionKeys []string `yaml:"base_section_keys"`

	// FollowupSectionKeys extends the base set for follow-up analysis
	// requests.
	FollowupSectionKeys []string `yaml:"followup_section_keys"`

	// Calibration tunes the bias-correction clause.
	Calibration CalibrationConfig `yaml:"calibration"`
}

// CalibrationConfig tunes the data-driven scoring correction clause.
// The minimums are deliberately conservative: corrections only appear on
// well-sampled, significant divergence, so the prompt does not churn on noise.
type CalibrationConfig struct {
	// WindowSize bounds the recent evaluation sample considered.
	WindowSize int `yaml:"window_size"`

	// MinSampleSize is the minimum community sample size for a single
	// evaluation to count as a paired observation.
	MinSampleSize int `yaml:"min_sample_size"`

	// MinObservations is the minimum paired observations per tag before a
	// correction is considered.
	MinObservations int `yaml:"min_observations"`

	// MinDelta is the minimum absolute mean divergence (0-10 scale) that
	// triggers a correction directive.
	MinDelta float64 `yaml:"min_delta"`
}

// DefaultPromptConfig returns default assembly settings.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		BaseSectionKeys: []string{
			"identity",
			"critique_guidelines",
			"scoring_rubric",
			"tone",
			"output_format",
		},
		FollowupSectionKeys: []string{
			"followup_guidelines",
		},
		Calibration: CalibrationConfig{
			WindowSize:      200,
			MinSampleSize:   3,
			MinObservations: 10,
			MinDelta:        0.5,
		},
	}
}

// Validate checks prompt assembly settings.
func (c PromptConfig) Validate() error {
	if len(c.BaseSectionKeys) == 0 {
		return fmt.Errorf("base_section_keys must not be empty")
	}
	if c.Calibration.WindowSize < 1 {
		return fmt.Errorf("calibration window_size must be >= 1")
	}
	if c.Calibration.MinSampleSize < 1 {
		return fmt.Errorf("calibration min_sample_size must be >= 1")
	}
	if c.Calibration.MinObservations < 1 {
		return fmt.Errorf("calibration min_observations must be >= 1")
	}
	if c.Calibration.MinDelta < 0 {
		return fmt.Errorf("calibration min_delta must be >= 0")
	}
	return nil
}
