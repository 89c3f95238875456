package llm

import (
	"context"
	"fmt"
	"time"

	"promptloop/internal/config"
)

// NewClient builds the provider named in the config. Unknown providers are
// an error rather than a silent default so a typo never burns real quota
// against the wrong endpoint.
func NewClient(ctx context.Context, cfg *config.LLMConfig, timeout time.Duration) (Client, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
		}), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
