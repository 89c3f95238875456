// Package llm provides the LLM call executor the allocator brackets with
// reserve/record bookkeeping. Every provider reports actual token usage so
// the ledger settles on real consumption, not estimates.
package llm

import (
	"context"
)

// Completion is one finished LLM call with its measured token usage.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// TotalTokens is the combined input and output consumption.
func (c *Completion) TotalTokens() int64 {
	return c.InputTokens + c.OutputTokens
}

// Client is the provider-agnostic call executor.
type Client interface {
	// Complete sends a prompt and returns the completion with usage.
	Complete(ctx context.Context, prompt string) (*Completion, error)

	// CompleteWithSystem sends a prompt under a system message.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)
}
