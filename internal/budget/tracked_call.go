package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"promptloop/internal/llm"
	"promptloop/internal/logging"
	"promptloop/internal/prompt"
)

// ErrBudgetExhausted signals a background call that was denied admission or
// reservation. Not a fault: callers skip the cycle and let the scheduler
// re-invoke them.
var ErrBudgetExhausted = errors.New("learning budget exhausted")

// TrackedCallRequest describes one LLM call to bracket with budget
// bookkeeping.
type TrackedCallRequest struct {
	Client       llm.Client
	SystemPrompt string
	Prompt       string
	Category     string
	Priority     int
	IsUserCall   bool

	// EstimatedTokens overrides the prompt-length heuristic when > 0.
	EstimatedTokens int64
}

// TrackedCall sequences admission (background calls only), reservation, the
// LLM call, and settlement. RecordTokenUsage runs on success and failure
// alike so the reservation is always released; a failed call settles with
// zero actual consumption.
func (a *Allocator) TrackedCall(ctx context.Context, req TrackedCallRequest) (*llm.Completion, error) {
	callID := uuid.New().String()[:8]

	if !req.IsUserCall && !a.HasLearningBudget(req.Priority) {
		logging.Budget("Call %s denied admission: category=%s priority=%d",
			callID, req.Category, req.Priority)
		return nil, ErrBudgetExhausted
	}

	estimate := req.EstimatedTokens
	if estimate <= 0 {
		estimate = prompt.EstimateTokens(req.SystemPrompt) + prompt.EstimateTokens(req.Prompt)
	}

	if !a.ReserveTokens(estimate, req.Category, req.IsUserCall) {
		logging.Budget("Call %s denied reservation: category=%s estimate=%d",
			callID, req.Category, estimate)
		return nil, ErrBudgetExhausted
	}

	logging.BudgetDebug("Call %s reserved %d tokens (category=%s user=%v)",
		callID, estimate, req.Category, req.IsUserCall)

	var completion *llm.Completion
	var err error
	if req.SystemPrompt != "" {
		completion, err = req.Client.CompleteWithSystem(ctx, req.SystemPrompt, req.Prompt)
	} else {
		completion, err = req.Client.Complete(ctx, req.Prompt)
	}

	var actual int64
	if err == nil {
		actual = completion.TotalTokens()
	}
	if recordErr := a.RecordTokenUsage(estimate, actual, req.Category, req.IsUserCall); recordErr != nil {
		logging.Get(logging.CategoryBudget).Error("Call %s settlement failed: %v", callID, recordErr)
	}

	if err != nil {
		return nil, fmt.Errorf("tracked call %s failed: %w", callID, err)
	}

	logging.Budget("Call %s settled: category=%s estimate=%d actual=%d",
		callID, req.Category, estimate, actual)
	return completion, nil
}
