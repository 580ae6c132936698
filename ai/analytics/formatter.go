package analytics

import (
	"context"
	"log/slog"

	"github.com/insightgrid/insightgrid/ai/core/llm"
	"github.com/insightgrid/insightgrid/ai/prompts"
)

// Formatter restructures an accepted narrative into a presentation
// document. Error narratives pass through unchanged.
type Formatter struct {
	llm      llm.Service
	registry *prompts.Registry
}

// NewFormatter creates an output formatter.
func NewFormatter(llmService llm.Service, registry *prompts.Registry) *Formatter {
	return &Formatter{llm: llmService, registry: registry}
}

// Format sets state.FormattedOutput. Formatting is cosmetic: any
// failure leaves the narrative as the final output.
func (f *Formatter) Format(ctx context.Context, state *RunState) error {
	if state.ExecutionStatus == ExecutionError {
		state.FormattedOutput = state.Narrative
		return nil
	}

	prompt, err := f.registry.Render(prompts.PromptFormatResponse, map[string]any{
		"Narrative": state.Narrative,
	})
	if err != nil {
		slog.Warn("formatter: prompt render failed, passing narrative through", "run_id", state.RunID, "error", err)
		state.FormattedOutput = state.Narrative
		return nil
	}

	formatted, _, err := f.llm.Chat(ctx, []llm.Message{llm.UserMessage(prompt)})
	if err != nil || formatted == "" {
		slog.Warn("formatter: formatting unavailable, passing narrative through", "run_id", state.RunID, "error", err)
		state.FormattedOutput = state.Narrative
		return nil
	}

	state.FormattedOutput = formatted
	return nil
}
