package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/insightgrid/insightgrid/ai/core/llm"
	"github.com/insightgrid/insightgrid/ai/prompts"
	"github.com/insightgrid/insightgrid/ai/queryengine"
)

// Interpreter turns raw rows into a narrative analysis. When the run
// carries an execution error, the narrative is a deterministic,
// template-filled explanation with no LLM involved.
type Interpreter struct {
	llm      llm.Service
	registry *prompts.Registry
	maxRows  int
}

// NewInterpreter creates a result interpreter.
func NewInterpreter(llmService llm.Service, registry *prompts.Registry) *Interpreter {
	return &Interpreter{llm: llmService, registry: registry, maxRows: 50}
}

// Interpret sets state.Narrative.
func (i *Interpreter) Interpret(ctx context.Context, state *RunState) error {
	if state.ExecutionStatus == ExecutionError {
		state.Narrative = errorNarrative(state.Query, state.ExecError)
		return nil
	}

	startTime := time.Now()
	feedback := ""
	if state.InterpretationValidation != nil && !state.InterpretationValidation.Accepted {
		feedback = state.InterpretationValidation.Feedback
	}

	prompt, err := i.registry.Render(prompts.PromptInterpret, map[string]any{
		"Query":               state.Query,
		"RowCount":            state.Rows.RowCount(),
		"Columns":             strings.Join(state.Rows.Columns, ", "),
		"Rows":                renderRows(state.Rows, i.maxRows),
		"ConversationSummary": state.ConversationSummary,
		"Profile":             formatProfile(state.Profile),
		"Feedback":            feedback,
	})
	if err != nil {
		return fmt.Errorf("render interpret prompt: %w", err)
	}

	narrative, _, err := i.llm.Chat(ctx, []llm.Message{llm.UserMessage(prompt)})
	if err != nil {
		// Degrade to a minimal factual summary rather than failing the run.
		slog.Warn("interpreter: LLM call failed, using factual summary",
			"run_id", state.RunID, "error", err)
		state.Narrative = factualSummary(state.Query, state.Rows)
		return nil
	}

	state.Narrative = strings.TrimSpace(narrative)
	slog.Debug("interpreter: narrative produced",
		"run_id", state.RunID,
		"attempt", state.InterpretationRetryCount,
		"length", len(state.Narrative),
		"duration_ms", time.Since(startTime).Milliseconds())
	return nil
}

// errorNarrative is the deterministic explanation for a failed
// execution. Never an LLM product, never followed by scoring.
func errorNarrative(query string, execErr *queryengine.Error) string {
	if execErr == nil {
		execErr = &queryengine.Error{Category: queryengine.CategoryUnknown, Message: "query execution failed"}
	}
	return fmt.Sprintf(
		"I couldn't complete the analysis for %q.\n\nWhat happened: %s.\n\nSuggestion: %s",
		query, execErr.Message, execErr.Suggestion())
}

// factualSummary is the no-LLM fallback narrative: columns, row count,
// and the leading rows verbatim.
func factualSummary(query string, rows *queryengine.Rows) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Here is the raw result for %q (%d rows).\n\n", query, rows.RowCount())
	sb.WriteString(renderRows(rows, 10))
	sb.WriteString("\nA full written analysis was unavailable; the numbers above are complete and correct.")
	return sb.String()
}

// renderRows renders a result table as pipe-separated lines, capped at
// limit rows for prompt budget reasons.
func renderRows(rows *queryengine.Rows, limit int) string {
	if rows == nil || rows.RowCount() == 0 {
		return "(no rows)"
	}
	var sb strings.Builder
	sb.WriteString(strings.Join(rows.Columns, " | "))
	sb.WriteString("\n")
	for i, record := range rows.Records {
		if i >= limit {
			fmt.Fprintf(&sb, "... (%d more rows)\n", rows.RowCount()-limit)
			break
		}
		sb.WriteString(strings.Join(record, " | "))
		sb.WriteString("\n")
	}
	return sb.String()
}
