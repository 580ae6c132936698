package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/insightgrid/insightgrid/ai/core/llm"
	"github.com/insightgrid/insightgrid/ai/prompts"
)

// AcceptThreshold is the minimum rubric score for a narrative.
const AcceptThreshold = 80

// InterpretationScorer scores a narrative against a fixed rubric:
// correctness, benchmarked context, actionable insight, clarity,
// completeness, 20 points each.
type InterpretationScorer struct {
	llm      llm.Service
	registry *prompts.Registry
}

// NewInterpretationScorer creates a scorer.
func NewInterpretationScorer(llmService llm.Service, registry *prompts.Registry) *InterpretationScorer {
	return &InterpretationScorer{llm: llmService, registry: registry}
}

// Score evaluates state.Narrative. A failed or unparsable scoring call
// accepts the narrative: review must never block a result the user
// could otherwise have.
func (s *InterpretationScorer) Score(ctx context.Context, state *RunState) *InterpretationValidation {
	prompt, err := s.registry.Render(prompts.PromptInterpretScore, map[string]any{
		"Query":     state.Query,
		"Columns":   strings.Join(state.Rows.Columns, ", "),
		"Rows":      renderRows(state.Rows, 20),
		"Narrative": state.Narrative,
	})
	if err != nil {
		slog.Warn("scorer: prompt render failed, accepting narrative", "run_id", state.RunID, "error", err)
		return &InterpretationValidation{Accepted: true, Score: AcceptThreshold}
	}

	response, _, err := s.llm.Chat(ctx, []llm.Message{llm.UserMessage(prompt)})
	if err != nil {
		slog.Warn("scorer: LLM call failed, accepting narrative", "run_id", state.RunID, "error", err)
		return &InterpretationValidation{Accepted: true, Score: AcceptThreshold}
	}

	var rubric struct {
		Correctness   int    `json:"correctness"`
		Context       int    `json:"context"`
		Actionability int    `json:"actionability"`
		Clarity       int    `json:"clarity"`
		Completeness  int    `json:"completeness"`
		Feedback      string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(response)), &rubric); err != nil {
		slog.Warn("scorer: unparsable rubric, accepting narrative", "run_id", state.RunID, "error", err)
		return &InterpretationValidation{Accepted: true, Score: AcceptThreshold}
	}

	total := clampDimension(rubric.Correctness) +
		clampDimension(rubric.Context) +
		clampDimension(rubric.Actionability) +
		clampDimension(rubric.Clarity) +
		clampDimension(rubric.Completeness)

	result := &InterpretationValidation{
		Accepted: total >= AcceptThreshold,
		Score:    total,
		Feedback: rubric.Feedback,
	}
	if !result.Accepted && result.Feedback == "" {
		result.Feedback = fmt.Sprintf("overall score %d/100 is below the acceptance threshold; add quantitative context and a concrete recommendation", total)
	}

	slog.Info("scorer: rubric decision",
		"run_id", state.RunID,
		"score", total,
		"accepted", result.Accepted)
	return result
}

func clampDimension(v int) int {
	if v < 0 {
		return 0
	}
	if v > 20 {
		return 20
	}
	return v
}
