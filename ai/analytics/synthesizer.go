package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/insightgrid/insightgrid/ai/core/llm"
	"github.com/insightgrid/insightgrid/ai/prompts"
)

// Synthesizer produces candidate SQL for a query: template fast path
// first, LLM generation as the fallback. It never touches the retry
// counter; retry bookkeeping belongs to the validator.
type Synthesizer struct {
	llm      llm.Service
	registry *prompts.Registry
	matcher  *TemplateMatcher
	catalog  SchemaCatalog
	dialect  string
}

// NewSynthesizer creates a SQL synthesizer.
func NewSynthesizer(llmService llm.Service, registry *prompts.Registry, matcher *TemplateMatcher, catalog SchemaCatalog, dialect string) *Synthesizer {
	if dialect == "" {
		dialect = "PostgreSQL"
	}
	return &Synthesizer{
		llm:      llmService,
		registry: registry,
		matcher:  matcher,
		catalog:  catalog,
		dialect:  dialect,
	}
}

// Synthesize sets state.CandidateSQL. The template path is preferred
// whenever a high-confidence match exists, and is skipped on retries:
// a template that already failed validation will fail it again.
func (s *Synthesizer) Synthesize(ctx context.Context, state *RunState) error {
	if state.SQLRetryCount == 0 {
		if match := s.matcher.Match(state.Query, state.UserID); match != nil {
			state.CandidateSQL = match.SQL
			state.UsedTemplate = true
			state.TemplateName = match.Name
			state.TemplateParams = match.Params
			slog.Info("synthesizer: template fast path",
				"run_id", state.RunID,
				"template", match.Name)
			return nil
		}
	}

	startTime := time.Now()
	prompt, err := s.registry.Render(prompts.PromptSQLGenerate, map[string]any{
		"Query":    state.Query,
		"UserID":   state.UserID,
		"Dialect":  s.dialect,
		"Schema":   PromptSchema(s.catalog),
		"Feedback": state.SQLValidation.Feedback(),
	})
	if err != nil {
		return fmt.Errorf("render sql prompt: %w", err)
	}

	response, _, err := s.llm.Chat(ctx, []llm.Message{llm.UserMessage(prompt)})
	if err != nil {
		// Timeouts and provider failures are unrecoverable here; the
		// validator rejects the empty candidate and the retry loop
		// decides what happens next.
		slog.Warn("synthesizer: LLM generation failed",
			"run_id", state.RunID,
			"attempt", state.SQLRetryCount,
			"error", err)
		state.CandidateSQL = ""
		state.UsedTemplate = false
		return nil
	}

	state.CandidateSQL = stripCodeFences(response)
	state.UsedTemplate = false
	state.TemplateName = ""
	state.TemplateParams = nil

	slog.Debug("synthesizer: LLM generation complete",
		"run_id", state.RunID,
		"attempt", state.SQLRetryCount,
		"sql_length", len(state.CandidateSQL),
		"duration_ms", time.Since(startTime).Milliseconds())

	return nil
}
