package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/insightgrid/insightgrid/ai/core/llm"
	"github.com/insightgrid/insightgrid/ai/prompts"
)

// AgentDataAnalytics is the only pipeline branch agent today.
const AgentDataAnalytics = "data_analytics"

// PlanStep is one step of an execution plan. Agent is a tagged variant
// selector: unknown agents are rejected at the parse boundary, so
// downstream code never sees a step it cannot route.
type PlanStep struct {
	Agent       string `json:"agent"`
	Description string `json:"description"`
}

// Plan is the structured execution plan for one query.
type Plan struct {
	Analysis   string     `json:"analysis"`
	Complexity string     `json:"complexity"` // low, medium, high
	Steps      []PlanStep `json:"steps"`

	// Fallback marks a plan synthesized after an unparsable LLM
	// response. Logged and surfaced in metadata, never fatal.
	Fallback bool `json:"fallback,omitempty"`
}

// Summary returns a one-line description for metadata.
func (p *Plan) Summary() string {
	if p == nil || len(p.Steps) == 0 {
		return ""
	}
	return fmt.Sprintf("%s (%d step(s), complexity=%s)", p.Analysis, len(p.Steps), p.Complexity)
}

// Planner produces a structured execution plan via the LLM, falling
// back to a single-step default when the response is unusable.
type Planner struct {
	llm      llm.Service
	registry *prompts.Registry
}

// NewPlanner creates a plan generator.
func NewPlanner(llmService llm.Service, registry *prompts.Registry) *Planner {
	return &Planner{llm: llmService, registry: registry}
}

// Generate builds the plan for the state's query. Errors from the LLM
// (including timeouts) degrade to the default plan; they never
// propagate. The only hard failure is a broken prompt registry.
func (p *Planner) Generate(ctx context.Context, state *RunState) (*Plan, error) {
	startTime := time.Now()

	prompt, err := p.registry.Render(prompts.PromptPlan, map[string]any{
		"Query":               state.Query,
		"ConversationSummary": state.ConversationSummary,
		"Profile":             formatProfile(state.Profile),
	})
	if err != nil {
		return nil, fmt.Errorf("render plan prompt: %w", err)
	}

	response, _, err := p.llm.Chat(ctx, []llm.Message{llm.UserMessage(prompt)})
	if err != nil {
		slog.Warn("planner: LLM call failed, using default plan",
			"run_id", state.RunID, "error", err)
		return defaultPlan(state.Query), nil
	}

	plan, err := parsePlan(response)
	if err != nil {
		slog.Warn("planner: unparsable plan, using default",
			"run_id", state.RunID,
			"error", err,
			"response_length", len(response))
		return defaultPlan(state.Query), nil
	}

	slog.Info("planner: plan generated",
		"run_id", state.RunID,
		"steps", len(plan.Steps),
		"complexity", plan.Complexity,
		"duration_ms", time.Since(startTime).Milliseconds())

	return plan, nil
}

// parsePlan converts the LLM's free-text response into a Plan.
// Never assumes well-formed input.
func parsePlan(response string) (*Plan, error) {
	cleaned := stripCodeFences(response)

	var plan Plan
	if err := json.Unmarshal([]byte(cleaned), &plan); err != nil {
		return nil, fmt.Errorf("parse plan JSON: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	for _, step := range plan.Steps {
		if step.Agent != AgentDataAnalytics {
			return nil, fmt.Errorf("unknown agent in plan: %q", step.Agent)
		}
	}

	switch plan.Complexity {
	case "low", "medium", "high":
	default:
		plan.Complexity = "medium"
	}
	return &plan, nil
}

// defaultPlan is the single-step fallback used when planning degrades.
func defaultPlan(query string) *Plan {
	return &Plan{
		Analysis:   "Direct routing to data analytics",
		Complexity: "medium",
		Steps: []PlanStep{{
			Agent:       AgentDataAnalytics,
			Description: query,
		}},
		Fallback: true,
	}
}

// stripCodeFences removes enclosing markdown code fences from an LLM
// response, tolerating a language tag after the opening fence.
func stripCodeFences(response string) string {
	s := strings.TrimSpace(response)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && !strings.ContainsAny(s[:idx], "{}(") {
		// Drop a language tag like "json" or "sql" on the fence line.
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func formatProfile(profile map[string]string) string {
	if len(profile) == 0 {
		return ""
	}
	keys := make([]string, 0, len(profile))
	for k := range profile {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, profile[k]))
	}
	return strings.Join(parts, "\n")
}
