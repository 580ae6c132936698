package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightgrid/insightgrid/ai/prompts"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  bool
		want     *Plan
	}{
		{
			name:     "clean JSON",
			response: `{"analysis": "rank posts", "complexity": "low", "steps": [{"agent": "data_analytics", "description": "query posts"}]}`,
			want:     &Plan{Analysis: "rank posts", Complexity: "low", Steps: []PlanStep{{Agent: "data_analytics", Description: "query posts"}}},
		},
		{
			name: "fenced JSON with language tag",
			response: "```json\n" +
				`{"analysis": "rank posts", "complexity": "high", "steps": [{"agent": "data_analytics", "description": "query posts"}]}` +
				"\n```",
			want: &Plan{Analysis: "rank posts", Complexity: "high", Steps: []PlanStep{{Agent: "data_analytics", Description: "query posts"}}},
		},
		{
			name:     "unknown complexity normalized",
			response: `{"analysis": "a", "complexity": "extreme", "steps": [{"agent": "data_analytics", "description": "d"}]}`,
			want:     &Plan{Analysis: "a", Complexity: "medium", Steps: []PlanStep{{Agent: "data_analytics", Description: "d"}}},
		},
		{
			name:     "not JSON",
			response: "I think you should query the posts table",
			wantErr:  true,
		},
		{
			name:     "no steps",
			response: `{"analysis": "a", "complexity": "low", "steps": []}`,
			wantErr:  true,
		},
		{
			name:     "unknown agent",
			response: `{"analysis": "a", "complexity": "low", "steps": [{"agent": "web_search", "description": "d"}]}`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePlan(tt.response)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateFallsBackOnBadResponses(t *testing.T) {
	registry := prompts.NewDefaultRegistry()
	state := NewRunState("u1", "", "how did my posts do")

	// LLM failure.
	p := NewPlanner(&mockLLM{}, registry)
	plan, err := p.Generate(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, plan.Fallback)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, AgentDataAnalytics, plan.Steps[0].Agent)
	assert.Equal(t, "how did my posts do", plan.Steps[0].Description)

	// Unparsable response.
	p = NewPlanner(&mockLLM{respond: static("sure, here is a plan!")}, registry)
	plan, err = p.Generate(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, plan.Fallback)
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "no fences", in: `{"a": 1}`, want: `{"a": 1}`},
		{name: "plain fences", in: "```\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "sql tag", in: "```sql\nSELECT 1\n```", want: "SELECT 1"},
		{name: "json on fence line", in: "```{\"a\": 1}```", want: `{"a": 1}`},
		{name: "surrounding whitespace", in: "  ```json\n{}\n```  ", want: "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFences(tt.in))
		})
	}
}

func TestRouterRoutesPlans(t *testing.T) {
	r := NewRouter()

	branch, err := r.Route(&Plan{Steps: []PlanStep{{Agent: AgentDataAnalytics}}})
	require.NoError(t, err)
	assert.Equal(t, BranchDataAnalytics, branch)

	_, err = r.Route(&Plan{Steps: []PlanStep{{Agent: "unknown"}}})
	require.Error(t, err)

	_, err = r.Route(&Plan{})
	require.Error(t, err)
}
