package analytics

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightgrid/insightgrid/ai/queryengine"
)

func TestAnswerHappyPathWithTemplate(t *testing.T) {
	m := happyScript("u1").llm()
	engine := &mockEngine{script: []engineResult{{rows: sampleRows()}}}
	p := newTestPipeline(m, engine)

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "show my top 5 posts by engagement last 30 days",
	})
	require.NoError(t, err)

	assert.True(t, state.Finished())
	assert.Equal(t, formattedReply, state.FinalResponse)
	assert.Equal(t, "u1", state.UserID)
	assert.Equal(t, StepTerminal, state.NextStep)

	// The template fast path was taken: no SQL generation call.
	assert.True(t, state.Metadata.UsedTemplate)
	assert.Equal(t, "top_posts_by_metric", state.Metadata.TemplateName)
	assert.Zero(t, m.callCount(markerSQLGen))

	assert.Zero(t, state.SQLRetryCount)
	assert.False(t, state.Metadata.DegradedSQL)
	assert.False(t, state.Metadata.DegradedInterpretation)
	require.Len(t, engine.queries, 1)
	assert.Contains(t, engine.queries[0], "user_id = 'u1'")
}

func TestAnswerHappyPathWithLLMSQL(t *testing.T) {
	m := happyScript("u7").llm()
	engine := &mockEngine{script: []engineResult{{rows: sampleRows()}}}
	p := newTestPipeline(m, engine)

	state, err := p.Answer(context.Background(), Request{
		UserID: "u7",
		Query:  "which of my twitter threads drove the most replies",
	})
	require.NoError(t, err)

	assert.Equal(t, formattedReply, state.FinalResponse)
	assert.False(t, state.Metadata.UsedTemplate)
	assert.Equal(t, 1, m.callCount(markerSQLGen))
	assert.Equal(t, "u7", state.UserID)
}

func TestAnswerRequiresUserID(t *testing.T) {
	p := newTestPipeline((&llmScript{}).llm(), &mockEngine{})
	_, err := p.Answer(context.Background(), Request{Query: "top posts by likes"})
	require.Error(t, err)
}

func TestAnswerEarlyExitSkipsTheLLMEntirely(t *testing.T) {
	m := (&llmScript{}).llm() // any LLM call would fail the run's asserts
	p := newTestPipeline(m, &mockEngine{})

	tests := []struct {
		name     string
		query    string
		contains string
	}{
		{name: "out of scope", query: "how are my tiktok clips doing", contains: "tiktok"},
		{name: "data inquiry", query: "what data do you have?", contains: "posts"},
		{name: "ambiguous metric", query: "how is my engagement?", contains: "Which platform"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := p.Answer(context.Background(), Request{UserID: "u1", Query: tt.query})
			require.NoError(t, err)
			assert.True(t, state.Finished())
			assert.Contains(t, state.FinalResponse, tt.contains)
			assert.Empty(t, m.calls)
		})
	}
}

func TestAnswerSQLRetryLoopCapsAtThree(t *testing.T) {
	script := happyScript("u1")
	// Every generated statement is missing the user filter.
	script.sqlGen = static("SELECT post_id FROM posts")
	m := script.llm()
	engine := &mockEngine{script: []engineResult{{rows: sampleRows()}}}
	p := newTestPipeline(m, engine)

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "which of my posts performed best in march",
	})
	require.NoError(t, err)

	// Initial attempt plus exactly three retries, then forced forward.
	assert.Equal(t, 4, m.callCount(markerSQLGen))
	assert.Equal(t, MaxSQLRetries, state.SQLRetryCount)
	assert.Equal(t, MaxSQLRetries, state.Metadata.SQLRetries)
	assert.True(t, state.Metadata.DegradedSQL)

	// The best-effort statement still executed and produced an answer.
	assert.Equal(t, 1, engine.callCount())
	assert.True(t, state.Finished())
	assert.NotEmpty(t, state.FinalResponse)
	assert.Contains(t, state.FinalResponse, "quality checks")
	assert.Equal(t, "u1", state.UserID)
}

func TestAnswerRetryFeedbackReachesTheGenerator(t *testing.T) {
	script := happyScript("u1")
	var prompts []string
	script.sqlGen = func(prompt string) (string, error) {
		prompts = append(prompts, prompt)
		if len(prompts) == 1 {
			return "SELECT post_id FROM posts", nil
		}
		return "SELECT post_id FROM posts WHERE user_id = 'u1'", nil
	}
	m := script.llm()
	engine := &mockEngine{script: []engineResult{{rows: sampleRows()}}}
	p := newTestPipeline(m, engine)

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "which of my posts performed best in march",
	})
	require.NoError(t, err)

	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "previous attempt was rejected")
	assert.Contains(t, prompts[1], "previous attempt was rejected")
	assert.Contains(t, prompts[1], "missing required filter")

	assert.Equal(t, 1, state.SQLRetryCount)
	assert.False(t, state.Metadata.DegradedSQL)
	assert.Equal(t, formattedReply, state.FinalResponse)
}

func TestAnswerInterpretationRetryLoopCapsAtTwo(t *testing.T) {
	script := happyScript("u1")
	script.score = static(failingRubric)
	m := script.llm()
	engine := &mockEngine{script: []engineResult{{rows: sampleRows()}}}
	p := newTestPipeline(m, engine)

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "show my top 5 posts by engagement last 30 days",
	})
	require.NoError(t, err)

	// Initial narrative plus two retries, all rejected, then forced
	// forward with the best effort.
	assert.Equal(t, 3, m.callCount(markerInterpret))
	assert.Equal(t, 3, m.callCount(markerScore))
	assert.Equal(t, MaxInterpretationRetries, state.InterpretationRetryCount)
	assert.True(t, state.Metadata.DegradedInterpretation)
	assert.True(t, state.Finished())
	assert.NotEmpty(t, state.FinalResponse)
	assert.Contains(t, state.FinalResponse, "quality checks")
}

func TestAnswerExecutionErrorUsesDeterministicNarrative(t *testing.T) {
	script := happyScript("u1")
	m := script.llm()
	engine := &mockEngine{script: []engineResult{
		{err: &queryengine.Error{Category: queryengine.CategoryPermission, Message: "access denied on posts"}},
	}}
	p := newTestPipeline(m, engine)

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "show my top 5 posts by engagement last 30 days",
	})
	require.NoError(t, err)

	assert.Equal(t, ExecutionError, state.ExecutionStatus)
	assert.Contains(t, state.FinalResponse, "access denied on posts")
	assert.Contains(t, state.FinalResponse, "Suggestion:")

	// Error narratives skip interpretation, review, and formatting.
	assert.Zero(t, m.callCount(markerInterpret))
	assert.Zero(t, m.callCount(markerScore))
	assert.Zero(t, m.callCount(markerFormat))
	assert.Nil(t, state.InterpretationValidation)
	assert.Equal(t, string(queryengine.CategoryPermission), state.Metadata.ExecutionCategory)
	assert.Equal(t, "u1", state.UserID)
}

func TestAnswerEmptyResultBecomesErrorNarrative(t *testing.T) {
	script := happyScript("u1")
	m := script.llm()
	engine := &mockEngine{script: []engineResult{
		{err: &queryengine.Error{Category: queryengine.CategoryDataNotFound, Message: "the query returned no rows"}},
	}}
	p := newTestPipeline(m, engine)

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "show my top 5 posts by engagement last 30 days",
	})
	require.NoError(t, err)

	assert.Equal(t, ExecutionError, state.ExecutionStatus)
	assert.Contains(t, state.FinalResponse, "no rows")
	assert.NotEmpty(t, state.FinalResponse)
}

func TestAnswerFallsBackWhenEverythingCosmeticFails(t *testing.T) {
	script := happyScript("u1")
	script.format = nil // formatting call fails
	m := script.llm()
	engine := &mockEngine{script: []engineResult{{rows: sampleRows()}}}
	p := newTestPipeline(m, engine)

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "show my top 5 posts by engagement last 30 days",
	})
	require.NoError(t, err)

	// The narrative survives as the final response.
	assert.Equal(t, goodNarrative, state.FinalResponse)
}

func TestAnswerCancelledContext(t *testing.T) {
	p := newTestPipeline(happyScript("u1").llm(), &mockEngine{script: []engineResult{{rows: sampleRows()}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Answer(ctx, Request{UserID: "u1", Query: "top posts by likes"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnswerProgressEventsAreOrdered(t *testing.T) {
	m := happyScript("u1").llm()
	engine := &mockEngine{script: []engineResult{{rows: sampleRows()}}}
	p := newTestPipeline(m, engine)

	var stages []Step
	var percents []int
	sink := ProgressFunc(func(_ string, stage Step, percent int, _ string) {
		stages = append(stages, stage)
		percents = append(percents, percent)
	})

	_, err := p.Answer(context.Background(), Request{
		UserID:   "u1",
		Query:    "show my top 5 posts by engagement last 30 days",
		Progress: sink,
	})
	require.NoError(t, err)

	require.NotEmpty(t, stages)
	assert.Equal(t, StepClassify, stages[0])
	assert.Equal(t, StepTerminal, stages[len(stages)-1])
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}
}

func TestAnswerSurvivesPanickingProgressSink(t *testing.T) {
	m := happyScript("u1").llm()
	engine := &mockEngine{script: []engineResult{{rows: sampleRows()}}}
	p := newTestPipeline(m, engine)

	sink := ProgressFunc(func(string, Step, int, string) { panic("sink exploded") })
	state, err := p.Answer(context.Background(), Request{
		UserID:   "u1",
		Query:    "show my top 5 posts by engagement last 30 days",
		Progress: sink,
	})
	require.NoError(t, err)
	assert.Equal(t, formattedReply, state.FinalResponse)
}

func TestAnswerPlannerFallbackStillCompletes(t *testing.T) {
	script := happyScript("u1")
	script.plan = static("this is not JSON at all")
	m := script.llm()
	engine := &mockEngine{script: []engineResult{{rows: sampleRows()}}}
	p := newTestPipeline(m, engine)

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "show my top 5 posts by engagement last 30 days",
	})
	require.NoError(t, err)

	assert.Equal(t, formattedReply, state.FinalResponse)
	found := false
	for _, note := range state.Metadata.Notes {
		if strings.Contains(note, "plan fallback") {
			found = true
		}
	}
	assert.True(t, found, "expected a plan fallback note, got %v", state.Metadata.Notes)
}

func TestTransitionCapForcesTermination(t *testing.T) {
	m := happyScript("u1").llm()
	engine := &mockEngine{script: []engineResult{{rows: sampleRows()}}}
	p := newTestPipeline(m, engine)
	// Tighten the cap so an ordinary run trips it mid-pipeline.
	p.maxTransitions = 2

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "which of my twitter threads drove the most replies",
	})
	require.NoError(t, err)

	assert.True(t, state.Finished())
	assert.Equal(t, StepTerminal, state.NextStep)
	assert.Equal(t, genericFailureMessage, state.FinalResponse)
	assert.Contains(t, state.Metadata.Notes, "transition cap reached")
}

func TestTransitionCapDuringFinalizeStillTerminates(t *testing.T) {
	m := (&llmScript{}).llm()
	p := newTestPipeline(m, &mockEngine{})
	// An early exit is already finalizing when this cap hits; the run
	// must still reach the terminal step instead of looping.
	p.maxTransitions = 1

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "what data do you have?",
	})
	require.NoError(t, err)

	assert.True(t, state.Finished())
	assert.Equal(t, StepTerminal, state.NextStep)
	assert.Contains(t, state.FinalResponse, "posts")
	assert.NotContains(t, state.Metadata.Notes, "transition cap reached")
}

func TestUserIDSurvivesEveryOutcome(t *testing.T) {
	outcomes := []struct {
		name   string
		script func() *llmScript
		engine func() *mockEngine
		query  string
	}{
		{
			name:   "success",
			script: func() *llmScript { return happyScript("u1") },
			engine: func() *mockEngine { return &mockEngine{script: []engineResult{{rows: sampleRows()}}} },
			query:  "show my top 5 posts by engagement last 30 days",
		},
		{
			name: "sql budget exhausted",
			script: func() *llmScript {
				s := happyScript("u1")
				s.sqlGen = static("SELECT post_id FROM posts")
				return s
			},
			engine: func() *mockEngine { return &mockEngine{script: []engineResult{{rows: sampleRows()}}} },
			query:  "which posts performed best in march",
		},
		{
			name:   "execution error",
			script: func() *llmScript { return happyScript("u1") },
			engine: func() *mockEngine {
				return &mockEngine{script: []engineResult{
					{err: fmt.Errorf("syntax error at or near FROM")},
				}}
			},
			query: "show my top 5 posts by engagement last 30 days",
		},
	}

	for _, tt := range outcomes {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(tt.script().llm(), tt.engine())
			state, err := p.Answer(context.Background(), Request{UserID: "u1", Query: tt.query})
			require.NoError(t, err)
			assert.Equal(t, "u1", state.UserID)
			assert.True(t, state.Finished())
			assert.NotEmpty(t, state.FinalResponse)
		})
	}
}
