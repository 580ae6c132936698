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

// comparisonScript generates platform-tagged SQL so the mock engine
// can fail one side selectively.
func comparisonScript(userID string) *llmScript {
	s := happyScript(userID)
	s.sqlGen = func(prompt string) (string, error) {
		platform := "instagram"
		if strings.Contains(prompt, "youtube") {
			platform = "youtube"
		}
		return fmt.Sprintf(
			"SELECT day, impressions, engagements FROM engagement_daily WHERE user_id = '%s' AND platform = '%s'",
			userID, platform), nil
	}
	s.interpret = func(prompt string) (string, error) {
		platform := "instagram"
		if strings.Contains(prompt, "youtube") {
			platform = "youtube"
		}
		return "Engagement on " + platform + " held steady this month. Keep the posting cadence.", nil
	}
	s.format = static("") // empty formatting passes the narrative through
	return s
}

func TestAnswerComparisonRunsBothSides(t *testing.T) {
	m := comparisonScript("u1").llm()
	engine := &mockEngine{respondFn: func(query, userID string) (*queryengine.Rows, error) {
		return sampleRows(), nil
	}}
	p := newTestPipeline(m, engine)

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "instagram vs youtube engagement last month",
	})
	require.NoError(t, err)

	assert.True(t, state.Finished())
	assert.Contains(t, state.FinalResponse, "instagram engagement last month")
	assert.Contains(t, state.FinalResponse, "youtube engagement last month")
	assert.Contains(t, state.FinalResponse, "Engagement on instagram")
	assert.Contains(t, state.FinalResponse, "Engagement on youtube")
	assert.Equal(t, "u1", state.UserID)

	// Two independent executions, one per sub-query.
	assert.Equal(t, 2, engine.callCount())
	assert.Equal(t, 2, m.callCount(markerSQLGen))

	// Sub-run ids are recorded for tracing.
	subRuns := 0
	for _, note := range state.Metadata.Notes {
		if strings.HasPrefix(note, "sub-run ") {
			subRuns++
		}
	}
	assert.Equal(t, 2, subRuns)
}

func TestAnswerComparisonPartialFailure(t *testing.T) {
	m := comparisonScript("u1").llm()
	engine := &mockEngine{respondFn: func(query, userID string) (*queryengine.Rows, error) {
		if strings.Contains(query, "youtube") {
			return nil, &queryengine.Error{Category: queryengine.CategoryPermission, Message: "access denied on youtube data"}
		}
		return sampleRows(), nil
	}}
	p := newTestPipeline(m, engine)

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "instagram vs youtube engagement last month",
	})
	require.NoError(t, err)

	// The surviving side's analysis is present, the failed side is
	// explained, and the one-sidedness is called out.
	assert.Contains(t, state.FinalResponse, "Engagement on instagram")
	assert.Contains(t, state.FinalResponse, "access denied on youtube data")
	assert.Contains(t, state.FinalResponse, "Only one side")

	assert.Contains(t, state.Metadata.Notes, "comparison partially failed")
	assert.Equal(t, ExecutionSuccess, state.ExecutionStatus)
	assert.Equal(t, "u1", state.UserID)
}

func TestAnswerComparisonBothSidesFail(t *testing.T) {
	m := comparisonScript("u1").llm()
	engine := &mockEngine{respondFn: func(query, userID string) (*queryengine.Rows, error) {
		return nil, &queryengine.Error{Category: queryengine.CategoryPermission, Message: "access denied"}
	}}
	p := newTestPipeline(m, engine)

	state, err := p.Answer(context.Background(), Request{
		UserID: "u1",
		Query:  "instagram vs youtube engagement last month",
	})
	require.NoError(t, err)

	assert.Equal(t, ExecutionError, state.ExecutionStatus)
	assert.Contains(t, state.Metadata.Notes, "comparison failed on both sides")
	assert.True(t, state.Finished())
	assert.NotEmpty(t, state.FinalResponse)
}

func TestAnswerComparisonCancellation(t *testing.T) {
	p := newTestPipeline(comparisonScript("u1").llm(), &mockEngine{script: []engineResult{{rows: sampleRows()}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Answer(ctx, Request{UserID: "u1", Query: "instagram vs youtube engagement last month"})
	require.ErrorIs(t, err, context.Canceled)
}
