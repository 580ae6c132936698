package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateMatchTopPosts(t *testing.T) {
	m := NewTemplateMatcher()

	match := m.Match("show my top 5 posts by engagement last 30 days", "u1")
	require.NotNil(t, match)
	assert.Equal(t, "top_posts_by_metric", match.Name)
	assert.Contains(t, match.SQL, "user_id = 'u1'")
	assert.Contains(t, match.SQL, "ORDER BY engagement_score DESC")
	assert.Contains(t, match.SQL, "LIMIT 5")
	assert.Contains(t, match.SQL, "INTERVAL '30 days'")
	assert.Equal(t, "engagement_score", match.Params["metric"])
	assert.Equal(t, "5", match.Params["limit"])
	assert.Equal(t, "30", match.Params["days"])
}

func TestTemplateRenderingIsDeterministic(t *testing.T) {
	m := NewTemplateMatcher()
	query := "show my top 5 posts by engagement last 30 days"

	first := m.Match(query, "u1")
	require.NotNil(t, first)
	for i := 0; i < 5; i++ {
		again := m.Match(query, "u1")
		require.NotNil(t, again)
		assert.Equal(t, first.SQL, again.SQL)
		assert.Equal(t, first.Params, again.Params)
	}
}

func TestTemplateParamDefaults(t *testing.T) {
	m := NewTemplateMatcher()

	tests := []struct {
		name      string
		query     string
		wantLimit string
		wantDays  string
	}{
		{
			name:      "no count no window",
			query:     "my top posts by likes",
			wantLimit: "10",
			wantDays:  "30",
		},
		{
			name:      "last week window",
			query:     "top 3 videos by views last week",
			wantLimit: "3",
			wantDays:  "7",
		},
		{
			name:      "explicit day window",
			query:     "top posts by comments last 90 days",
			wantLimit: "10",
			wantDays:  "90",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := m.Match(tt.query, "u1")
			require.NotNil(t, match)
			assert.Equal(t, tt.wantLimit, match.Params["limit"])
			assert.Equal(t, tt.wantDays, match.Params["days"])
		})
	}
}

func TestTemplateMatchOtherTemplates(t *testing.T) {
	m := NewTemplateMatcher()

	growth := m.Match("how is my follower growth on instagram this month", "u1")
	require.NotNil(t, growth)
	assert.Equal(t, "follower_growth", growth.Name)
	assert.Contains(t, growth.SQL, "followers_daily")
	assert.Contains(t, growth.SQL, "platform = 'instagram'")

	daily := m.Match("show my daily engagement last 14 days", "u1")
	require.NotNil(t, daily)
	assert.Equal(t, "daily_engagement", daily.Name)
	assert.Contains(t, daily.SQL, "engagement_daily")
	assert.Contains(t, daily.SQL, "INTERVAL '14 days'")
}

func TestTemplateNoMatch(t *testing.T) {
	m := NewTemplateMatcher()

	tests := []struct {
		name  string
		query string
	}{
		{name: "unknown metric word", query: "top 5 posts by sentiment"},
		{name: "free-form question", query: "why did my impressions drop in March"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, m.Match(tt.query, "u1"))
		})
	}
}

func TestTemplateEscapesUserID(t *testing.T) {
	m := NewTemplateMatcher()

	match := m.Match("top posts by likes", "o'brien")
	require.NotNil(t, match)
	assert.Contains(t, match.SQL, "user_id = 'o''brien'")
}
