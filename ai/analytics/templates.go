package analytics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TemplateMatch is a rendered fast-path SQL statement. Rendering is
// deterministic: the same query text always yields byte-identical SQL.
type TemplateMatch struct {
	Name   string
	SQL    string
	Params map[string]string
}

// TemplateMatcher matches query text against a fixed catalog of
// parameterized SQL templates, skipping the LLM entirely on a hit.
// Only high-confidence structural matches are returned.
type TemplateMatcher struct {
	templates []sqlTemplate
}

type sqlTemplate struct {
	name    string
	pattern *regexp.Regexp
	render  func(userID string, m []string, lower string) (string, map[string]string)
}

// Parameter defaults, applied when the query omits them.
const (
	defaultTopN       = 10
	defaultWindowDays = 30
)

// Metric words users type, mapped to warehouse columns.
var metricColumns = map[string]string{
	"engagement": "engagement_score",
	"likes":      "like_count",
	"like":       "like_count",
	"views":      "view_count",
	"view":       "view_count",
	"comments":   "comment_count",
	"comment":    "comment_count",
	"shares":     "share_count",
	"share":      "share_count",
}

var (
	topPostsRegex  = regexp.MustCompile(`(?i)\btop\s*(\d+)?\s*(?:posts|videos|tweets)\s+by\s+(\w+)`)
	followerRegex  = regexp.MustCompile(`(?i)\bfollower(?:s)?\s+(?:growth|change|count|trend)\b`)
	dailyEngRegex  = regexp.MustCompile(`(?i)\b(?:daily|per.day)\s+(?:engagement|impressions)\b|\bengagement\s+(?:rate\s+)?trend\b`)
	lastDaysRegex  = regexp.MustCompile(`(?i)\blast\s+(\d+)\s+days?\b`)
	lastWeekRegex  = regexp.MustCompile(`(?i)\b(?:last|this|past)\s+week\b`)
	lastMonthRegex = regexp.MustCompile(`(?i)\b(?:last|this|past)\s+month\b`)
)

// NewTemplateMatcher creates the matcher with the built-in catalog.
func NewTemplateMatcher() *TemplateMatcher {
	m := &TemplateMatcher{}
	m.templates = []sqlTemplate{
		{
			name:    "top_posts_by_metric",
			pattern: topPostsRegex,
			render:  renderTopPosts,
		},
		{
			name:    "follower_growth",
			pattern: followerRegex,
			render:  renderFollowerGrowth,
		},
		{
			name:    "daily_engagement",
			pattern: dailyEngRegex,
			render:  renderDailyEngagement,
		},
	}
	return m
}

// Match returns the rendered template for the query, or nil when no
// high-confidence match exists.
func (t *TemplateMatcher) Match(query, userID string) *TemplateMatch {
	lower := strings.ToLower(query)
	for _, tmpl := range t.templates {
		m := tmpl.pattern.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		sql, params := tmpl.render(userID, m, lower)
		if sql == "" {
			continue
		}
		return &TemplateMatch{Name: tmpl.name, SQL: sql, Params: params}
	}
	return nil
}

// windowDays extracts the time window, defaulting to 30 days.
// "last week" is 7 days, "last month" 30.
func windowDays(lower string) int {
	if m := lastDaysRegex.FindStringSubmatch(lower); m != nil {
		if d, err := strconv.Atoi(m[1]); err == nil && d > 0 {
			return d
		}
	}
	if lastWeekRegex.MatchString(lower) {
		return 7
	}
	if lastMonthRegex.MatchString(lower) {
		return 30
	}
	return defaultWindowDays
}

// platformFilter returns an AND clause when the query names a platform.
func platformFilter(lower string) (clause string, platform string) {
	for _, p := range supportedPlatforms {
		if strings.Contains(lower, p) {
			return fmt.Sprintf(" AND platform = '%s'", p), p
		}
	}
	return "", ""
}

func renderTopPosts(userID string, m []string, lower string) (string, map[string]string) {
	metricWord := strings.ToLower(m[2])
	column, ok := metricColumns[metricWord]
	if !ok {
		// Unknown metric word: not a confident match, let the LLM
		// path handle it.
		return "", nil
	}

	n := defaultTopN
	if m[1] != "" {
		if parsed, err := strconv.Atoi(m[1]); err == nil && parsed > 0 {
			n = parsed
		}
	}
	days := windowDays(lower)
	clause, platform := platformFilter(lower)

	sql := fmt.Sprintf(
		"SELECT post_id, title, platform, published_at, %s FROM posts "+
			"WHERE user_id = '%s'%s AND published_at >= CURRENT_DATE - INTERVAL '%d days' "+
			"ORDER BY %s DESC LIMIT %d",
		column, escapeLiteral(userID), clause, days, column, n)

	params := map[string]string{
		"metric": column,
		"limit":  strconv.Itoa(n),
		"days":   strconv.Itoa(days),
	}
	if platform != "" {
		params["platform"] = platform
	}
	return sql, params
}

func renderFollowerGrowth(userID string, _ []string, lower string) (string, map[string]string) {
	days := windowDays(lower)
	clause, platform := platformFilter(lower)

	sql := fmt.Sprintf(
		"SELECT day, platform, follower_count, net_change FROM followers_daily "+
			"WHERE user_id = '%s'%s AND day >= CURRENT_DATE - INTERVAL '%d days' "+
			"ORDER BY day ASC",
		escapeLiteral(userID), clause, days)

	params := map[string]string{"days": strconv.Itoa(days)}
	if platform != "" {
		params["platform"] = platform
	}
	return sql, params
}

func renderDailyEngagement(userID string, _ []string, lower string) (string, map[string]string) {
	days := windowDays(lower)
	clause, platform := platformFilter(lower)

	sql := fmt.Sprintf(
		"SELECT day, platform, impressions, engagements, engagement_rate FROM engagement_daily "+
			"WHERE user_id = '%s'%s AND day >= CURRENT_DATE - INTERVAL '%d days' "+
			"ORDER BY day ASC",
		escapeLiteral(userID), clause, days)

	params := map[string]string{"days": strconv.Itoa(days)}
	if platform != "" {
		params["platform"] = platform
	}
	return sql, params
}

// escapeLiteral doubles single quotes for safe embedding of the user
// id as a SQL string literal.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
