package analytics

import (
	"fmt"
	"regexp"
	"strings"
)

// ClassificationKind is the outcome of the pre-LLM query checks.
type ClassificationKind string

const (
	// ClassificationNone means no check matched; continue to planning.
	ClassificationNone ClassificationKind = "none"
	// ClassificationDataInquiry answers a meta-question about available data.
	ClassificationDataInquiry ClassificationKind = "data_inquiry"
	// ClassificationOutOfScope names a data source the system does not have.
	ClassificationOutOfScope ClassificationKind = "out_of_scope"
	// ClassificationAmbiguous asks the user to disambiguate a metric.
	ClassificationAmbiguous ClassificationKind = "ambiguous"
	// ClassificationComparison splits an "A vs B" query into two sub-runs.
	ClassificationComparison ClassificationKind = "comparison"
)

// Classification is the result of running the ordered checks.
type Classification struct {
	Kind       ClassificationKind
	Message    string   // early-exit answer for terminating kinds
	SubQueries []string // exactly two entries for ClassificationComparison
}

// Platforms the warehouse actually covers.
var supportedPlatforms = []string{"instagram", "youtube", "twitter"}

// Sources users keep asking about that we do not ingest.
var unsupportedSources = []string{
	"tiktok", "linkedin", "facebook", "snapchat", "pinterest",
	"google analytics", "shopify", "twitch",
}

// Pre-compiled patterns for the ordered checks.
var (
	dataInquiryRegex = regexp.MustCompile(`(?i)\b(what|which)\b.*\b(data|tables|metrics|platforms|sources)\b.*\b(have|available|support|track|know)\b|` +
		`(?i)\bwhat (data|metrics|platforms) (do you|are)\b|` +
		`(?i)\bwhat can you (tell me|answer|do)\b`)

	comparisonRegex = regexp.MustCompile(`(?i)^(.*?\S)\s+(?:vs\.?|versus)\s+(\S+)(.*)$`)
	compareRegex    = regexp.MustCompile(`(?i)^\s*compare\s+(.+?)\s+(?:and|with|to)\s+(\S+)(.*)$`)
)

// Terms that name a metric without pinning down which platform the
// user means. Only ambiguous when the query gives no other anchor.
var ambiguousMetricTerms = []string{"engagement", "reach", "performance", "growth"}

// Words that anchor an otherwise ambiguous metric to something
// concrete (a content type or a ranking), so no clarification needed.
var disambiguatingTerms = []string{
	"post", "posts", "video", "videos", "tweet", "tweets",
	"top", "best", "worst", "rank", "overall", "total", "all platforms", "across",
}

// Classifier runs cheap, deterministic checks before any LLM call.
// Checks are ordered; the first match wins.
type Classifier struct {
	catalog SchemaCatalog
}

// NewClassifier creates a classifier over the given schema catalog.
func NewClassifier(catalog SchemaCatalog) *Classifier {
	return &Classifier{catalog: catalog}
}

// Classify runs the four ordered checks. It is a pure function of the
// query text.
func (c *Classifier) Classify(query string) *Classification {
	lower := strings.ToLower(strings.TrimSpace(query))

	if c.isDataInquiry(lower) {
		return &Classification{
			Kind:    ClassificationDataInquiry,
			Message: c.capabilityMessage(),
		}
	}

	if source, ok := c.outOfScopeSource(lower); ok {
		return &Classification{
			Kind: ClassificationOutOfScope,
			Message: fmt.Sprintf(
				"I don't have %s data. I can answer questions about your %s accounts, for example post engagement, daily impressions, or follower growth.",
				source, strings.Join(supportedPlatforms, ", ")),
		}
	}

	if term, ok := c.ambiguousTerm(lower); ok {
		return &Classification{
			Kind: ClassificationAmbiguous,
			Message: fmt.Sprintf(
				"Which platform do you mean for %q? I track %s. You can also say \"overall\" for all platforms combined.",
				term, strings.Join(supportedPlatforms, ", ")),
		}
	}

	if parts, ok := c.comparisonParts(query); ok {
		return &Classification{
			Kind:       ClassificationComparison,
			SubQueries: parts,
		}
	}

	return &Classification{Kind: ClassificationNone}
}

func (c *Classifier) isDataInquiry(lower string) bool {
	return dataInquiryRegex.MatchString(lower)
}

func (c *Classifier) outOfScopeSource(lower string) (string, bool) {
	for _, source := range unsupportedSources {
		if strings.Contains(lower, source) {
			return source, true
		}
	}
	return "", false
}

func (c *Classifier) ambiguousTerm(lower string) (string, bool) {
	term := ""
	for _, t := range ambiguousMetricTerms {
		if strings.Contains(lower, t) {
			term = t
			break
		}
	}
	if term == "" {
		return "", false
	}

	// A named platform pins the metric down.
	for _, p := range supportedPlatforms {
		if strings.Contains(lower, p) {
			return "", false
		}
	}

	// Content-type or ranking words anchor the question well enough
	// for the template matcher or the planner to handle it.
	for _, t := range disambiguatingTerms {
		if strings.Contains(lower, t) {
			return "", false
		}
	}

	return term, true
}

// comparisonParts detects an "A vs B" structure and produces the two
// sub-queries, each inheriting the shared remainder of the sentence.
func (c *Classifier) comparisonParts(query string) ([]string, bool) {
	if m := comparisonRegex.FindStringSubmatch(query); m != nil {
		left := strings.TrimSpace(m[1] + m[3])
		right := strings.TrimSpace(m[2] + m[3])
		if left != "" && right != "" {
			return []string{left, right}, true
		}
	}
	if m := compareRegex.FindStringSubmatch(query); m != nil {
		left := strings.TrimSpace(m[1] + m[3])
		right := strings.TrimSpace(m[2] + m[3])
		if left != "" && right != "" {
			return []string{left, right}, true
		}
	}
	return nil, false
}

// capabilityMessage lists the warehouse contents in user terms.
func (c *Classifier) capabilityMessage() string {
	var sb strings.Builder
	sb.WriteString("I can answer analytics questions about your ")
	sb.WriteString(strings.Join(supportedPlatforms, ", "))
	sb.WriteString(" accounts. Available data:\n")
	for _, name := range c.catalog.Tables() {
		table, ok := c.catalog.SchemaFor(name)
		if !ok {
			continue
		}
		cols := make([]string, 0, len(table.Columns))
		for _, col := range table.Columns {
			cols = append(cols, col.Name)
		}
		fmt.Fprintf(&sb, "- %s: %s\n", table.Name, strings.Join(cols, ", "))
	}
	sb.WriteString("Try: \"show my top 5 posts by engagement last 30 days\".")
	return sb.String()
}
