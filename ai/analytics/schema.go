package analytics

import (
	"fmt"
	"sort"
	"strings"
)

// Column describes one column of a warehouse table. Note carries the
// naming caveats that LLM generation keeps getting wrong.
type Column struct {
	Name string
	Type string
	Note string
}

// Table describes one warehouse table available to the pipeline.
type Table struct {
	Name    string
	Columns []Column
	// MistakeAliases maps plausible-but-wrong column names to the
	// correct ones, collected from production validation failures.
	MistakeAliases map[string]string
}

// SchemaCatalog is the read-only catalog of known tables. Constructed
// once at process start and injected; never mutated afterwards.
type SchemaCatalog interface {
	// SchemaFor returns metadata for a table, or false if unknown.
	SchemaFor(tableName string) (*Table, bool)

	// Tables returns all known table names, sorted.
	Tables() []string
}

type staticCatalog struct {
	tables map[string]*Table
}

// NewCatalog builds a catalog from a fixed table list.
func NewCatalog(tables []*Table) SchemaCatalog {
	byName := make(map[string]*Table, len(tables))
	for _, t := range tables {
		byName[strings.ToLower(t.Name)] = t
	}
	return &staticCatalog{tables: byName}
}

func (c *staticCatalog) SchemaFor(tableName string) (*Table, bool) {
	t, ok := c.tables[strings.ToLower(tableName)]
	return t, ok
}

func (c *staticCatalog) Tables() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultCatalog returns the built-in warehouse schema for the social
// content analytics domain.
func DefaultCatalog() SchemaCatalog {
	return NewCatalog([]*Table{
		{
			Name: "posts",
			Columns: []Column{
				{Name: "post_id", Type: "text"},
				{Name: "user_id", Type: "text", Note: "owner of the post; every query must filter on it"},
				{Name: "platform", Type: "text", Note: "one of: instagram, youtube, twitter"},
				{Name: "title", Type: "text"},
				{Name: "published_at", Type: "timestamp"},
				{Name: "like_count", Type: "bigint", Note: "often misnamed 'likes'"},
				{Name: "comment_count", Type: "bigint", Note: "often misnamed 'comments'"},
				{Name: "share_count", Type: "bigint"},
				{Name: "view_count", Type: "bigint", Note: "often misnamed 'views'"},
				{Name: "engagement_score", Type: "double precision", Note: "weighted composite; often misnamed 'engagement'"},
			},
			MistakeAliases: map[string]string{
				"likes":      "like_count",
				"comments":   "comment_count",
				"shares":     "share_count",
				"views":      "view_count",
				"engagement": "engagement_score",
				"created_at": "published_at",
				"id":         "post_id",
			},
		},
		{
			Name: "engagement_daily",
			Columns: []Column{
				{Name: "user_id", Type: "text"},
				{Name: "platform", Type: "text"},
				{Name: "day", Type: "date", Note: "often misnamed 'date'"},
				{Name: "impressions", Type: "bigint"},
				{Name: "engagements", Type: "bigint"},
				{Name: "engagement_rate", Type: "double precision"},
			},
			MistakeAliases: map[string]string{
				"date":  "day",
				"rate":  "engagement_rate",
				"impr":  "impressions",
				"reach": "impressions",
			},
		},
		{
			Name: "followers_daily",
			Columns: []Column{
				{Name: "user_id", Type: "text"},
				{Name: "platform", Type: "text"},
				{Name: "day", Type: "date"},
				{Name: "follower_count", Type: "bigint", Note: "often misnamed 'followers'"},
				{Name: "net_change", Type: "bigint"},
			},
			MistakeAliases: map[string]string{
				"followers": "follower_count",
				"date":      "day",
				"growth":    "net_change",
			},
		},
	})
}

// PromptSchema renders the catalog for inclusion in an LLM prompt,
// column notes included so known naming mistakes are preempted.
func PromptSchema(catalog SchemaCatalog) string {
	var sb strings.Builder
	for _, name := range catalog.Tables() {
		table, ok := catalog.SchemaFor(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "table %s:\n", table.Name)
		for _, col := range table.Columns {
			if col.Note != "" {
				fmt.Fprintf(&sb, "  - %s (%s) -- %s\n", col.Name, col.Type, col.Note)
			} else {
				fmt.Fprintf(&sb, "  - %s (%s)\n", col.Name, col.Type)
			}
		}
	}
	return sb.String()
}
