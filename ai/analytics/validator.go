package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/insightgrid/insightgrid/ai/core/llm"
	"github.com/insightgrid/insightgrid/ai/prompts"
)

// SQLValidator runs the layered validation pass over candidate SQL.
// The deterministic stages are authoritative: the LLM-backed holistic
// stage can reject but never overturn a deterministic rejection. The
// user_id filter check is the security invariant of the whole system.
type SQLValidator struct {
	catalog  SchemaCatalog
	llm      llm.Service // optional; nil disables the holistic LLM judgement
	registry *prompts.Registry
}

// NewSQLValidator creates a validator. llmService may be nil.
func NewSQLValidator(catalog SchemaCatalog, llmService llm.Service, registry *prompts.Registry) *SQLValidator {
	return &SQLValidator{catalog: catalog, llm: llmService, registry: registry}
}

// Validate runs all stages and returns the combined decision. It never
// returns an error for a bad statement; a bad statement is a rejection.
func (v *SQLValidator) Validate(ctx context.Context, state *RunState) *SQLValidation {
	result := &SQLValidation{Accepted: true, Confidence: 1.0}
	sql := state.CandidateSQL

	// Stage 1: syntax sanity. Failure short-circuits; the later
	// stages assume a roughly SELECT-shaped statement.
	if findings := checkSyntax(sql); len(findings) > 0 {
		result.Accepted = false
		result.Confidence = 0
		result.Findings = findings
		return result
	}

	// Stage 2: complexity scoring. Informational only, never a
	// rejection reason on its own.
	result.ComplexityScore, result.Hints = scoreComplexity(sql)

	// Stage 3: required user_id filter. Non-negotiable.
	if findings := v.checkUserFilter(sql, state.UserID); len(findings) > 0 {
		result.Accepted = false
		result.Findings = append(result.Findings, findings...)
	}

	// Stage 4: schema cross-reference.
	rejects, warnings := v.checkSchema(sql)
	result.Findings = append(result.Findings, rejects...)
	result.Hints = append(result.Hints, warnings...)
	if len(rejects) > 0 {
		result.Accepted = false
	}

	// Stage 5: holistic pass. May add a rejection; a deterministic
	// rejection always stands regardless of what the LLM thinks.
	v.holisticPass(ctx, state, sql, result)

	if !result.Accepted && result.Confidence > 0.4 {
		result.Confidence = 0.4
	}

	slog.Info("sqlvalidator: decision",
		"run_id", state.RunID,
		"accepted", result.Accepted,
		"findings", len(result.Findings),
		"complexity", result.ComplexityScore,
		"confidence", result.Confidence)

	return result
}

// checkSyntax performs cheap structural sanity checks.
func checkSyntax(sql string) []string {
	var findings []string
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return []string{"no SQL statement was produced"}
	}

	lower := strings.ToLower(trimmed)
	if !strings.Contains(lower, "select") {
		findings = append(findings, "statement has no SELECT keyword")
	}
	if !strings.Contains(lower, "from") {
		findings = append(findings, "statement has no FROM clause")
	}

	depth := 0
	inString := false
	for _, r := range trimmed {
		switch {
		case r == '\'':
			inString = !inString
		case inString:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				findings = append(findings, "unbalanced parentheses")
				return findings
			}
		}
	}
	if depth != 0 {
		findings = append(findings, "unbalanced parentheses")
	}
	if inString {
		findings = append(findings, "unterminated string literal")
	}
	return findings
}

var (
	joinRegex     = regexp.MustCompile(`(?i)\bjoin\b`)
	subqueryRegex = regexp.MustCompile(`(?i)\(\s*select\b`)
	aggRegex      = regexp.MustCompile(`(?i)\b(sum|avg|count|min|max)\s*\(`)
	windowRegex   = regexp.MustCompile(`(?i)\bover\s*\(`)
	caseRegex     = regexp.MustCompile(`(?i)\bcase\s+when\b`)
)

// scoreComplexity produces the 0-10 heuristic score plus optimization
// hints. The score is non-decreasing in every counted construct.
func scoreComplexity(sql string) (int, []string) {
	joins := len(joinRegex.FindAllString(sql, -1))
	subqueries := len(subqueryRegex.FindAllString(sql, -1))
	aggregations := len(aggRegex.FindAllString(sql, -1))
	windows := len(windowRegex.FindAllString(sql, -1))
	cases := len(caseRegex.FindAllString(sql, -1))

	score := joins*2 + subqueries*2 + windows*2 + aggregations + cases
	if score > 10 {
		score = 10
	}

	var hints []string
	if joins > 2 {
		hints = append(hints, fmt.Sprintf("%d joins; consider whether a single table answers the question", joins))
	}
	if subqueries > 1 {
		hints = append(hints, "multiple subqueries; a CTE is usually easier for the engine to plan")
	}
	if score >= 8 {
		hints = append(hints, "high complexity; narrowing the date range will speed this up")
	}
	return score, hints
}

var (
	fromTableRegex = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-z_][a-z0-9_]*)(?:\s+(?:as\s+)?([a-z_][a-z0-9_]*))?`)
	userEqRegex    = regexp.MustCompile(`(?i)(?:([a-z_][a-z0-9_]*)\.)?user_id\s*=\s*('[^']*'|[a-z_][a-z0-9_]*\.user_id)`)
)

// reservedAfterTable are keywords the table-alias capture must not
// swallow (e.g. "FROM posts WHERE ..." has no alias).
var reservedAfterTable = map[string]bool{
	"where": true, "on": true, "join": true, "inner": true, "left": true,
	"right": true, "full": true, "cross": true, "group": true, "order": true,
	"limit": true, "having": true, "union": true, "as": true, "using": true,
}

type tableRef struct {
	table string
	alias string
}

func referencedTables(sql string) []tableRef {
	var refs []tableRef
	for _, m := range fromTableRegex.FindAllStringSubmatch(sql, -1) {
		ref := tableRef{table: strings.ToLower(m[1])}
		alias := strings.ToLower(m[2])
		if alias != "" && !reservedAfterTable[alias] {
			ref.alias = alias
		}
		if reservedAfterTable[ref.table] {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// checkUserFilter verifies the statement is scoped to the querying
// user. With a single table, a bare `user_id = '<uid>'` suffices. With
// joins, every table's scope must be constrained: either directly to
// the uid literal, or by equality to another table's user_id that is
// itself constrained (one transitive hop).
func (v *SQLValidator) checkUserFilter(sql, userID string) []string {
	refs := referencedTables(sql)
	matches := userEqRegex.FindAllStringSubmatch(sql, -1)

	literal := "'" + escapeLiteral(userID) + "'"

	// qualifier -> constrained directly to the literal
	direct := map[string]bool{}
	// qualifier -> qualifiers it is tied to by user_id equality
	tied := map[string][]string{}

	anyDirect := false
	for _, m := range matches {
		qualifier := strings.ToLower(m[1]) // may be empty for bare user_id
		rhs := strings.ToLower(m[2])
		if rhs == strings.ToLower(literal) {
			direct[qualifier] = true
			anyDirect = true
			continue
		}
		if strings.HasSuffix(rhs, ".user_id") {
			other := strings.TrimSuffix(rhs, ".user_id")
			tied[qualifier] = append(tied[qualifier], other)
			tied[other] = append(tied[other], qualifier)
		} else if strings.HasPrefix(rhs, "'") {
			// user_id compared against some other literal; that is a
			// scoping violation, not a scoping filter.
			return []string{fmt.Sprintf("user_id is filtered to %s instead of the querying user; use user_id = %s", m[2], literal)}
		}
	}

	if !anyDirect {
		return []string{fmt.Sprintf("missing required filter: add user_id = %s to the WHERE clause (every table must be scoped to the querying user)", literal)}
	}

	if len(refs) <= 1 {
		return nil
	}

	// Multi-table: each table (by alias or name) must be constrained.
	var findings []string
	for _, ref := range refs {
		name := ref.alias
		if name == "" {
			name = ref.table
		}
		// A bare, unqualified user_id filter does not count here: with
		// more than one table it is ambiguous at best.
		if direct[name] {
			continue
		}
		constrained := false
		for _, other := range tied[name] {
			if direct[other] {
				constrained = true
				break
			}
		}
		if !constrained {
			findings = append(findings,
				fmt.Sprintf("table %s is not scoped to the querying user: add %s.user_id = %s or join on %s.user_id", ref.table, name, literal, name))
		}
	}
	return findings
}

var identifierRegex = regexp.MustCompile(`(?i)\b[a-z_][a-z0-9_]*\b`)

// sqlKeywords are tokens the schema cross-reference must ignore.
var sqlKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "and": true, "or": true,
	"not": true, "as": true, "on": true, "join": true, "inner": true,
	"left": true, "right": true, "full": true, "outer": true, "cross": true,
	"group": true, "by": true, "order": true, "asc": true, "desc": true,
	"limit": true, "offset": true, "having": true, "distinct": true,
	"case": true, "when": true, "then": true, "else": true, "end": true,
	"between": true, "in": true, "like": true, "ilike": true, "is": true,
	"null": true, "true": true, "false": true, "union": true, "all": true,
	"interval": true, "current_date": true, "current_timestamp": true, "now": true,
	"sum": true, "avg": true, "count": true, "min": true, "max": true,
	"coalesce": true, "cast": true, "extract": true, "date_trunc": true,
	"over": true, "partition": true, "row_number": true, "rank": true,
	"with": true, "using": true, "exists": true, "round": true, "abs": true,
	"days": true, "day": true, "months": true, "month": true, "years": true, "year": true,
}

// checkSchema cross-references identifiers against the catalog.
// A known-mistake alias is a rejection with the correct name attached;
// other unrecognized identifiers become hints only, since the
// tokenizer cannot tell a column from an output alias.
func (v *SQLValidator) checkSchema(sql string) (rejects []string, warnings []string) {
	refs := referencedTables(sql)

	known := map[string]bool{}
	aliasFix := map[string]string{}
	for _, ref := range refs {
		known[ref.table] = true
		if ref.alias != "" {
			known[ref.alias] = true
		}
		table, ok := v.catalog.SchemaFor(ref.table)
		if !ok {
			rejects = append(rejects, fmt.Sprintf("unknown table %q; available tables: %s", ref.table, strings.Join(v.catalog.Tables(), ", ")))
			continue
		}
		for _, col := range table.Columns {
			known[strings.ToLower(col.Name)] = true
		}
		for wrong, right := range table.MistakeAliases {
			aliasFix[strings.ToLower(wrong)] = right
		}
	}

	// Strip string literals before tokenizing.
	stripped := regexp.MustCompile(`'[^']*'`).ReplaceAllString(sql, "''")

	seen := map[string]bool{}
	for _, token := range identifierRegex.FindAllString(stripped, -1) {
		lower := strings.ToLower(token)
		if sqlKeywords[lower] || known[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		if right, ok := aliasFix[lower]; ok {
			rejects = append(rejects, fmt.Sprintf("column %q does not exist; use %q", token, right))
		} else {
			warnings = append(warnings, fmt.Sprintf("identifier %q is not in the schema catalog", token))
		}
	}
	return rejects, warnings
}

// holisticPass asks the LLM whether the query answers the original
// question and folds the judgement into the decision. Deterministic
// findings are authoritative; the LLM can only add a rejection.
func (v *SQLValidator) holisticPass(ctx context.Context, state *RunState, sql string, result *SQLValidation) {
	if v.llm == nil || v.registry == nil {
		return
	}
	// Pointless to spend an LLM call on a statement already rejected.
	if !result.Accepted {
		return
	}

	prompt, err := v.registry.Render(prompts.PromptSQLReview, map[string]any{
		"Query":    state.Query,
		"SQL":      sql,
		"Findings": strings.Join(append(append([]string{}, result.Findings...), result.Hints...), "\n"),
	})
	if err != nil {
		slog.Warn("sqlvalidator: review prompt failed", "run_id", state.RunID, "error", err)
		return
	}

	response, _, err := v.llm.Chat(ctx, []llm.Message{llm.UserMessage(prompt)})
	if err != nil {
		// Review is advisory; on failure the deterministic decision stands.
		slog.Warn("sqlvalidator: holistic review unavailable", "run_id", state.RunID, "error", err)
		return
	}

	var review struct {
		AnswersQuestion bool    `json:"answers_question"`
		Confidence      float64 `json:"confidence"`
		Reason          string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(response)), &review); err != nil {
		slog.Warn("sqlvalidator: unparsable review", "run_id", state.RunID, "error", err)
		return
	}

	if review.Confidence > 0 && review.Confidence <= 1 {
		result.Confidence = review.Confidence
	}
	if !review.AnswersQuestion {
		result.Accepted = false
		reason := review.Reason
		if reason == "" {
			reason = "the statement does not answer the original question"
		}
		result.Findings = append(result.Findings, reason)
	}
}
