package prompts

// Built-in prompt names used by the analytics pipeline.
const (
	PromptPlan           = "analytics_plan"
	PromptSQLGenerate    = "analytics_sql_generate"
	PromptSQLReview      = "analytics_sql_review"
	PromptInterpret      = "analytics_interpret"
	PromptInterpretScore = "analytics_interpret_score"
	PromptFormatResponse = "analytics_format_response"
)

const planPromptBody = `You are the planning component of a data analytics assistant.

User question:
{{.Query}}

Conversation summary (may be empty):
{{.ConversationSummary}}

User profile context (free-form, may be empty):
{{.Profile}}

Produce ONLY a JSON object of the form:
{"analysis": "<one sentence>", "complexity": "low|medium|high", "steps": [{"agent": "data_analytics", "description": "<what to do>"}]}

Rules:
- The only available agent today is "data_analytics".
- One step is almost always enough.
- Do not wrap the JSON in markdown fences.`

const sqlGeneratePromptBody = `You write a single {{.Dialect}} SELECT statement answering an analytics question.

Question:
{{.Query}}

The querying user's id is {{.UserID}}. Every table you touch MUST be
filtered with user_id = '{{.UserID}}'. The engine applies no implicit
scoping; omitting the filter is a hard failure.

Available tables and columns:
{{.Schema}}
{{if .Feedback}}
A previous attempt was rejected. Fix these findings:
{{.Feedback}}
{{end}}
Respond with the SQL statement only. No commentary, no markdown fences.`

const sqlReviewPromptBody = `You review a SQL statement for whether it answers the user's question.

Question:
{{.Query}}

SQL:
{{.SQL}}

Deterministic findings already collected:
{{.Findings}}

Respond ONLY with JSON: {"answers_question": true|false, "confidence": 0.0-1.0, "reason": "<one sentence>"}`

const interpretPromptBody = `You are a data analyst writing for a non-technical user.

Original question:
{{.Query}}

Query result ({{.RowCount}} rows, columns: {{.Columns}}):
{{.Rows}}

Conversation summary:
{{.ConversationSummary}}

User profile context:
{{.Profile}}
{{if .Feedback}}
A previous draft was rejected by review. Address this feedback:
{{.Feedback}}
{{end}}
Write a narrative analysis that:
- states what the data shows with quantitative context (comparisons, rates, trends), not just a restatement of the numbers
- includes at least one concrete, actionable recommendation
- stays grounded in the rows above; never invent figures`

const interpretScorePromptBody = `Score the analysis below against the rubric. Respond ONLY with JSON:
{"correctness": 0-20, "context": 0-20, "actionability": 0-20, "clarity": 0-20, "completeness": 0-20, "feedback": "<what to improve>"}

Question:
{{.Query}}

Data (columns: {{.Columns}}):
{{.Rows}}

Analysis to score:
{{.Narrative}}`

const formatResponsePromptBody = `Restructure the analysis below into a presentation-ready document.

Use this shape:
- a one-line headline
- a "Key findings" section with short bullet points (bold the numbers)
- a "Recommended actions" list

Keep every figure exactly as written. Do not add new claims.

Analysis:
{{.Narrative}}`

// RegisterDefaults registers the built-in pipeline prompts.
func RegisterDefaults(r *Registry) error {
	builtins := []struct {
		name, version, body string
	}{
		{PromptPlan, "v2", planPromptBody},
		{PromptSQLGenerate, "v3", sqlGeneratePromptBody},
		{PromptSQLReview, "v1", sqlReviewPromptBody},
		{PromptInterpret, "v2", interpretPromptBody},
		{PromptInterpretScore, "v1", interpretScorePromptBody},
		{PromptFormatResponse, "v1", formatResponsePromptBody},
	}
	for _, b := range builtins {
		if err := r.Register(b.name, b.version, b.body); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry preloaded with the built-in prompts.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	if err := RegisterDefaults(r); err != nil {
		// Built-in templates are compile-time constants; a parse failure
		// is a programming error.
		panic(err)
	}
	return r
}
