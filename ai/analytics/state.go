// Package analytics implements the workflow state machine that answers
// natural-language analytics questions: classification, planning,
// SQL synthesis and validation, execution, interpretation, and
// formatting, with bounded retry loops between stages.
package analytics

import (
	"github.com/lithammer/shortuuid/v4"

	"github.com/insightgrid/insightgrid/ai/queryengine"
)

// Step names the next node to run. The orchestrator owns the mapping
// from Step to node; nodes only ever set state.NextStep.
type Step string

const (
	StepClassify    Step = "classify"
	StepPlan        Step = "plan"
	StepRoute       Step = "route"
	StepSynthesize  Step = "synthesize"
	StepValidateSQL Step = "validate_sql"
	StepExecute     Step = "execute"
	StepInterpret   Step = "interpret"
	StepScore       Step = "score_interpretation"
	StepFormat      Step = "format"
	StepFinalize    Step = "finalize"
	StepTerminal    Step = "terminal"
)

// Retry budgets. Exhausting a budget forces forward progress with the
// best-effort result; it never fails the run.
const (
	MaxSQLRetries            = 3
	MaxInterpretationRetries = 2
)

// ExecutionStatus tracks the query execution stage.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
)

// SQLValidation is the outcome of the layered SQL validation pass.
type SQLValidation struct {
	Accepted        bool     `json:"accepted"`
	Findings        []string `json:"findings,omitempty"`
	ComplexityScore int      `json:"complexity_score"`
	Hints           []string `json:"hints,omitempty"`
	Confidence      float64  `json:"confidence"`
}

// Feedback joins the findings into retry feedback for the synthesizer.
func (v *SQLValidation) Feedback() string {
	if v == nil || len(v.Findings) == 0 {
		return ""
	}
	out := ""
	for i, f := range v.Findings {
		if i > 0 {
			out += "\n"
		}
		out += "- " + f
	}
	return out
}

// InterpretationValidation is the rubric score for a narrative.
type InterpretationValidation struct {
	Accepted bool   `json:"accepted"`
	Score    int    `json:"score"` // 0-100
	Feedback string `json:"feedback,omitempty"`
}

// Metadata is returned to the caller for observability and debugging.
// It is never consulted for control flow.
type Metadata struct {
	PlanSummary            string   `json:"plan_summary,omitempty"`
	Complexity             string   `json:"complexity,omitempty"`
	Branch                 string   `json:"branch,omitempty"`
	UsedTemplate           bool     `json:"used_template"`
	TemplateName           string   `json:"template_name,omitempty"`
	SQLRetries             int      `json:"sql_retries"`
	SQLValidationSummary   string   `json:"sql_validation_summary,omitempty"`
	InterpretationRetries  int      `json:"interpretation_retries"`
	InterpretationSummary  string   `json:"interpretation_summary,omitempty"`
	ExecutionCategory      string   `json:"execution_category,omitempty"`
	DegradedSQL            bool     `json:"degraded_sql"`
	DegradedInterpretation bool     `json:"degraded_interpretation"`
	Notes                  []string `json:"notes,omitempty"`
}

// RunState is the single mutable record threaded through every node
// for one query. It is task-local: one goroutine mutates it at a time
// and it is discarded after the terminal node.
type RunState struct {
	// Identity. UserID is set at creation and no node may clear it.
	RunID          string
	UserID         string
	ConversationID string
	Query          string

	// Context for prompt construction only; never validated.
	ConversationSummary string
	Profile             map[string]string

	// Plan stage.
	Plan *Plan

	// SQL stage.
	CandidateSQL   string
	UsedTemplate   bool
	TemplateName   string
	TemplateParams map[string]string
	SQLValidation  *SQLValidation
	SQLRetryCount  int

	// Execution stage.
	ExecutionStatus ExecutionStatus
	Rows            *queryengine.Rows
	ExecError       *queryengine.Error

	// Interpretation stage.
	Narrative                string
	InterpretationValidation *InterpretationValidation
	InterpretationRetryCount int

	// Output stage.
	FormattedOutput string

	// Control.
	NextStep         Step
	EarlyExitMessage string
	FinalResponse    string
	Metadata         Metadata

	progress ProgressSink
	finished bool
}

// NewRunState creates the state for one incoming query.
// userID must be non-empty; the caller validates before entry.
func NewRunState(userID, conversationID, query string) *RunState {
	return &RunState{
		RunID:           "run_" + shortuuid.New(),
		UserID:          userID,
		ConversationID:  conversationID,
		Query:           query,
		ExecutionStatus: ExecutionPending,
		NextStep:        StepClassify,
	}
}

// Finished reports whether the run has already terminated.
func (s *RunState) Finished() bool {
	return s.finished
}

// markFinished records termination. The orchestrator calls this exactly
// once, in the terminal node.
func (s *RunState) markFinished() {
	s.finished = true
}
