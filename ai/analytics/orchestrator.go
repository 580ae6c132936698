package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// defaultMaxTransitions is a hard cap on node transitions per run, a
// second line of defense behind the per-loop retry counters.
const defaultMaxTransitions = 64

// genericFailureMessage is the last resort of the terminal fallback chain.
const genericFailureMessage = "I wasn't able to produce an answer for that question. Please try rephrasing it."

// degradedNotice is appended to the response when a retry budget was
// exhausted without meeting the acceptance bar.
const degradedNotice = "\n\n_Note: this answer did not pass all quality checks; treat the details with care._"

// Pipeline owns the nodes and drives one run to termination.
type Pipeline struct {
	classifier  *Classifier
	planner     *Planner
	router      *Router
	synthesizer *Synthesizer
	validator   *SQLValidator
	executor    *Executor
	interpreter *Interpreter
	scorer      *InterpretationScorer
	formatter   *Formatter

	progress       ProgressSink
	metrics        *Metrics
	maxTransitions int
}

// PipelineConfig wires the pipeline's collaborators.
type PipelineConfig struct {
	Classifier  *Classifier
	Planner     *Planner
	Router      *Router
	Synthesizer *Synthesizer
	Validator   *SQLValidator
	Executor    *Executor
	Interpreter *Interpreter
	Scorer      *InterpretationScorer
	Formatter   *Formatter
	Progress    ProgressSink // optional
	Metrics     *Metrics     // optional
}

// NewPipeline assembles the workflow.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	progress := cfg.Progress
	if progress == nil {
		progress = NopProgress
	}
	return &Pipeline{
		classifier:  cfg.Classifier,
		planner:     cfg.Planner,
		router:      cfg.Router,
		synthesizer: cfg.Synthesizer,
		validator:   cfg.Validator,
		executor:    cfg.Executor,
		interpreter: cfg.Interpreter,
		scorer:      cfg.Scorer,
		formatter:   cfg.Formatter,
		progress:       progress,
		metrics:        cfg.Metrics,
		maxTransitions: defaultMaxTransitions,
	}
}

// Request is one incoming analytics question. Progress, when set,
// receives the node-by-node events of this run (and of any comparison
// sub-runs) in addition to the pipeline-wide sink.
type Request struct {
	UserID              string
	ConversationID      string
	Query               string
	ConversationSummary string
	Profile             map[string]string
	Progress            ProgressSink
}

// Answer processes one query to a terminal state. The returned state
// always carries a non-empty FinalResponse unless the context was
// cancelled, in which case the error is returned and the partial state
// must not be treated as a result.
func (p *Pipeline) Answer(ctx context.Context, req Request) (*RunState, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("analytics: user id is required")
	}

	// The comparison check spawns sub-runs, so it is resolved before
	// the node loop starts.
	classification := p.classifier.Classify(req.Query)
	if classification.Kind == ClassificationComparison {
		return p.answerComparison(ctx, req, classification)
	}

	state := newStateFromRequest(req)
	if err := p.runLoop(ctx, state, ""); err != nil {
		return nil, err
	}
	return state, nil
}

func newStateFromRequest(req Request) *RunState {
	state := NewRunState(req.UserID, req.ConversationID, req.Query)
	state.ConversationSummary = req.ConversationSummary
	state.Profile = req.Profile
	state.progress = req.Progress
	return state
}

// emit fires a progress event to the pipeline sink and, when present,
// the per-request sink.
func (p *Pipeline) emit(state *RunState, stage Step, message string) {
	emitProgress(p.progress, state.RunID, stage, message)
	if state.progress != nil {
		emitProgress(state.progress, state.RunID, stage, message)
	}
}

// runLoop drives the state machine until the terminal step. stopBefore
// optionally halts the run before a step is entered (used by the
// comparison combiner to take over before formatting).
func (p *Pipeline) runLoop(ctx context.Context, state *RunState, stopBefore Step) error {
	startTime := time.Now()
	slog.Info("pipeline: run started",
		"run_id", state.RunID,
		"user_id", state.UserID,
		"query_length", len(state.Query))

	for transitions := 0; ; transitions++ {
		if err := ctx.Err(); err != nil {
			// A cancelled run never emits a final response.
			slog.Warn("pipeline: run cancelled", "run_id", state.RunID, "step", state.NextStep)
			return err
		}
		step := state.NextStep
		if step == StepTerminal {
			break
		}
		if stopBefore != "" && step == stopBefore {
			return nil
		}
		// The cap forces the run into terminal assembly. A run already
		// finalizing must be left alone or it would never reach the
		// terminal step.
		if transitions >= p.maxTransitions && step != StepFinalize {
			slog.Error("pipeline: transition cap reached, forcing termination",
				"run_id", state.RunID, "step", step)
			state.Metadata.Notes = append(state.Metadata.Notes, "transition cap reached")
			state.NextStep = StepFinalize
			step = StepFinalize
		}

		stepStart := time.Now()
		p.emit(state, step, string(step))

		if err := p.runStep(ctx, state, step); err != nil {
			return err
		}
		p.metrics.observeStage(step, time.Since(stepStart))

		if state.NextStep == step {
			return fmt.Errorf("pipeline: node %q did not advance", step)
		}
	}

	p.emit(state, StepTerminal, "done")
	slog.Info("pipeline: run finished",
		"run_id", state.RunID,
		"user_id", state.UserID,
		"degraded_sql", state.Metadata.DegradedSQL,
		"degraded_interpretation", state.Metadata.DegradedInterpretation,
		"duration_ms", time.Since(startTime).Milliseconds())
	return nil
}

// runStep executes a single node. Nodes set NextStep; all retry edges
// are decided here so the loop bounds live in one place.
func (p *Pipeline) runStep(ctx context.Context, state *RunState, step Step) error {
	switch step {
	case StepClassify:
		return p.stepClassify(state)
	case StepPlan:
		return p.stepPlan(ctx, state)
	case StepRoute:
		return p.stepRoute(state)
	case StepSynthesize:
		if err := p.synthesizer.Synthesize(ctx, state); err != nil {
			return err
		}
		if state.UsedTemplate {
			p.metrics.countSynthesis("template")
		} else {
			p.metrics.countSynthesis("llm")
		}
		state.NextStep = StepValidateSQL
		return nil
	case StepValidateSQL:
		return p.stepValidateSQL(ctx, state)
	case StepExecute:
		if err := p.executor.Execute(ctx, state); err != nil {
			return err
		}
		state.Metadata.ExecutionCategory = executionCategory(state)
		state.NextStep = StepInterpret
		return nil
	case StepInterpret:
		if err := p.interpreter.Interpret(ctx, state); err != nil {
			return err
		}
		if state.ExecutionStatus == ExecutionError {
			// Deterministic error narrative: no scoring, no formatting.
			state.NextStep = StepFormat
		} else {
			state.NextStep = StepScore
		}
		return nil
	case StepScore:
		return p.stepScore(ctx, state)
	case StepFormat:
		if err := p.formatter.Format(ctx, state); err != nil {
			return err
		}
		state.NextStep = StepFinalize
		return nil
	case StepFinalize:
		p.finalize(state)
		state.NextStep = StepTerminal
		return nil
	default:
		return fmt.Errorf("pipeline: unknown step %q", step)
	}
}

func (p *Pipeline) stepClassify(state *RunState) error {
	classification := p.classifier.Classify(state.Query)
	switch classification.Kind {
	case ClassificationDataInquiry, ClassificationOutOfScope, ClassificationAmbiguous:
		state.EarlyExitMessage = classification.Message
		state.Metadata.Notes = append(state.Metadata.Notes, "early exit: "+string(classification.Kind))
		state.NextStep = StepFinalize
	case ClassificationComparison:
		// Comparison is resolved in Answer before the loop; reaching
		// it here means a sub-run re-matched, which must not recurse.
		state.Metadata.Notes = append(state.Metadata.Notes, "nested comparison ignored")
		state.NextStep = StepPlan
	default:
		state.NextStep = StepPlan
	}
	return nil
}

func (p *Pipeline) stepPlan(ctx context.Context, state *RunState) error {
	plan, err := p.planner.Generate(ctx, state)
	if err != nil {
		return err
	}
	state.Plan = plan
	state.Metadata.PlanSummary = plan.Summary()
	state.Metadata.Complexity = plan.Complexity
	if plan.Fallback {
		state.Metadata.Notes = append(state.Metadata.Notes, "plan fallback used")
	}
	state.NextStep = StepRoute
	return nil
}

func (p *Pipeline) stepRoute(state *RunState) error {
	branch, err := p.router.Route(state.Plan)
	if err != nil {
		// An unroutable plan degrades to the default branch rather
		// than failing the run.
		slog.Warn("pipeline: routing failed, using data analytics branch",
			"run_id", state.RunID, "error", err)
		branch = BranchDataAnalytics
		state.Metadata.Notes = append(state.Metadata.Notes, "routing fallback used")
	}
	state.Metadata.Branch = string(branch)
	state.NextStep = StepSynthesize
	return nil
}

func (p *Pipeline) stepValidateSQL(ctx context.Context, state *RunState) error {
	result := p.validator.Validate(ctx, state)
	state.SQLValidation = result
	state.Metadata.SQLValidationSummary = validationSummary(result)

	if result.Accepted {
		state.NextStep = StepExecute
		return nil
	}
	if state.SQLRetryCount < MaxSQLRetries {
		state.SQLRetryCount++
		state.Metadata.SQLRetries = state.SQLRetryCount
		p.metrics.countRetry("sql")
		slog.Info("pipeline: SQL rejected, retrying synthesis",
			"run_id", state.RunID,
			"retry", state.SQLRetryCount,
			"findings", result.Findings)
		state.NextStep = StepSynthesize
		return nil
	}

	// Budget exhausted: force forward progress with the best effort.
	state.Metadata.DegradedSQL = true
	p.metrics.countDegraded("sql")
	slog.Warn("pipeline: SQL retry budget exhausted, executing best effort",
		"run_id", state.RunID, "findings", result.Findings)
	state.NextStep = StepExecute
	return nil
}

func (p *Pipeline) stepScore(ctx context.Context, state *RunState) error {
	result := p.scorer.Score(ctx, state)
	state.InterpretationValidation = result
	state.Metadata.InterpretationSummary = fmt.Sprintf("score=%d accepted=%t", result.Score, result.Accepted)

	if result.Accepted {
		state.NextStep = StepFormat
		return nil
	}
	if state.InterpretationRetryCount < MaxInterpretationRetries {
		state.InterpretationRetryCount++
		state.Metadata.InterpretationRetries = state.InterpretationRetryCount
		p.metrics.countRetry("interpretation")
		slog.Info("pipeline: narrative rejected, retrying interpretation",
			"run_id", state.RunID,
			"retry", state.InterpretationRetryCount,
			"score", result.Score)
		state.NextStep = StepInterpret
		return nil
	}

	state.Metadata.DegradedInterpretation = true
	p.metrics.countDegraded("interpretation")
	slog.Warn("pipeline: interpretation retry budget exhausted, accepting best effort",
		"run_id", state.RunID, "score", result.Score)
	state.NextStep = StepFormat
	return nil
}

// finalize performs terminal assembly: the fallback chain for the
// final response plus metadata for observability. Runs exactly once.
func (p *Pipeline) finalize(state *RunState) {
	if state.Finished() {
		return
	}

	switch {
	case state.FormattedOutput != "":
		state.FinalResponse = state.FormattedOutput
	case state.Narrative != "":
		state.FinalResponse = state.Narrative
	case state.EarlyExitMessage != "":
		state.FinalResponse = state.EarlyExitMessage
	default:
		state.FinalResponse = genericFailureMessage
	}

	if state.Metadata.DegradedSQL || state.Metadata.DegradedInterpretation {
		state.FinalResponse += degradedNotice
	}

	state.Metadata.UsedTemplate = state.UsedTemplate
	state.Metadata.TemplateName = state.TemplateName
	state.markFinished()
	p.metrics.countRun(runOutcome(state))
}

func runOutcome(state *RunState) string {
	switch {
	case state.EarlyExitMessage != "" && state.Narrative == "":
		return "early_exit"
	case state.ExecutionStatus == ExecutionError:
		return "execution_error"
	case state.Metadata.DegradedSQL || state.Metadata.DegradedInterpretation:
		return "degraded"
	default:
		return "success"
	}
}

func executionCategory(state *RunState) string {
	if state.ExecError != nil {
		return string(state.ExecError.Category)
	}
	return ""
}

func validationSummary(v *SQLValidation) string {
	return fmt.Sprintf("accepted=%t findings=%d complexity=%d confidence=%.2f",
		v.Accepted, len(v.Findings), v.ComplexityScore, v.Confidence)
}
