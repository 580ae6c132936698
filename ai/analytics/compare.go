package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/insightgrid/insightgrid/ai/queryengine"
)

// answerComparison handles an "A vs B" query: two independent sub-runs
// execute concurrently, their narratives are merged by the combiner,
// and the merged narrative goes through formatting and terminal
// assembly as one response. One side failing does not sink the other;
// the combined answer says explicitly which side has no data.
func (p *Pipeline) answerComparison(ctx context.Context, req Request, classification *Classification) (*RunState, error) {
	if len(classification.SubQueries) != 2 {
		return nil, fmt.Errorf("analytics: comparison split produced %d sub-queries, want 2", len(classification.SubQueries))
	}

	parent := newStateFromRequest(req)
	parent.Metadata.Notes = append(parent.Metadata.Notes, "comparison split")
	slog.Info("pipeline: comparison split",
		"run_id", parent.RunID,
		"left", classification.SubQueries[0],
		"right", classification.SubQueries[1])

	subs := make([]*RunState, 2)
	group, groupCtx := errgroup.WithContext(ctx)
	for i, subQuery := range classification.SubQueries {
		subReq := req
		subReq.Query = subQuery
		state := newStateFromRequest(subReq)
		// Sub-queries were already classified as part of the split;
		// start directly at planning.
		state.NextStep = StepPlan
		subs[i] = state

		group.Go(func() error {
			return p.runLoop(groupCtx, state, StepFormat)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	p.combine(parent, subs[0], subs[1])

	parent.NextStep = StepFormat
	if err := p.runLoop(ctx, parent, ""); err != nil {
		return nil, err
	}
	return parent, nil
}

// combine merges two completed sub-runs onto the parent state.
func (p *Pipeline) combine(parent, left, right *RunState) {
	var sb strings.Builder
	sb.WriteString(comparisonSection(left))
	sb.WriteString("\n\n")
	sb.WriteString(comparisonSection(right))

	leftOK := left.ExecutionStatus == ExecutionSuccess
	rightOK := right.ExecutionStatus == ExecutionSuccess
	switch {
	case leftOK && rightOK:
		parent.ExecutionStatus = ExecutionSuccess
	case leftOK || rightOK:
		parent.ExecutionStatus = ExecutionSuccess
		parent.Metadata.Notes = append(parent.Metadata.Notes, "comparison partially failed")
		sb.WriteString("\n\nOnly one side of the comparison has data; the contrast above is one-sided.")
	default:
		parent.ExecutionStatus = ExecutionError
		parent.ExecError = firstExecError(left, right)
		parent.Metadata.Notes = append(parent.Metadata.Notes, "comparison failed on both sides")
	}

	parent.Narrative = sb.String()
	parent.Metadata.DegradedSQL = left.Metadata.DegradedSQL || right.Metadata.DegradedSQL
	parent.Metadata.DegradedInterpretation = left.Metadata.DegradedInterpretation || right.Metadata.DegradedInterpretation
	parent.Metadata.SQLRetries = left.SQLRetryCount + right.SQLRetryCount
	parent.Metadata.InterpretationRetries = left.InterpretationRetryCount + right.InterpretationRetryCount
	parent.Metadata.Notes = append(parent.Metadata.Notes,
		"sub-run "+left.RunID, "sub-run "+right.RunID)
}

func comparisonSection(state *RunState) string {
	narrative := state.Narrative
	if narrative == "" {
		narrative = "No result was produced for this part of the comparison."
	}
	return fmt.Sprintf("**%s**\n\n%s", state.Query, narrative)
}

func firstExecError(states ...*RunState) *queryengine.Error {
	for _, s := range states {
		if s.ExecError != nil {
			return s.ExecError
		}
	}
	return nil
}
