package analytics

import "log/slog"

// ProgressSink receives node-by-node status for streaming to the
// caller. It is an observer: implementations must not block, and a
// failing sink never affects the run.
type ProgressSink interface {
	Emit(runID string, stage Step, percent int, message string)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(runID string, stage Step, percent int, message string)

// Emit implements ProgressSink.
func (f ProgressFunc) Emit(runID string, stage Step, percent int, message string) {
	f(runID, stage, percent, message)
}

// NopProgress discards all progress events.
var NopProgress ProgressSink = ProgressFunc(func(string, Step, int, string) {})

// Approximate completion per stage, for caller-facing progress bars.
var stagePercent = map[Step]int{
	StepClassify:    5,
	StepPlan:        15,
	StepRoute:       20,
	StepSynthesize:  30,
	StepValidateSQL: 40,
	StepExecute:     60,
	StepInterpret:   75,
	StepScore:       85,
	StepFormat:      95,
	StepFinalize:    99,
	StepTerminal:    100,
}

// emitProgress fires a progress event, recovering from a panicking
// sink so an observer can never take down the run.
func emitProgress(sink ProgressSink, runID string, stage Step, message string) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("analytics: progress sink panicked", "run_id", runID, "stage", stage, "panic", r)
		}
	}()
	sink.Emit(runID, stage, stagePercent[stage], message)
}
