package analytics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/insightgrid/insightgrid/ai/queryengine"
)

// Executor runs accepted SQL against the query engine with bounded
// retry. Only transient failures consume the retry budget; anything
// else fails immediately with its classification attached.
type Executor struct {
	engine      queryengine.Engine
	clock       clockwork.Clock
	baseUnit    time.Duration
	maxAttempts int
}

// NewExecutor creates a query executor. A nil clock uses the real one.
func NewExecutor(engine queryengine.Engine, clock clockwork.Clock) *Executor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Executor{
		engine:      engine,
		clock:       clock,
		baseUnit:    time.Second,
		maxAttempts: 3,
	}
}

// WithBaseUnit overrides the initial backoff interval. Delays double
// per attempt from this base.
func (e *Executor) WithBaseUnit(d time.Duration) *Executor {
	if d > 0 {
		e.baseUnit = d
	}
	return e
}

// Execute runs state.CandidateSQL and records the outcome on the
// state. UserID is carried through unchanged on every path.
func (e *Executor) Execute(ctx context.Context, state *RunState) error {
	userID := state.UserID

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.baseUnit
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = e.baseUnit << 4
	bo.MaxElapsedTime = 0

	attempt := 0
	operation := func() (*queryengine.Rows, error) {
		attempt++
		rows, err := e.engine.Execute(ctx, state.CandidateSQL, userID)
		if err == nil {
			return rows, nil
		}
		classified := queryengine.Classify(err)
		if !classified.IsTransient() {
			return nil, backoff.Permanent(classified)
		}
		slog.Warn("executor: transient failure",
			"run_id", state.RunID,
			"attempt", attempt,
			"category", classified.Category)
		return nil, classified
	}

	rows, err := retryWithClock(ctx, operation, backoff.WithMaxRetries(bo, uint64(e.maxAttempts-1)), e.clock)

	// The user id must survive every outcome path unchanged.
	state.UserID = userID

	if err != nil {
		state.ExecutionStatus = ExecutionError
		state.ExecError = queryengine.Classify(err)
		state.Rows = nil
		slog.Warn("executor: terminal failure",
			"run_id", state.RunID,
			"attempts", attempt,
			"category", state.ExecError.Category)
		return nil
	}

	state.ExecutionStatus = ExecutionSuccess
	state.Rows = rows
	state.ExecError = nil
	slog.Info("executor: query succeeded",
		"run_id", state.RunID,
		"attempts", attempt,
		"rows", rows.RowCount())
	return nil
}

// retryWithClock is backoff.Retry driven by an injectable clock so
// tests can observe the exact delay sequence without sleeping.
func retryWithClock(ctx context.Context, op func() (*queryengine.Rows, error), bo backoff.BackOff, clock clockwork.Clock) (*queryengine.Rows, error) {
	bo.Reset()
	for {
		rows, err := op()
		if err == nil {
			return rows, nil
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Unwrap()
		}

		next := bo.NextBackOff()
		if next == backoff.Stop {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-clock.After(next):
		}
	}
}
