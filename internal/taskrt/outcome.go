// Package taskrt implements the Task Runtime component: resolving a
// task definition, materializing its input view, invoking its body,
// classifying the outcome, and computing retry backoff. Grounded on the
// teacher's sdk/runtime/worker.go (handleJob's error-to-status
// classification) and core/workflow/engine.go's applyResult/shouldRetry/
// computeBackoff (retry/backoff shape), generalized from a flat
// JobStatus enum to the Success/SuccessStopDag/SuccessStopWorkflow/
// AbortWorkflow/Failure classification of spec.md §4.F.
package taskrt

import (
	"context"
	"math"
	"time"

	"github.com/lightflow/lightflow/internal/model"
)

// OutcomeKind classifies a task body's result per spec.md §4.F.
type OutcomeKind string

const (
	OutcomeSuccess             OutcomeKind = "success"
	OutcomeSuccessStopDag      OutcomeKind = "success-stop-dag"
	OutcomeSuccessStopWorkflow OutcomeKind = "success-stop-workflow"
	OutcomeAbortWorkflow       OutcomeKind = "abort-workflow"
	OutcomeFailure             OutcomeKind = "failure"
)

// Outcome is the classified result of invoking one task body.
type Outcome struct {
	Kind        OutcomeKind
	Slices      []model.Slice
	Routing     *model.Routing
	FailureKind string
	Recoverable bool
	ErrMessage  string
}

// Context is the capability bundle passed to a task body: the
// body-facing data view, store and signal handles (as narrow
// interfaces so bodies don't import internal/store or
// internal/signalbus directly), and run/dag/task identifiers, matching
// spec.md §4.F step 3.
type Context struct {
	RunID    string
	DagName  string
	TaskName string
	Attempt  int

	Data  map[string]interface{}
	Store StoreHandle
	Signal SignalHandle
}

// StoreHandle is the narrow store capability a task body needs.
type StoreHandle interface {
	Get(ctx context.Context, section, key string) ([]byte, error)
	Set(ctx context.Context, section, key string, value []byte) error
	Push(ctx context.Context, section, key string, value []byte) error
}

// SignalHandle is the narrow signal capability a task body needs.
type SignalHandle interface {
	IsStopRequested() bool
	StartDag(name string, slices []model.Slice) error
}

// Body is the tagged-variant callable a task node resolves to.
type Body interface {
	Run(ctx context.Context, tc *Context) Outcome
}

// ScriptBody is an in-process body: a plain Go closure.
type ScriptBody func(ctx context.Context, tc *Context) Outcome

// Run implements Body.
func (f ScriptBody) Run(ctx context.Context, tc *Context) Outcome { return f(ctx, tc) }

// ShouldRetry reports whether a Failure outcome should be retried given
// node.Retry and the attempt number just completed, grounded on the
// teacher's shouldRetry(step, sr).
func ShouldRetry(retry *model.RetryPolicy, attempt int, recoverable bool) bool {
	if !recoverable || retry == nil || retry.MaxAttempts <= 0 {
		return false
	}
	return attempt < retry.MaxAttempts
}

// ComputeBackoff returns the delay before the next attempt, grounded on
// the teacher's computeBackoff (exponential backoff with a ceiling).
func ComputeBackoff(retry *model.RetryPolicy, attempt int) time.Duration {
	if retry == nil {
		return time.Second
	}
	initial := retry.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	mult := retry.Multiplier
	if mult <= 1 {
		mult = 2
	}
	delay := float64(initial) * math.Pow(mult, float64(attempt-1))
	if retry.MaxBackoff > 0 && time.Duration(delay) > retry.MaxBackoff {
		return retry.MaxBackoff
	}
	return time.Duration(delay)
}
