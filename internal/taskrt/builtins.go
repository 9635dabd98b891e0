package taskrt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lightflow/lightflow/internal/logging"
	"github.com/lightflow/lightflow/internal/model"
)

// RegisterBuiltins binds the small set of demo script bodies used by
// the example workflows bundled with lightflowctl: print, noop, sleep,
// fail, start-sub-dag, branch-skip-lane3, and start-sub-dag-named-sub.
// Real deployments register their own domain bodies the same way via
// Registry.RegisterScript; these exist so the bundled example
// workflows are runnable out of the box.
func RegisterBuiltins(r *Registry) {
	r.RegisterScript("print", printBody)
	r.RegisterScript("noop", noopBody)
	r.RegisterScript("sleep", sleepBody)
	r.RegisterScript("fail", failBody)
	r.RegisterScript("start-sub-dag", startSubDagBody)
	r.RegisterScript("branch-skip-lane3", branchSkipLane3Body)
	r.RegisterScript("start-sub-dag-named-sub", startSubDagNamedSubBody)
}

// printBody logs its input view and forwards it unchanged as output,
// covering spec.md §8 scenario 1's "both print a string".
func printBody(ctx context.Context, tc *Context) Outcome {
	logging.Info("TASK", "print", "run_id", tc.RunID, "dag", tc.DagName, "task", tc.TaskName, "data", tc.Data)
	return Outcome{Kind: OutcomeSuccess, Slices: slicesFromData(tc.Data)}
}

// noopBody succeeds and forwards its input unchanged, without logging,
// for control-flow-only nodes; no bundled example workflow uses it.
func noopBody(ctx context.Context, tc *Context) Outcome {
	return Outcome{Kind: OutcomeSuccess, Slices: slicesFromData(tc.Data)}
}

// sleepBody blocks for a configured duration (default 2s), consulting
// the signal handle for cooperative stop — spec.md §8 scenario 5's
// long-running task under a mid-flight stop.
func sleepBody(ctx context.Context, tc *Context) Outcome {
	d := 2 * time.Second
	if raw, ok := tc.Data["duration_ms"]; ok {
		if ms, ok := raw.(float64); ok && ms > 0 {
			d = time.Duration(ms) * time.Millisecond
		}
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if tc.Signal != nil && tc.Signal.IsStopRequested() {
			break
		}
		select {
		case <-ctx.Done():
			return Outcome{Kind: OutcomeFailure, FailureKind: "Timeout", Recoverable: false, ErrMessage: ctx.Err().Error()}
		case <-time.After(50 * time.Millisecond):
		}
	}
	return Outcome{Kind: OutcomeSuccess, Slices: slicesFromData(tc.Data)}
}

// failBody always returns a recoverable Failure, exercising spec.md §8
// scenario 4's retry-then-dag-failed path.
func failBody(ctx context.Context, tc *Context) Outcome {
	return Outcome{Kind: OutcomeFailure, FailureKind: "TaskBodyError", Recoverable: true, ErrMessage: fmt.Sprintf("task %s always fails", tc.TaskName)}
}

// startSubDagBody emits run-dag for the sub-DAG named in its
// "dag_name" input, covering spec.md §8 scenario 6's dynamic
// sub-DAG invocation.
func startSubDagBody(ctx context.Context, tc *Context) Outcome {
	name, _ := tc.Data["dag_name"].(string)
	if name == "" {
		return Outcome{Kind: OutcomeFailure, FailureKind: "TaskBodyError", Recoverable: false, ErrMessage: "start-sub-dag requires dag_name input"}
	}
	if tc.Signal != nil {
		if err := tc.Signal.StartDag(name, slicesFromData(tc.Data)); err != nil {
			return Outcome{Kind: OutcomeFailure, FailureKind: "SignalUnavailable", Recoverable: true, ErrMessage: err.Error()}
		}
	}
	return Outcome{Kind: OutcomeSuccess, Slices: slicesFromData(tc.Data)}
}

// startSubDagNamedSubBody starts the dag named "sub" with the caller's
// input forwarded as its initial slices, for demos that call a fixed
// sub-dag without a run parameter naming it dynamically.
func startSubDagNamedSubBody(ctx context.Context, tc *Context) Outcome {
	if tc.Signal != nil {
		if err := tc.Signal.StartDag("sub", slicesFromData(tc.Data)); err != nil {
			return Outcome{Kind: OutcomeFailure, FailureKind: "SignalUnavailable", Recoverable: true, ErrMessage: err.Error()}
		}
	}
	return Outcome{Kind: OutcomeSuccess, Slices: slicesFromData(tc.Data)}
}

// branchSkipLane3Body succeeds and marks "lane3_print_task" to be
// skipped, covering spec.md §8 scenario 3: a routing decision skips one
// descendant while its siblings and the eventual join still run.
func branchSkipLane3Body(ctx context.Context, tc *Context) Outcome {
	return Outcome{
		Kind:    OutcomeSuccess,
		Slices:  slicesFromData(tc.Data),
		Routing: &model.Routing{Skip: []string{"lane3_print_task"}},
	}
}

func slicesFromData(data map[string]interface{}) []model.Slice {
	slices := make([]model.Slice, 0, len(data))
	for slot, v := range data {
		payload, err := json.Marshal(v)
		if err != nil {
			continue
		}
		slices = append(slices, model.Slice{Slot: slot, Payload: payload})
	}
	return slices
}
