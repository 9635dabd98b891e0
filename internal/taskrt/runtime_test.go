package taskrt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lightflow/lightflow/internal/model"
)

type fakeSignal struct{ stopped bool }

func (f *fakeSignal) IsStopRequested() bool                         { return f.stopped }
func (f *fakeSignal) StartDag(name string, slices []model.Slice) error { return nil }

func TestExecuteScriptSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterScript("echo", ScriptBody(func(ctx context.Context, tc *Context) Outcome {
		payload, _ := json.Marshal(tc.Data["x"])
		return Outcome{Kind: OutcomeSuccess, Slices: []model.Slice{{Slot: "y", Payload: payload}}}
	}))

	node := model.TaskNode{Name: "A", Kind: model.BodyKindScript, BodyRef: "echo"}
	input := model.Envelope{Slices: []model.Slice{{Slot: "x", Payload: json.RawMessage(`1`)}}}

	out := Execute(context.Background(), node, input, reg, nil, &fakeSignal{}, "run-1", "main", 1)
	if out.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %+v", out)
	}
	if len(out.Slices) != 1 || out.Slices[0].Slot != "y" {
		t.Fatalf("unexpected output slices: %+v", out.Slices)
	}
}

func TestExecuteUnregisteredScript(t *testing.T) {
	reg := NewRegistry()
	node := model.TaskNode{Name: "A", Kind: model.BodyKindScript, BodyRef: "missing"}
	out := Execute(context.Background(), node, model.Envelope{}, reg, nil, &fakeSignal{}, "run-1", "main", 1)
	if out.Kind != OutcomeFailure {
		t.Fatalf("expected failure for unregistered body, got %+v", out)
	}
}

func TestShouldRetryRespectsMaxAttempts(t *testing.T) {
	retry := &model.RetryPolicy{MaxAttempts: 3}
	if !ShouldRetry(retry, 1, true) {
		t.Fatal("expected retry on attempt 1 of 3")
	}
	if ShouldRetry(retry, 3, true) {
		t.Fatal("expected no retry once attempts exhausted")
	}
	if ShouldRetry(retry, 1, false) {
		t.Fatal("expected no retry for unrecoverable failure")
	}
}

func TestComputeBackoffGrowsExponentiallyWithCeiling(t *testing.T) {
	retry := &model.RetryPolicy{InitialBackoff: time.Second, Multiplier: 2, MaxBackoff: 5 * time.Second}
	d1 := ComputeBackoff(retry, 1)
	d2 := ComputeBackoff(retry, 2)
	d3 := ComputeBackoff(retry, 4)
	if d1 != time.Second {
		t.Fatalf("expected 1s first backoff, got %v", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("expected 2s second backoff, got %v", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("expected backoff capped at 5s, got %v", d3)
	}
}

func TestCommandBodySuccessAndFailure(t *testing.T) {
	ok := CommandBody{Command: "/bin/sh", Args: []string{"-c", "echo hi"}}
	out := ok.Run(context.Background(), &Context{Signal: &fakeSignal{}})
	if out.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %+v", out)
	}

	fail := CommandBody{Command: "/bin/sh", Args: []string{"-c", "exit 1"}}
	out2 := fail.Run(context.Background(), &Context{Signal: &fakeSignal{}})
	if out2.Kind != OutcomeFailure {
		t.Fatalf("expected failure, got %+v", out2)
	}
}
