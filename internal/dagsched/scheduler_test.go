package dagsched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lightflow/lightflow/internal/model"
)

// fakeQueue and fakeBus mirror the teacher's stubBus pattern
// (core/workflow/engine_test.go) for exercising the scheduler without
// a live broker.

type submittedJob struct {
	queueName string
	record    model.JobRecord
}

type fakeQueue struct {
	mu        sync.Mutex
	submitted []submittedJob
}

func (q *fakeQueue) Submit(ctx context.Context, queueName string, record model.JobRecord) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submitted = append(q.submitted, submittedJob{queueName: queueName, record: record})
	return "job-" + record.TaskName, nil
}

func (q *fakeQueue) snapshot() []submittedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]submittedJob, len(q.submitted))
	copy(out, q.submitted)
	return out
}

type fakeSub struct {
	ch chan model.Signal
}

func (s *fakeSub) Next(ctx context.Context) (model.Signal, error) {
	select {
	case sig, ok := <-s.ch:
		if !ok {
			return model.Signal{}, context.Canceled
		}
		return sig, nil
	case <-ctx.Done():
		return model.Signal{}, ctx.Err()
	}
}

func (s *fakeSub) Close() error { return nil }

type fakeBus struct {
	mu        sync.Mutex
	published []model.Signal
	sub       *fakeSub
}

func newFakeBus() *fakeBus {
	return &fakeBus{sub: &fakeSub{ch: make(chan model.Signal, 32)}}
}

func (b *fakeBus) Publish(runID string, sig model.Signal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, sig)
	return nil
}

func (b *fakeBus) Subscribe(runID string) (Subscription, error) {
	return b.sub, nil
}

func (b *fakeBus) inject(sig model.Signal) { b.sub.ch <- sig }

func linearDagSpec() model.DagSpec {
	return model.DagSpec{
		Name: "main",
		Nodes: []model.TaskNode{
			{Name: "A", Kind: model.BodyKindScript, BodyRef: "a"},
			{Name: "B", Kind: model.BodyKindScript, BodyRef: "b"},
		},
		Edges: []model.Edge{{Parent: "A", Child: "B"}},
	}
}

func TestLinearDagDispatchesBThenSucceeds(t *testing.T) {
	q := &fakeQueue{}
	bus := newFakeBus()
	sched := New(q, bus)

	done := make(chan Outcome, 1)
	go func() {
		out, err := sched.Run(context.Background(), "run-1", linearDagSpec(), model.Envelope{})
		if err != nil {
			t.Errorf("run error: %v", err)
		}
		done <- out
	}()

	waitForSubmission(t, q, 1)
	bus.inject(model.Signal{DagName: "main", Kind: model.SignalTaskCompleted, NodeName: "A"})

	waitForSubmission(t, q, 2)
	bus.inject(model.Signal{DagName: "main", Kind: model.SignalTaskCompleted, NodeName: "B"})

	select {
	case out := <-done:
		if !out.Succeeded {
			t.Fatalf("expected success, got %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("dag run did not terminate")
	}

	submitted := q.snapshot()
	if len(submitted) != 2 || submitted[0].record.TaskName != "A" || submitted[1].record.TaskName != "B" {
		t.Fatalf("expected A then B dispatched, got %+v", submitted)
	}
}

func TestStrictFailurePropagatesDagFailed(t *testing.T) {
	q := &fakeQueue{}
	bus := newFakeBus()
	sched := New(q, bus)

	done := make(chan Outcome, 1)
	go func() {
		out, _ := sched.Run(context.Background(), "run-2", linearDagSpec(), model.Envelope{})
		done <- out
	}()

	waitForSubmission(t, q, 1)
	bus.inject(model.Signal{DagName: "main", Kind: model.SignalTaskFailed, NodeName: "A", FailureKind: "TaskBodyError"})

	select {
	case out := <-done:
		if out.Succeeded {
			t.Fatalf("expected failure, got %+v", out)
		}
		if out.Failure == nil || out.Failure.TaskName != "A" {
			t.Fatalf("expected first failure to name A, got %+v", out.Failure)
		}
	case <-time.After(time.Second):
		t.Fatal("dag run did not terminate")
	}

	foundStop := false
	for _, sig := range bus.published {
		if sig.Kind == model.SignalStopRequest {
			foundStop = true
		}
	}
	if !foundStop {
		t.Fatal("expected a stop-request broadcast to in-flight siblings on strict failure")
	}

	foundDagFailed := false
	for _, sig := range bus.published {
		if sig.Kind == model.SignalDagFailed {
			foundDagFailed = true
		}
	}
	if !foundDagFailed {
		t.Fatal("expected dag-failed to be published on strict failure")
	}
}

func TestAbortRequestBroadcastsStopAndFinalizesWithoutDraining(t *testing.T) {
	q := &fakeQueue{}
	bus := newFakeBus()
	sched := New(q, bus)

	done := make(chan Outcome, 1)
	go func() {
		out, _ := sched.Run(context.Background(), "run-3", linearDagSpec(), model.Envelope{})
		done <- out
	}()

	waitForSubmission(t, q, 1) // A dispatched, still in flight
	bus.inject(model.Signal{DagName: "main", Kind: model.SignalAbortRequest})

	select {
	case out := <-done:
		if !out.Aborted || out.Succeeded {
			t.Fatalf("expected aborted outcome without waiting for A, got %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("aborted dag run did not terminate immediately")
	}

	foundStop := false
	for _, sig := range bus.published {
		if sig.Kind == model.SignalStopRequest {
			foundStop = true
		}
	}
	if !foundStop {
		t.Fatal("expected a stop-request broadcast to in-flight tasks on abort")
	}
}

func TestForEachSlotFansOutAndMergesBackIn(t *testing.T) {
	q := &fakeQueue{}
	bus := newFakeBus()
	sched := New(q, bus)

	spec := model.DagSpec{
		Name: "main",
		Nodes: []model.TaskNode{
			{Name: "A", Kind: model.BodyKindScript, BodyRef: "a", ForEachSlot: "items"},
			{Name: "C", Kind: model.BodyKindScript, BodyRef: "c"},
		},
		Edges: []model.Edge{{Parent: "A", Child: "C"}},
	}
	initial := model.Envelope{Slices: []model.Slice{{Slot: "items", Payload: []byte(`["x","y"]`)}}}

	done := make(chan Outcome, 1)
	go func() {
		out, _ := sched.Run(context.Background(), "run-4", spec, initial)
		done <- out
	}()

	waitForSubmission(t, q, 2)
	submitted := q.snapshot()
	if submitted[0].record.TaskName != "A[0]" || submitted[1].record.TaskName != "A[1]" {
		t.Fatalf("expected shard jobs A[0] and A[1], got %+v", submitted)
	}

	bus.inject(model.Signal{DagName: "main", Kind: model.SignalTaskCompleted, NodeName: "A[0]",
		Envelope: &model.Envelope{Slices: []model.Slice{{Slot: "items", Payload: []byte(`"X"`)}}}})
	bus.inject(model.Signal{DagName: "main", Kind: model.SignalTaskCompleted, NodeName: "A[1]",
		Envelope: &model.Envelope{Slices: []model.Slice{{Slot: "items", Payload: []byte(`"Y"`)}}}})

	waitForSubmission(t, q, 3)
	bus.inject(model.Signal{DagName: "main", Kind: model.SignalTaskCompleted, NodeName: "C"})

	select {
	case out := <-done:
		if !out.Succeeded {
			t.Fatalf("expected success, got %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("dag run did not terminate")
	}

	submitted = q.snapshot()
	if submitted[2].record.TaskName != "C" || submitted[2].record.Envelope == nil {
		t.Fatalf("expected C dispatched with merged envelope, got %+v", submitted[2].record)
	}
	if len(submitted[2].record.Envelope.Slices) != 1 || string(submitted[2].record.Envelope.Slices[0].Payload) != `["X","Y"]` {
		t.Fatalf("expected merged items array [X Y], got %+v", submitted[2].record.Envelope.Slices)
	}
}

func waitForSubmission(t *testing.T, q *fakeQueue, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(q.snapshot()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d submissions, got %d", n, len(q.snapshot()))
}
