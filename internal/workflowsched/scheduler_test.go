package workflowsched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lightflow/lightflow/internal/model"
)

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
	return "job-" + record.DagName, nil
}

func (q *fakeQueue) snapshot() []submittedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]submittedJob, len(q.submitted))
	copy(out, q.submitted)
	return out
}

type fakeSub struct{ ch chan model.Signal }

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

func (b *fakeBus) Subscribe(runID string) (Subscription, error) { return b.sub, nil }

func (b *fakeBus) inject(sig model.Signal) { b.sub.ch <- sig }

func TestAutostartDagsAreEnqueuedAndAwaited(t *testing.T) {
	q := &fakeQueue{}
	bus := newFakeBus()
	sched := New(q, bus)

	wf := model.WorkflowDef{
		Name: "demo",
		Dags: []model.DagSpec{
			{Name: "main"},
		},
	}

	done := make(chan Outcome, 1)
	go func() {
		out, err := sched.Run(context.Background(), "run-1", wf, nil, nil)
		if err != nil {
			t.Errorf("run error: %v", err)
		}
		done <- out
	}()

	waitForSubmission(t, q, 1)
	bus.inject(model.Signal{Kind: model.SignalDagCompleted, DagName: "main"})

	select {
	case out := <-done:
		if out.Status != model.RunStatusSucceeded {
			t.Fatalf("expected succeeded, got %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("workflow run did not terminate")
	}
}

func TestRunDagEnqueuesDynamicSubDag(t *testing.T) {
	q := &fakeQueue{}
	bus := newFakeBus()
	sched := New(q, bus)

	autostartFalse := false
	wf := model.WorkflowDef{
		Name: "demo",
		Dags: []model.DagSpec{
			{Name: "main"},
			{Name: "extra", Autostart: &autostartFalse},
		},
	}

	done := make(chan Outcome, 1)
	go func() {
		out, _ := sched.Run(context.Background(), "run-2", wf, nil, nil)
		done <- out
	}()

	env := &model.Envelope{Slices: []model.Slice{{Slot: "image", Payload: []byte(`"cat.png"`)}}}
	waitForSubmission(t, q, 1)
	bus.inject(model.Signal{Kind: model.SignalRunDag, DagName: "extra", Envelope: env})
	waitForSubmission(t, q, 2)

	bus.inject(model.Signal{Kind: model.SignalDagCompleted, DagName: "main"})
	bus.inject(model.Signal{Kind: model.SignalDagCompleted, DagName: "extra"})

	select {
	case out := <-done:
		if out.Status != model.RunStatusSucceeded {
			t.Fatalf("expected succeeded, got %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("workflow run did not terminate")
	}

	submitted := q.snapshot()
	if len(submitted) != 2 || submitted[1].record.DagName != "extra" {
		t.Fatalf("expected extra dag dispatched dynamically, got %+v", submitted)
	}
	if submitted[1].record.Envelope == nil || len(submitted[1].record.Envelope.Slices) != 1 || submitted[1].record.Envelope.Slices[0].Slot != "image" {
		t.Fatalf("expected the run-dag signal's envelope to be forwarded, got %+v", submitted[1].record.Envelope)
	}
}

func TestDagFailureStopsRemainingLiveDags(t *testing.T) {
	q := &fakeQueue{}
	bus := newFakeBus()
	sched := New(q, bus)

	autostartTrue := true
	wf := model.WorkflowDef{
		Name: "demo",
		Dags: []model.DagSpec{
			{Name: "main", Autostart: &autostartTrue},
			{Name: "side", Autostart: &autostartTrue},
		},
	}

	done := make(chan Outcome, 1)
	go func() {
		out, _ := sched.Run(context.Background(), "run-3", wf, nil, nil)
		done <- out
	}()

	waitForSubmission(t, q, 2)
	bus.inject(model.Signal{Kind: model.SignalDagFailed, DagName: "main", FailureKind: "TaskBodyError"})
	bus.inject(model.Signal{Kind: model.SignalDagCompleted, DagName: "side"})

	select {
	case out := <-done:
		if out.Status != model.RunStatusFailed {
			t.Fatalf("expected failed, got %+v", out)
		}
		if out.Failure == nil || out.Failure.DagName != "main" {
			t.Fatalf("expected failure to name main, got %+v", out.Failure)
		}
	case <-time.After(time.Second):
		t.Fatal("workflow run did not terminate")
	}

	published := bus.published
	foundStop := false
	for _, sig := range published {
		if sig.Kind == model.SignalStopRequest {
			foundStop = true
		}
	}
	if !foundStop {
		t.Fatal("expected a stop-request broadcast after strict dag failure")
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
