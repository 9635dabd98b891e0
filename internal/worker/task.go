package worker

import (
	"context"
	"time"

	"github.com/lightflow/lightflow/internal/dagmodel"
	"github.com/lightflow/lightflow/internal/envelope"
	"github.com/lightflow/lightflow/internal/logging"
	"github.com/lightflow/lightflow/internal/model"
	"github.com/lightflow/lightflow/internal/queue"
	"github.com/lightflow/lightflow/internal/signalbus"
	"github.com/lightflow/lightflow/internal/store"
	"github.com/lightflow/lightflow/internal/taskrt"
)

// storeAdapter narrows a *store.Handle to taskrt.StoreHandle, mapping
// the plain-string section name task bodies see onto the typed
// store.Section the store package keys on.
type storeAdapter struct{ h *store.Handle }

func (a storeAdapter) Get(ctx context.Context, section, key string) ([]byte, error) {
	return a.h.Get(ctx, store.Section(section), key)
}

func (a storeAdapter) Set(ctx context.Context, section, key string, value []byte) error {
	return a.h.Set(ctx, store.Section(section), key, value)
}

func (a storeAdapter) Push(ctx context.Context, section, key string, value []byte) error {
	return a.h.Push(ctx, store.Section(section), key, value)
}

// signalWatcher tracks stop/abort state for one in-flight task by
// listening on the run's signal bus, and lets a task body trigger a
// dynamic sub-DAG via a run-dag signal (spec.md §4.F's StartDag).
type signalWatcher struct {
	bus      *signalbus.Bus
	runID    string
	dagName  string
	workerID string
	taskName string
	sub      *signalbus.Subscription
	stopped  chan struct{}
	closed   chan struct{}
}

func newSignalWatcher(bus *signalbus.Bus, runID, dagName, workerID, taskName string) *signalWatcher {
	w := &signalWatcher{bus: bus, runID: runID, dagName: dagName, workerID: workerID, taskName: taskName, stopped: make(chan struct{}), closed: make(chan struct{})}
	sub, err := bus.Subscribe(runID)
	if err != nil {
		logging.Warn("WORKER", "task could not subscribe for stop signal", "run", runID, "err", err)
		close(w.closed)
		return w
	}
	w.sub = sub
	go w.watch()
	return w
}

func (w *signalWatcher) watch() {
	defer close(w.closed)
	for {
		sig, err := w.sub.Next(context.Background())
		if err != nil {
			return
		}
		if sig.Kind == model.SignalQuery {
			w.replyToQuery(sig)
			continue
		}
		if sig.DagName != "" && sig.DagName != w.dagName {
			continue
		}
		if sig.Kind == model.SignalStopRequest || sig.Kind == model.SignalAbortRequest {
			select {
			case <-w.stopped:
			default:
				close(w.stopped)
			}
			return
		}
	}
}

// replyToQuery answers an introspection query signal (spec.md §4.I
// step 5) while this task is in flight.
func (w *signalWatcher) replyToQuery(sig model.Signal) {
	reply := model.Signal{
		RunID:         w.runID,
		Kind:          model.SignalQueryReply,
		CorrelationID: sig.CorrelationID,
		DagName:       w.dagName,
		NodeName:      w.taskName,
		Payload:       map[string]string{"worker_id": w.workerID, "status": "running"},
	}
	_ = w.bus.Publish(w.runID, reply)
}

func (w *signalWatcher) IsStopRequested() bool {
	select {
	case <-w.stopped:
		return true
	default:
		return false
	}
}

func (w *signalWatcher) StartDag(name string, slices []model.Slice) error {
	env := model.Envelope{Slices: slices}
	return w.bus.Publish(w.runID, model.Signal{RunID: w.runID, Kind: model.SignalRunDag, DagName: name, Envelope: &env})
}

func (w *signalWatcher) Close() {
	if w.sub != nil {
		_ = w.sub.Close()
	}
	<-w.closed
}

// dispatchTask runs one task job to completion and publishes its
// result signal before acking the job — spec.md §4.F's signal-before-
// ack ordering invariant is enforced here, the only place the task
// runtime's bare Execute result meets the queue.
func (w *Worker) dispatchTask(ctx context.Context, res *queue.Reservation) {
	rec := res.Record
	wf := w.workflows[rec.WorkflowName]
	if wf == nil {
		logging.Error("WORKER", "task job for unknown workflow", "workflow", rec.WorkflowName)
		_ = res.Nack(false)
		return
	}
	spec := wf.DagByName(rec.DagName)
	if spec == nil {
		logging.Error("WORKER", "task job for unknown dag", "workflow", rec.WorkflowName, "dag", rec.DagName)
		_ = res.Nack(false)
		return
	}
	// A ForEachSlot fan-out job's task name carries a shard suffix
	// ("name[idx]") the dag scheduler uses to correlate shard results —
	// the node definition itself is still keyed by the bare name.
	baseName, _, _ := dagmodel.SplitShardName(rec.TaskName)
	var node *model.TaskNode
	for i := range spec.Nodes {
		if spec.Nodes[i].Name == baseName {
			node = &spec.Nodes[i]
			break
		}
	}
	if node == nil {
		logging.Error("WORKER", "task job for unknown node", "dag", rec.DagName, "task", rec.TaskName)
		_ = res.Nack(false)
		return
	}

	var doc *store.Handle
	if w.cfg.StoreURL != "" {
		var err error
		doc, err = store.Open(w.cfg.StoreURL, rec.RunID)
		if err != nil {
			logging.Error("WORKER", "open store failed", "run", rec.RunID, "err", err)
			w.nackWithBudget(res, false)
			return
		}
		defer doc.Close()
	}

	watcher := newSignalWatcher(w.bus, rec.RunID, rec.DagName, w.cfg.WorkerID, rec.TaskName)
	defer watcher.Close()

	var input model.Envelope
	if rec.Envelope != nil {
		input = *rec.Envelope
	}

	var sh taskrt.StoreHandle
	if doc != nil {
		sh = storeAdapter{h: doc}
	}

	taskCtx := ctx
	if node.TimeoutSec > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, time.Duration(node.TimeoutSec)*time.Second)
		defer cancel()
	}

	outcome := taskrt.Execute(taskCtx, *node, input, w.registry, sh, watcher, rec.RunID, rec.DagName, res.Delivered())
	w.finishTask(res, rec, node, outcome)
}

func (w *Worker) finishTask(res *queue.Reservation, rec model.JobRecord, node *model.TaskNode, outcome taskrt.Outcome) {
	switch outcome.Kind {
	case taskrt.OutcomeSuccess, taskrt.OutcomeSuccessStopDag, taskrt.OutcomeSuccessStopWorkflow:
		outEnv := model.Envelope{}
		for _, s := range outcome.Slices {
			outEnv = envelope.Set(outEnv, s.Slot, s.Payload, node.Name)
		}
		sig := model.Signal{
			RunID:    rec.RunID,
			Kind:     model.SignalTaskCompleted,
			DagName:  rec.DagName,
			NodeName: rec.TaskName,
			Envelope: &outEnv,
			Routing:  outcome.Routing,
		}
		if err := w.bus.Publish(rec.RunID, sig); err != nil {
			logging.Error("WORKER", "publish task-completed failed", "run", rec.RunID, "task", node.Name, "err", err)
			w.nackWithBudget(res, false)
			return
		}
		if outcome.Kind == taskrt.OutcomeSuccessStopDag {
			_ = w.bus.Publish(rec.RunID, model.Signal{RunID: rec.RunID, Kind: model.SignalStopRequest, DagName: rec.DagName})
		} else if outcome.Kind == taskrt.OutcomeSuccessStopWorkflow {
			_ = w.bus.Publish(rec.RunID, model.Signal{RunID: rec.RunID, Kind: model.SignalStopRequest})
		}
		_ = res.Ack()

	case taskrt.OutcomeAbortWorkflow:
		sig := model.Signal{RunID: rec.RunID, Kind: model.SignalTaskFailed, DagName: rec.DagName, NodeName: rec.TaskName, FailureKind: outcome.FailureKind, ErrorMessage: outcome.ErrMessage}
		_ = w.bus.Publish(rec.RunID, sig)
		_ = w.bus.Publish(rec.RunID, model.Signal{RunID: rec.RunID, Kind: model.SignalAbortRequest})
		_ = res.Ack()

	case taskrt.OutcomeFailure:
		attempt := res.Delivered()
		if taskrt.ShouldRetry(node.Retry, attempt, outcome.Recoverable) && attempt < w.cfg.MaxAttempts {
			delay := taskrt.ComputeBackoff(node.Retry, attempt)
			logging.Warn("WORKER", "task failed, retrying", "run", rec.RunID, "task", node.Name, "attempt", attempt, "delay", delay.String())
			_ = res.NackWithDelay(delay)
			return
		}
		sig := model.Signal{RunID: rec.RunID, Kind: model.SignalTaskFailed, DagName: rec.DagName, NodeName: rec.TaskName, FailureKind: outcome.FailureKind, ErrorMessage: outcome.ErrMessage}
		if err := w.bus.Publish(rec.RunID, sig); err != nil {
			logging.Error("WORKER", "publish task-failed failed", "run", rec.RunID, "task", node.Name, "err", err)
		}
		w.nackWithBudget(res, false)
	}
}
