// Package dagsched implements the DAG Scheduler component: the
// event-driven, per-DAG-run dispatch loop that enqueues ready task
// jobs and awaits their completion over the signal bus, applying data
// propagation and skip semantics from internal/dagmodel and
// internal/envelope. Grounded on the teacher's core/workflow/engine.go
// (scheduleReady/HandleJobResult/updateRunStatus), generalized from
// Redis-document polling to blocking signal-bus iteration, and on
// original_source's dag_signal.py/task_signal.py for stop/abort/skip
// semantics.
package dagsched

import (
	"context"

	"github.com/lightflow/lightflow/internal/dagmodel"
	"github.com/lightflow/lightflow/internal/envelope"
	"github.com/lightflow/lightflow/internal/lferr"
	"github.com/lightflow/lightflow/internal/logging"
	"github.com/lightflow/lightflow/internal/model"
)

// JobSubmitter is the narrow queue capability the DAG scheduler needs —
// satisfied by *internal/queue.Queue.
type JobSubmitter interface {
	Submit(ctx context.Context, queueName string, record model.JobRecord) (string, error)
}

// Subscription is the narrow signal-bus stream capability — satisfied
// by *internal/signalbus.Subscription.
type Subscription interface {
	Next(ctx context.Context) (model.Signal, error)
	Close() error
}

// Bus is the narrow signal-bus capability the DAG scheduler needs —
// satisfied by *internal/signalbus.Bus.
type Bus interface {
	Publish(runID string, sig model.Signal) error
	Subscribe(runID string) (Subscription, error)
}

// FailureInfo names the first failing task, per spec.md §7's
// "first failing (dag, task, kind) tuple".
type FailureInfo struct {
	DagName  string
	TaskName string
	Kind     string
}

// Outcome is the terminal result of one DAG run.
type Outcome struct {
	Succeeded bool
	Stopped   bool
	Aborted   bool
	Failure   *FailureInfo
}

type nodeState struct {
	status         model.NodeStatus
	pendingParents int
	accumulated    []envelope.ParentEnvelope

	// shard* track a TaskNode.ForEachSlot fan-out: shardTotal task jobs
	// were dispatched for this node, named via dagmodel.ShardName, and
	// shardResults collects each one's output envelope by index until
	// all have reported in.
	shardTotal   int
	shardResults []model.Envelope
	shardDone    int
}

// Scheduler runs one DAG to completion.
type Scheduler struct {
	Queue  JobSubmitter
	Bus    Bus
	Strict bool // strict failure policy: a task-failed fails the whole DAG (spec.md §4.G default)
}

// New returns a Scheduler wired to q and bus. Strict defaults to true,
// matching spec.md §4.G's "Policy: by default, fail the DAG".
func New(q JobSubmitter, bus Bus) *Scheduler {
	return &Scheduler{Queue: q, Bus: bus, Strict: true}
}

// Run executes spec for runID, seeding root nodes with initial, and
// blocks until the DAG reaches a terminal state.
func (s *Scheduler) Run(ctx context.Context, runID string, spec model.DagSpec, initial model.Envelope) (Outcome, error) {
	graph, err := dagmodel.Build(spec)
	if err != nil {
		return Outcome{}, err
	}

	states := make(map[string]*nodeState, len(graph.Order))
	for _, name := range graph.Order {
		st := &nodeState{status: model.NodeStatusPending, pendingParents: graph.InDegree[name]}
		if st.pendingParents == 0 {
			st.status = model.NodeStatusReady
		}
		states[name] = st
	}

	sub, err := s.Bus.Subscribe(runID)
	if err != nil {
		return Outcome{}, err
	}
	defer sub.Close()

	run := &dagRun{
		sched:   s,
		runID:   runID,
		dagName: spec.Name,
		graph:   graph,
		states:  states,
		ready:   append([]string{}, graph.Roots...),
		initial: initial,
	}

	return run.loop(ctx, sub)
}

type dagRun struct {
	sched   *Scheduler
	runID   string
	dagName string
	graph   *dagmodel.Graph
	states  map[string]*nodeState
	ready   []string
	initial model.Envelope

	stopRequested  bool
	abortRequested bool
	inFlight       int
	firstFailure   *FailureInfo
}

func (r *dagRun) loop(ctx context.Context, sub Subscription) (Outcome, error) {
	if err := r.dispatchReady(ctx); err != nil {
		return Outcome{}, err
	}
	if r.terminal() {
		return r.finalize(ctx)
	}

	for {
		sig, err := sub.Next(ctx)
		if err != nil {
			return Outcome{}, err
		}
		if sig.DagName != "" && sig.DagName != r.dagName {
			continue
		}
		r.handleSignal(sig)

		if r.abortRequested {
			// Abort does not wait for in-flight tasks to drain.
			return r.finalize(ctx)
		}
		if !r.stopRequested {
			if err := r.dispatchReady(ctx); err != nil {
				return Outcome{}, err
			}
		}
		// After a stop, undispatched nodes stay pending: finalize once the
		// in-flight tasks have drained.
		if r.terminal() || (r.stopRequested && r.inFlight == 0) {
			return r.finalize(ctx)
		}
	}
}

// terminal reports whether no node is pending/ready/running, per
// spec.md §4.G step 4, and no in-flight task jobs remain.
func (r *dagRun) terminal() bool {
	if r.inFlight > 0 {
		return false
	}
	for _, st := range r.states {
		if st.status == model.NodeStatusPending || st.status == model.NodeStatusReady || st.status == model.NodeStatusRunning {
			return false
		}
	}
	return true
}

func (r *dagRun) dispatchReady(ctx context.Context) error {
	for len(r.ready) > 0 {
		name := r.ready[0]
		r.ready = r.ready[1:]
		st := r.states[name]
		if st.status != model.NodeStatusReady {
			continue
		}

		var input model.Envelope
		if len(st.accumulated) == 0 {
			input = r.initial
		} else {
			input = envelope.Merge(st.accumulated)
		}

		node := r.graph.Nodes[name]
		if node.ForEachSlot != "" {
			if err := r.dispatchForEach(ctx, name, node, input); err != nil {
				return err
			}
			continue
		}

		record := model.JobRecord{
			Kind:     model.JobKindTask,
			RunID:    r.runID,
			DagName:  r.dagName,
			TaskName: name,
			Envelope: &input,
			Attempt:  1,
		}
		if _, err := r.sched.Queue.Submit(ctx, "task", record); err != nil {
			return err
		}
		st.status = model.NodeStatusRunning
		r.inFlight++
		logging.Info("DAGSCHED", "dispatched task", "run", r.runID, "dag", r.dagName, "task", name)
	}
	return nil
}

// dispatchForEach fans name out into one task job per element of its
// ForEachSlot slot, named per dagmodel.ShardName, mirroring the
// teacher's own childID := fmt.Sprintf("%s[%d]", stepID, idx) splitting
// in core/workflow/engine.go.
func (r *dagRun) dispatchForEach(ctx context.Context, name string, node model.TaskNode, input model.Envelope) error {
	st := r.states[name]
	shards, err := envelope.Shard(input, node.ForEachSlot)
	if err != nil {
		return err
	}
	if len(shards) == 0 {
		st.status = model.NodeStatusSucceeded
		r.propagate(name, model.Envelope{}, nil)
		return nil
	}

	st.status = model.NodeStatusRunning
	st.shardTotal = len(shards)
	st.shardResults = make([]model.Envelope, len(shards))
	for i := range shards {
		shardInput := shards[i]
		record := model.JobRecord{
			Kind:     model.JobKindTask,
			RunID:    r.runID,
			DagName:  r.dagName,
			TaskName: dagmodel.ShardName(name, i),
			Envelope: &shardInput,
			Attempt:  1,
		}
		if _, err := r.sched.Queue.Submit(ctx, "task", record); err != nil {
			return err
		}
		r.inFlight++
	}
	logging.Info("DAGSCHED", "dispatched for-each task", "run", r.runID, "dag", r.dagName, "task", name, "shards", len(shards))
	return nil
}

func (r *dagRun) handleSignal(sig model.Signal) {
	switch sig.Kind {
	case model.SignalTaskCompleted:
		r.onTaskCompleted(sig)
	case model.SignalTaskFailed:
		r.onTaskFailed(sig)
	case model.SignalTaskSkipped:
		r.onTaskSkipped(sig)
	case model.SignalStopRequest:
		r.stopRequested = true
	case model.SignalAbortRequest:
		wasAborting := r.abortRequested
		r.abortRequested = true
		r.stopRequested = true
		if !wasAborting {
			// Actively broadcast stop-request to in-flight tasks rather than
			// waiting for them to drain; abort does not wait.
			_ = r.sched.Bus.Publish(r.runID, model.Signal{RunID: r.runID, DagName: r.dagName, Kind: model.SignalStopRequest})
		}
	}
}

func (r *dagRun) onTaskCompleted(sig model.Signal) {
	base, idx, isShard := dagmodel.SplitShardName(sig.NodeName)
	if isShard {
		r.onShardCompleted(base, idx, sig)
		return
	}

	name := sig.NodeName
	st, ok := r.states[name]
	if !ok {
		return
	}
	st.status = model.NodeStatusSucceeded
	r.inFlight--

	var out model.Envelope
	if sig.Envelope != nil {
		out = *sig.Envelope
	}
	r.propagate(name, out, sig.Routing)
}

// onShardCompleted records one ForEachSlot shard's result against its
// parent node and, once every shard has reported in, merges them and
// propagates as though the parent node itself had completed.
func (r *dagRun) onShardCompleted(name string, idx int, sig model.Signal) {
	st, ok := r.states[name]
	if !ok {
		return
	}
	r.inFlight--
	if st.status.Terminal() {
		// a sibling shard already failed this node; drain silently.
		return
	}

	var out model.Envelope
	if sig.Envelope != nil {
		out = *sig.Envelope
	}
	if idx >= 0 && idx < len(st.shardResults) {
		st.shardResults[idx] = out
	}
	st.shardDone++
	if st.shardDone < st.shardTotal {
		return
	}
	st.status = model.NodeStatusSucceeded
	r.propagate(name, envelope.MergeShards(st.shardResults), nil)
}

// propagate applies skip routing and fans a completed node's output
// out to its children's accumulators, readying any child whose
// pending-parent count reaches zero. Shared by the plain task-complete
// path and the ForEachSlot fan-in path.
func (r *dagRun) propagate(name string, out model.Envelope, routing *model.Routing) {
	var skipSet map[string]bool
	if routing != nil && len(routing.Skip) > 0 {
		skipped := r.graph.SkipDescendants(routing.Skip, func(n string) bool {
			return r.states[n] != nil && r.states[n].status.Terminal() && r.states[n].status != model.NodeStatusSkipped
		})
		skipSet = make(map[string]bool, len(skipped))
		for _, n := range skipped {
			skipSet[n] = true
			if cst := r.states[n]; cst != nil && cst.status != model.NodeStatusSucceeded {
				cst.status = model.NodeStatusSkipped
				_ = r.sched.Bus.Publish(r.runID, model.Signal{RunID: r.runID, DagName: r.dagName, Kind: model.SignalTaskSkipped, NodeName: n})
			}
		}
		// A skipped parent never delivers, so children with a live parent
		// stop waiting on it.
		for _, n := range skipped {
			for _, e := range r.graph.Children[n] {
				child := r.states[e.Child]
				if child != nil && !skipSet[e.Child] && child.status == model.NodeStatusPending {
					child.pendingParents--
					if child.pendingParents <= 0 {
						child.status = model.NodeStatusReady
						r.ready = append(r.ready, e.Child)
					}
				}
			}
		}
	}

	for _, e := range r.graph.Children[name] {
		if skipSet[e.Child] {
			continue
		}
		if !edgeAllowed(routing, e.Child) {
			continue
		}
		child := r.states[e.Child]
		if child == nil || child.status == model.NodeStatusSkipped {
			continue
		}
		slice := out
		if e.Slot != "" {
			slice = sliceBySlot(out, e.Slot)
		}
		child.accumulated = append(child.accumulated, envelope.ParentEnvelope{ParentName: name, Envelope: slice})
		child.pendingParents--
		if child.pendingParents <= 0 && child.status == model.NodeStatusPending {
			child.status = model.NodeStatusReady
			r.ready = append(r.ready, e.Child)
		}
	}
}

func edgeAllowed(routing *model.Routing, child string) bool {
	if routing == nil || len(routing.Allow) == 0 {
		return true
	}
	for _, a := range routing.Allow {
		if a == child {
			return true
		}
	}
	return false
}

func sliceBySlot(e model.Envelope, slot string) model.Envelope {
	for _, s := range e.Slices {
		if s.Slot == slot {
			return model.Envelope{Slices: []model.Slice{s}, Aliases: e.Aliases}
		}
	}
	return model.Envelope{}
}

func (r *dagRun) onTaskFailed(sig model.Signal) {
	name, _, isShard := dagmodel.SplitShardName(sig.NodeName)
	st, ok := r.states[name]
	r.inFlight--
	if ok && isShard && st.status.Terminal() {
		// a sibling shard already failed this node; drain silently.
		return
	}
	if ok {
		st.status = model.NodeStatusFailed
	}
	if r.firstFailure == nil {
		r.firstFailure = &FailureInfo{DagName: r.dagName, TaskName: name, Kind: sig.FailureKind}
	}
	if r.sched.Strict {
		r.stopRequested = true
		// Cancel in-flight siblings the same way an abort-request does:
		// broadcast stop-request scoped to this dag rather than waiting
		// for them to drain naturally (spec.md §4.G step 3).
		_ = r.sched.Bus.Publish(r.runID, model.Signal{RunID: r.runID, DagName: r.dagName, Kind: model.SignalStopRequest})
		skipped := r.graph.SkipDescendants([]string{name}, func(n string) bool {
			return r.states[n] != nil && r.states[n].status.Terminal()
		})
		for _, n := range skipped {
			if n == name {
				continue
			}
			if cst := r.states[n]; cst != nil && !cst.status.Terminal() {
				cst.status = model.NodeStatusSkipped
				_ = r.sched.Bus.Publish(r.runID, model.Signal{RunID: r.runID, DagName: r.dagName, Kind: model.SignalTaskSkipped, NodeName: n})
			}
		}
	}
}

func (r *dagRun) onTaskSkipped(sig model.Signal) {
	st, ok := r.states[sig.NodeName]
	if !ok {
		return
	}
	st.status = model.NodeStatusSkipped
	skipped := r.graph.SkipDescendants([]string{sig.NodeName}, func(n string) bool {
		return r.states[n] != nil && r.states[n].status.Terminal() && r.states[n].status != model.NodeStatusSkipped
	})
	for _, n := range skipped {
		if cst := r.states[n]; cst != nil && cst.status != model.NodeStatusSucceeded {
			cst.status = model.NodeStatusSkipped
		}
	}
}

func (r *dagRun) finalize(ctx context.Context) (Outcome, error) {
	out := Outcome{Succeeded: r.firstFailure == nil && !r.abortRequested, Stopped: r.stopRequested && !r.abortRequested, Aborted: r.abortRequested, Failure: r.firstFailure}

	sig := model.Signal{RunID: r.runID, DagName: r.dagName}
	if out.Succeeded {
		sig.Kind = model.SignalDagCompleted
		sig.Stopped = out.Stopped
	} else {
		sig.Kind = model.SignalDagFailed
		sig.Aborted = out.Aborted
		if r.firstFailure != nil {
			sig.FailureKind = r.firstFailure.Kind
		}
	}
	if err := r.sched.Bus.Publish(r.runID, sig); err != nil {
		return out, lferr.Wrap(lferr.KindSignalUnavailable, err, "publish dag terminal signal")
	}
	return out, nil
}
