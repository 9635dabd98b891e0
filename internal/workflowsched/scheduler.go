// Package workflowsched implements the Workflow Scheduler component:
// instantiating DAGs as jobs on the dag queue, tracking the live-DAG
// set via the signal bus, honoring dynamic run-dag/stop/abort signals,
// and finalizing the run's StoreDoc. Grounded on the teacher's
// core/controlplane/workflowengine/{engine.go,reconciler.go}.
package workflowsched

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lightflow/lightflow/internal/lferr"
	"github.com/lightflow/lightflow/internal/logging"
	"github.com/lightflow/lightflow/internal/model"
	"github.com/lightflow/lightflow/internal/store"
)

// JobSubmitter is the narrow queue capability needed to enqueue DAG
// jobs — satisfied by *internal/queue.Queue.
type JobSubmitter interface {
	Submit(ctx context.Context, queueName string, record model.JobRecord) (string, error)
}

// Subscription is the narrow signal-bus stream capability.
type Subscription interface {
	Next(ctx context.Context) (model.Signal, error)
	Close() error
}

// Bus is the narrow signal-bus capability needed by the workflow
// scheduler.
type Bus interface {
	Publish(runID string, sig model.Signal) error
	Subscribe(runID string) (Subscription, error)
}

// Outcome is the terminal result of one workflow run.
type Outcome struct {
	Status  model.RunStatus
	Failure *FailureInfo
}

// FailureInfo names the first DAG that failed the run.
type FailureInfo struct {
	DagName string
	Kind    string
}

// Scheduler runs one workflow to completion.
type Scheduler struct {
	Queue  JobSubmitter
	Bus    Bus
	Strict bool // strict: a failed DAG stops the remaining live DAGs (spec.md §4.H step 5)
}

// New returns a Scheduler with strict failure propagation, matching the
// DAG scheduler's own default policy.
func New(q JobSubmitter, bus Bus) *Scheduler {
	return &Scheduler{Queue: q, Bus: bus, Strict: true}
}

// Run instantiates wf's autostart DAGs for runID and blocks until every
// live DAG reaches a terminal state, honoring dynamic run-dag signals
// along the way.
func (s *Scheduler) Run(ctx context.Context, runID string, wf model.WorkflowDef, params map[string]string, doc *store.Handle) (Outcome, error) {
	sub, err := s.Bus.Subscribe(runID)
	if err != nil {
		return Outcome{}, err
	}
	defer sub.Close()

	if doc != nil {
		_ = doc.Set(ctx, store.SectionMeta, "workflow_name", []byte(wf.Name))
		_ = doc.Set(ctx, store.SectionMeta, "status", []byte(model.RunStatusRunning))
	}

	run := &wfRun{sched: s, runID: runID, wf: wf, params: params, doc: doc, liveDags: map[string]bool{}}

	for i := range wf.Dags {
		d := &wf.Dags[i]
		if d.AutostartEnabled() {
			if err := run.enqueueDag(ctx, d.Name, nil); err != nil {
				return Outcome{}, err
			}
		}
	}

	if len(run.liveDags) == 0 {
		return run.finalize(ctx)
	}

	for {
		sig, err := sub.Next(ctx)
		if err != nil {
			return Outcome{}, err
		}
		run.handleSignal(ctx, sig)
		if len(run.liveDags) == 0 {
			return run.finalize(ctx)
		}
	}
}

type wfRun struct {
	sched    *Scheduler
	runID    string
	wf       model.WorkflowDef
	params   map[string]string
	doc      *store.Handle
	liveDags map[string]bool
	failure  *FailureInfo
	stopping bool
}

func (r *wfRun) enqueueDag(ctx context.Context, dagName string, env *model.Envelope) error {
	record := model.JobRecord{
		Kind:         model.JobKindDag,
		RunID:        r.runID,
		WorkflowName: r.wf.Name,
		DagName:      dagName,
		Params:       r.params,
		Envelope:     env,
		Attempt:      1,
	}
	if _, err := r.sched.Queue.Submit(ctx, "dag", record); err != nil {
		return err
	}
	r.liveDags[dagName] = true
	logging.Info("WORKFLOWSCHED", "enqueued dag", "run", r.runID, "dag", dagName)
	return nil
}

func (r *wfRun) handleSignal(ctx context.Context, sig model.Signal) {
	switch sig.Kind {
	case model.SignalRunDag:
		if r.stopping {
			return
		}
		if r.wf.DagByName(sig.DagName) == nil {
			logging.Warn("WORKFLOWSCHED", "run-dag for unknown dag", "run", r.runID, "dag", sig.DagName)
			return
		}
		if err := r.enqueueDag(ctx, sig.DagName, sig.Envelope); err != nil {
			logging.Error("WORKFLOWSCHED", "failed to enqueue dynamic dag", "run", r.runID, "dag", sig.DagName, "err", err)
		}
	case model.SignalDagCompleted:
		delete(r.liveDags, sig.DagName)
	case model.SignalDagFailed:
		delete(r.liveDags, sig.DagName)
		if r.failure == nil {
			r.failure = &FailureInfo{DagName: sig.DagName, Kind: sig.FailureKind}
		}
		if r.sched.Strict && !r.stopping {
			r.stopping = true
			_ = r.sched.Bus.Publish(r.runID, model.Signal{RunID: r.runID, Kind: model.SignalStopRequest})
		}
	case model.SignalStopRequest:
		r.stopping = true
	case model.SignalAbortRequest:
		r.stopping = true
		_ = r.sched.Bus.Publish(r.runID, model.Signal{RunID: r.runID, Kind: model.SignalAbortRequest})
	}
}

func (r *wfRun) finalize(ctx context.Context) (Outcome, error) {
	status := model.RunStatusSucceeded
	if r.failure != nil {
		status = model.RunStatusFailed
	} else if r.stopping {
		status = model.RunStatusStopped
	}

	if r.doc != nil {
		now := time.Now().UTC()
		_ = r.doc.Set(ctx, store.SectionMeta, "status", []byte(status))
		completedAt, _ := json.Marshal(now)
		_ = r.doc.Set(ctx, store.SectionMeta, "completed_at", completedAt)
		if r.failure != nil {
			_ = r.doc.Set(ctx, store.SectionMeta, "failure_dag", []byte(r.failure.DagName))
			_ = r.doc.Set(ctx, store.SectionMeta, "failure_kind", []byte(r.failure.Kind))
		}
	}

	sig := model.Signal{RunID: r.runID, Kind: model.SignalWorkflowDone, Payload: map[string]string{"status": string(status)}}
	if err := r.sched.Bus.Publish(r.runID, sig); err != nil {
		return Outcome{Status: status, Failure: r.failure}, lferr.Wrap(lferr.KindSignalUnavailable, err, "publish workflow-completed")
	}

	if r.doc != nil {
		if err := r.doc.Archive(ctx); err != nil {
			logging.Warn("WORKFLOWSCHED", "archive run store failed", "run", r.runID, "err", err)
		}
	}
	return Outcome{Status: status, Failure: r.failure}, nil
}
