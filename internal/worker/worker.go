// Package worker implements the Worker Loop component: a queue-subset
// consumer that dispatches reserved jobs by kind to the task runtime,
// DAG scheduler, or workflow scheduler, and acks/nacks according to the
// outcome and the job's attempt budget. Grounded on the teacher's
// sdk/runtime/worker.go (semaphore-bounded concurrent dispatch,
// heartbeat loop, cancel tracking) generalized from a single job
// handler to the three-level kind dispatch of spec.md §4.I.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lightflow/lightflow/internal/dagsched"
	"github.com/lightflow/lightflow/internal/lferr"
	"github.com/lightflow/lightflow/internal/logging"
	"github.com/lightflow/lightflow/internal/model"
	"github.com/lightflow/lightflow/internal/queue"
	"github.com/lightflow/lightflow/internal/signalbus"
	"github.com/lightflow/lightflow/internal/store"
	"github.com/lightflow/lightflow/internal/taskrt"
	"github.com/lightflow/lightflow/internal/workflowsched"
)

// Config configures one Worker process.
type Config struct {
	WorkerID        string
	Queues          []string
	Concurrency     int
	ReserveTimeout  time.Duration
	MaxAttempts     int // attempt budget before a failed task job is dead-lettered
	HeartbeatPeriod time.Duration
	StoreURL        string
}

// Worker drains Config.Queues and dispatches jobs to the runtime
// components, one goroutine per reserved job up to Concurrency.
type Worker struct {
	cfg      Config
	queue    *queue.Queue
	bus      *signalbus.Bus
	dlq      *queue.DeadLetterStore
	registry *taskrt.Registry
	workflows map[string]*model.WorkflowDef

	sem        chan struct{}
	activeJobs atomic.Int32

	mu      sync.Mutex
	current map[string]string // job id -> description, for query-signal replies
}

// New wires a Worker to its dependencies.
func New(cfg Config, q *queue.Queue, bus *signalbus.Bus, dlq *queue.DeadLetterStore, registry *taskrt.Registry, workflows map[string]*model.WorkflowDef) *Worker {
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ReserveTimeout <= 0 {
		cfg.ReserveTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = 30 * time.Second
	}
	return &Worker{
		cfg:       cfg,
		queue:     q,
		bus:       bus,
		dlq:       dlq,
		registry:  registry,
		workflows: workflows,
		sem:       make(chan struct{}, cfg.Concurrency),
		current:   map[string]string{},
	}
}

// Run reserves and dispatches jobs from cfg.Queues until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logging.Info("WORKER", "starting", "worker_id", w.cfg.WorkerID, "queues", w.cfg.Queues)
	var wg sync.WaitGroup
	defer wg.Wait()

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(heartbeatCtx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		res, err := w.queue.Reserve(ctx, w.cfg.Queues, w.cfg.WorkerID, w.cfg.ReserveTimeout)
		if err != nil {
			if lferr.OfKind(err, lferr.KindQueueUnavailable) {
				logging.Error("WORKER", "reserve failed", "err", err)
				time.Sleep(time.Second)
				continue
			}
			return err
		}
		if res == nil {
			continue // reserve timed out with nothing available
		}

		w.sem <- struct{}{}
		wg.Add(1)
		go func(res *queue.Reservation) {
			defer wg.Done()
			defer func() { <-w.sem }()
			w.activeJobs.Add(1)
			defer w.activeJobs.Add(-1)
			w.dispatch(ctx, res)
		}(res)
	}
}

func (w *Worker) dispatch(ctx context.Context, res *queue.Reservation) {
	w.track(res.JobID, string(res.Record.Kind)+" "+res.Record.RunID)
	defer w.untrack(res.JobID)

	switch res.Record.Kind {
	case model.JobKindTask:
		w.dispatchTask(ctx, res)
	case model.JobKindDag:
		w.dispatchDag(ctx, res)
	case model.JobKindWorkflow:
		w.dispatchWorkflow(ctx, res)
	default:
		logging.Error("WORKER", "unknown job kind", "kind", res.Record.Kind)
		_ = res.Nack(false)
	}
}

// heartbeatLoop periodically logs this worker's load, grounded on the
// teacher's heartbeatLoop shape but local-only: spec.md defines no
// broker-level heartbeat subject, only the query-signal reply.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logging.Info("WORKER", "heartbeat", "worker_id", w.cfg.WorkerID, "active_jobs", w.activeJobs.Load())
		}
	}
}

func (w *Worker) track(jobID, desc string) {
	w.mu.Lock()
	w.current[jobID] = desc
	w.mu.Unlock()
}

func (w *Worker) untrack(jobID string) {
	w.mu.Lock()
	delete(w.current, jobID)
	w.mu.Unlock()
}

// Snapshot reports the worker's active job set (job id -> description).
// Query signals are answered per task by signalWatcher, not from here.
func (w *Worker) Snapshot() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.current))
	for k, v := range w.current {
		out[k] = v
	}
	return out
}

func (w *Worker) dispatchDag(ctx context.Context, res *queue.Reservation) {
	rec := res.Record
	wf := w.workflows[rec.WorkflowName]
	if wf == nil {
		logging.Error("WORKER", "dag job for unknown workflow", "workflow", rec.WorkflowName)
		_ = res.Nack(false)
		return
	}
	spec := wf.DagByName(rec.DagName)
	if spec == nil {
		logging.Error("WORKER", "dag job for unknown dag", "workflow", rec.WorkflowName, "dag", rec.DagName)
		_ = res.Nack(false)
		return
	}

	sched := dagsched.New(dagsched.QueueAdapter{Queue: w.queue}, dagsched.BusAdapter{Bus: w.bus})
	var initial model.Envelope
	if rec.Envelope != nil {
		initial = *rec.Envelope
	}
	if _, err := sched.Run(ctx, rec.RunID, *spec, initial); err != nil {
		logging.Error("WORKER", "dag scheduler run failed", "run", rec.RunID, "dag", rec.DagName, "err", err)
		w.nackWithBudget(res, false)
		return
	}
	_ = res.Ack()
}

func (w *Worker) dispatchWorkflow(ctx context.Context, res *queue.Reservation) {
	rec := res.Record
	wf := w.workflows[rec.WorkflowName]
	if wf == nil {
		logging.Error("WORKER", "workflow job for unknown workflow", "workflow", rec.WorkflowName)
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

	sched := workflowsched.New(workflowsched.QueueAdapter{Queue: w.queue}, workflowsched.BusAdapter{Bus: w.bus})
	if _, err := sched.Run(ctx, rec.RunID, *wf, rec.Params, doc); err != nil {
		logging.Error("WORKER", "workflow scheduler run failed", "run", rec.RunID, "err", err)
		w.nackWithBudget(res, false)
		return
	}
	_ = res.Ack()
}

// nackWithBudget nacks res for requeue while the attempt budget allows,
// otherwise routes it to the dead-letter store and terminates it —
// spec.md §4.A's "nack without requeue moves the job to a dead-letter
// queue".
func (w *Worker) nackWithBudget(res *queue.Reservation, requeueOnly bool) {
	if res.Delivered() < w.cfg.MaxAttempts {
		_ = res.Nack(true)
		return
	}
	if w.dlq != nil {
		_ = w.dlq.Add(context.Background(), queue.DeadLetterEntry{
			JobID:     res.JobID,
			QueueName: string(res.Record.Kind),
			Record:    res.Record,
			Reason:    "attempt budget exhausted",
			Attempts:  res.Delivered(),
		})
	}
	_ = res.Nack(false)
}
