// Package model defines the wire and domain types shared across the
// workflow, DAG, and task layers: WorkflowRun, DagSpec, TaskNode,
// DataEnvelope, JobRecord, and Signal, as laid out in the data model.
package model

import (
	"encoding/json"
	"time"
)

// RunStatus captures the lifecycle of a WorkflowRun.
type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusStopping RunStatus = "stopping"
	RunStatusStopped  RunStatus = "stopped"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed   RunStatus = "failed"
	RunStatusAborted  RunStatus = "aborted"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusAborted, RunStatusStopped:
		return true
	default:
		return false
	}
}

// NodeStatus captures per-task-node state within one DAG run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusReady     NodeStatus = "ready"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeStatusSucceeded, NodeStatusFailed, NodeStatusSkipped:
		return true
	default:
		return false
	}
}

// BodyKind tags the variant of a task's callable body.
type BodyKind string

const (
	BodyKindScript  BodyKind = "script"
	BodyKindCommand BodyKind = "command"
)

// RetryPolicy configures retry behavior for a task node.
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	InitialBackoff    time.Duration `json:"initial_backoff,omitempty" yaml:"initial_backoff,omitempty"`
	MaxBackoff        time.Duration `json:"max_backoff,omitempty" yaml:"max_backoff,omitempty"`
	Multiplier        float64       `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
}

// Slice is one named data slice inside an Envelope: a slot name, an
// opaque JSON-serialized payload, and the append-only history of task
// names that have touched it.
type Slice struct {
	Slot    string          `json:"slot"`
	Payload json.RawMessage `json:"payload,omitempty"`
	History []string        `json:"history,omitempty"`
}

// Envelope is an ordered list of named data slices flowing along DAG
// edges, plus the alias map a task used to select its input view.
type Envelope struct {
	Slices  []Slice           `json:"slices,omitempty"`
	Aliases map[string]string `json:"aliases,omitempty"`
}

// Edge is a directed edge parent->child, optionally carrying the slot
// name routed along it.
type Edge struct {
	Parent string `json:"parent" yaml:"parent"`
	Child  string `json:"child" yaml:"child"`
	Slot   string `json:"slot,omitempty" yaml:"slot,omitempty"`
}

// TaskNode is a node in a DagSpec.
type TaskNode struct {
	Name        string       `json:"name" yaml:"name"`
	Kind        BodyKind     `json:"kind" yaml:"kind"`
	BodyRef     string       `json:"body_ref" yaml:"body_ref"`
	InputSlots  []string     `json:"input_slots,omitempty" yaml:"input_slots,omitempty"`
	OutputSlots []string     `json:"output_slots,omitempty" yaml:"output_slots,omitempty"`
	ForEachSlot string       `json:"for_each_slot,omitempty" yaml:"for_each_slot,omitempty"`
	Retry       *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
	TimeoutSec  int64        `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
	Strict      bool         `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// DagSpec is one DAG definition within a workflow.
type DagSpec struct {
	Name      string      `json:"name" yaml:"name"`
	Nodes     []TaskNode  `json:"nodes" yaml:"nodes"`
	Edges     []Edge      `json:"edges" yaml:"edges"`
	Autostart *bool       `json:"autostart,omitempty" yaml:"autostart,omitempty"`
}

// AutostartEnabled reports whether the DAG should be enqueued by the
// workflow scheduler without an explicit run-dag signal.
func (d *DagSpec) AutostartEnabled() bool {
	if d == nil || d.Autostart == nil {
		return true
	}
	return *d.Autostart
}

// WorkflowDef is the persisted, user-authored workflow bundle: one or
// more DAGs plus a launch entry point.
type WorkflowDef struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Dags        []DagSpec `json:"dags" yaml:"dags"`
}

// DagByName looks up a DagSpec by name.
func (w *WorkflowDef) DagByName(name string) *DagSpec {
	if w == nil {
		return nil
	}
	for i := range w.Dags {
		if w.Dags[i].Name == name {
			return &w.Dags[i]
		}
	}
	return nil
}

// WorkflowRun is one invocation of a WorkflowDef.
type WorkflowRun struct {
	ID          string            `json:"id"`
	WorkflowName string           `json:"workflow_name"`
	Params      map[string]string `json:"params,omitempty"`
	Status      RunStatus         `json:"status"`
	LiveDags    map[string]bool   `json:"live_dags,omitempty"`
	FailureDag  string            `json:"failure_dag,omitempty"`
	FailureTask string            `json:"failure_task,omitempty"`
	FailureKind string            `json:"failure_kind,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// JobKind tags the three logical job streams of spec.md §6.
type JobKind string

const (
	JobKindWorkflow JobKind = "workflow"
	JobKindDag      JobKind = "dag"
	JobKindTask     JobKind = "task"
)

// JobRecord is the payload submitted to the job queue (component A).
type JobRecord struct {
	Kind       JobKind `json:"kind"`
	RunID      string  `json:"run_id"`
	WorkflowName string `json:"workflow_name,omitempty"`
	DagName    string  `json:"dag_name,omitempty"`
	TaskName   string  `json:"task_name,omitempty"`
	Envelope   *Envelope `json:"envelope,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Attempt    int     `json:"attempt"`
	DeadlineMs int64   `json:"deadline_ms,omitempty"`
}

// SignalKind enumerates the bus signal vocabulary of spec.md §3.
type SignalKind string

const (
	SignalTaskCompleted  SignalKind = "task-completed"
	SignalTaskFailed     SignalKind = "task-failed"
	SignalTaskSkipped    SignalKind = "task-skipped"
	SignalStopRequest    SignalKind = "stop-request"
	SignalAbortRequest   SignalKind = "abort-request"
	SignalQuery          SignalKind = "query"
	SignalQueryReply     SignalKind = "query-reply"
	SignalDagCompleted   SignalKind = "dag-completed"
	SignalDagFailed      SignalKind = "dag-failed"
	SignalRunDag         SignalKind = "run-dag"
	SignalWorkflowDone   SignalKind = "workflow-completed"
)

// Routing restricts downstream propagation after a successful task and
// may request a skip of specific descendants (spec.md §4.F).
type Routing struct {
	Allow []string `json:"allow,omitempty"`
	Skip  []string `json:"skip,omitempty"`
}

// Signal is a message on the signal bus, keyed by run id.
type Signal struct {
	RunID         string     `json:"run_id"`
	Kind          SignalKind `json:"kind"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	DagName       string     `json:"dag_name,omitempty"`
	NodeName      string     `json:"node_name,omitempty"`
	Envelope      *Envelope  `json:"envelope,omitempty"`
	Routing       *Routing   `json:"routing,omitempty"`
	FailureKind   string     `json:"failure_kind,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	Stopped       bool       `json:"stopped,omitempty"`
	Aborted       bool       `json:"aborted,omitempty"`
	Payload       map[string]string `json:"payload,omitempty"`
}
