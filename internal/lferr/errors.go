// Package lferr defines the error kind taxonomy used across lightflow,
// mirroring the sentinel-plus-wrapping style of the teacher's own
// error handling (no custom error framework).
package lferr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in the error handling design.
type Kind string

const (
	KindConfigError      Kind = "ConfigError"
	KindWorkflowNotFound Kind = "WorkflowNotFound"
	KindDagCycle         Kind = "DagCycle"
	KindDagValidation    Kind = "DagValidation"
	KindTaskBodyError    Kind = "TaskBodyError"
	KindDataRoutingError Kind = "DataRoutingError"
	KindQueueUnavailable Kind = "QueueUnavailable"
	KindSignalUnavailable Kind = "SignalUnavailable"
	KindStoreUnavailable Kind = "StoreUnavailable"
	KindTimeout          Kind = "Timeout"
	KindAbortRequested   Kind = "AbortRequested"
	KindStopRequested    Kind = "StopRequested"
)

// Error wraps an underlying cause with a taxonomy Kind and optional
// detail fields for diagnosis (dag/task names, a user-defined body
// error tag).
type Error struct {
	Kind    Kind
	Detail  string
	DagName string
	TaskName string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.DagName != "" {
		msg += " dag=" + e.DagName
	}
	if e.TaskName != "" {
		msg += " task=" + e.TaskName
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target shares the same Kind, so callers can use
// errors.Is(err, lferr.New(KindTimeout, "")) as a sentinel check.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an Error of the given kind with a free-form detail.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, detail string) *Error {
	return &Error{Kind: kind, Cause: cause, Detail: detail}
}

// WithScope attaches dag/task identifiers for richer diagnostics.
func (e *Error) WithScope(dagName, taskName string) *Error {
	e.DagName = dagName
	e.TaskName = taskName
	return e
}

// OfKind reports whether err (or something it wraps) carries kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Timeoutf builds a KindTimeout error with a formatted detail.
func Timeoutf(format string, args ...interface{}) *Error {
	return New(KindTimeout, fmt.Sprintf(format, args...))
}
