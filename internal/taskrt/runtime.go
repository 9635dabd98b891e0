package taskrt

import (
	"context"
	"encoding/json"

	"github.com/lightflow/lightflow/internal/envelope"
	"github.com/lightflow/lightflow/internal/lferr"
	"github.com/lightflow/lightflow/internal/model"
)

// Registry resolves a TaskNode's BodyRef to a concrete Body
// implementation. Script bodies are registered by name ahead of time
// (they're in-process Go code, not resolvable at runtime); command
// bodies are constructed on demand from the node definition.
type Registry struct {
	scripts map[string]ScriptBody
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{scripts: map[string]ScriptBody{}} }

// RegisterScript binds name to a ScriptBody implementation.
func (r *Registry) RegisterScript(name string, body ScriptBody) {
	r.scripts[name] = body
}

// Resolve returns the Body for node, constructing a CommandBody inline
// for command-kind nodes (BodyRef is the shell command line) or
// looking up a registered ScriptBody by name for script-kind nodes.
func (r *Registry) Resolve(node model.TaskNode) (Body, error) {
	switch node.Kind {
	case model.BodyKindCommand:
		return CommandBody{Command: "/bin/sh", Args: []string{"-c", node.BodyRef}}, nil
	case model.BodyKindScript:
		body, ok := r.scripts[node.BodyRef]
		if !ok {
			return nil, lferr.New(lferr.KindTaskBodyError, "unregistered script body "+node.BodyRef).WithScope("", node.Name)
		}
		return body, nil
	default:
		return nil, lferr.New(lferr.KindTaskBodyError, "unknown body kind "+string(node.Kind)).WithScope("", node.Name)
	}
}

// Execute runs one task job per spec.md §4.F: select the body-facing
// data view, invoke the body, classify the outcome. It does not publish
// signals or ack the job — that's the caller's (the worker loop's)
// responsibility, preserving the "signal before ack"
// ordering invariant at the call site rather than burying it here.
func Execute(ctx context.Context, node model.TaskNode, input model.Envelope, registry *Registry, store StoreHandle, signal SignalHandle, runID, dagName string, attempt int) Outcome {
	body, err := registry.Resolve(node)
	if err != nil {
		return Outcome{Kind: OutcomeFailure, FailureKind: "TaskBodyError", Recoverable: false, ErrMessage: err.Error()}
	}

	view, err := envelope.SelectForTask(input, aliasMapFor(node), node.Strict)
	if err != nil {
		return Outcome{Kind: OutcomeFailure, FailureKind: "DataRoutingError", Recoverable: false, ErrMessage: err.Error()}
	}

	data := make(map[string]interface{}, len(view))
	for k, raw := range view {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			data[k] = string(raw)
			continue
		}
		data[k] = v
	}

	tc := &Context{
		RunID:    runID,
		DagName:  dagName,
		TaskName: node.Name,
		Attempt:  attempt,
		Data:     data,
		Store:    store,
		Signal:   signal,
	}

	return body.Run(ctx, tc)
}

// aliasMapFor builds the alias map SelectForTask expects from a node's
// declared input slot names: each input slot name aliases itself,
// matching spec.md §3's "declared input slot names (optional; defaults
// to all)".
func aliasMapFor(node model.TaskNode) map[string]string {
	if len(node.InputSlots) == 0 {
		return nil
	}
	aliases := make(map[string]string, len(node.InputSlots))
	for _, slot := range node.InputSlots {
		aliases[slot] = slot
	}
	return aliases
}
