package taskrt

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/lightflow/lightflow/internal/model"
)

// CommandBody spawns an external process and classifies its exit code,
// grounded on original_source's BashTask (shell command, captured
// stdout/stderr, cooperative stop by terminating the process early when
// the signal handle reports a stop request).
type CommandBody struct {
	Command    string
	Args       []string
	Dir        string
	Env        []string
	OutputSlot string // slot name the captured stdout is written to
}

// Run implements Body.
func (b CommandBody) Run(ctx context.Context, tc *Context) Outcome {
	cmd := exec.CommandContext(ctx, b.Command, b.Args...)
	cmd.Dir = b.Dir
	if len(b.Env) > 0 {
		cmd.Env = b.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Outcome{Kind: OutcomeFailure, FailureKind: "CommandStartError", Recoverable: true, ErrMessage: err.Error()}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				return Outcome{
					Kind:        OutcomeFailure,
					FailureKind: "CommandExitError",
					Recoverable: false,
					ErrMessage:  err.Error() + ": " + stderr.String(),
				}
			}
			return Outcome{
				Kind: OutcomeSuccess,
				Slices: []model.Slice{
					{Slot: b.outputSlot(), Payload: jsonString(stdout.String())},
				},
			}
		case <-ticker.C:
			if tc.Signal != nil && tc.Signal.IsStopRequested() {
				_ = cmd.Process.Kill()
			}
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return Outcome{Kind: OutcomeFailure, FailureKind: "Timeout", Recoverable: false, ErrMessage: ctx.Err().Error()}
		}
	}
}

func (b CommandBody) outputSlot() string {
	if b.OutputSlot == "" {
		return "stdout"
	}
	return b.OutputSlot
}

func jsonString(s string) []byte {
	data, _ := json.Marshal(s)
	return data
}
