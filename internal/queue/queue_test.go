package queue

import (
	"encoding/json"
	"testing"

	"github.com/lightflow/lightflow/internal/model"
)

func TestSubjectFor(t *testing.T) {
	if got := subjectFor("task"); got != "lf.job.task" {
		t.Fatalf("expected lf.job.task, got %s", got)
	}
}

func TestJobEnvelopeRoundTrip(t *testing.T) {
	env := jobEnvelope{
		JobID: "job-1",
		Record: model.JobRecord{
			Kind:     model.JobKindTask,
			RunID:    "run-1",
			DagName:  "main",
			TaskName: "A",
			Attempt:  1,
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded jobEnvelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.JobID != env.JobID || decoded.Record.TaskName != "A" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}
