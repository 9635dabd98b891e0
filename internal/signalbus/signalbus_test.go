package signalbus

import (
	"context"
	"testing"
	"time"

	"github.com/lightflow/lightflow/internal/model"
)

func TestSubjectFor(t *testing.T) {
	if got := subjectFor("run-1"); got != "lf.run.run-1.signal" {
		t.Fatalf("unexpected subject: %s", got)
	}
}

func TestJoinDagsWaitsForAllNamed(t *testing.T) {
	ch := make(chan model.Signal, 4)
	sub := &Subscription{ch: ch}

	ch <- model.Signal{Kind: model.SignalDagCompleted, DagName: "a"}
	ch <- model.Signal{Kind: model.SignalTaskCompleted, NodeName: "x"} // unrelated, should be ignored
	ch <- model.Signal{Kind: model.SignalDagFailed, DagName: "b"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := JoinDags(ctx, sub, []string{"a", "b"}); err != nil {
		t.Fatalf("expected JoinDags to complete, got %v", err)
	}
}

func TestJoinDagsTimesOutWhenDagNeverCompletes(t *testing.T) {
	ch := make(chan model.Signal)
	sub := &Subscription{ch: ch}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := JoinDags(ctx, sub, []string{"never"}); err == nil {
		t.Fatal("expected timeout error")
	}
}
