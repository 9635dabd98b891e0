package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lightflow/lightflow/internal/model"
)

func newTestDLQ(t *testing.T) *DeadLetterStore {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return NewDeadLetterStore(client)
}

func TestDeadLetterAddAndList(t *testing.T) {
	s := newTestDLQ(t)
	ctx := context.Background()

	entry := DeadLetterEntry{
		JobID:     "job-1",
		QueueName: "task",
		Record:    model.JobRecord{Kind: model.JobKindTask, RunID: "run-1", TaskName: "A"},
		Reason:    "attempt budget exhausted",
		Attempts:  3,
		CreatedAt: time.Unix(1000, 0),
	}
	if err := s.Add(ctx, entry); err != nil {
		t.Fatalf("add: %v", err)
	}

	entries, err := s.List(ctx, "task", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].JobID != "job-1" {
		t.Fatalf("expected one entry job-1, got %+v", entries)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Reason != "attempt budget exhausted" {
		t.Fatalf("unexpected reason: %s", got.Reason)
	}
}

func TestDeadLetterGetMissing(t *testing.T) {
	s := newTestDLQ(t)
	if _, err := s.Get(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for missing entry")
	}
}
