package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lightflow/lightflow/internal/lferr"
	"github.com/lightflow/lightflow/internal/model"
)

const dlqMaxEntries = 1000

// DeadLetterEntry records one job that exhausted its attempt budget.
// Grounded on the teacher's DLQEntry (core/infra/memory/dlq_store.go).
type DeadLetterEntry struct {
	JobID     string          `json:"job_id"`
	QueueName string          `json:"queue_name"`
	Record    model.JobRecord `json:"record"`
	Reason    string          `json:"reason"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}

// DeadLetterStore persists exhausted jobs in Redis, trimmed to the
// most recent dlqMaxEntries per queue.
type DeadLetterStore struct {
	client *redis.Client
}

// NewDeadLetterStore wraps an existing Redis client.
func NewDeadLetterStore(client *redis.Client) *DeadLetterStore {
	return &DeadLetterStore{client: client}
}

// ConnectDeadLetterStore dials Redis at url and wraps it in a
// DeadLetterStore, for processes (the worker binary) that don't
// already hold a shared client.
func ConnectDeadLetterStore(url string) (*DeadLetterStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, lferr.Wrap(lferr.KindConfigError, err, "parse dlq redis url")
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, lferr.Wrap(lferr.KindStoreUnavailable, err, "connect dlq store")
	}
	return &DeadLetterStore{client: client}, nil
}

func dlqEntryKey(jobID string) string  { return "lf:dlq:entry:" + jobID }
func dlqIndexKey(queueName string) string { return "lf:dlq:index:" + queueName }

// Add records entry and indexes it under its queue, trimming old
// entries beyond dlqMaxEntries.
func (s *DeadLetterStore) Add(ctx context.Context, entry DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return lferr.Wrap(lferr.KindQueueUnavailable, err, "marshal dlq entry")
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqEntryKey(entry.JobID), data, 0)
	pipe.ZAdd(ctx, dlqIndexKey(entry.QueueName), redis.Z{Score: float64(entry.CreatedAt.Unix()), Member: entry.JobID})
	pipe.ZRemRangeByRank(ctx, dlqIndexKey(entry.QueueName), 0, -int64(dlqMaxEntries)-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return lferr.Wrap(lferr.KindQueueUnavailable, err, "persist dlq entry")
	}
	return nil
}

// List returns the most recent dead-letter entries for queueName.
func (s *DeadLetterStore) List(ctx context.Context, queueName string, limit int64) ([]DeadLetterEntry, error) {
	ids, err := s.client.ZRevRange(ctx, dlqIndexKey(queueName), 0, limit-1).Result()
	if err != nil {
		return nil, lferr.Wrap(lferr.KindQueueUnavailable, err, "list dlq")
	}
	out := make([]DeadLetterEntry, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, dlqEntryKey(id)).Bytes()
		if err != nil {
			continue
		}
		var e DeadLetterEntry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Get returns a single dead-letter entry by job id.
func (s *DeadLetterStore) Get(ctx context.Context, jobID string) (*DeadLetterEntry, error) {
	data, err := s.client.Get(ctx, dlqEntryKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, lferr.New(lferr.KindQueueUnavailable, fmt.Sprintf("no dlq entry for job %s", jobID))
		}
		return nil, lferr.Wrap(lferr.KindQueueUnavailable, err, "get dlq entry")
	}
	var e DeadLetterEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, lferr.Wrap(lferr.KindQueueUnavailable, err, "unmarshal dlq entry")
	}
	return &e, nil
}
