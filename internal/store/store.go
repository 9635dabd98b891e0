// Package store implements the Persistent Store Handle component: a
// per-run keyed document over Redis, scoped by the meta/workflow/dag/task
// section layout of the data model. Grounded on the teacher's
// RedisStore (core/workflow/store_redis.go) — same client, same
// JSON-blob-per-key pattern, generalized from workflow/run documents to
// arbitrary section/key addressing.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lightflow/lightflow/internal/lferr"
)

// Section is one of the StoreDoc layout prefixes from the data model.
type Section string

const (
	SectionMeta     Section = "meta"
	SectionWorkflow Section = "workflow"
)

// DagSection returns the dag/<dagName> section.
func DagSection(dagName string) Section { return Section("dag/" + dagName) }

// TaskSection returns the task/<dagName>/<taskName> section.
func TaskSection(dagName, taskName string) Section {
	return Section("task/" + dagName + "/" + taskName)
}

const defaultStoreRedisURL = "redis://localhost:6379"

// Handle is the per-run StoreDoc handle.
type Handle struct {
	client *redis.Client
	runID  string
}

// Open connects to Redis at url (or the default) and returns a Handle
// scoped to runID. The document itself has no separate "create"
// step — keys are created lazily on first Set, per spec.md §4.D's
// "document is created before any task runs" being satisfied by the
// workflow scheduler's first meta write.
func Open(url, runID string) (*Handle, error) {
	if url == "" {
		url = defaultStoreRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, lferr.Wrap(lferr.KindConfigError, err, "parse store url")
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, lferr.Wrap(lferr.KindStoreUnavailable, err, "connect store")
	}
	return &Handle{client: client, runID: runID}, nil
}

// FromClient wraps an existing *redis.Client (used by tests against
// miniredis, and by processes that already hold a shared client).
func FromClient(client *redis.Client, runID string) *Handle {
	return &Handle{client: client, runID: runID}
}

func (h *Handle) key(section Section, key string) string {
	return fmt.Sprintf("lf:run:%s:%s:%s", h.runID, section, key)
}

// Set writes value under section/key, last-writer-wins (spec.md §4.D).
func (h *Handle) Set(ctx context.Context, section Section, key string, value []byte) error {
	if err := h.client.Set(ctx, h.key(section, key), value, 0).Err(); err != nil {
		return lferr.Wrap(lferr.KindStoreUnavailable, err, "set "+string(section)+"/"+key)
	}
	return nil
}

// Get reads the value at section/key. Returns lferr.KindStoreUnavailable
// wrapping redis.Nil when the key does not exist — callers distinguish
// "missing" via errors.Is(err, redis.Nil) on the unwrapped cause.
func (h *Handle) Get(ctx context.Context, section Section, key string) ([]byte, error) {
	v, err := h.client.Get(ctx, h.key(section, key)).Bytes()
	if err != nil {
		return nil, lferr.Wrap(lferr.KindStoreUnavailable, err, "get "+string(section)+"/"+key)
	}
	return v, nil
}

// Push appends value to the list-valued key.
func (h *Handle) Push(ctx context.Context, section Section, key string, value []byte) error {
	if err := h.client.RPush(ctx, h.key(section, key), value).Err(); err != nil {
		return lferr.Wrap(lferr.KindStoreUnavailable, err, "push "+string(section)+"/"+key)
	}
	return nil
}

// List returns all elements of a list-valued key.
func (h *Handle) List(ctx context.Context, section Section, key string) ([][]byte, error) {
	vals, err := h.client.LRange(ctx, h.key(section, key), 0, -1).Result()
	if err != nil {
		return nil, lferr.Wrap(lferr.KindStoreUnavailable, err, "list "+string(section)+"/"+key)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// Exists reports whether section/key has a value.
func (h *Handle) Exists(ctx context.Context, section Section, key string) (bool, error) {
	n, err := h.client.Exists(ctx, h.key(section, key)).Result()
	if err != nil {
		return false, lferr.Wrap(lferr.KindStoreUnavailable, err, "exists "+string(section)+"/"+key)
	}
	return n > 0, nil
}

// Delete removes section/key.
func (h *Handle) Delete(ctx context.Context, section Section, key string) error {
	if err := h.client.Del(ctx, h.key(section, key)).Err(); err != nil {
		return lferr.Wrap(lferr.KindStoreUnavailable, err, "delete "+string(section)+"/"+key)
	}
	return nil
}

// Archive removes every key belonging to this run, scanning by the
// run's key prefix. Called when a WorkflowRun reaches a terminal state
// per spec.md §3 ("removed or archived when the run reaches a terminal
// state").
func (h *Handle) Archive(ctx context.Context) error {
	pattern := fmt.Sprintf("lf:run:%s:*", h.runID)
	iter := h.client.Scan(ctx, 0, pattern, 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return lferr.Wrap(lferr.KindStoreUnavailable, err, "scan run keys")
	}
	if len(keys) == 0 {
		return nil
	}
	if err := h.client.Del(ctx, keys...).Err(); err != nil {
		return lferr.Wrap(lferr.KindStoreUnavailable, err, "archive run")
	}
	return nil
}

// Close closes the underlying client.
func (h *Handle) Close() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}
