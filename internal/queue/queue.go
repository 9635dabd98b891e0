// Package queue implements the Job Queue Abstraction: submit/reserve/
// ack/nack over NATS JetStream (durable, at-least-once), with attempt
// counts taken from JetStream's delivery count, and a Redis-backed
// dead-letter store for jobs whose attempt budget is exhausted. Grounded on the teacher's core/infra/bus/nats.go
// (JetStream wiring, durable-subject/stream setup) and
// core/infra/memory/{job_store.go,dlq_store.go} for the lease/attempt
// and dead-letter persistence shape, generalized from protobuf
// BusPacket encoding to JSON (see DESIGN.md for why protobuf was
// dropped).
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/lightflow/lightflow/internal/lferr"
	"github.com/lightflow/lightflow/internal/logging"
	"github.com/lightflow/lightflow/internal/model"
)

const (
	streamName    = "LIGHTFLOW_JOBS"
	subjectPrefix = "lf.job."
	defaultAckWait = 5 * time.Minute
)

func subjectFor(queueName string) string { return subjectPrefix + queueName }

// Queue is the NATS JetStream-backed job queue.
type Queue struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// Connect dials NATS and ensures the durable jobs stream exists.
func Connect(url string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("lightflow-queue"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("QUEUE", "disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("QUEUE", "reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, lferr.Wrap(lferr.KindQueueUnavailable, err, "connect nats")
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, lferr.Wrap(lferr.KindQueueUnavailable, err, "init jetstream")
	}
	q := &Queue{nc: nc, js: js}
	if err := q.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) ensureStream() error {
	_, err := q.js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err == nil {
		return nil
	}
	if _, infoErr := q.js.StreamInfo(streamName); infoErr == nil {
		return nil
	}
	return lferr.Wrap(lferr.KindQueueUnavailable, err, "ensure stream")
}

// Close closes the underlying NATS connection.
func (q *Queue) Close() {
	if q.nc != nil {
		q.nc.Close()
	}
}

// Submit durably appends record to queueName and returns a job id.
func (q *Queue) Submit(ctx context.Context, queueName string, record model.JobRecord) (string, error) {
	jobID := uuid.NewString()
	envelope := jobEnvelope{JobID: jobID, Record: record}
	data, err := json.Marshal(envelope)
	if err != nil {
		return "", lferr.Wrap(lferr.KindQueueUnavailable, err, "marshal job")
	}
	if _, err := q.js.Publish(subjectFor(queueName), data, nats.MsgId(jobID)); err != nil {
		return "", lferr.Wrap(lferr.KindQueueUnavailable, err, "submit job")
	}
	return jobID, nil
}

type jobEnvelope struct {
	JobID  string          `json:"job_id"`
	Record model.JobRecord `json:"record"`
}

// Reservation is a reserved job and its lease token, which the holder
// must Ack or Nack.
type Reservation struct {
	JobID   string
	Record  model.JobRecord
	msg     *nats.Msg
}

// consumerFor returns (creating if needed) a durable pull consumer
// shared by all workers servicing queueName — JetStream tracks
// redelivery/lease-expiry per consumer.
func (q *Queue) consumerFor(queueName string) (*nats.Subscription, error) {
	subject := subjectFor(queueName)
	durable := "lf_" + queueName
	sub, err := q.js.PullSubscribe(subject, durable, nats.AckWait(defaultAckWait), nats.MaxAckPending(2048))
	if err != nil {
		return nil, lferr.Wrap(lferr.KindQueueUnavailable, err, "pull subscribe "+queueName)
	}
	return sub, nil
}

// Reserve pulls the next record from any of queues, trying them in
// order and waiting up to timeout on each. Returns (nil, nil) when every
// queue timed out with no job available.
func (q *Queue) Reserve(ctx context.Context, queues []string, workerID string, timeout time.Duration) (*Reservation, error) {
	for _, queueName := range queues {
		sub, err := q.consumerFor(queueName)
		if err != nil {
			return nil, err
		}
		msgs, err := sub.Fetch(1, nats.MaxWait(timeout))
		if err != nil {
			if err == nats.ErrTimeout || err == context.DeadlineExceeded {
				continue
			}
			return nil, lferr.Wrap(lferr.KindQueueUnavailable, err, "reserve from "+queueName)
		}
		if len(msgs) == 0 {
			continue
		}
		msg := msgs[0]
		var env jobEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			_ = msg.Term()
			return nil, lferr.Wrap(lferr.KindQueueUnavailable, err, "unmarshal job")
		}
		return &Reservation{JobID: env.JobID, Record: env.Record, msg: msg}, nil
	}
	return nil, nil
}

// Ack acknowledges successful processing of a reservation.
func (r *Reservation) Ack() error {
	if r == nil || r.msg == nil {
		return nil
	}
	if err := r.msg.Ack(); err != nil {
		return lferr.Wrap(lferr.KindQueueUnavailable, err, "ack")
	}
	return nil
}

// Nack marks a reservation as failed. When requeue is true the job
// becomes visible to another consumer again; when false it is
// terminated (no further redelivery) — the caller is responsible for
// routing it to the dead-letter store first.
func (r *Reservation) Nack(requeue bool) error {
	if r == nil || r.msg == nil {
		return nil
	}
	if requeue {
		if err := r.msg.Nak(); err != nil {
			return lferr.Wrap(lferr.KindQueueUnavailable, err, "nack requeue")
		}
		return nil
	}
	if err := r.msg.Term(); err != nil {
		return lferr.Wrap(lferr.KindQueueUnavailable, err, "nack terminate")
	}
	return nil
}

// NackWithDelay marks a reservation as failed but requests the broker
// hold off redelivery for at least delay — used by the worker loop to
// apply a task's computed retry backoff.
func (r *Reservation) NackWithDelay(delay time.Duration) error {
	if r == nil || r.msg == nil {
		return nil
	}
	if err := r.msg.NakWithDelay(delay); err != nil {
		return lferr.Wrap(lferr.KindQueueUnavailable, err, "nack with delay")
	}
	return nil
}

// Delivered reports how many times this message has been delivered,
// used by the worker loop to enforce the attempt budget.
func (r *Reservation) Delivered() int {
	if r == nil || r.msg == nil {
		return 1
	}
	meta, err := r.msg.Metadata()
	if err != nil {
		return 1
	}
	return int(meta.NumDelivered)
}
