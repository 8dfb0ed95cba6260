package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// KeyScheduled is the sorted set of pending tasks scored by not-before time (unix ms).
	KeyScheduled = "paycore:tasks:scheduled"
	// KeyProcessing holds claimed tasks scored by lease expiry (unix ms).
	KeyProcessing = "paycore:tasks:processing"
	// KeyDLQ is the dead-letter list for tasks whose handler kept failing.
	KeyDLQ = "paycore:tasks:dlq"
	// DefaultMaxAttempts is how often a handler may fail before the task goes to the DLQ.
	DefaultMaxAttempts = 3
	// HandlerRetryBackoff is the delay before a failed handler runs again.
	HandlerRetryBackoff = 10 * time.Second
	// DefaultLease is how long a claimed task stays invisible to other workers.
	DefaultLease = 5 * time.Minute
)

type TaskName string

const (
	TaskRetryExternalRefund TaskName = "retry_external_refund"
	TaskRetryFailedPayment  TaskName = "retry_failed_payment"
	TaskSweepPendingRefunds TaskName = "sweep_pending_refunds"
)

// RefundArgs is the payload of retry_external_refund.
type RefundArgs struct {
	RefundID uint `json:"refund_id"`
}

// PaymentArgs is the payload of retry_failed_payment.
type PaymentArgs struct {
	PaymentID uint `json:"payment_id"`
}

// Task is the envelope stored in Redis.
type Task struct {
	ID        string          `json:"id"`
	Name      TaskName        `json:"name"`
	Args      json.RawMessage `json:"args"`
	Attempt   int             `json:"attempt"`
	NotBefore time.Time       `json:"not_before"`
	CreatedAt time.Time       `json:"created_at"`

	// lease is the stored member while the task is claimed.
	lease string
}

// DecodeArgs unmarshals the task payload into dest.
func (t *Task) DecodeArgs(dest interface{}) error {
	if err := json.Unmarshal(t.Args, dest); err != nil {
		return fmt.Errorf("unmarshal %s args: %w", t.Name, err)
	}
	return nil
}

// Enqueuer is what the services need from the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name TaskName, args interface{}, notBefore time.Time) error
}

// Queue is a Redis-backed delayed task queue. A claimed task is leased, not
// removed: it stays in KeyProcessing until Ack or Retry settles it, and a
// lease that runs out puts it back on the schedule.
type Queue struct {
	client      *redis.Client
	maxAttempts int
	lease       time.Duration
	logger      *logrus.Entry
	now         func() time.Time
}

// NewQueue creates a queue. maxAttempts <= 0 uses DefaultMaxAttempts and
// lease <= 0 uses DefaultLease.
func NewQueue(client *redis.Client, maxAttempts int, lease time.Duration, logger *logrus.Entry) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Queue{
		client:      client,
		maxAttempts: maxAttempts,
		lease:       lease,
		logger:      logger.WithField("component", "queue"),
		now:         time.Now,
	}
}

// Enqueue schedules a task. A zero notBefore means "as soon as possible".
func (q *Queue) Enqueue(ctx context.Context, name TaskName, args interface{}, notBefore time.Time) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	now := q.now()
	if notBefore.IsZero() || notBefore.Before(now) {
		notBefore = now
	}
	task := &Task{
		ID:        uuid.NewString(),
		Name:      name,
		Args:      body,
		NotBefore: notBefore,
		CreatedAt: now,
	}
	if err := q.schedule(ctx, task); err != nil {
		return err
	}
	q.logger.WithFields(logrus.Fields{
		"task_id":    task.ID,
		"task":       name,
		"not_before": notBefore,
	}).Debug("task enqueued")
	return nil
}

func (q *Queue) schedule(ctx context.Context, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	z := redis.Z{Score: float64(task.NotBefore.UnixMilli()), Member: raw}
	if err := q.client.ZAdd(ctx, KeyScheduled, z).Err(); err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

// KEYS[1] scheduled, KEYS[2] processing; ARGV now, lease expiry.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
	return false
end
redis.call('ZREM', KEYS[1], due[1])
redis.call('ZADD', KEYS[2], ARGV[2], due[1])
return due[1]
`)

// KEYS[1] scheduled, KEYS[2] processing; ARGV now.
var reclaimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, member in ipairs(expired) do
	redis.call('ZREM', KEYS[2], member)
	redis.call('ZADD', KEYS[1], ARGV[1], member)
end
return #expired
`)

// Dequeue leases one due task. It returns nil, nil when nothing is due. The
// task stays leased until Ack or Retry; if neither happens before the lease
// expires, a later Dequeue hands it out again.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	now := q.now()
	keys := []string{KeyScheduled, KeyProcessing}

	reclaimed, err := reclaimScript.Run(ctx, q.client, keys, now.UnixMilli()).Int()
	if err != nil {
		return nil, fmt.Errorf("reclaim leases: %w", err)
	}
	if reclaimed > 0 {
		q.logger.WithField("count", reclaimed).Warn("expired task leases reclaimed")
	}

	member, err := claimScript.Run(ctx, q.client, keys, now.UnixMilli(), now.Add(q.lease).UnixMilli()).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(member), &task); err != nil {
		q.logger.WithError(err).WithField("raw", member).Warn("invalid task payload")
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, KeyProcessing, member)
			pipe.RPush(ctx, KeyDLQ, member)
			return nil
		})
		if err != nil {
			q.logger.WithError(err).Error("dlq push failed")
		}
		return nil, nil
	}
	task.lease = member
	return &task, nil
}

// Ack settles a task whose handler succeeded.
func (q *Queue) Ack(ctx context.Context, task *Task) error {
	if task.lease == "" {
		return nil
	}
	if err := q.client.ZRem(ctx, KeyProcessing, task.lease).Err(); err != nil {
		return fmt.Errorf("zrem: %w", err)
	}
	task.lease = ""
	return nil
}

// Retry re-schedules a task whose handler failed. After maxAttempts it moves
// the task to the DLQ instead. Either way the lease is released in the same
// transaction.
func (q *Queue) Retry(ctx context.Context, task *Task, cause error) error {
	task.Attempt++
	log := q.logger.WithFields(logrus.Fields{"task_id": task.ID, "task": task.Name, "attempt": task.Attempt})
	if cause != nil {
		log = log.WithError(cause)
	}

	dead := task.Attempt >= q.maxAttempts
	if !dead {
		task.NotBefore = q.now().Add(HandlerRetryBackoff)
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if task.lease != "" {
			pipe.ZRem(ctx, KeyProcessing, task.lease)
		}
		if dead {
			pipe.RPush(ctx, KeyDLQ, raw)
		} else {
			pipe.ZAdd(ctx, KeyScheduled, redis.Z{Score: float64(task.NotBefore.UnixMilli()), Member: raw})
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("task retry failed")
		return err
	}
	task.lease = ""
	if dead {
		log.Warn("task moved to DLQ")
	} else {
		log.Info("task retried")
	}
	return nil
}

// Pending returns the number of scheduled tasks.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, KeyScheduled).Result()
}

// Leased returns the number of tasks currently claimed by workers.
func (q *Queue) Leased(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, KeyProcessing).Result()
}

// DeadLettered returns the number of tasks in the DLQ.
func (q *Queue) DeadLettered(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, KeyDLQ).Result()
}
