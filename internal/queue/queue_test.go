package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, maxAttempts int) (*Queue, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewQueue(client, maxAttempts, time.Minute, nil)
	q.now = func() time.Time { return now }
	return q, mr, &now
}

func TestEnqueueDequeue(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t, 3)

	require.NoError(t, q.Enqueue(ctx, TaskRetryExternalRefund, RefundArgs{RefundID: 9}, time.Time{}))
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, TaskRetryExternalRefund, task.Name)
	assert.Equal(t, 0, task.Attempt)

	var args RefundArgs
	require.NoError(t, task.DecodeArgs(&args))
	assert.Equal(t, uint(9), args.RefundID)

	leased, err := q.Leased(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), leased)
	require.NoError(t, q.Ack(ctx, task))
	leased, err = q.Leased(ctx)
	require.NoError(t, err)
	assert.Zero(t, leased)

	task, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestUnsettledTaskIsRedeliveredAfterLease(t *testing.T) {
	ctx := context.Background()
	q, _, now := newTestQueue(t, 3)

	require.NoError(t, q.Enqueue(ctx, TaskRetryExternalRefund, RefundArgs{RefundID: 3}, time.Time{}))
	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	// The worker holding the lease never acks, as after a crash mid-handler.
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "a leased task is invisible to other workers")

	*now = now.Add(time.Minute)
	again, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 0, again.Attempt)

	require.NoError(t, q.Ack(ctx, again))
	*now = now.Add(time.Hour)
	again, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "an acked task is gone for good")
}

func TestDequeueWaitsForNotBefore(t *testing.T) {
	ctx := context.Background()
	q, _, now := newTestQueue(t, 3)

	require.NoError(t, q.Enqueue(ctx, TaskRetryFailedPayment, PaymentArgs{PaymentID: 4}, now.Add(time.Minute)))

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, task)

	*now = now.Add(time.Minute)
	task, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, TaskRetryFailedPayment, task.Name)
}

func TestRetryBacksOffThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	q, _, now := newTestQueue(t, 2)

	require.NoError(t, q.Enqueue(ctx, TaskSweepPendingRefunds, map[string]int{"limit": 10}, time.Time{}))
	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	require.NoError(t, q.Retry(ctx, task, assert.AnError))
	leased, err := q.Leased(ctx)
	require.NoError(t, err)
	assert.Zero(t, leased, "retry releases the lease")
	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "retried task must wait for the backoff")

	*now = now.Add(HandlerRetryBackoff)
	again, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, task.ID, again.ID)
	assert.Equal(t, 1, again.Attempt)

	require.NoError(t, q.Retry(ctx, again, assert.AnError))
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	dead, err := q.DeadLettered(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
}

func TestDequeueMovesUnreadablePayloadToDLQ(t *testing.T) {
	ctx := context.Background()
	q, mr, now := newTestQueue(t, 3)

	_, err := mr.ZAdd(KeyScheduled, float64(now.UnixMilli()), "not json")
	require.NoError(t, err)

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, task)

	dead, err := q.DeadLettered(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
	leased, err := q.Leased(ctx)
	require.NoError(t, err)
	assert.Zero(t, leased)
}
