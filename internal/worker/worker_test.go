package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"paycore/internal/queue"
	"paycore/internal/services/reconciliation"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	tasks   []*queue.Task
	acked   []*queue.Task
	retried []*queue.Task
}

func (s *fakeSource) Dequeue(ctx context.Context) (*queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return nil, nil
	}
	t := s.tasks[0]
	s.tasks = s.tasks[1:]
	return t, nil
}

func (s *fakeSource) Ack(ctx context.Context, task *queue.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, task)
	return nil
}

func (s *fakeSource) acks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acked)
}

func (s *fakeSource) Retry(ctx context.Context, task *queue.Task, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task.Attempt++
	s.retried = append(s.retried, task)
	return nil
}

func (s *fakeSource) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *fakeSource) retries() []*queue.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*queue.Task(nil), s.retried...)
}

type MockRefundRetrier struct {
	mock.Mock
}

func (m *MockRefundRetrier) RetryExternalRefund(ctx context.Context, id uint) (reconciliation.Outcome, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(reconciliation.Outcome), args.Error(1)
}

func (m *MockRefundRetrier) SweepStalePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Int(0), args.Error(1)
}

type MockPaymentRetrier struct {
	mock.Mock
}

func (m *MockPaymentRetrier) RetryFailedPayment(ctx context.Context, id uint) error {
	return m.Called(ctx, id).Error(0)
}

func task(t *testing.T, name queue.TaskName, args interface{}) *queue.Task {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return &queue.Task{ID: string(name), Name: name, Args: raw}
}

func TestProcessDispatchesByTaskName(t *testing.T) {
	ctx := context.Background()
	refunds := new(MockRefundRetrier)
	payments := new(MockPaymentRetrier)
	w := New(&fakeSource{}, time.Millisecond, nil)
	Register(w, refunds, payments, SweepArgs{OlderThan: 30 * time.Minute, Limit: 50})

	refunds.On("RetryExternalRefund", mock.Anything, uint(7)).Return(reconciliation.OutcomeProcessed, nil).Once()
	payments.On("RetryFailedPayment", mock.Anything, uint(3)).Return(nil).Once()
	refunds.On("SweepStalePending", mock.Anything, 30*time.Minute, 50).Return(2, nil).Once()
	refunds.On("SweepStalePending", mock.Anything, 5*time.Minute, 10).Return(0, nil).Once()

	require.NoError(t, w.Process(ctx, task(t, queue.TaskRetryExternalRefund, queue.RefundArgs{RefundID: 7})))
	require.NoError(t, w.Process(ctx, task(t, queue.TaskRetryFailedPayment, queue.PaymentArgs{PaymentID: 3})))
	require.NoError(t, w.Process(ctx, &queue.Task{Name: queue.TaskSweepPendingRefunds}))
	require.NoError(t, w.Process(ctx, task(t, queue.TaskSweepPendingRefunds, SweepArgs{OlderThan: 5 * time.Minute, Limit: 10})))

	err := w.Process(ctx, &queue.Task{Name: "unknown"})
	assert.Error(t, err)

	refunds.AssertExpectations(t)
	payments.AssertExpectations(t)
}

func TestRunDrainsQueueAndRetriesFailures(t *testing.T) {
	refunds := new(MockRefundRetrier)
	payments := new(MockPaymentRetrier)
	refunds.On("RetryExternalRefund", mock.Anything, uint(1)).Return(reconciliation.OutcomeRetrying, nil)
	refunds.On("RetryExternalRefund", mock.Anything, uint(2)).Return(reconciliation.Outcome(""), errors.New("db down"))
	payments.On("RetryFailedPayment", mock.Anything, uint(5)).Return(nil)

	source := &fakeSource{tasks: []*queue.Task{
		task(t, queue.TaskRetryExternalRefund, queue.RefundArgs{RefundID: 1}),
		task(t, queue.TaskRetryExternalRefund, queue.RefundArgs{RefundID: 2}),
		task(t, queue.TaskRetryFailedPayment, queue.PaymentArgs{PaymentID: 5}),
	}}
	w := New(source, 5*time.Millisecond, nil)
	Register(w, refunds, payments, SweepArgs{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return source.pending() == 0 && len(source.retries()) == 1 && source.acks() == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	retried := source.retries()
	require.Len(t, retried, 1)
	assert.Equal(t, 1, retried[0].Attempt)
	payments.AssertExpectations(t)
}

func TestRunSettlesLeasesOnTheRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := queue.NewQueue(client, 3, time.Minute, nil)

	refunds := new(MockRefundRetrier)
	payments := new(MockPaymentRetrier)
	refunds.On("RetryExternalRefund", mock.Anything, uint(1)).Return(reconciliation.OutcomeProcessed, nil).Once()
	refunds.On("RetryExternalRefund", mock.Anything, uint(2)).Return(reconciliation.Outcome(""), errors.New("db down")).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Enqueue(ctx, queue.TaskRetryExternalRefund, queue.RefundArgs{RefundID: 1}, time.Time{}))
	require.NoError(t, q.Enqueue(ctx, queue.TaskRetryExternalRefund, queue.RefundArgs{RefundID: 2}, time.Time{}))

	w := New(q, 5*time.Millisecond, nil)
	Register(w, refunds, payments, SweepArgs{})
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// The failed task is back on the schedule behind its backoff and nothing
	// is left leased.
	assert.Eventually(t, func() bool {
		scheduled, err := mr.ZMembers(queue.KeyScheduled)
		if err != nil || len(scheduled) != 1 {
			return false
		}
		var retried queue.Task
		if json.Unmarshal([]byte(scheduled[0]), &retried) != nil || retried.Attempt != 1 {
			return false
		}
		leased, err := q.Leased(context.Background())
		return err == nil && leased == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	refunds.AssertExpectations(t)
}
