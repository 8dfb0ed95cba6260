package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Delay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 30 * time.Second, MaxDelay: 5 * time.Minute}

	tests := []struct {
		name     string
		attempts int
		want     time.Duration
	}{
		{name: "first failure", attempts: 1, want: 30 * time.Second},
		{name: "second failure doubles", attempts: 2, want: time.Minute},
		{name: "third failure", attempts: 3, want: 2 * time.Minute},
		{name: "capped at max delay", attempts: 5, want: 5 * time.Minute},
		{name: "zero attempts uses base", attempts: 0, want: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Delay(tt.attempts))
		})
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3}

	assert.False(t, policy.Exhausted(0))
	assert.False(t, policy.Exhausted(2))
	assert.True(t, policy.Exhausted(3))
	assert.True(t, policy.Exhausted(4))
}

func TestTask_DecodeArgs(t *testing.T) {
	body, err := json.Marshal(RefundArgs{RefundID: 42})
	require.NoError(t, err)

	task := &Task{Name: TaskRetryExternalRefund, Args: body}

	var args RefundArgs
	require.NoError(t, task.DecodeArgs(&args))
	assert.Equal(t, uint(42), args.RefundID)

	bad := &Task{Name: TaskRetryFailedPayment, Args: json.RawMessage(`{"payment_id":"x"}`)}
	var paymentArgs PaymentArgs
	err = bad.DecodeArgs(&paymentArgs)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retry_failed_payment")
}
