package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/withObsrvr/fema-disaster-etl/go/logging"
)

func testManager(policy *RetryPolicy) *RetryManager {
	return NewRetryManager(policy, logging.NewComponentLogger("retry-test", "dev"))
}

func fastPolicy(maxAttempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   maxAttempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
		RetryableErrors: map[string]bool{
			"temporary failure": true,
		},
	}
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	rm := testManager(fastPolicy(3))

	calls := 0
	err := rm.Execute(context.Background(), "fetch", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	rm := testManager(fastPolicy(5))

	calls := 0
	err := rm.Execute(context.Background(), "fetch", func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("got %d calls, want 3", calls)
	}
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	rm := testManager(fastPolicy(3))

	calls := 0
	err := rm.Execute(context.Background(), "fetch", func() error {
		calls++
		return errors.New("temporary failure")
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want failure after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("got %d calls, want 3", calls)
	}

	m := rm.Metrics()
	if m.FailedRetries != 1 {
		t.Errorf("FailedRetries = %d, want 1", m.FailedRetries)
	}
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	rm := testManager(fastPolicy(5))

	calls := 0
	err := rm.Execute(context.Background(), "fetch", func() error {
		calls++
		return errors.New("status 404")
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want non-retryable error")
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1 (no retries for non-retryable errors)", calls)
	}
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	rm := testManager(fastPolicy(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rm.Execute(ctx, "fetch", func() error {
		return errors.New("temporary failure")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestDelayForBounds(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:   10,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
	rm := testManager(policy)

	tests := []struct {
		attempt int
		max     time.Duration
	}{
		{attempt: 1, max: 110 * time.Millisecond},
		{attempt: 2, max: 220 * time.Millisecond},
		{attempt: 3, max: 440 * time.Millisecond},
		{attempt: 8, max: 1100 * time.Millisecond}, // capped at MaxDelay plus jitter
	}

	for _, tt := range tests {
		for i := 0; i < 50; i++ {
			d := rm.delayFor(tt.attempt)
			if d < 0 {
				t.Fatalf("delayFor(%d) = %v, want >= 0", tt.attempt, d)
			}
			if d > tt.max {
				t.Fatalf("delayFor(%d) = %v, want <= %v", tt.attempt, d, tt.max)
			}
		}
	}
}
