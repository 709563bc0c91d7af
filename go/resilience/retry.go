package resilience

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/withObsrvr/fema-disaster-etl/go/logging"
)

// RetryPolicy defines retry behavior for source fetches
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	JitterFactor    float64
	RetryableErrors map[string]bool
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
		RetryableErrors: map[string]bool{
			"connection refused":  true,
			"connection reset":    true,
			"deadline exceeded":   true,
			"context deadline":    true,
			"temporary failure":   true,
			"server error":        true,
			"service unavailable": true,
			"too many requests":   true,
			"eof":                 true,
		},
	}
}

// RetryManager handles retry logic with backoff
type RetryManager struct {
	policy  *RetryPolicy
	logger  *logging.ComponentLogger
	metrics *RetryMetrics
	mu      sync.RWMutex
}

// RetryMetrics tracks retry statistics
type RetryMetrics struct {
	TotalAttempts     int64
	SuccessfulRetries int64
	FailedRetries     int64
	TotalRetryTime    time.Duration
}

// NewRetryManager creates a new retry manager
func NewRetryManager(policy *RetryPolicy, logger *logging.ComponentLogger) *RetryManager {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	return &RetryManager{
		policy:  policy,
		logger:  logger,
		metrics: &RetryMetrics{},
	}
}

// Execute executes a function with retry logic
func (rm *RetryManager) Execute(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	startTime := time.Now()

	for attempt := 1; attempt <= rm.policy.MaxAttempts; attempt++ {
		// Check context before attempting
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				rm.recordSuccess(time.Since(startTime))
				rm.logger.Info().
					Str("operation", operation).
					Int("attempts", attempt).
					Dur("total_time", time.Since(startTime)).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err
		rm.recordAttempt()

		if !rm.isRetryable(err) {
			rm.logger.Debug().
				Str("operation", operation).
				Err(err).
				Msg("Error is not retryable")
			return err
		}

		if attempt >= rm.policy.MaxAttempts {
			rm.recordFailure(time.Since(startTime))
			rm.logger.Error().
				Str("operation", operation).
				Int("attempts", attempt).
				Err(err).
				Msg("Operation failed after max attempts")
			break
		}

		delay := rm.delayFor(attempt)
		rm.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Err(err).
			Msg("Operation failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// delayFor computes the backoff delay for a given attempt number (1-based)
func (rm *RetryManager) delayFor(attempt int) time.Duration {
	backoff := float64(rm.policy.InitialDelay) * math.Pow(rm.policy.BackoffFactor, float64(attempt-1))
	if backoff > float64(rm.policy.MaxDelay) {
		backoff = float64(rm.policy.MaxDelay)
	}

	// Apply jitter in [-JitterFactor, +JitterFactor]
	jitter := backoff * rm.policy.JitterFactor * (2*rand.Float64() - 1)
	delay := time.Duration(backoff + jitter)
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (rm *RetryManager) isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for pattern := range rm.policy.RetryableErrors {
		if rm.policy.RetryableErrors[pattern] && strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Metrics returns a snapshot of retry statistics
func (rm *RetryManager) Metrics() RetryMetrics {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return *rm.metrics
}

func (rm *RetryManager) recordAttempt() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.metrics.TotalAttempts++
}

func (rm *RetryManager) recordSuccess(elapsed time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.metrics.SuccessfulRetries++
	rm.metrics.TotalRetryTime += elapsed
}

func (rm *RetryManager) recordFailure(elapsed time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.metrics.FailedRetries++
	rm.metrics.TotalRetryTime += elapsed
}
