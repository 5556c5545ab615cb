// Package resilience retries transient failures with exponential back-off.
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
)

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64
}

// DefaultRetryPolicy is used when connecting to Redis and the databases at startup
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   8,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      15 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// RetryManager runs operations under a RetryPolicy
type RetryManager struct {
	policy   RetryPolicy
	logger   *zap.Logger
	attempts atomic.Int64
	failures atomic.Int64
	sleep    func(context.Context, time.Duration) error
}

// NewRetryManager creates a new retry manager
func NewRetryManager(policy RetryPolicy, logger *zap.Logger) *RetryManager {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryManager{
		policy: policy,
		logger: logger,
		sleep:  Sleep,
	}
}

// Execute calls fn until it succeeds, returns a non-transient error,
// the attempts run out or ctx is cancelled.
func (rm *RetryManager) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= rm.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		rm.attempts.Add(1)
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				rm.logger.Info("Operation succeeded after retry",
					zap.String("operation", operation),
					zap.Int("attempts", attempt))
			}
			return nil
		}
		lastErr = err

		if !etlerr.IsTransient(err) {
			rm.failures.Add(1)
			return err
		}

		if attempt == rm.policy.MaxAttempts {
			break
		}

		delay := rm.Delay(attempt)
		rm.logger.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		if err := rm.sleep(ctx, delay); err != nil {
			return err
		}
	}

	rm.failures.Add(1)
	rm.logger.Error("Operation failed after max attempts",
		zap.String("operation", operation),
		zap.Int("attempts", rm.policy.MaxAttempts),
		zap.Error(lastErr))
	return fmt.Errorf("%s failed after %d attempts: %w", operation, rm.policy.MaxAttempts, lastErr)
}

// Delay returns the back-off before the attempt following attempt
func (rm *RetryManager) Delay(attempt int) time.Duration {
	delay := float64(rm.policy.InitialDelay) * math.Pow(rm.policy.BackoffFactor, float64(attempt-1))
	if limit := float64(rm.policy.MaxDelay); limit > 0 && delay > limit {
		delay = limit
	}
	if rm.policy.JitterFactor > 0 {
		jitter := delay * rm.policy.JitterFactor
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Stats returns the total attempts and failed operations
func (rm *RetryManager) Stats() (attempts, failures int64) {
	return rm.attempts.Load(), rm.failures.Load()
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
