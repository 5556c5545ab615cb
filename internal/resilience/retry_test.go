package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
)

func newTestManager(t *testing.T, attempts int) *RetryManager {
	rm := NewRetryManager(RetryPolicy{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      4 * time.Millisecond,
		BackoffFactor: 2,
	}, zaptest.NewLogger(t))
	rm.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return rm
}

func TestExecuteRetriesTransient(t *testing.T) {
	rm := newTestManager(t, 5)
	calls := 0

	err := rm.Execute(context.Background(), "ping redis", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	attempts, failures := rm.Stats()
	assert.Equal(t, int64(3), attempts)
	assert.Equal(t, int64(0), failures)
}

func TestExecuteStopsOnFatalConfig(t *testing.T) {
	rm := newTestManager(t, 5)
	calls := 0
	fatal := etlerr.FatalConfig("ping warehouse", errors.New("database does not exist"))

	err := rm.Execute(context.Background(), "ping warehouse", func(context.Context) error {
		calls++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestExecuteGivesUp(t *testing.T) {
	rm := newTestManager(t, 3)
	cause := errors.New("timeout")

	err := rm.Execute(context.Background(), "ping ops", func(context.Context) error { return cause })

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestExecuteHonoursCancellation(t *testing.T) {
	rm := newTestManager(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rm.Execute(ctx, "ping", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayIsCapped(t *testing.T) {
	rm := newTestManager(t, 10)
	assert.Equal(t, time.Millisecond, rm.Delay(1))
	assert.Equal(t, 2*time.Millisecond, rm.Delay(2))
	assert.Equal(t, 4*time.Millisecond, rm.Delay(8))
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
