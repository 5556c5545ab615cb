package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trinhhung12345/data-warehouse/internal/resilience"
)

// Outcome is what a step reports back to the runner
type Outcome struct {
	// State the step's work ended in: IDLE, PUBLISHING, LOADING or THROTTLED.
	State State
	// Wait is spent in State before the next scan.
	Wait   time.Duration
	Reason string
	Err    error
}

// Step performs one unit of work
type Step func(ctx context.Context) Outcome

// Status is a snapshot of the runner for health reporting
type Status struct {
	Component      string    `json:"component"`
	State          State     `json:"state"`
	Since          time.Time `json:"since"`
	Iterations     int64     `json:"iterations"`
	Errors         int64     `json:"errors"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorAt    time.Time `json:"last_error_at,omitempty"`
	LastProgressAt time.Time `json:"last_progress_at,omitempty"`
	LastReason     string    `json:"last_reason,omitempty"`
}

// Runner executes a Step in a loop
type Runner struct {
	name    string
	step    Step
	backoff time.Duration
	logger  *zap.Logger

	onTransition func(Transition)
	onStep       func(time.Duration)
	sleep        func(context.Context, time.Duration) error

	mu     sync.RWMutex
	status Status
}

// Option configures a Runner
type Option func(*Runner)

// WithTransitionHook is called after every state change
func WithTransitionHook(fn func(Transition)) Option {
	return func(r *Runner) { r.onTransition = fn }
}

// WithStepHook is called with the duration of every step
func WithStepHook(fn func(time.Duration)) Option {
	return func(r *Runner) { r.onStep = fn }
}

// NewRunner creates a runner for the named component
func NewRunner(name string, step Step, backoff time.Duration, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		name:    name,
		step:    step,
		backoff: backoff,
		logger:  logger,
		sleep:   resilience.Sleep,
		status: Status{
			Component: name,
			State:     StateIdle,
			Since:     time.Now(),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run loops until ctx is cancelled. It returns nil on cancellation and an
// error only when a step reports a state the machine cannot enter.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Scheduler started", zap.Duration("backoff", r.backoff))

	for {
		if ctx.Err() != nil {
			return r.stop("context cancelled")
		}

		if err := r.transition(StateScanning, ""); err != nil {
			return err
		}

		start := time.Now()
		out := r.step(ctx)
		if r.onStep != nil {
			r.onStep(time.Since(start))
		}
		r.countIteration()

		if out.Err != nil {
			if ctx.Err() != nil {
				return r.stop("context cancelled")
			}
			r.recordError(out.Err)
			r.logger.Warn("Step failed, backing off",
				zap.Duration("backoff", r.backoff),
				zap.Error(out.Err))
			if err := r.transition(StateBackoff, out.Err.Error()); err != nil {
				return err
			}
			if err := r.sleep(ctx, r.backoff); err != nil {
				return r.stop("context cancelled")
			}
			continue
		}

		if out.State == StateStopped {
			return r.stop(out.Reason)
		}
		if err := r.transition(out.State, out.Reason); err != nil {
			return err
		}
		if out.State == StatePublishing || out.State == StateLoading {
			r.markProgress()
		}
		if err := r.sleep(ctx, out.Wait); err != nil {
			return r.stop("context cancelled")
		}
	}
}

// Status returns a snapshot of the runner
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// State returns the current state
func (r *Runner) State() State {
	return r.Status().State
}

func (r *Runner) transition(to State, reason string) error {
	r.mu.Lock()
	from := r.status.State
	if !CanTransition(from, to) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	now := time.Now()
	r.status.State = to
	r.status.Since = now
	if reason != "" {
		r.status.LastReason = reason
	}
	r.mu.Unlock()

	t := Transition{From: from, To: to, Reason: reason, At: now}
	if to != StateScanning {
		r.logger.Debug("State transition", zap.Stringer("transition", t))
	}
	if r.onTransition != nil {
		r.onTransition(t)
	}
	return nil
}

func (r *Runner) stop(reason string) error {
	if r.State() == StateStopped {
		return nil
	}
	if err := r.transition(StateStopped, reason); err != nil {
		return err
	}
	r.logger.Info("Scheduler stopped", zap.String("reason", reason))
	return nil
}

func (r *Runner) countIteration() {
	r.mu.Lock()
	r.status.Iterations++
	r.mu.Unlock()
}

func (r *Runner) markProgress() {
	r.mu.Lock()
	r.status.LastProgressAt = time.Now()
	r.mu.Unlock()
}

func (r *Runner) recordError(err error) {
	r.mu.Lock()
	r.status.Errors++
	r.status.LastError = err.Error()
	r.status.LastErrorAt = time.Now()
	r.mu.Unlock()
}
