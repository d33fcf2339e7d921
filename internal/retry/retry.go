// Package retry runs remote operations with a per-attempt timeout, bounded
// retries and exponential backoff.
//
// Every failure inside the budget is retried; once the budget is spent the
// caller receives a Result carrying a classified *Error instead of a value:
//
//	res := retry.Do(ctx, executor, "Fetch remote tasks", func(ctx context.Context) ([]schema.Row, error) {
//	    return backend.Fetch(ctx, "tasks", userID)
//	})
//	rows, err := res.Unwrap()
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/flowsync/internal/metrics"
)

// Config controls attempts and backoff.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first (default: 3)
	MaxAttempts int

	// Timeout bounds a single attempt (default: 30s)
	Timeout time.Duration

	// InitialDelay is the wait after the first failed attempt (default: 1s)
	InitialDelay time.Duration

	// MaxDelay caps the wait between attempts (default: 10s)
	MaxDelay time.Duration

	// Multiplier scales the delay after each failure (default: 2.0)
	Multiplier float64

	// JitterStep is added to the delay once per attempt number (default: 100ms)
	JitterStep time.Duration
}

// DefaultConfig returns the standard retry budget.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		Timeout:      30 * time.Second,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterStep:   100 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.JitterStep < 0 {
		c.JitterStep = 0
	}
	return c
}

// NextDelay computes the wait that follows failed attempt number attempt
// (1-based), given the wait that preceded it.
func (c Config) NextDelay(current time.Duration, attempt int) time.Duration {
	next := time.Duration(float64(current)*c.Multiplier) + c.JitterStep*time.Duration(attempt)
	if next > c.MaxDelay {
		return c.MaxDelay
	}
	return next
}

// Executor runs operations under a retry budget. It is safe for concurrent use.
type Executor struct {
	config Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates an Executor. Zero fields in config take their defaults and a
// nil logger discards output.
func New(config Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		config: config.withDefaults(),
		logger: logger.Named("retry"),
		sleep:  sleepContext,
	}
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Result holds either the value of the first successful attempt or the
// classified failure.
type Result[T any] struct {
	value T
	err   *Error
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool {
	return r.err == nil
}

// Value returns the result value; the zero value on failure.
func (r Result[T]) Value() T {
	return r.value
}

// Err returns the classified failure, or nil on success.
func (r Result[T]) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Unwrap returns the value and the failure as a conventional pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.Err()
}

// Do runs op until it succeeds, the attempts are spent or ctx is done.
func Do[T any](ctx context.Context, e *Executor, operation string, op func(ctx context.Context) (T, error)) Result[T] {
	cfg := e.config
	delay := cfg.InitialDelay

	var (
		lastErr  error
		attempts int
	)

	for attempts < cfg.MaxAttempts {
		attempts++
		start := time.Now()

		value, err := runAttempt(ctx, cfg.Timeout, op)
		if err == nil {
			metrics.RecordRetryAttempt("success")
			e.logger.Debug("Operation succeeded",
				zap.String("operation", operation),
				zap.Int("attempt", attempts),
				zap.Duration("elapsed", time.Since(start)),
			)
			return Result[T]{value: value}
		}

		lastErr = err
		if errors.Is(err, ErrAttemptTimeout) {
			metrics.RecordRetryAttempt("timeout")
		} else {
			metrics.RecordRetryAttempt("failure")
		}

		if ctx.Err() != nil {
			e.logger.Warn("Operation abandoned, context done",
				zap.String("operation", operation),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			break
		}

		if attempts == cfg.MaxAttempts {
			e.logger.Error("Operation failed, no attempts left",
				zap.String("operation", operation),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			break
		}

		e.logger.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := e.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay = cfg.NextDelay(delay, attempts)
	}

	return Result[T]{err: &Error{
		Operation: operation,
		Attempts:  attempts,
		Cause:     lastErr,
	}}
}

// runAttempt runs op with its own deadline. An op that ignores its context
// is abandoned when the deadline passes; its goroutine finishes on its own.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		v, err := op(attemptCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %v", ErrAttemptTimeout, timeout, o.err)
		}
		return o.value, o.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
