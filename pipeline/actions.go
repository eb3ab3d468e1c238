package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dcshock/hookpipe/hook"
)

// Noop returns an action that does nothing. Useful for anchor steps whose
// only purpose is to fire their hook chains.
func Noop() hook.Callback {
	return func(ctx context.Context, args ...interface{}) error { return nil }
}

// Tap returns an action that calls fn with the run args and never fails.
// Use for logging, metrics, or side effects.
func Tap(fn func(ctx context.Context, args []interface{})) hook.Callback {
	return func(ctx context.Context, args ...interface{}) error {
		fn(ctx, args)
		return nil
	}
}

// Chain runs actions in order and stops at the first error.
func Chain(actions ...hook.Callback) hook.Callback {
	return func(ctx context.Context, args ...interface{}) error {
		for i, a := range actions {
			if err := a(ctx, args...); err != nil {
				return fmt.Errorf("chain[%d]: %w", i, err)
			}
		}
		return nil
	}
}

// WithTimeout wraps inner so it runs with a context deadline of now+timeout.
// inner must honor its context for the deadline to have any effect.
func WithTimeout(inner hook.Callback, timeout time.Duration) hook.Callback {
	return func(ctx context.Context, args ...interface{}) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return inner(ctx, args...)
	}
}

// Arg returns the first arg of type T.
func Arg[T any](args []interface{}) (T, bool) {
	for _, a := range args {
		if v, ok := a.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Validate returns an action that fails unless predicate holds for the
// first arg of type T. errMsg defaults to "validation failed".
func Validate[T any](predicate func(T) bool, errMsg string) hook.Callback {
	return func(ctx context.Context, args ...interface{}) error {
		v, ok := Arg[T](args)
		if !ok {
			var zero T
			return fmt.Errorf("validate: no argument of type %T", zero)
		}
		if !predicate(v) {
			if errMsg == "" {
				errMsg = "validation failed"
			}
			return errors.New(errMsg)
		}
		return nil
	}
}

// Retryable marks err as retryable. Use with BackoffPolicy.ShouldRetry so
// only these errors trigger a retry (e.g. transient failures), not permanent
// ones.
type Retryable struct{ Err error }

func (e *Retryable) Error() string { return e.Err.Error() }
func (e *Retryable) Unwrap() error { return e.Err }
func RetryableErr(err error) error { return &Retryable{Err: err} }
func IsRetryable(err error) bool   { return errors.As(err, new(*Retryable)) }

// BackoffPolicy configures Retry. The delay before retry n (0-based) is
// Initial * Multiplier^n, capped at Cap when Cap > 0. Delays are not
// jittered. MaxAttempts counts every call of inner including the first;
// 0 means 3. If ShouldRetry is nil every error is retried.
type BackoffPolicy struct {
	Initial     time.Duration
	Multiplier  float64
	Cap         time.Duration
	MaxAttempts int
	ShouldRetry func(err error) bool
}

// backOff returns a fresh exponential backoff for p.
func (p BackoffPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.RandomizationFactor = 0
	b.Multiplier = p.Multiplier
	if b.Multiplier <= 0 {
		b.Multiplier = 2
	}
	b.MaxInterval = time.Duration(math.MaxInt64)
	if p.Cap > 0 {
		b.MaxInterval = p.Cap
	}
	b.Reset()
	return b
}

// Delay returns the wait before retry number attempt (0-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	b := p.backOff()
	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Retry wraps inner so a failing call is retried in place with exponential
// backoff. The step (and therefore its chain) blocks while waiting; a
// canceled context stops the wait and returns the context error joined with
// the last failure. Errors rejected by ShouldRetry are returned as is.
func Retry(inner hook.Callback, policy BackoffPolicy) hook.Callback {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return func(ctx context.Context, args ...interface{}) error {
		var (
			last      error
			permanent bool
		)
		_, err := backoff.Retry[struct{}](ctx, func() (struct{}, error) {
			last = inner(ctx, args...)
			if last != nil && policy.ShouldRetry != nil && !policy.ShouldRetry(last) {
				permanent = true
				return struct{}{}, backoff.Permanent(last)
			}
			return struct{}{}, last
		},
			backoff.WithBackOff(policy.backOff()),
			backoff.WithMaxTries(uint(attempts)),
			backoff.WithMaxElapsedTime(0),
		)
		switch {
		case err == nil:
			return nil
		case permanent:
			return last
		case ctx.Err() != nil && !errors.Is(last, ctx.Err()):
			return errors.Join(ctx.Err(), last)
		}
		return fmt.Errorf("retry: giving up after %d attempts: %w", attempts, last)
	}
}
