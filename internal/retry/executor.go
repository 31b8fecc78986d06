// Package retry provides a bounded retry executor with per-attempt timeout
// and classification of retryable failures. There is no unbounded retry
// anywhere in the engine: every retried operation goes through this type.
package retry

import (
	"context"
	"time"
)

// Executor runs an operation up to MaxAttempts times. Delays[i] is waited
// before attempt i+2 (the first attempt runs immediately); when the schedule
// is shorter than the attempt count the last delay repeats.
type Executor struct {
	MaxAttempts       int
	Delays            []time.Duration
	PerAttemptTimeout time.Duration
	// Retryable decides whether a failure is transient. Nil means retry all.
	Retryable func(error) bool
	// Sleep is injectable for tests; nil uses a context-aware timer sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (e Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e Executor) delayBefore(attempt int) time.Duration {
	// attempt is 1-based; no delay before the first.
	if attempt <= 1 || len(e.Delays) == 0 {
		return 0
	}
	idx := attempt - 2
	if idx >= len(e.Delays) {
		idx = len(e.Delays) - 1
	}
	return e.Delays[idx]
}

// Do runs fn until it succeeds, fails non-retryably, exhausts attempts, or
// the context ends. It returns the number of attempts made and the last
// error (nil on success).
func (e Executor) Do(ctx context.Context, fn func(context.Context) error) (int, error) {
	attempts := e.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for i := 1; i <= attempts; i++ {
		if d := e.delayBefore(i); d > 0 || i > 1 {
			if err := e.sleep(ctx, d); err != nil {
				return i - 1, err
			}
		}
		if err := ctx.Err(); err != nil {
			return i - 1, err
		}

		attemptCtx := ctx
		cancel := func() {}
		if e.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.PerAttemptTimeout)
		}
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return i, nil
		}
		last = err
		if e.Retryable != nil && !e.Retryable(err) {
			return i, err
		}
	}
	return attempts, last
}
