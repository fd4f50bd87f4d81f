package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures Retry. MaxAttempts counts the first try; values
// below 1 mean a single attempt. MaxWait of 0 leaves the backoff uncapped.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
}

// DefaultRetry suits calls sitting on a user-facing request path.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     10 * time.Second,
	Jitter:      true,
}

// Retry runs f until it succeeds, attempts run out, or ctx is done,
// doubling the wait between tries. With Jitter each wait is scaled by a
// random factor in [0.5, 1.5).
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	left := opts.MaxAttempts
	if left < 1 {
		left = 1
	}
	wait := opts.InitialWait

	for {
		result := f(ctx)
		if result.IsOk() {
			return result
		}
		if left--; left == 0 {
			return result
		}

		d := wait
		if opts.Jitter {
			d = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 && d > opts.MaxWait {
			d = opts.MaxWait
		}
		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(d):
		}

		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
}
