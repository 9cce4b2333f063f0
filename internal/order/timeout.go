package order

import (
	"context"
	"errors"
	"time"

	"github.com/org/checkoutgate/internal/errclass"
)

type callResult[T any] struct {
	val T
	err error
}

// callDriver runs fn under a deadline. fn runs on its own goroutine so a
// driver that ignores ctx still cannot hold the request past the deadline.
func callDriver[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- callResult[T]{val: v, err: err}
	}()

	var zero T
	select {
	case res := <-done:
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, timeoutError(timeout)
		}
		return res.val, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, timeoutError(timeout)
		}
		return zero, ctx.Err()
	}
}

func timeoutError(timeout time.Duration) error {
	return errclass.ErrUpstreamTimeout.WithMessagef("merchant did not respond within %s", timeout)
}
