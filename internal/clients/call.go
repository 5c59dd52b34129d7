package clients

import (
	"context"
	"errors"
	"time"
)

// ErrCallTimeout is returned when a wrapped external call exceeds its deadline
var ErrCallTimeout = errors.New("external call timed out")

// CallWithTimeout runs fn under a child context with the given deadline.
// Every external call in the core (LLM, web search, memory, social content)
// goes through this wrapper so timeout behavior is uniform: a deadline
// firing is equivalent to a failure of that one operation and never hangs
// the caller.
func CallWithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			var zero T
			return zero, ErrCallTimeout
		}
		return r.value, r.err
	case <-callCtx.Done():
		var zero T
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return zero, ErrCallTimeout
		}
		return zero, callCtx.Err()
	}
}
