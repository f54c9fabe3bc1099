package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when an exchange exceeds the deadline set by Timeout.
var ErrTimeout = errors.New("request timed out")

// Timeout bounds each exchange. Without it an exchange waits as long as ctx allows.
//
// The Conn observes ctx, so a timed out ZeroMQ Conn is closed and must be replaced.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			tctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			reply, err := next(tctx, call)
			if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
			}
			return reply, err
		}
	}
}
