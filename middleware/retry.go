package middleware

import (
	"citra-rpc/transport"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Retry re-sends an exchange that failed at the transport level, with exponential
// backoff starting at baseDelay. Replies that arrived are never retried, and neither
// are closed or busy Conns, or exchanges whose ctx is done.
//
// The retried frame keeps its original correlation id.
func Retry(maxRetries int, baseDelay time.Duration, logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			reply, err := next(ctx, call)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(ctx, err) {
					return reply, err
				}
				delay := baseDelay * time.Duration(1<<i)
				logger.Info().
					Int("attempt", i+1).
					Uint32("request_id", call.RequestID).
					Dur("backoff", delay).
					Err(err).
					Msg("retrying exchange")

				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, err
				}
				reply, err = next(ctx, call)
			}
			return reply, err
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, transport.ErrClosed) || errors.Is(err, transport.ErrBusy) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *transport.TransportError
	return errors.As(err, &te)
}
