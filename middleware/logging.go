package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Logging records every exchange: operation, correlation id, address range and duration.
func Logging(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			start := time.Now()
			reply, err := next(ctx, call)

			evt := logger.Debug()
			if err != nil {
				evt = logger.Warn().Err(err)
			}
			evt.Stringer("op", call.Request.Op).
				Uint32("request_id", call.RequestID).
				Str("address", fmt.Sprintf("0x%08X", call.Request.Address)).
				Uint32("length", call.Request.Length).
				Int("reply_bytes", len(reply)).
				Dur("duration", time.Since(start)).
				Msg("exchange")
			return reply, err
		}
	}
}
