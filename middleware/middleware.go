// Package middleware wraps a single protocol exchange with cross-cutting behavior.
//
// The same onion model serves both ends of the wire: the client wraps the call that
// hands a framed request to its Conn, and the emulator server wraps the call that
// answers a decoded request.
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
package middleware

import (
	"citra-rpc/message"
	"context"
)

// Call is one exchange travelling through the chain.
type Call struct {
	Request   message.Request // Decoded operation
	RequestID uint32          // Correlation id carried in the header
	Frame     []byte          // Header ++ payload; set on the client side only
}

// HandlerFunc performs the exchange and returns the raw reply message.
type HandlerFunc func(ctx context.Context, call *Call) ([]byte, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one. The first runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
