package transport

import (
	"context"
	"sync/atomic"
)

// HandlerFunc answers one request message with one reply message.
type HandlerFunc func(ctx context.Context, request []byte) ([]byte, error)

// Loopback is an in-process Conn that hands every request to a HandlerFunc.
// It enforces the same one-exchange-at-a-time discipline as ZMQConn.
type Loopback struct {
	handle   HandlerFunc
	inflight atomic.Bool
	closed   atomic.Bool
}

func NewLoopback(handle HandlerFunc) *Loopback {
	return &Loopback{handle: handle}
}

func (l *Loopback) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if !l.inflight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer l.inflight.Store(false)

	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "exchange", Endpoint: "loopback", Cause: err}
	}
	reply, err := l.handle(ctx, request)
	if err != nil {
		return nil, &TransportError{Op: "exchange", Endpoint: "loopback", Cause: err}
	}
	return reply, nil
}

func (l *Loopback) Close() error {
	l.closed.Store(true)
	return nil
}
