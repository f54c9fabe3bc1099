// Package transport implements the request/reply channel the client talks to the emulator through.
//
// A Conn carries exactly one exchange at a time: one request message out, one reply
// message back. The emulator listens on a ZeroMQ REP socket, so the production Conn is a
// ZeroMQ REQ socket whose state machine already enforces strict send/recv alternation:
//
//	Idle ──Send(request)──→ RequestSent ──Recv()──→ ReplyReceived ──→ Idle
//
// A second Exchange on the same Conn while one is in flight fails with ErrBusy instead of
// interleaving. Callers that need parallelism borrow separate Conns from a ConnPool.
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when Exchange is called while another exchange is in flight.
	ErrBusy = errors.New("transport: exchange already in flight")

	// ErrClosed is returned by Exchange after the Conn has been closed.
	ErrClosed = errors.New("transport: connection closed")
)

// Conn is the capability the client needs from a connection: send one message,
// receive one message, report errors.
type Conn interface {
	// Exchange sends request and blocks until the matching reply arrives, the
	// underlying channel reports an error, or ctx is done. It never retries.
	Exchange(ctx context.Context, request []byte) ([]byte, error)

	// Close releases the underlying channel. Pending exchanges fail.
	Close() error
}

// TransportError reports a failure of the underlying channel before a reply arrived.
type TransportError struct {
	Op       string // "dial", "send", "recv" or "exchange"
	Endpoint string
	Cause    error
}

func (e *TransportError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Endpoint, e.Cause)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}
