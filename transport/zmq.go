package transport

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 45987
)

// Endpoint formats a ZeroMQ TCP endpoint for host and port.
func Endpoint(host string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", host, port)
}

// ZMQConn is a Conn backed by a ZeroMQ REQ socket.
type ZMQConn struct {
	endpoint string
	inflight atomic.Bool // Set for the duration of one Exchange

	mu     sync.Mutex // Guards sock and closed
	sock   zmq4.Socket
	closed bool
}

// DialZMQ opens a REQ socket connected to endpoint (e.g. "tcp://127.0.0.1:45987").
// It returns once the socket reports connected, or when ctx is done.
func DialZMQ(ctx context.Context, endpoint string) (*ZMQConn, error) {
	// The socket outlives the dial context; it is torn down by Close.
	sock := zmq4.NewReq(context.Background())

	dialed := make(chan error, 1)
	go func() {
		dialed <- sock.Dial(endpoint)
	}()

	select {
	case err := <-dialed:
		if err != nil {
			sock.Close()
			return nil, &TransportError{Op: "dial", Endpoint: endpoint, Cause: err}
		}
	case <-ctx.Done():
		sock.Close()
		return nil, &TransportError{Op: "dial", Endpoint: endpoint, Cause: ctx.Err()}
	}

	return &ZMQConn{endpoint: endpoint, sock: sock}, nil
}

// Endpoint returns the endpoint this Conn was dialed to.
func (c *ZMQConn) Endpoint() string {
	return c.endpoint
}

type exchangeResult struct {
	reply []byte
	op    string
	err   error
}

// Exchange sends request as a single message and waits for exactly one reply.
//
// If ctx is done before the reply arrives the socket is closed: the REQ state machine
// still expects that reply, so the Conn cannot carry another exchange.
func (c *ZMQConn) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if !c.inflight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.inflight.Store(false)

	c.mu.Lock()
	sock, closed := c.sock, c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "send", Endpoint: c.endpoint, Cause: err}
	}

	done := make(chan exchangeResult, 1) // Buffered so the goroutine never leaks on cancel
	go func() {
		if err := sock.Send(zmq4.NewMsg(request)); err != nil {
			done <- exchangeResult{op: "send", err: err}
			return
		}
		msg, err := sock.Recv()
		if err != nil {
			done <- exchangeResult{op: "recv", err: err}
			return
		}
		done <- exchangeResult{reply: bytes.Join(msg.Frames, nil)}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, &TransportError{Op: res.op, Endpoint: c.endpoint, Cause: res.err}
		}
		return res.reply, nil
	case <-ctx.Done():
		c.Close()
		return nil, &TransportError{Op: "recv", Endpoint: c.endpoint, Cause: ctx.Err()}
	}
}

// Close closes the socket. It is safe to call more than once.
func (c *ZMQConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.sock.Close()
}
