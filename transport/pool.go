// Package transport also provides ConnPool, a borrow/return pool of Conns.
//
// A Conn carries one exchange at a time, so a caller that wants several exchanges in
// parallel borrows one Conn per goroutine. Ownership is exclusive between Get and Put.
//
// Pool design: a buffered channel of tokens caps the number of live Conns, and a second
// buffered channel holds idle Conns as a FIFO queue. Conns are created lazily.
package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("transport: pool closed")

// Factory opens a new Conn for the pool.
type Factory func(ctx context.Context) (Conn, error)

// ConnPool manages up to maxConns Conns to a single emulator.
type ConnPool struct {
	mu      sync.Mutex
	closed  bool
	tokens  chan struct{}  // One token per live or creatable Conn
	idle    chan *PoolConn // Returned Conns, FIFO
	factory Factory
}

// PoolConn wraps a Conn with pool metadata.
type PoolConn struct {
	Conn
	pool     *ConnPool
	unusable bool // Marked true when the Conn hit a transport error
}

// MarkUnusable flags the Conn so Put closes it instead of recycling it.
func (pc *PoolConn) MarkUnusable() {
	pc.unusable = true
}

// Release returns the Conn to its pool.
func (pc *PoolConn) Release() {
	pc.pool.Put(pc)
}

// NewConnPool creates a pool holding at most maxConns Conns.
func NewConnPool(maxConns int, factory Factory) *ConnPool {
	if maxConns < 1 {
		maxConns = 1
	}
	p := &ConnPool{
		tokens:  make(chan struct{}, maxConns),
		idle:    make(chan *PoolConn, maxConns),
		factory: factory,
	}
	for i := 0; i < maxConns; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

// Get borrows a Conn. It reuses an idle Conn when one is available, creates a new
// one while under the limit, and otherwise blocks until a Conn is returned or ctx is done.
func (p *ConnPool) Get(ctx context.Context) (*PoolConn, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	select {
	case <-p.tokens:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if p.isClosed() {
		p.tokens <- struct{}{}
		return nil, ErrPoolClosed
	}

	select {
	case pc := <-p.idle:
		return pc, nil
	default:
	}

	conn, err := p.factory(ctx)
	if err != nil {
		p.tokens <- struct{}{}
		return nil, err
	}
	return &PoolConn{Conn: conn, pool: p}, nil
}

// Put returns a borrowed Conn. Unusable Conns, and every Conn returned after Close,
// are closed and discarded.
func (p *ConnPool) Put(pc *PoolConn) {
	p.mu.Lock()
	closed := p.closed
	if !closed && !pc.unusable {
		p.idle <- pc // Never blocks: idle capacity equals the token count
	}
	p.mu.Unlock()

	if closed || pc.unusable {
		pc.Conn.Close()
	}
	p.tokens <- struct{}{}
}

// Close shuts down the pool and closes every idle Conn.
// Borrowed Conns are closed when they are returned.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for {
		select {
		case pc := <-p.idle:
			if err := pc.Conn.Close(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

func (p *ConnPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
