package client

import (
	"citra-rpc/transport"
	"context"
	"errors"
	"sync"
)

// Block is a contiguous memory range.
type Block struct {
	Address uint32
	Length  uint32
}

// ReadBlocks reads every block in parallel, one pooled Conn per in-flight block.
// The result is indexed like blocks, so overlapping or repeated blocks each get
// their own entry. It stops at the first error.
//
// Conns that hit a transport error are discarded instead of returned to the pool.
func ReadBlocks(ctx context.Context, pool *transport.ConnPool, blocks []Block, opts ...Option) ([][]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		out      = make([][]byte, len(blocks))
	)

	for i, b := range blocks {
		wg.Add(1)
		go func(i int, b Block) {
			defer wg.Done()

			data, err := readBlock(ctx, pool, b, opts)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
				return
			}
			out[i] = data // Each goroutine owns one index
		}(i, b)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func readBlock(ctx context.Context, pool *transport.ConnPool, b Block, opts []Option) ([]byte, error) {
	pc, err := pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer pc.Release()

	// Borrowed, not owned: the Client is never closed here
	data, err := New(pc, opts...).ReadMemory(ctx, b.Address, b.Length)
	var te *transport.TransportError
	if errors.As(err, &te) || errors.Is(err, transport.ErrClosed) {
		pc.MarkUnusable()
	}
	return data, err
}
