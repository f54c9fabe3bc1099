package protocol

import (
	"math/rand/v2"
	"sync/atomic"
)

// IDSource hands out request correlation ids. Implementations must be goroutine-safe.
type IDSource interface {
	Next() uint32
}

type randomIDs struct{}

func (randomIDs) Next() uint32 { return rand.Uint32() }

// RandomIDs returns the default source: uniform random 32-bit ids.
// Uniqueness across requests is best effort.
func RandomIDs() IDSource {
	return randomIDs{}
}

// CounterIDs hands out sequential ids starting at the value passed to NewCounterIDs.
type CounterIDs struct {
	next atomic.Uint32
}

func NewCounterIDs(start uint32) *CounterIDs {
	c := &CounterIDs{}
	c.next.Store(start)
	return c
}

func (c *CounterIDs) Next() uint32 {
	return c.next.Add(1) - 1
}

// FixedIDs always returns the same id. Useful for deterministic tests.
type FixedIDs uint32

func (f FixedIDs) Next() uint32 { return uint32(f) }
