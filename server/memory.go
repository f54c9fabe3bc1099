package server

import (
	"sync"
)

const pageSize = 4096

// Memory is the address space the server exposes.
type Memory interface {
	Read(address, length uint32) ([]byte, error)
	Write(address uint32, data []byte) error
}

// PagedMemory is a sparse 32-bit address space. Pages are allocated on first write;
// bytes that were never written read as zero.
type PagedMemory struct {
	mu    sync.RWMutex
	pages map[uint32]*[pageSize]byte
}

func NewPagedMemory() *PagedMemory {
	return &PagedMemory{pages: make(map[uint32]*[pageSize]byte)}
}

// Read copies length bytes starting at address. Ranges wrap at the top of the address space.
func (m *PagedMemory) Read(address, length uint32) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]byte, length)
	for i := uint32(0); i < length; {
		addr := address + i
		page, off := addr/pageSize, addr%pageSize
		n := min(pageSize-off, length-i)
		if p, ok := m.pages[page]; ok {
			copy(out[i:i+n], p[off:off+n])
		}
		i += n
	}
	return out, nil
}

// Write stores data starting at address.
func (m *PagedMemory) Write(address uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	length := uint32(len(data))
	for i := uint32(0); i < length; {
		addr := address + i
		page, off := addr/pageSize, addr%pageSize
		n := min(pageSize-off, length-i)
		p, ok := m.pages[page]
		if !ok {
			p = new([pageSize]byte)
			m.pages[page] = p
		}
		copy(p[off:off+n], data[i:i+n])
		i += n
	}
	return nil
}

// Pages reports how many pages have been allocated.
func (m *PagedMemory) Pages() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages)
}
