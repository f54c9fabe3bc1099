// Package message defines the memory request carried in a protocol payload.
//
// Request is the decoded form of a READ or WRITE payload. The codec package turns it
// into wire bytes and back; the protocol package wraps those bytes with a header.
package message

import "citra-rpc/protocol"

// Request describes one memory operation.
//
//   - READ:  Address and Length are set, Data is nil.
//   - WRITE: Address is set, Length equals len(Data).
type Request struct {
	Op      protocol.OpType
	Address uint32
	Length  uint32
	Data    []byte
}

// NewRead builds a READ request for length bytes at address.
func NewRead(address, length uint32) Request {
	return Request{Op: protocol.OpRead, Address: address, Length: length}
}

// NewWrite builds a WRITE request for data at address.
func NewWrite(address uint32, data []byte) Request {
	return Request{Op: protocol.OpWrite, Address: address, Length: uint32(len(data)), Data: data}
}

// End returns the first address past the request, widened so it cannot overflow.
func (r Request) End() uint64 {
	return uint64(r.Address) + uint64(r.Length)
}
