// Package codec encodes and decodes the operation payloads that follow the header.
//
// Both operations start with the same 8-byte prefix; WRITE appends the raw data
// with no further framing and no checksum:
//
//	READ:   address(u32 LE) ++ length(u32 LE)
//	WRITE:  address(u32 LE) ++ length(u32 LE) ++ data[length]
package codec

import (
	"citra-rpc/message"
	"citra-rpc/protocol"
	"encoding/binary"
	"errors"
	"fmt"
)

// PrefixSize is the size of the address/length prefix shared by both operations.
const PrefixSize = 8

var (
	ErrShortPayload   = errors.New("codec: payload shorter than address/length prefix")
	ErrLengthMismatch = errors.New("codec: declared length does not match data")
	ErrUnknownOp      = errors.New("codec: unknown operation type")
)

// EncodeAddressLength serializes two little-endian uint32 values back to back.
func EncodeAddressLength(address, length uint32) []byte {
	buf := make([]byte, PrefixSize)
	binary.LittleEndian.PutUint32(buf[0:4], address)
	binary.LittleEndian.PutUint32(buf[4:8], length)
	return buf
}

// EncodeRead builds a READ payload.
func EncodeRead(address, length uint32) []byte {
	return EncodeAddressLength(address, length)
}

// EncodeWrite builds a WRITE payload: the prefix followed by data as-is.
func EncodeWrite(address uint32, data []byte) []byte {
	buf := make([]byte, PrefixSize, PrefixSize+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], address)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(data)))
	return append(buf, data...)
}

// Encode builds the payload for req according to its operation type.
func Encode(req message.Request) ([]byte, error) {
	switch req.Op {
	case protocol.OpRead:
		return EncodeRead(req.Address, req.Length), nil
	case protocol.OpWrite:
		if int(req.Length) != len(req.Data) {
			return nil, fmt.Errorf("%w: length %d, data %d bytes", ErrLengthMismatch, req.Length, len(req.Data))
		}
		return EncodeWrite(req.Address, req.Data), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOp, req.Op)
	}
}

// DecodeRequest parses a request payload received by the emulator side.
// For WRITE the returned Data aliases payload.
func DecodeRequest(op protocol.OpType, payload []byte) (message.Request, error) {
	if len(payload) < PrefixSize {
		return message.Request{}, fmt.Errorf("%w: got %d bytes", ErrShortPayload, len(payload))
	}
	req := message.Request{
		Op:      op,
		Address: binary.LittleEndian.Uint32(payload[0:4]),
		Length:  binary.LittleEndian.Uint32(payload[4:8]),
	}

	switch op {
	case protocol.OpRead:
		return req, nil
	case protocol.OpWrite:
		data := payload[PrefixSize:]
		if uint64(len(data)) != uint64(req.Length) {
			return message.Request{}, fmt.Errorf("%w: length %d, data %d bytes", ErrLengthMismatch, req.Length, len(data))
		}
		req.Data = data
		return req, nil
	default:
		return message.Request{}, fmt.Errorf("%w: %s", ErrUnknownOp, op)
	}
}
