// Package protocol implements the fixed binary header of the Citra scripting protocol.
//
// Every request and every reply starts with the same 16-byte header made of four
// little-endian uint32 fields, followed by a payload of payloadLen bytes.
//
// Header format:
//
//	0         4           8          12            16
//	┌─────────┬───────────┬──────────┬─────────────┬────────────────┐
//	│ version │ requestId │  opType  │ payloadLen  │  payload ...   │
//	│ uint32  │  uint32   │  uint32  │   uint32    │ payloadLen B   │
//	└─────────┴───────────┴──────────┴─────────────┴────────────────┘
//
// The layout is a wire compatibility constraint: field order and byte order must not change.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	CurrentVersion uint32 = 1
	HeaderSize     int    = 16 // 4 fields × 4 bytes
)

// OpType identifies the requested operation. Replies echo it back.
type OpType uint32

const (
	OpRead  OpType = 1 // Read emulator memory
	OpWrite OpType = 2 // Write emulator memory
)

func (t OpType) String() string {
	switch t {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	default:
		return fmt.Sprintf("OpType(%d)", uint32(t))
	}
}

// ErrShortHeader is returned when a reply is too short to hold a header.
var ErrShortHeader = errors.New("protocol: reply shorter than 16-byte header")

// Header is the fixed 16-byte prefix of every request and reply.
type Header struct {
	Version    uint32 // Always CurrentVersion on requests
	RequestID  uint32 // Correlation id, echoed by the emulator
	Op         OpType // Requested operation, echoed by the emulator
	PayloadLen uint32 // Length of the bytes following the header
}

// Marshal serializes the header into its 16-byte wire form.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	binary.LittleEndian.PutUint32(buf[4:8], h.RequestID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Op))
	binary.LittleEndian.PutUint32(buf[12:16], h.PayloadLen)
	return buf
}

// EncodeHeader draws a fresh request id from ids and returns the serialized
// header together with that id, so the caller can validate the reply later.
func EncodeHeader(ids IDSource, op OpType, payloadLen uint32) ([]byte, uint32) {
	id := ids.Next()
	h := Header{
		Version:    CurrentVersion,
		RequestID:  id,
		Op:         op,
		PayloadLen: payloadLen,
	}
	return h.Marshal(), id
}

// DecodeHeader reads the first 16 bytes of b as a header.
// It checks nothing beyond the minimum length; validation belongs to the caller.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes", ErrShortHeader, len(b))
	}
	return Header{
		Version:    binary.LittleEndian.Uint32(b[0:4]),
		RequestID:  binary.LittleEndian.Uint32(b[4:8]),
		Op:         OpType(binary.LittleEndian.Uint32(b[8:12])),
		PayloadLen: binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// Split decodes the header of msg and returns it along with every byte after offset 16.
// The returned payload aliases msg.
func Split(msg []byte) (Header, []byte, error) {
	h, err := DecodeHeader(msg)
	if err != nil {
		return Header{}, nil, err
	}
	return h, msg[HeaderSize:], nil
}

// Frame concatenates a header and its payload into a single message.
func Frame(header, payload []byte) []byte {
	msg := make([]byte, 0, len(header)+len(payload))
	msg = append(msg, header...)
	return append(msg, payload...)
}
