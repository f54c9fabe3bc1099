package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeHeader(t *testing.T) {
	cases := []struct {
		op         OpType
		payloadLen uint32
	}{
		{OpRead, 8},
		{OpWrite, 10},
		{OpWrite, 0},
		{OpRead, 0xFFFFFFFF},
	}

	for _, tc := range cases {
		raw, id := EncodeHeader(FixedIDs(0xCAFEBABE), tc.op, tc.payloadLen)
		if len(raw) != HeaderSize {
			t.Fatalf("header size: got %d, want %d", len(raw), HeaderSize)
		}
		if id != 0xCAFEBABE {
			t.Fatalf("returned id: got %#x, want %#x", id, 0xCAFEBABE)
		}

		h, err := DecodeHeader(raw)
		if err != nil {
			t.Fatalf("DecodeHeader failed: %v", err)
		}
		want := Header{Version: CurrentVersion, RequestID: id, Op: tc.op, PayloadLen: tc.payloadLen}
		if h != want {
			t.Errorf("round trip mismatch: got %+v, want %+v", h, want)
		}
	}
}

func TestHeaderLittleEndianLayout(t *testing.T) {
	raw, _ := EncodeHeader(FixedIDs(0x04030201), OpWrite, 10)
	want := []byte{
		0x01, 0x00, 0x00, 0x00, // version
		0x01, 0x02, 0x03, 0x04, // requestId
		0x02, 0x00, 0x00, 0x00, // WRITE
		0x0A, 0x00, 0x00, 0x00, // payloadLen
	}
	if !bytes.Equal(raw, want) {
		t.Fatalf("wire layout mismatch:\n got  % x\n want % x", raw, want)
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	for _, n := range []int{0, 1, 15} {
		_, err := DecodeHeader(make([]byte, n))
		if !errors.Is(err, ErrShortHeader) {
			t.Errorf("%d bytes: expect ErrShortHeader, got %v", n, err)
		}
	}
}

func TestSplit(t *testing.T) {
	header := Header{Version: CurrentVersion, RequestID: 7, Op: OpRead, PayloadLen: 4}.Marshal()
	msg := Frame(header, []byte{0x01, 0x00, 0x00, 0x00})

	h, payload, err := Split(msg)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if h.RequestID != 7 || h.Op != OpRead || h.PayloadLen != 4 {
		t.Errorf("unexpected header: %+v", h)
	}
	if !bytes.Equal(payload, []byte{0x01, 0x00, 0x00, 0x00}) {
		t.Errorf("payload mismatch: % x", payload)
	}

	// Header only: empty payload, no error
	_, payload, err = Split(header)
	if err != nil {
		t.Fatalf("Split header-only failed: %v", err)
	}
	if len(payload) != 0 {
		t.Errorf("expect empty payload, got %d bytes", len(payload))
	}
}

func TestCounterIDs(t *testing.T) {
	ids := NewCounterIDs(41)
	for _, want := range []uint32{41, 42, 43} {
		if got := ids.Next(); got != want {
			t.Fatalf("expect %d, got %d", want, got)
		}
	}
}

func TestCounterIDsWrap(t *testing.T) {
	ids := NewCounterIDs(0xFFFFFFFF)
	if got := ids.Next(); got != 0xFFFFFFFF {
		t.Fatalf("expect 0xFFFFFFFF, got %#x", got)
	}
	if got := ids.Next(); got != 0 {
		t.Fatalf("expect wrap to 0, got %#x", got)
	}
}

func TestOpTypeString(t *testing.T) {
	if OpRead.String() != "READ" || OpWrite.String() != "WRITE" {
		t.Fatalf("unexpected names: %s %s", OpRead, OpWrite)
	}
	if OpType(9).String() != "OpType(9)" {
		t.Fatalf("unexpected unknown name: %s", OpType(9))
	}
}
