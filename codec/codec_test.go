package codec

import (
	"bytes"
	"citra-rpc/message"
	"citra-rpc/protocol"
	"errors"
	"testing"
)

func TestEncodeAddressLength(t *testing.T) {
	got := EncodeAddressLength(0x08000000, 4)
	want := []byte{0x00, 0x00, 0x00, 0x08, 0x04, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestEncodeWrite(t *testing.T) {
	got := EncodeWrite(0x08000000, []byte{0xFF, 0xFF})
	want := []byte{0x00, 0x00, 0x00, 0x08, 0x02, 0x00, 0x00, 0x00, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestEncodeWriteEmpty(t *testing.T) {
	got := EncodeWrite(0x10, nil)
	if len(got) != PrefixSize {
		t.Fatalf("expect %d bytes, got %d", PrefixSize, len(got))
	}
}

func TestEncodeDecodeRequest(t *testing.T) {
	reqs := []message.Request{
		message.NewRead(0x1000, 16),
		message.NewWrite(0x2000, []byte("hello")),
		message.NewWrite(0xFFFFFFF0, []byte{}),
	}

	for _, req := range reqs {
		payload, err := Encode(req)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		got, err := DecodeRequest(req.Op, payload)
		if err != nil {
			t.Fatalf("DecodeRequest failed: %v", err)
		}
		if got.Op != req.Op || got.Address != req.Address || got.Length != req.Length {
			t.Errorf("mismatch: got %+v, want %+v", got, req)
		}
		if !bytes.Equal(got.Data, req.Data) {
			t.Errorf("data mismatch: got % x, want % x", got.Data, req.Data)
		}
	}
}

func TestEncodeRejectsInconsistentWrite(t *testing.T) {
	req := message.Request{Op: protocol.OpWrite, Address: 1, Length: 3, Data: []byte{1}}
	if _, err := Encode(req); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expect ErrLengthMismatch, got %v", err)
	}
}

func TestEncodeUnknownOp(t *testing.T) {
	if _, err := Encode(message.Request{Op: 7}); !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("expect ErrUnknownOp, got %v", err)
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	if _, err := DecodeRequest(protocol.OpRead, []byte{1, 2, 3}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("expect ErrShortPayload, got %v", err)
	}

	// Declares 4 bytes but carries 2
	payload := append(EncodeAddressLength(0x10, 4), 0xAA, 0xBB)
	if _, err := DecodeRequest(protocol.OpWrite, payload); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expect ErrLengthMismatch, got %v", err)
	}

	if _, err := DecodeRequest(3, EncodeAddressLength(0, 0)); !errors.Is(err, ErrUnknownOp) {
		t.Errorf("expect ErrUnknownOp, got %v", err)
	}
}
