package client

import (
	"bytes"
	"citra-rpc/codec"
	"citra-rpc/loadbalance"
	"citra-rpc/middleware"
	"citra-rpc/protocol"
	"citra-rpc/registry"
	"citra-rpc/server"
	"citra-rpc/transport"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// scriptedConn records every request and answers with reply(request).
type scriptedConn struct {
	requests [][]byte
	reply    func(req []byte) []byte
	err      error
	closed   bool
}

func (s *scriptedConn) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	s.requests = append(s.requests, append([]byte(nil), req...))
	if s.err != nil {
		return nil, s.err
	}
	return s.reply(req), nil
}

func (s *scriptedConn) Close() error {
	s.closed = true
	return nil
}

// echoReply answers with the request's own header and the given payload.
func echoReply(payload []byte) func([]byte) []byte {
	return func(req []byte) []byte {
		h, _ := protocol.DecodeHeader(req)
		h.PayloadLen = uint32(len(payload))
		return protocol.Frame(h.Marshal(), payload)
	}
}

func freeEndpoint(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return transport.Endpoint("127.0.0.1", port)
}

func roundRobin() loadbalance.Balancer {
	return &loadbalance.RoundRobinBalancer{}
}

func newLoopbackClient(t *testing.T, opts ...Option) (*Client, *server.PagedMemory) {
	t.Helper()
	mem := server.NewPagedMemory()
	srv := server.NewServer(mem)
	c := New(transport.NewLoopback(srv.HandleMessage), opts...)
	t.Cleanup(func() { c.Close() })
	return c, mem
}

func TestReadMemoryWireFormat(t *testing.T) {
	conn := &scriptedConn{reply: echoReply([]byte{0x01, 0x00, 0x00, 0x00})}
	c := New(conn, WithIDSource(protocol.FixedIDs(0x11223344)))

	data, err := c.ReadMemory(context.Background(), 0x08000000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{1, 0, 0, 0}) {
		t.Fatalf("got % x", data)
	}

	if len(conn.requests) != 1 {
		t.Fatalf("expect 1 exchange, got %d", len(conn.requests))
	}
	want := []byte{
		0x01, 0x00, 0x00, 0x00, // version
		0x44, 0x33, 0x22, 0x11, // requestId
		0x01, 0x00, 0x00, 0x00, // READ
		0x08, 0x00, 0x00, 0x00, // payloadLen
		0x00, 0x00, 0x00, 0x08, // address
		0x04, 0x00, 0x00, 0x00, // length
	}
	if !bytes.Equal(conn.requests[0], want) {
		t.Fatalf("request mismatch:\n got  % x\n want % x", conn.requests[0], want)
	}
}

func TestWriteMemoryWireFormat(t *testing.T) {
	conn := &scriptedConn{reply: echoReply(nil)}
	c := New(conn, WithIDSource(protocol.FixedIDs(5)))

	reply, err := c.WriteMemory(context.Background(), 0x08000000, []byte{0xFF, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if len(reply) != protocol.HeaderSize {
		t.Fatalf("expect header-only raw reply, got %d bytes", len(reply))
	}

	req := conn.requests[0]
	h, payload, err := protocol.Split(req)
	if err != nil {
		t.Fatal(err)
	}
	if h.Op != protocol.OpWrite || h.PayloadLen != 10 || len(req) != 26 {
		t.Fatalf("unexpected request header %+v (%d bytes)", h, len(req))
	}
	want := []byte{0x00, 0x00, 0x00, 0x08, 0x02, 0x00, 0x00, 0x00, 0xFF, 0x00}
	if !bytes.Equal(payload, want) {
		t.Fatalf("payload mismatch:\n got  % x\n want % x", payload, want)
	}
}

func TestReplyValidation(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(h *protocol.Header)
	}{
		{"version", func(h *protocol.Header) { h.Version = 2 }},
		{"requestId", func(h *protocol.Header) { h.RequestID++ }},
		{"operationType", func(h *protocol.Header) { h.Op = protocol.OpWrite }},
	}

	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			conn := &scriptedConn{reply: func(req []byte) []byte {
				h, _ := protocol.DecodeHeader(req)
				tc.mutate(&h)
				h.PayloadLen = 4
				return protocol.Frame(h.Marshal(), []byte{1, 2, 3, 4})
			}}
			data, err := New(conn).ReadMemory(context.Background(), 0x100, 4)
			if data != nil {
				t.Fatalf("expect nil data, got % x", data)
			}
			if !errors.Is(err, ErrValidationMismatch) {
				t.Fatalf("expect ErrValidationMismatch, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("expect field %s, got %v", tc.field, err)
			}
		})
	}
}

func TestWriteReplyValidation(t *testing.T) {
	conn := &scriptedConn{reply: func(req []byte) []byte {
		h, _ := protocol.DecodeHeader(req)
		h.RequestID ^= 0xFFFFFFFF
		h.PayloadLen = 0
		return h.Marshal()
	}}
	reply, err := WriteMemory(context.Background(), conn, 0x100, []byte{1})
	if reply != nil || !errors.Is(err, ErrValidationMismatch) {
		t.Fatalf("expect nil reply and ErrValidationMismatch, got % x %v", reply, err)
	}
}

func TestShortReply(t *testing.T) {
	conn := &scriptedConn{reply: func([]byte) []byte { return []byte{1, 0, 0} }}
	_, err := ReadMemory(context.Background(), conn, 0, 4)
	if !errors.Is(err, protocol.ErrShortHeader) {
		t.Fatalf("expect ErrShortHeader, got %v", err)
	}
}

func TestReadPayloadLengthMismatch(t *testing.T) {
	// A header-only reply, as the emulator sends for rejected requests
	conn := &scriptedConn{reply: echoReply(nil)}
	data, err := ReadMemory(context.Background(), conn, 0, 4)
	if data != nil || !errors.Is(err, ErrValidationMismatch) {
		t.Fatalf("expect nil and ErrValidationMismatch, got % x %v", data, err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "payloadLength" || ve.Want != 4 || ve.Got != 0 {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestLargeRejectedReadStaysBounded(t *testing.T) {
	const length = 0xF0000000
	cases := []struct {
		name string
		read func(conn *scriptedConn) ([]byte, error)
	}{
		{"chunked", func(conn *scriptedConn) ([]byte, error) {
			return New(conn).ReadMemory(context.Background(), 0, length)
		}},
		{"single exchange", func(conn *scriptedConn) ([]byte, error) {
			return ReadMemory(context.Background(), conn, 0, length)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := &scriptedConn{reply: echoReply(nil)}

			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			data, err := tc.read(conn)
			runtime.ReadMemStats(&after)

			if data != nil || !errors.Is(err, ErrValidationMismatch) {
				t.Fatalf("expect nil and ErrValidationMismatch, got %d bytes, %v", len(data), err)
			}
			if len(conn.requests) != 1 {
				t.Fatalf("expect to stop after the first rejected exchange, got %d", len(conn.requests))
			}
			if grew := after.TotalAlloc - before.TotalAlloc; grew > 16<<20 {
				t.Fatalf("rejected read allocated %d MiB", grew>>20)
			}
		})
	}
}

func TestZeroLengthRead(t *testing.T) {
	conn := &scriptedConn{reply: echoReply(nil)}
	data, err := New(conn).ReadMemory(context.Background(), 0x100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if data == nil || len(data) != 0 || len(conn.requests) != 1 {
		t.Fatalf("expect empty non-nil result after one exchange, got %v (%d exchanges)", data, len(conn.requests))
	}
}

func TestTransportErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	conn := &scriptedConn{err: boom}
	_, err := ReadMemory(context.Background(), conn, 0, 4)
	if !errors.Is(err, boom) {
		t.Fatalf("expect transport error, got %v", err)
	}
}

func TestAddressRange(t *testing.T) {
	conn := &scriptedConn{reply: echoReply(nil)}
	c := New(conn)
	if _, err := c.ReadMemory(context.Background(), 0xFFFFFFFE, 4); !errors.Is(err, ErrAddressRange) {
		t.Fatalf("expect ErrAddressRange, got %v", err)
	}
	if len(conn.requests) != 0 {
		t.Fatalf("out of range request must not be sent")
	}

	// The last byte of the address space is reachable
	conn.reply = echoReply([]byte{9})
	if _, err := c.ReadMemory(context.Background(), 0xFFFFFFFF, 1); err != nil {
		t.Fatalf("read at top of address space: %v", err)
	}
}

func TestLoopbackRoundTrip(t *testing.T) {
	c, mem := newLoopbackClient(t)
	ctx := context.Background()

	if _, err := c.WriteMemory(ctx, 0x08000000, []byte{0xFF, 0x00}); err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadMemory(ctx, 0x08000000, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xFF, 0x00}) {
		t.Fatalf("got % x", got)
	}

	raw, _ := mem.Read(0x08000000, 2)
	if !bytes.Equal(raw, got) {
		t.Fatalf("memory % x, client read % x", raw, got)
	}
}

func TestChunking(t *testing.T) {
	conn := &scriptedConn{}
	conn.reply = func(req []byte) []byte {
		h, payload, _ := protocol.Split(req)
		r, _ := codec.DecodeRequest(h.Op, payload)
		if h.Op == protocol.OpWrite {
			return echoReply(nil)(req)
		}
		return echoReply(make([]byte, r.Length))(req)
	}
	c := New(conn, WithChunkSize(32))

	data, err := c.ReadMemory(context.Background(), 0x1000, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 100 {
		t.Fatalf("expect 100 bytes, got %d", len(data))
	}

	var lengths []uint32
	for _, req := range conn.requests {
		h, payload, _ := protocol.Split(req)
		r, _ := codec.DecodeRequest(h.Op, payload)
		if r.Address != 0x1000+uint32(len(lengths))*32 {
			t.Fatalf("chunk %d address %#x", len(lengths), r.Address)
		}
		lengths = append(lengths, r.Length)
	}
	if len(lengths) != 4 || lengths[0] != 32 || lengths[3] != 4 {
		t.Fatalf("unexpected chunk lengths %v", lengths)
	}

	conn.requests = nil
	if _, err := c.WriteMemory(context.Background(), 0x2000, make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	if len(conn.requests) != 2 {
		t.Fatalf("expect 2 write exchanges, got %d", len(conn.requests))
	}
}

func TestChunkedLoopbackAgainstLimit(t *testing.T) {
	c, mem := newLoopbackClient(t)
	ctx := context.Background()

	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i)
	}
	if _, err := c.WriteMemory(ctx, 0x0FFFFFF0, data); err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadMemory(ctx, 0x0FFFFFF0, 200)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("chunked round trip mismatch")
	}
	if mem.Pages() != 2 {
		t.Fatalf("expect 2 pages, got %d", mem.Pages())
	}

	// Unchunked, the server rejects the read and the client sees a short payload
	_, err = ReadMemory(ctx, transport.NewLoopback(server.NewServer(mem).HandleMessage), 0x0FFFFFF0, 200)
	if !errors.Is(err, ErrValidationMismatch) {
		t.Fatalf("expect ErrValidationMismatch, got %v", err)
	}
}

func TestTypedHelpers(t *testing.T) {
	c, mem := newLoopbackClient(t)
	ctx := context.Background()

	if err := c.WriteUint32(ctx, 0x500, 0xCAFEBABE); err != nil {
		t.Fatal(err)
	}
	raw, _ := mem.Read(0x500, 4)
	if binary.LittleEndian.Uint32(raw) != 0xCAFEBABE {
		t.Fatalf("raw bytes % x", raw)
	}

	v32, err := c.ReadUint32(ctx, 0x500)
	if err != nil || v32 != 0xCAFEBABE {
		t.Fatalf("ReadUint32: %#x %v", v32, err)
	}
	v16, err := c.ReadUint16(ctx, 0x500)
	if err != nil || v16 != 0xBABE {
		t.Fatalf("ReadUint16: %#x %v", v16, err)
	}
	v8, err := c.ReadUint8(ctx, 0x503)
	if err != nil || v8 != 0xCA {
		t.Fatalf("ReadUint8: %#x %v", v8, err)
	}
}

func TestClientMiddleware(t *testing.T) {
	var seen []uint32
	record := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, call *middleware.Call) ([]byte, error) {
			seen = append(seen, call.RequestID)
			if len(call.Frame) != protocol.HeaderSize+codec.PrefixSize {
				t.Errorf("unexpected frame size %d", len(call.Frame))
			}
			return next(ctx, call)
		}
	}

	c, _ := newLoopbackClient(t,
		WithIDSource(protocol.NewCounterIDs(100)),
		WithMiddleware(record, middleware.Logging(zerolog.Nop()), middleware.Timeout(time.Second)),
	)
	for range 3 {
		if _, err := c.ReadMemory(context.Background(), 0, 4); err != nil {
			t.Fatal(err)
		}
	}
	if len(seen) != 3 || seen[0] != 100 || seen[2] != 102 {
		t.Fatalf("unexpected ids %v", seen)
	}
}

func TestCloseClosesConn(t *testing.T) {
	conn := &scriptedConn{reply: echoReply(nil)}
	c := New(conn)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if !conn.closed {
		t.Fatal("conn not closed")
	}
}

func TestReadBlocks(t *testing.T) {
	mem := server.NewPagedMemory()
	mem.Write(0x100, []byte{1, 2, 3, 4})
	mem.Write(0x200, []byte{5, 6})
	mem.Write(0x300, []byte{7})
	srv := server.NewServer(mem)

	pool := transport.NewConnPool(2, func(ctx context.Context) (transport.Conn, error) {
		return transport.NewLoopback(srv.HandleMessage), nil
	})
	defer pool.Close()

	blocks := []Block{{0x100, 4}, {0x200, 2}, {0x300, 1}}
	out, err := ReadBlocks(context.Background(), pool, blocks)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 ||
		!bytes.Equal(out[0], []byte{1, 2, 3, 4}) ||
		!bytes.Equal(out[1], []byte{5, 6}) ||
		!bytes.Equal(out[2], []byte{7}) {
		t.Fatalf("unexpected blocks %v", out)
	}
}

func TestReadBlocksSameAddress(t *testing.T) {
	mem := server.NewPagedMemory()
	mem.Write(0x100, []byte{1, 2, 3, 4})
	srv := server.NewServer(mem)

	pool := transport.NewConnPool(2, func(ctx context.Context) (transport.Conn, error) {
		return transport.NewLoopback(srv.HandleMessage), nil
	})
	defer pool.Close()

	out, err := ReadBlocks(context.Background(), pool, []Block{{0x100, 4}, {0x100, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || !bytes.Equal(out[0], []byte{1, 2, 3, 4}) || !bytes.Equal(out[1], []byte{1, 2}) {
		t.Fatalf("each block must keep its own result, got %v", out)
	}
}

func TestReadBlocksFirstError(t *testing.T) {
	pool := transport.NewConnPool(2, func(ctx context.Context) (transport.Conn, error) {
		return &scriptedConn{reply: echoReply(nil)}, nil
	})
	defer pool.Close()

	_, err := ReadBlocks(context.Background(), pool, []Block{{0, 4}, {8, 4}})
	if !errors.Is(err, ErrValidationMismatch) {
		t.Fatalf("expect ErrValidationMismatch, got %v", err)
	}
}

func TestDialService(t *testing.T) {
	mem := server.NewPagedMemory()
	mem.Write(0x08000000, []byte{1, 0, 0, 0})
	srv := server.NewServer(mem)
	endpoint := freeEndpoint(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go srv.Serve(ctx, endpoint)
	defer srv.Shutdown(context.Background())

	reg := registry.NewMemoryRegistry()
	if err := srv.Register(ctx, reg, "citra", endpoint, 10); err != nil {
		t.Fatal(err)
	}

	c, err := DialService(ctx, reg, roundRobin(), "citra")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	data, err := c.ReadMemory(ctx, 0x08000000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{1, 0, 0, 0}) {
		t.Fatalf("got % x", data)
	}
}

func TestDialServiceNoInstances(t *testing.T) {
	_, err := DialService(context.Background(), registry.NewMemoryRegistry(), roundRobin(), "missing")
	if err == nil {
		t.Fatal("expect error without instances")
	}
}
