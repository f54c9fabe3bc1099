// Package client implements the two memory operations of the Citra scripting protocol.
//
// Each operation builds a payload, prefixes a header carrying a fresh correlation id,
// performs one exchange on a transport.Conn, and validates the reply header:
//
//	ReadMemory:  header(READ, 8)      ++ address ++ length          → header ++ data[length]
//	WriteMemory: header(WRITE, 8+n)   ++ address ++ n ++ data[n]    → header ++ (empty)
//
// A reply is accepted only if its version, requestId and operationType equal the
// request's. A rejected reply yields nil data and a *ValidationError. The same rule is
// applied to both operations.
package client

import (
	"citra-rpc/codec"
	"citra-rpc/message"
	"citra-rpc/middleware"
	"citra-rpc/protocol"
	"citra-rpc/transport"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultChunkSize matches the emulator's per-request data limit.
const DefaultChunkSize = 32

// Client issues memory operations over one Conn. It is safe for concurrent use;
// operations are serialized because a Conn carries one exchange at a time.
type Client struct {
	mu          sync.Mutex // Held for a whole operation, including every chunk
	conn        transport.Conn
	ids         protocol.IDSource
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	chunkSize   uint32
	logger      zerolog.Logger
}

type Option func(*Client)

// WithIDSource replaces the random correlation id source.
func WithIDSource(ids protocol.IDSource) Option {
	return func(c *Client) { c.ids = ids }
}

// WithMiddleware wraps every exchange. Middlewares run in the order given.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mws...) }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithChunkSize splits operations larger than n bytes into sequential exchanges.
// Zero disables splitting.
func WithChunkSize(n uint32) Option {
	return func(c *Client) { c.chunkSize = n }
}

// New creates a Client on conn. The Client owns conn: Close closes it.
func New(conn transport.Conn, opts ...Option) *Client {
	c := &Client{
		conn:      conn,
		ids:       protocol.RandomIDs(),
		chunkSize: DefaultChunkSize,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Build the chain once, not per exchange
	c.handler = middleware.Chain(c.middlewares...)(c.send)
	return c
}

// ReadMemory performs a single READ exchange on conn, with no chunking.
func ReadMemory(ctx context.Context, conn transport.Conn, address, length uint32) ([]byte, error) {
	return New(conn, WithChunkSize(0)).ReadMemory(ctx, address, length)
}

// WriteMemory performs a single WRITE exchange on conn, with no chunking, and returns the raw reply.
func WriteMemory(ctx context.Context, conn transport.Conn, address uint32, data []byte) ([]byte, error) {
	return New(conn, WithChunkSize(0)).WriteMemory(ctx, address, data)
}

// ReadMemory reads length bytes starting at address.
//
// On success the result is exactly length bytes long. If a reply fails validation
// the result is nil and the error matches ErrValidationMismatch.
func (c *Client) ReadMemory(ctx context.Context, address, length uint32) ([]byte, error) {
	if err := checkRange(message.NewRead(address, length)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Grows with each validated chunk, never sized from the requested length
	var out []byte
	err := c.eachChunk(address, length, func(addr, n uint32) error {
		data, err := c.readOnce(ctx, addr, n)
		if err != nil {
			return err
		}
		out = append(out, data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// WriteMemory writes data starting at address and returns the raw reply message
// (header included) of the last exchange.
func (c *Client) WriteMemory(ctx context.Context, address uint32, data []byte) ([]byte, error) {
	if uint64(len(data)) > 1<<32-1 {
		return nil, ErrAddressRange
	}
	if err := checkRange(message.NewWrite(address, data)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var reply []byte
	err := c.eachChunk(address, uint32(len(data)), func(addr, n uint32) error {
		off := addr - address
		var err error
		reply, err = c.writeOnce(ctx, addr, data[off:off+n])
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Close closes the underlying Conn.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readOnce(ctx context.Context, address, length uint32) ([]byte, error) {
	_, payload, err := c.exchange(ctx, message.NewRead(address, length))
	if err != nil {
		return nil, err
	}
	if uint64(len(payload)) != uint64(length) {
		return nil, &ValidationError{Field: "payloadLength", Want: length, Got: uint32(len(payload))}
	}
	return payload, nil
}

func (c *Client) writeOnce(ctx context.Context, address uint32, data []byte) ([]byte, error) {
	raw, _, err := c.exchange(ctx, message.NewWrite(address, data))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// exchange frames req, runs it through the middleware chain and validates the reply header.
// It returns the raw reply and the payload after the header.
func (c *Client) exchange(ctx context.Context, req message.Request) ([]byte, []byte, error) {
	payload, err := codec.Encode(req)
	if err != nil {
		return nil, nil, err
	}
	header, id := protocol.EncodeHeader(c.ids, req.Op, uint32(len(payload)))
	call := &middleware.Call{
		Request:   req,
		RequestID: id,
		Frame:     protocol.Frame(header, payload),
	}

	raw, err := c.handler(ctx, call)
	if err != nil {
		return nil, nil, err
	}

	h, body, err := protocol.Split(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("client: %s reply: %w", req.Op, err)
	}
	if err := validate(h, id, req.Op); err != nil {
		c.logger.Debug().
			Stringer("op", req.Op).
			Uint32("request_id", id).
			Err(err).
			Msg("discarding reply")
		return nil, nil, err
	}
	return raw, body, nil
}

// send is the innermost handler: it hands the framed request to the Conn.
func (c *Client) send(ctx context.Context, call *middleware.Call) ([]byte, error) {
	return c.conn.Exchange(ctx, call.Frame)
}

func validate(h protocol.Header, id uint32, op protocol.OpType) error {
	if h.Version != protocol.CurrentVersion {
		return &ValidationError{Field: "version", Want: protocol.CurrentVersion, Got: h.Version}
	}
	if h.RequestID != id {
		return &ValidationError{Field: "requestId", Want: id, Got: h.RequestID}
	}
	if h.Op != op {
		return &ValidationError{Field: "operationType", Want: uint32(op), Got: uint32(h.Op)}
	}
	return nil
}

// eachChunk calls fn for consecutive pieces of [address, address+length) of at most
// chunkSize bytes, stopping at the first error. A zero-length range still yields one call.
func (c *Client) eachChunk(address, length uint32, fn func(address, length uint32) error) error {
	if c.chunkSize == 0 || length <= c.chunkSize {
		return fn(address, length)
	}
	for off := uint64(0); off < uint64(length); off += uint64(c.chunkSize) {
		n := min(uint64(c.chunkSize), uint64(length)-off)
		if err := fn(address+uint32(off), uint32(n)); err != nil {
			return err
		}
	}
	return nil
}

func checkRange(req message.Request) error {
	if req.End() > 1<<32 {
		return fmt.Errorf("%w: 0x%08X+%d", ErrAddressRange, req.Address, req.Length)
	}
	return nil
}

// ReadUint8 reads one byte at address.
func (c *Client) ReadUint8(ctx context.Context, address uint32) (uint8, error) {
	b, err := c.ReadMemory(ctx, address, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a little-endian uint16 at address.
func (c *Client) ReadUint16(ctx context.Context, address uint32) (uint16, error) {
	b, err := c.ReadMemory(ctx, address, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32 reads a little-endian uint32 at address.
func (c *Client) ReadUint32(ctx context.Context, address uint32) (uint32, error) {
	b, err := c.ReadMemory(ctx, address, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// WriteUint32 writes v as a little-endian uint32 at address.
func (c *Client) WriteUint32(ctx context.Context, address uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := c.WriteMemory(ctx, address, b[:])
	return err
}
