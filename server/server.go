// Package server implements the emulator side of the protocol on top of a Memory.
//
// It stands in for a running emulator during tests and local development: clients
// connect with a REQ socket, the server answers on a REP socket.
//
// Request processing pipeline:
//
//	REP Recv → HandleMessage
//	  → protocol.Split → codec.DecodeRequest → Middleware Chain → memoryHandler
//	  → reply header (echoing requestId and operationType) ++ payload → REP Send
//
// A REP socket answers its requests strictly in order, so the serve loop handles one
// message at a time.
package server

import (
	"bytes"
	"citra-rpc/codec"
	"citra-rpc/middleware"
	"citra-rpc/protocol"
	"citra-rpc/registry"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
)

// MaxRequestData is the largest READ or WRITE the server accepts in one request.
const MaxRequestData = 32

// Server answers READ and WRITE requests against a Memory.
type Server struct {
	mem            Memory
	maxRequestData uint32
	logger         zerolog.Logger

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(memoryHandler)))
	buildOnce   sync.Once

	mu       sync.Mutex // Guards sock, and orders wg.Add against setting shutdown
	sock     zmq4.Socket
	wg       sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown atomic.Bool    // Set during shutdown to suppress Recv errors and refuse requests

	registry      registry.Registry // nil if not using discovery
	serviceName   string
	advertiseAddr string // Endpoint registered for clients, e.g. "tcp://10.0.0.5:45987"
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMaxRequestData overrides MaxRequestData. Zero removes the limit.
func WithMaxRequestData(n uint32) Option {
	return func(s *Server) { s.maxRequestData = n }
}

// NewServer creates a server backed by mem.
func NewServer(mem Memory, opts ...Option) *Server {
	s := &Server{
		mem:            mem,
		maxRequestData: MaxRequestData,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use registers a middleware. Middlewares are applied in the order they are added,
// and must all be registered before the first request is handled.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Register announces the server under serviceName. Shutdown deregisters it.
func (s *Server) Register(ctx context.Context, reg registry.Registry, serviceName, advertiseAddr string, ttl int64) error {
	if err := reg.Register(ctx, serviceName, registry.ServiceInstance{
		Addr:   advertiseAddr,
		Weight: 1,
	}, ttl); err != nil {
		return fmt.Errorf("register %s at %s: %w", serviceName, advertiseAddr, err)
	}
	s.registry = reg
	s.serviceName = serviceName
	s.advertiseAddr = advertiseAddr
	return nil
}

// Serve listens on endpoint (e.g. "tcp://*:45987") and answers requests until
// Shutdown is called or ctx is done.
func (s *Server) Serve(ctx context.Context, endpoint string) error {
	sock := zmq4.NewRep(ctx)
	if err := sock.Listen(endpoint); err != nil {
		sock.Close()
		return fmt.Errorf("listen %s: %w", endpoint, err)
	}
	s.mu.Lock()
	s.sock = sock
	s.mu.Unlock()
	defer sock.Close()

	s.logger.Info().Str("endpoint", endpoint).Msg("emulator server listening")

	for {
		msg, err := sock.Recv()
		if err != nil {
			// Shutdown closes the socket, which makes Recv fail
			if s.shutdown.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recv: %w", err)
		}

		resp, _ := s.HandleMessage(ctx, bytes.Join(msg.Frames, nil))
		if err := sock.Send(zmq4.NewMsg(resp)); err != nil {
			if s.shutdown.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send: %w", err)
		}
	}
}

// HandleMessage answers one request message. It always produces a reply, so a REP
// socket never stalls; malformed requests get a header-only reply.
// The signature matches transport.HandlerFunc, so a Server can back a transport.Loopback.
//
// After Shutdown every request gets a header-only reply and never reaches Memory.
func (s *Server) HandleMessage(ctx context.Context, request []byte) ([]byte, error) {
	if !s.enter() {
		h, _ := protocol.DecodeHeader(request)
		return reply(protocol.Header{Version: protocol.CurrentVersion, RequestID: h.RequestID, Op: h.Op}, nil), nil
	}
	defer s.wg.Done()

	s.buildOnce.Do(func() {
		// Build the middleware chain once, not per request
		s.handler = middleware.Chain(s.middlewares...)(s.memoryHandler)
	})

	h, body, err := protocol.Split(request)
	if err != nil {
		s.logger.Warn().Err(err).Int("bytes", len(request)).Msg("malformed request")
		return reply(protocol.Header{Version: protocol.CurrentVersion}, nil), nil
	}

	// Echo requestId and operationType, which is what the client correlates on
	out := protocol.Header{Version: protocol.CurrentVersion, RequestID: h.RequestID, Op: h.Op}

	if h.Version != protocol.CurrentVersion {
		s.logger.Warn().Uint32("version", h.Version).Uint32("request_id", h.RequestID).Msg("unsupported protocol version")
		return reply(out, nil), nil
	}
	if h.PayloadLen != uint32(len(body)) {
		s.logger.Warn().
			Uint32("declared", h.PayloadLen).
			Int("actual", len(body)).
			Uint32("request_id", h.RequestID).
			Msg("payload length mismatch")
		return reply(out, nil), nil
	}

	req, err := codec.DecodeRequest(h.Op, body)
	if err != nil {
		s.logger.Warn().Err(err).Uint32("request_id", h.RequestID).Msg("bad request payload")
		return reply(out, nil), nil
	}

	payload, err := s.handler(ctx, &middleware.Call{Request: req, RequestID: h.RequestID})
	if err != nil {
		s.logger.Warn().Err(err).Uint32("request_id", h.RequestID).Stringer("op", h.Op).Msg("request rejected")
		return reply(out, nil), nil
	}
	return reply(out, payload), nil
}

// enter registers an in-flight request unless shutdown has begun.
func (s *Server) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// ErrRequestTooLarge is returned by the memory handler for requests above the data limit.
var ErrRequestTooLarge = errors.New("request exceeds data limit")

// memoryHandler is the innermost handler: it performs the memory operation and
// returns the reply payload.
func (s *Server) memoryHandler(ctx context.Context, call *middleware.Call) ([]byte, error) {
	req := call.Request
	if s.maxRequestData > 0 && req.Length > s.maxRequestData {
		return nil, fmt.Errorf("%w: %d > %d", ErrRequestTooLarge, req.Length, s.maxRequestData)
	}

	switch req.Op {
	case protocol.OpRead:
		return s.mem.Read(req.Address, req.Length)
	case protocol.OpWrite:
		return nil, s.mem.Write(req.Address, req.Data)
	default:
		return nil, fmt.Errorf("%w: %s", codec.ErrUnknownOp, req.Op)
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry so clients stop discovering this server
//  2. Set the shutdown flag so the Recv error is recognized as intentional
//     and new requests are refused
//  3. Close the socket
//  4. Wait for the in-flight request to finish, or ctx to be done
func (s *Server) Shutdown(ctx context.Context) error {
	if s.registry != nil {
		if err := s.registry.Deregister(ctx, s.serviceName, s.advertiseAddr); err != nil {
			s.logger.Warn().Err(err).Str("service", s.serviceName).Msg("deregister failed")
		}
	}

	s.mu.Lock()
	s.shutdown.Store(true)
	if s.sock != nil {
		s.sock.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for in-flight requests: %w", ctx.Err())
	}
}

func reply(h protocol.Header, payload []byte) []byte {
	h.PayloadLen = uint32(len(payload))
	return protocol.Frame(h.Marshal(), payload)
}
