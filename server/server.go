// Package server implements the dispatcher: a method registry, per-request
// configuration, signature validation, the exception policy, system.*
// introspection, and the framed TCP and HTTP JSON-RPC transports that feed it.
//
// Request processing pipeline:
//
//	TCP:  Accept conn → handleConn (single goroutine reads frames)
//	        → for each request: go handleRequest (parallel processing)
//	HTTP: ServeHTTP → json2 codec
//	  → Dispatch → Middleware Chain → invoke (lookup → signature check → handler)
//	  → exception policy → Response → encode → write
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dispatch-rpc/codec"
	"dispatch-rpc/message"
	"dispatch-rpc/middleware"
	"dispatch-rpc/protocol"
	"dispatch-rpc/registry"
)

// DefaultServiceName is the name the server announces itself under in a
// service registry.
const DefaultServiceName = "dispatch"

// Server dispatches calls to registered methods and serves them over TCP
// and HTTP.
type Server struct {
	methods       *Registry
	logger        *zap.Logger
	serviceName   string
	systemMethods bool

	cfgMu sync.RWMutex
	cfg   Config

	mwMu        sync.RWMutex
	middlewares []middleware.Middleware // Registered middlewares (applied in order)
	handler     middleware.HandlerFunc  // middleware(middleware(...(invoke)))

	wg       sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown atomic.Bool    // Set to true during shutdown to suppress Accept errors

	// connMu guards the fields set by Serve and the open connections.
	connMu        sync.Mutex
	listener      net.Listener      // TCP listener
	discovery     registry.Registry // nil if not using discovery
	advertiseAddr string            // Routable address announced to the registry
	conns         map[net.Conn]struct{}
}

type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithConfig sets the initial configuration. NewServer panics if it does not
// validate; configuration read at run time should go through SetConfig.
func WithConfig(cfg Config) Option {
	return func(s *Server) {
		if err := cfg.Validate(); err != nil {
			panic(fmt.Errorf("server.WithConfig: %w", err))
		}
		s.cfg = cfg
	}
}

// WithStrictRegistration makes registering a name twice an error instead
// of replacing the earlier entry.
func WithStrictRegistration() Option {
	return func(s *Server) { s.methods.strict = true }
}

// WithoutSystemMethods leaves out the system.* introspection methods.
func WithoutSystemMethods() Option {
	return func(s *Server) { s.systemMethods = false }
}

// WithServiceName sets the name announced to a service registry.
func WithServiceName(name string) Option {
	return func(s *Server) { s.serviceName = name }
}

// NewServer creates a server with an empty registry, plus the system.*
// methods unless WithoutSystemMethods is given. It panics on an invalid
// WithConfig.
func NewServer(opts ...Option) *Server {
	s := &Server{
		methods:       NewRegistry(false),
		logger:        zap.NewNop(),
		serviceName:   DefaultServiceName,
		systemMethods: true,
		cfg:           DefaultConfig(),
		conns:         make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.invoke
	if s.systemMethods {
		s.registerSystemMethods()
	}
	return s
}

// Register inserts or replaces a method.
func (svr *Server) Register(m Method) error {
	if err := svr.methods.Register(m); err != nil {
		return err
	}
	svr.logger.Debug("method registered", zap.String("method", m.Name), zap.Int("signatures", len(m.Signatures)))
	return nil
}

// Methods exposes the method registry.
func (svr *Server) Methods() *Registry { return svr.methods }

// Known reports whether name is registered.
func (svr *Server) Known(name string) bool {
	_, ok := svr.methods.Lookup(name)
	return ok
}

// Config returns the current configuration.
func (svr *Server) Config() Config {
	svr.cfgMu.RLock()
	defer svr.cfgMu.RUnlock()
	return svr.cfg
}

// SetConfig replaces the configuration. Requests already running keep the
// snapshot they started with.
func (svr *Server) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	svr.cfgMu.Lock()
	svr.cfg = cfg
	svr.cfgMu.Unlock()
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.mwMu.Lock()
	defer svr.mwMu.Unlock()
	svr.middlewares = append(svr.middlewares, mw)
	// Chain(A, B, C)(invoke) → A(B(C(invoke)))
	svr.handler = middleware.Chain(svr.middlewares...)(svr.invoke)
}

func (svr *Server) chain() middleware.HandlerFunc {
	svr.mwMu.RLock()
	defer svr.mwMu.RUnlock()
	return svr.handler
}

// ListenAndServe listens on address and calls Serve.
func (svr *Server) ListenAndServe(network, address, advertiseAddr string, reg registry.Registry) error {
	lis, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.Serve(lis, advertiseAddr, reg)
}

// Serve announces the server to reg (if not nil) under advertiseAddr and
// enters the Accept loop on lis.
//
// advertiseAddr differs from the listen address because ":8080" is not
// routable from other hosts.
func (svr *Server) Serve(lis net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.connMu.Lock()
	svr.listener = lis
	svr.advertiseAddr = advertiseAddr
	svr.discovery = reg
	svr.connMu.Unlock()
	if reg != nil {
		inst := registry.ServiceInstance{
			Addr:    advertiseAddr,
			Weight:  1,
			Methods: svr.methods.Names(),
		}
		// TTL = 10 seconds, KeepAlive renews automatically
		if err := reg.Register(context.Background(), svr.serviceName, inst, 10); err != nil {
			lis.Close()
			return fmt.Errorf("announce %s: %w", svr.serviceName, err)
		}
	}
	svr.logger.Info("serving", zap.String("addr", lis.Addr().String()), zap.String("advertise", advertiseAddr))

	// Accept loop: one goroutine per connection
	for {
		conn, err := lis.Accept()
		if err != nil {
			// listener.Close() during shutdown makes Accept fail
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.track(conn, true)
		go svr.handleConn(conn)
	}
}

func (svr *Server) track(conn net.Conn, add bool) {
	svr.connMu.Lock()
	defer svr.connMu.Unlock()
	if add {
		svr.conns[conn] = struct{}{}
	} else {
		delete(svr.conns, conn)
	}
}

// handleConn runs the read loop of one connection. Reads are sequential to
// keep frame boundaries; each request is then handled on its own goroutine.
// All of them share writeMu so that response frames never interleave.
func (svr *Server) handleConn(conn net.Conn) {
	defer func() {
		svr.track(conn, false)
		conn.Close()
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !svr.shutdown.Load() {
				svr.logger.Debug("connection closed", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
			return
		}

		// Heartbeats only keep the connection alive
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if header.MsgType != protocol.MsgTypeRequest {
			svr.logger.Warn("unexpected frame", zap.Uint8("msgType", uint8(header.MsgType)))
			continue
		}

		svr.wg.Add(1)
		go svr.handleRequest(header, body, conn, writeMu)
	}
}

// handleRequest decodes one request frame, dispatches it and writes the
// reply with the same Seq.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer svr.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	var msg message.RPCMessage
	var resp message.Response
	if err := c.Decode(body, &msg); err != nil {
		resp = message.FaultResponse(message.CodeInvalidRequest, "invalid request: "+err.Error())
	} else {
		var err error
		resp, err = svr.Dispatch(context.Background(), msg.Request())
		if err != nil {
			svr.logger.Error("call failed", zap.String("method", msg.Method), zap.Error(err))
			svr.writeFrame(conn, writeMu, &protocol.Header{
				CodecType: header.CodecType,
				MsgType:   protocol.MsgTypeError,
				Seq:       header.Seq,
			}, []byte(err.Error()))
			return
		}
	}

	result, err := c.Encode(message.ResponseMessage(msg.Method, resp))
	if err != nil {
		svr.logger.Error("encode response", zap.String("method", msg.Method), zap.Error(err))
		result, _ = c.Encode(message.ResponseMessage(msg.Method,
			message.FaultResponse(message.CodeInvalidReturn, "unencodable response: "+err.Error())))
	}

	reply := &protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq, // same Seq as the request, which is how multiplexing works
	}
	if header.Flags&protocol.FlagAcceptGzip != 0 && svr.Config().CompressResponse {
		reply.Flags |= protocol.FlagGzip
	}
	svr.writeFrame(conn, writeMu, reply, result)
}

func (svr *Server) writeFrame(conn net.Conn, writeMu *sync.Mutex, h *protocol.Header, body []byte) {
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, h, body); err != nil {
		svr.logger.Warn("write reply", zap.Uint32("seq", h.Seq), zap.Error(err))
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry (clients stop routing to this server)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.connMu.Lock()
	lis, reg, addr := svr.listener, svr.discovery, svr.advertiseAddr
	svr.connMu.Unlock()

	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := reg.Deregister(ctx, svr.serviceName, addr); err != nil {
			svr.logger.Warn("deregister", zap.Error(err))
		}
		cancel()
	}

	// The flag must be set before the listener is closed, or Serve would
	// report the Accept error as a real failure.
	svr.shutdown.Store(true)
	if lis != nil {
		lis.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	svr.connMu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.connMu.Unlock()
	return err
}
