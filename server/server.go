// Package server implements the RPC server with service registration, middleware chain,
// parallel request processing, and graceful shutdown.
//
// Every call leaves the server as an envelope [value, code, message]: the business handler runs
// the registered method through outcome.Wrap, and failures found before the method runs
// (unknown method, undecodable arguments) become RequestError envelopes.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → businessHandler (outcome.Wrap) → Codec.Encode → write response
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"envelope-rpc/codec"
	"envelope-rpc/envelope"
	"envelope-rpc/message"
	"envelope-rpc/middleware"
	"envelope-rpc/outcome"
	"envelope-rpc/protocol"
	"envelope-rpc/registry"
)

// registerTTL is the lease TTL in seconds for registry entries; KeepAlive renews it.
const registerTTL = 10

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	mu          sync.RWMutex
	serviceMap  map[string]*service     // Registered services: "Tracker" → *service
	middlewares []middleware.Middleware // Registered middlewares (applied in order)
	handler     middleware.HandlerFunc  // middleware(middleware(...(businessHandler))), built lazily

	listener      net.Listener
	conns         map[net.Conn]struct{}
	wg            sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool    // Written under mu; once set, no request is added to wg
	registry      registry.Registry
	advertiseAddr string // Address registered in the registry, routable unlike ":30014"

	logger *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for connection and encoding failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMiddleware appends middlewares, same as calling Use.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) { s.middlewares = append(s.middlewares, mws...) }
}

// NewServer creates a new RPC server with an empty service map.
func NewServer(opts ...Option) *Server {
	s := &Server{
		serviceMap: make(map[string]*service),
		conns:      make(map[net.Conn]struct{}),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register registers a service receiver (e.g. &Tracker{}) under its type name.
// Errors matched by failures are answered with RequestError envelopes, any other error with a
// ServerError envelope.
func (svr *Server) Register(rcvr any, failures outcome.FailureSet) error {
	return svr.RegisterName("", rcvr, failures)
}

// RegisterName is like Register but uses name instead of the receiver's type name.
func (svr *Server) RegisterName(name string, rcvr any, failures outcome.FailureSet) error {
	svc, err := newService(name, rcvr, failures)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, dup := svr.serviceMap[svc.name]; dup {
		return fmt.Errorf("rpc: service already defined: %s", svc.name)
	}
	svr.serviceMap[svc.name] = svc
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	svr.middlewares = append(svr.middlewares, mw)
	svr.handler = nil
}

// chain returns the middleware chain wrapping businessHandler, building it on first use.
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
func (svr *Server) chain() middleware.HandlerFunc {
	svr.mu.RLock()
	h := svr.handler
	svr.mu.RUnlock()
	if h != nil {
		return h
	}

	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.handler == nil {
		svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)
	}
	return svr.handler
}

// Serve listens on address and serves connections until Shutdown.
//
// advertiseAddr is the address stored in reg (e.g. "127.0.0.1:30014"); it differs from the
// listen address because ":30014" is not routable. Pass a nil reg to skip service discovery.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener is like Serve on an existing listener.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.mu.Lock()
	svr.listener = listener
	svr.advertiseAddr = advertiseAddr
	svr.registry = reg
	names := make([]string, 0, len(svr.serviceMap))
	for name := range svr.serviceMap {
		names = append(names, name)
	}
	svr.mu.Unlock()

	if svr.shutdown.Load() {
		listener.Close()
		return nil
	}

	svr.chain()

	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, name := range names {
			err := reg.Register(ctx, name, registry.ServiceInstance{Addr: advertiseAddr, Weight: 1}, registerTTL)
			if err != nil {
				cancel()
				listener.Close()
				return fmt.Errorf("rpc: register %s: %w", name, err)
			}
		}
		cancel()
	}

	svr.logger.Info("rpc server listening",
		zap.Stringer("addr", listener.Addr()),
		zap.Strings("services", names))

	// Accept loop: one goroutine per connection
	for {
		conn, err := listener.Accept()
		if err != nil {
			// listener.Close() during shutdown makes Accept fail; that is not an error.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		if !svr.trackConn(conn, true) {
			conn.Close()
			return nil
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listener address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// trackConn adds or removes conn from the set Shutdown closes. Adding fails once shutdown has
// begun.
func (svr *Server) trackConn(conn net.Conn, add bool) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if !add {
		delete(svr.conns, conn)
		return true
	}
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[conn] = struct{}{}
	return true
}

// startRequest counts a request as in flight. It fails once shutdown has begun, so wg.Add never
// runs concurrently with the wg.Wait in Shutdown.
func (svr *Server) startRequest() bool {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

// handleConn reads frames sequentially from one connection and dispatches each request to its
// own goroutine. Responses share a per-connection write lock so frames never interleave.
// Once shutdown begins it stops reading and leaves conn to Shutdown, which closes it after the
// in-flight requests have answered.
func (svr *Server) handleConn(conn net.Conn) {
	draining := false
	defer func() {
		if draining {
			return
		}
		svr.trackConn(conn, false)
		conn.Close()
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !svr.shutdown.Load() {
				svr.logger.Debug("rpc connection closed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			}
			return
		}

		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if header.MsgType != protocol.MsgTypeRequest {
			svr.logger.Warn("rpc unexpected frame", zap.Stringer("remote", conn.RemoteAddr()), zap.Uint8("msg_type", uint8(header.MsgType)))
			continue
		}

		if !svr.startRequest() {
			draining = true
			return
		}
		go svr.handleRequest(header, body, conn, writeMu)
	}
}

// handleRequest processes a single RPC request: decode → middleware → business logic → encode → write.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer svr.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	var resp *message.RPCMessage
	msg := message.RPCMessage{}
	if err := c.Decode(body, &msg); err != nil {
		resp = message.ErrorResponse("", envelope.KindRequestError, "rpc: undecodable request: "+err.Error())
	} else {
		resp = svr.chain()(context.Background(), &msg)
	}

	result, err := c.Encode(resp)
	if err != nil {
		svr.logger.Error("rpc encode response failed", zap.String("method", msg.ServiceMethod), zap.Error(err))
		return
	}

	// Same Seq as the request: that is how the client matches responses on a multiplexed conn.
	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		svr.logger.Warn("rpc write response failed", zap.String("method", msg.ServiceMethod), zap.Error(err))
	}
}

// Dispatch runs one call through the middleware chain and returns the JSON envelope. It is the
// entry point for transports other than the framed protocol, such as the HTTP gateway.
func (svr *Server) Dispatch(ctx context.Context, serviceMethod string, payload []byte) []byte {
	resp := svr.chain()(ctx, &message.RPCMessage{ServiceMethod: serviceMethod, Payload: payload})
	if resp == nil || resp.TransportFailure() {
		reason := "rpc: no response"
		if resp != nil {
			reason = resp.Error
		}
		resp = message.ErrorResponse(serviceMethod, envelope.KindServerError, reason)
	}
	return resp.Payload
}

// Shutdown performs graceful shutdown:
//  1. Stop reading new requests (frames arriving from now on are dropped)
//  2. Deregister all services (clients stop routing to this server)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Close the remaining connections
//
// A request answered by TimeOutMiddleware counts as finished even though its method may still
// be running in the background; Shutdown does not wait for such methods.
func (svr *Server) Shutdown(timeout time.Duration) error {
	// The flag must be set before closing the listener, or Serve reports the Accept error.
	svr.mu.Lock()
	svr.shutdown.Store(true)
	reg, addr, listener := svr.registry, svr.advertiseAddr, svr.listener
	names := make([]string, 0, len(svr.serviceMap))
	for name := range svr.serviceMap {
		names = append(names, name)
	}
	svr.mu.Unlock()

	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		for _, name := range names {
			if err := reg.Deregister(ctx, name, addr); err != nil {
				svr.logger.Warn("rpc deregister failed", zap.String("service", name), zap.Error(err))
			}
		}
		cancel()
	}

	if listener != nil {
		listener.Close()
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

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return err
}

// businessHandler dispatches a request to its registered method and wraps the outcome in an
// envelope. It is wrapped by the middleware chain.
func (svr *Server) businessHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	serviceName, methodName, ok := strings.Cut(req.ServiceMethod, ".")
	if !ok || serviceName == "" || methodName == "" {
		return message.ErrorResponse(req.ServiceMethod, envelope.KindRequestError,
			fmt.Sprintf("rpc: invalid service method %q", req.ServiceMethod))
	}

	svr.mu.RLock()
	svc := svr.serviceMap[serviceName]
	svr.mu.RUnlock()
	if svc == nil {
		return message.ErrorResponse(req.ServiceMethod, envelope.KindRequestError,
			"rpc: can't find service "+serviceName)
	}
	method := svc.method[methodName]
	if method == nil {
		return message.ErrorResponse(req.ServiceMethod, envelope.KindRequestError,
			"rpc: can't find method "+req.ServiceMethod)
	}

	// An empty payload means zero-valued arguments.
	argv := reflect.New(method.ArgType)
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, argv.Interface()); err != nil {
			return message.ErrorResponse(req.ServiceMethod, envelope.KindRequestError,
				"rpc: invalid arguments: "+err.Error())
		}
	}

	wire := outcome.Wrap(func() (any, error) {
		return svc.call(method, argv)
	}, svc.failures)

	payload, err := envelope.MarshalWire(wire)
	if err != nil {
		svr.logger.Error("rpc encode reply failed", zap.String("method", req.ServiceMethod), zap.Error(err))
		return message.ErrorResponse(req.ServiceMethod, envelope.KindServerError,
			"rpc: cannot encode reply: "+err.Error())
	}
	return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Payload: payload}
}
