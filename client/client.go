// Package client calls remote services and turns their envelopes back into Go values and errors.
//
// Call path:
//
//	Call → middleware chain → Discover → Balancer.Pick → Pool.Get → RoundTrip
//	     ← outcome.DecoupleJSON ← envelope payload
//
// A call fails in one of three ways:
//   - *outcome.RequestError: the server rejected the request (envelope code 400)
//   - *outcome.ServerError:  the server failed while handling it (envelope code 500)
//   - *ConnectionError:      no envelope came back at all
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"envelope-rpc/codec"
	"envelope-rpc/loadbalance"
	"envelope-rpc/message"
	"envelope-rpc/middleware"
	"envelope-rpc/outcome"
	"envelope-rpc/registry"
	"envelope-rpc/transport"
)

// ConnectionError reports that a call produced no envelope: no instance was available, the
// connection could not be opened, or it broke before the response arrived.
type ConnectionError struct {
	Addr string // Empty when no instance could be picked
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return "rpc: no reachable server: " + e.Err.Error()
	}
	return fmt.Sprintf("rpc: connection to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type options struct {
	balancer    loadbalance.Balancer
	codecType   codec.CodecType
	poolSize    int
	heartbeat   time.Duration
	dial        transport.DialFunc
	middlewares []middleware.Middleware
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*options)

// WithBalancer sets the load balancing strategy, RoundRobin by default.
func WithBalancer(b loadbalance.Balancer) Option {
	return func(o *options) { o.balancer = b }
}

// WithCodec sets the serialization format of request and response messages.
func WithCodec(ct codec.CodecType) Option {
	return func(o *options) { o.codecType = ct }
}

// WithPoolSize sets the number of multiplexed connections kept per server.
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithHeartbeat sets the heartbeat interval; negative disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial transport.DialFunc) Option {
	return func(o *options) { o.dial = dial }
}

// WithMiddleware appends client-side middlewares, e.g. middleware.RetryMiddleware.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Client is safe for concurrent use.
type Client struct {
	registry registry.Registry
	balancer loadbalance.Balancer
	pool     *transport.Pool
	handler  middleware.HandlerFunc
	logger   *zap.Logger
}

// NewClient returns a client that finds servers through reg.
func NewClient(reg registry.Registry, opts ...Option) *Client {
	o := options{
		balancer: &loadbalance.RoundRobinBalancer{},
		poolSize: 1,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		registry: reg,
		balancer: o.balancer,
		pool: transport.NewPool(transport.PoolConfig{
			Size:      o.poolSize,
			Codec:     o.codecType,
			Heartbeat: o.heartbeat,
			Dial:      o.dial,
		}),
		logger: o.logger,
	}
	c.handler = middleware.Chain(o.middlewares...)(c.send)
	return c
}

// Dial returns a client that talks to a fixed set of server addresses.
func Dial(addrs []string, opts ...Option) *Client {
	return NewClient(registry.NewStaticRegistry(addrs...), opts...)
}

type attemptKey struct{}

// attempt records where the last try of a call went, so a transport failure can be reported
// with its address.
type attempt struct {
	addr string
	err  error
}

// Call invokes serviceMethod ("Service.Method") with args and decodes the returned value into
// reply. reply may be nil when the value is not needed; a null value leaves reply untouched.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	if service, method, ok := strings.Cut(serviceMethod, "."); !ok || service == "" || method == "" {
		return fmt.Errorf("rpc: invalid service method %q", serviceMethod)
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("rpc: encode args: %w", err)
	}

	if _, ok := loadbalance.KeyFrom(ctx); !ok {
		ctx = loadbalance.WithKey(ctx, serviceMethod)
	}
	last := &attempt{}
	ctx = context.WithValue(ctx, attemptKey{}, last)

	resp := c.handler(ctx, &message.RPCMessage{ServiceMethod: serviceMethod, Payload: payload})
	if resp == nil {
		return &ConnectionError{Addr: last.addr, Err: errors.New("no response")}
	}
	if resp.TransportFailure() {
		err := last.err
		if err == nil {
			err = errors.New(resp.Error)
		}
		return &ConnectionError{Addr: last.addr, Err: err}
	}

	raw, err := outcome.DecoupleJSON(resp.Payload)
	if err != nil {
		return err
	}
	if reply == nil || raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, reply); err != nil {
		return fmt.Errorf("rpc: decode reply of %s: %w", serviceMethod, err)
	}
	return nil
}

// send is the innermost handler: it picks an instance and performs one round trip. Failures
// come back as transport-failure messages so client middleware can retry them.
func (c *Client) send(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	last, _ := ctx.Value(attemptKey{}).(*attempt)
	if last == nil {
		last = &attempt{}
	}
	fail := func(addr string, err error) *message.RPCMessage {
		last.addr, last.err = addr, err
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: err.Error()}
	}

	serviceName, _, _ := strings.Cut(req.ServiceMethod, ".")
	instances, err := c.registry.Discover(ctx, serviceName)
	if err != nil {
		return fail("", fmt.Errorf("discover %s: %w", serviceName, err))
	}
	instance, err := c.balancer.Pick(ctx, instances)
	if err != nil {
		return fail("", err)
	}

	t, err := c.pool.Get(ctx, instance.Addr)
	if err != nil {
		return fail(instance.Addr, err)
	}

	resp, err := t.RoundTrip(ctx, req)
	if err != nil {
		return fail(instance.Addr, err)
	}
	if resp.TransportFailure() {
		c.logger.Debug("rpc transport failure",
			zap.String("method", req.ServiceMethod),
			zap.String("addr", instance.Addr),
			zap.String("error", resp.Error))
		return fail(instance.Addr, errors.New(resp.Error))
	}
	last.addr, last.err = instance.Addr, nil
	return resp
}

// Close closes every pooled connection.
func (c *Client) Close() error {
	return c.pool.Close()
}
