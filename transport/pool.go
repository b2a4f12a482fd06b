package transport

// Pool keeps a small set of multiplexed transports per server address. Transports are created
// lazily, picked in round-robin order, and replaced once their connection breaks.
//
//	Pool
//	 ├── "10.0.0.1:30014" → [ct0, ct1, ct2]   (round-robin)
//	 └── "10.0.0.2:30014" → [ct0, ct1, ct2]

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"envelope-rpc/codec"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("transport: pool closed")

// DialFunc opens a connection to addr.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// PoolConfig configures a Pool. Zero values select the defaults.
type PoolConfig struct {
	Size      int             // Transports per address, default 1
	Codec     codec.CodecType // Serialization format, default JSON
	Heartbeat time.Duration   // Default DefaultHeartbeatInterval, negative disables
	Dial      DialFunc        // Default net.Dialer with a 5s timeout
}

type addrPool struct {
	mu    sync.Mutex
	slots []*ClientTransport
	next  int
}

// Pool manages transports for any number of addresses.
type Pool struct {
	cfg    PoolConfig
	mu     sync.Mutex
	addrs  map[string]*addrPool
	closed bool
}

// NewPool returns an empty pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = DefaultHeartbeatInterval
	}
	if cfg.Dial == nil {
		d := &net.Dialer{Timeout: 5 * time.Second}
		cfg.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return &Pool{cfg: cfg, addrs: make(map[string]*addrPool)}
}

// Get returns a live transport to addr, dialing if its slot is empty or broken.
func (p *Pool) Get(ctx context.Context, addr string) (*ClientTransport, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	ap, ok := p.addrs[addr]
	if !ok {
		ap = &addrPool{slots: make([]*ClientTransport, p.cfg.Size)}
		p.addrs[addr] = ap
	}
	p.mu.Unlock()

	// Dialing under the per-address lock keeps concurrent callers from opening extra
	// connections to the same server.
	ap.mu.Lock()
	defer ap.mu.Unlock()
	i := ap.next
	ap.next = (ap.next + 1) % len(ap.slots)
	if ct := ap.slots[i]; ct != nil && !ct.Closed() {
		return ct, nil
	}

	conn, err := p.cfg.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	ct := NewClientTransport(conn, p.cfg.Codec, p.cfg.Heartbeat)

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		ct.Close()
		return nil, ErrPoolClosed
	}
	ap.slots[i] = ct
	return ct, nil
}

// Len returns the number of live transports held for addr.
func (p *Pool) Len(addr string) int {
	p.mu.Lock()
	ap := p.addrs[addr]
	p.mu.Unlock()
	if ap == nil {
		return 0
	}
	ap.mu.Lock()
	defer ap.mu.Unlock()
	n := 0
	for _, ct := range ap.slots {
		if ct != nil && !ct.Closed() {
			n++
		}
	}
	return n
}

// Close closes every transport. Calls in flight receive a transport failure.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	addrs := p.addrs
	p.addrs = make(map[string]*addrPool)
	p.mu.Unlock()

	for _, ap := range addrs {
		ap.mu.Lock()
		for i, ct := range ap.slots {
			if ct != nil {
				ct.Close()
				ap.slots[i] = nil
			}
		}
		ap.mu.Unlock()
	}
	return nil
}
