package loadbalance

import (
	"context"
	"fmt"
	"hash/crc32"
	"slices"
	"sort"
	"strings"
	"sync"

	"envelope-rpc/registry"
)

type hashKey struct{}

// WithKey returns a context whose calls are routed by key when the client uses a
// ConsistentHashBalancer. Calls without a key fall back to the service method name.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, hashKey{}, key)
}

// KeyFrom returns the routing key stored by WithKey.
func KeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(hashKey{}).(string)
	return key, ok
}

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same instance until the instance list changes.
//
// Each real instance is placed on the ring as replicas virtual nodes so that a handful of
// instances still spread evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu          sync.Mutex
	fingerprint string            // Addresses the ring was built from
	ring        []uint32          // Sorted hash values on the ring
	nodes       map[uint32]string // Hash value → instance address
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]string),
	}
}

// Add places an instance onto the hash ring.
func (b *ConsistentHashBalancer) Add(instance *registry.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(instance.Addr)
	b.fingerprint = ""
}

func (b *ConsistentHashBalancer) addLocked(addr string) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = addr
	}
	slices.Sort(b.ring)
}

// Pick routes by the key set with WithKey. The ring is rebuilt whenever instances differs
// from the list it was last built from.
func (b *ConsistentHashBalancer) Pick(ctx context.Context, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, registry.ErrNoInstances
	}
	key, _ := KeyFrom(ctx)

	b.mu.Lock()
	b.syncLocked(instances)
	addr := b.lookupLocked(key)
	b.mu.Unlock()

	for i := range instances {
		if instances[i].Addr == addr {
			return &instances[i], nil
		}
	}
	return nil, registry.ErrNoInstances
}

// PickKey returns the address responsible for key on the current ring.
func (b *ConsistentHashBalancer) PickKey(key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ring) == 0 {
		return "", registry.ErrNoInstances
	}
	return b.lookupLocked(key), nil
}

func (b *ConsistentHashBalancer) syncLocked(instances []registry.ServiceInstance) {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	slices.Sort(addrs)
	fp := strings.Join(addrs, ",")
	if fp == b.fingerprint {
		return
	}

	b.ring = b.ring[:0]
	clear(b.nodes)
	for _, addr := range addrs {
		b.addLocked(addr)
	}
	b.fingerprint = fp
}

// lookupLocked binary-searches for the first node >= hash(key), wrapping around to the first
// node past the end of the ring.
func (b *ConsistentHashBalancer) lookupLocked(key string) string {
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]]
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
