// Package loadbalance picks the instance that serves the next RPC call.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless services, equal-capacity instances
//   - WeightedRandom:  Heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  Calls sharing a key land on the same instance
package loadbalance

import (
	"context"
	"fmt"

	"envelope-rpc/registry"
)

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each RPC to select a target instance.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Called on every RPC call, so it must be goroutine-safe.
	Pick(ctx context.Context, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case "", "RoundRobin":
		return &RoundRobinBalancer{}, nil
	case "WeightedRandom":
		return &WeightedRandomBalancer{}, nil
	case "ConsistentHash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
