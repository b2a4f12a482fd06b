package loadbalance

import (
	"context"
	"sync/atomic"

	"envelope-rpc/registry"
)

// RoundRobinBalancer distributes requests evenly across all instances in order.
//
// Best for: stateless services where all instances have similar capacity.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(ctx context.Context, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, registry.ErrNoInstances
	}
	index := (b.counter.Add(1) - 1) % uint64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
