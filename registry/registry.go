// Package registry maps service names to the addresses of the servers that provide them.
package registry

import (
	"context"
	"errors"
)

// ErrNoInstances is returned when a service has no reachable instance.
var ErrNoInstances = errors.New("registry: no instances available")

type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
