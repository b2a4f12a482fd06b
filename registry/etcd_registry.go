package registry

// etcd acts as the phonebook for services:
//
//	Key:   {prefix}{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL leases: if a server dies without deregistering, the lease expires and
// the entry disappears.

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// DefaultPrefix is the etcd key prefix used unless WithPrefix says otherwise.
const DefaultPrefix = "/envelope-rpc/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // Thread-safe, shared across goroutines
	prefix string
	logger *zap.Logger
}

type EtcdOption func(*EtcdRegistry)

// WithPrefix sets the key prefix. It must end with "/".
func WithPrefix(prefix string) EtcdOption {
	return func(r *EtcdRegistry) { r.prefix = prefix }
}

// WithLogger sets the logger used for background lease and watch failures.
func WithLogger(logger *zap.Logger) EtcdOption {
	return func(r *EtcdRegistry) { r.logger = logger }
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, opts ...EtcdOption) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	r := &EtcdRegistry{client: c, prefix: DefaultPrefix, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *EtcdRegistry) key(serviceName, addr string) string {
	return r.servicePrefix(serviceName) + addr
}

func (r *EtcdRegistry) servicePrefix(serviceName string) string {
	return r.prefix + serviceName + "/"
}

// Register stores instance under a lease of ttl seconds and keeps the lease alive until the
// registry is closed.
//
// The lease ID stays local so one EtcdRegistry can be shared by several servers.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, r.key(serviceName, instance.Addr), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// KeepAlive must outlive ctx, so it is bound to the client's own context.
	ch, err := r.client.KeepAlive(r.client.Ctx(), lease.ID)
	if err != nil {
		return err
	}

	// Drain responses so the channel never fills up.
	go func() {
		for range ch {
		}
		r.logger.Debug("etcd lease keepalive stopped",
			zap.String("service", serviceName),
			zap.String("addr", instance.Addr))
	}()
	return nil
}

// Deregister removes an instance. Servers call it during graceful shutdown.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	_, err := r.client.Delete(ctx, r.key(serviceName, addr))
	return err
}

// Watch emits the full instance list of serviceName after every change under its prefix,
// until ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.servicePrefix(serviceName), clientv3.WithPrefix())
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				r.logger.Warn("etcd watch error", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			// Re-fetch the full list instead of applying individual events.
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				r.logger.Warn("etcd discover after watch event failed", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all instances currently registered for serviceName.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, r.servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed registry entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

// Close releases the etcd client; leases stop being renewed.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
