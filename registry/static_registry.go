package registry

import (
	"context"
	"sync"
)

// StaticRegistry is an in-memory Registry. It serves a fixed address list (a CLI pointed at
// one daemon) and doubles as a registry for tests. TTLs are ignored.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]ServiceInstance
	fallback  []ServiceInstance // Returned for services that were never registered
	watchers  map[string][]chan []ServiceInstance
}

// NewStaticRegistry returns a registry that answers every Discover with addrs, unless instances
// were registered for that service explicitly.
func NewStaticRegistry(addrs ...string) *StaticRegistry {
	r := &StaticRegistry{
		instances: make(map[string][]ServiceInstance),
		watchers:  make(map[string][]chan []ServiceInstance),
	}
	for _, addr := range addrs {
		r.fallback = append(r.fallback, ServiceInstance{Addr: addr, Weight: 1})
	}
	return r
}

func (r *StaticRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == instance.Addr {
			insts[i] = instance
			r.notifyLocked(serviceName)
			return nil
		}
	}
	r.instances[serviceName] = append(insts, instance)
	r.notifyLocked(serviceName)
	return nil
}

func (r *StaticRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == addr {
			r.instances[serviceName] = append(insts[:i:i], insts[i+1:]...)
			break
		}
	}
	r.notifyLocked(serviceName)
	return nil
}

func (r *StaticRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.discoverLocked(serviceName), nil
}

func (r *StaticRegistry) discoverLocked(serviceName string) []ServiceInstance {
	insts, ok := r.instances[serviceName]
	if !ok {
		insts = r.fallback
	}
	return append([]ServiceInstance(nil), insts...)
}

// Watch emits the instance list of serviceName after every change, until ctx is done.
func (r *StaticRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[serviceName]
		for i, w := range ws {
			if w == ch {
				r.watchers[serviceName] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notifyLocked pushes the latest list to every watcher, dropping a stale undelivered list.
func (r *StaticRegistry) notifyLocked(serviceName string) {
	insts := r.discoverLocked(serviceName)
	for _, ch := range r.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- insts
	}
}
