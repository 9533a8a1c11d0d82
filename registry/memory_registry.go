package registry

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryRegistry is an in-process Registry for single-host setups and tests.
// Instances never expire; the TTL is ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts, ok := r.services[serviceName]
	if !ok {
		insts = make(map[string]ServiceInstance)
		r.services[serviceName] = insts
	}
	insts[instance.Addr] = instance
	r.notify(serviceName)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services[serviceName], addr)
	r.notify(serviceName)
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(serviceName), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		r.watchers[serviceName] = slices.DeleteFunc(r.watchers[serviceName], func(c chan []ServiceInstance) bool {
			return c == ch
		})
		close(ch)
	}()
	return ch
}

// list returns the instances sorted by address. Callers hold mu.
func (r *MemoryRegistry) list(serviceName string) []ServiceInstance {
	out := make([]ServiceInstance, 0, len(r.services[serviceName]))
	for _, inst := range r.services[serviceName] {
		out = append(out, inst)
	}
	slices.SortFunc(out, func(a, b ServiceInstance) int { return strings.Compare(a.Addr, b.Addr) })
	return out
}

// notify replaces any unread update with the latest list. Callers hold mu.
func (r *MemoryRegistry) notify(serviceName string) {
	latest := r.list(serviceName)
	for _, ch := range r.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- latest
	}
}
