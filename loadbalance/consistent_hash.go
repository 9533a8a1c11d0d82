package loadbalance

import (
	"fmt"
	"hash/crc32"
	"slices"
	"strings"
	"sync"

	"dispatch-rpc/registry"
)

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same instance (until the ring changes),
// so calls to one method stick to one instance and its local caches.
//
// Virtual nodes: each real instance is mapped to N virtual nodes on the ring,
// otherwise a few instances could cluster together and take most keys.
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
	replicas int // Virtual nodes per real instance

	mu    sync.Mutex
	ident string                              // Addresses the ring was built from
	ring  []uint32                            // Sorted hash values on the ring
	nodes map[uint32]registry.ServiceInstance // Hash value → instance mapping
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]registry.ServiceInstance),
	}
}

// Add places an instance onto the hash ring with N virtual nodes.
// Each virtual node is hashed from "{addr}#{i}" to spread evenly across the ring.
func (b *ConsistentHashBalancer) Add(instance registry.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(instance)
}

func (b *ConsistentHashBalancer) add(instance registry.ServiceInstance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE(fmt.Appendf(nil, "%s#%d", instance.Addr, i))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	// Keep the ring sorted for binary search in Pick()
	slices.Sort(b.ring)
}

// Pick finds the instance responsible for key among instances. The ring is
// rebuilt whenever the instance list differs from the previous call.
//
// It hashes the key, then binary-searches for the first node >= hash on the
// ring. If the hash is larger than all nodes, it wraps around to the first
// node (ring property).
func (b *ConsistentHashBalancer) Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if instances != nil {
		b.sync(instances)
	}
	if len(b.ring) == 0 {
		return nil, registry.ErrNoInstances
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx, _ := slices.BinarySearch(b.ring, hash)
	if idx == len(b.ring) {
		idx = 0
	}
	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

func (b *ConsistentHashBalancer) sync(instances []registry.ServiceInstance) {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	slices.Sort(addrs)
	ident := strings.Join(addrs, ",")
	if ident == b.ident {
		return
	}
	b.ident = ident
	b.ring = b.ring[:0]
	clear(b.nodes)
	for _, inst := range instances {
		b.add(inst)
	}
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
