// Package loadbalance provides strategies for spreading calls across the
// instances of a discovered service.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless services, equal-capacity instances
//   - WeightedRandom:  Heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  Stateful services requiring cache affinity
package loadbalance

import (
	"fmt"
	"strings"

	"dispatch-rpc/registry"
)

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each call to select a target instance.
type Balancer interface {
	// Pick selects one instance for the call identified by key, which the
	// client sets to the method name. Called on every call, must be
	// goroutine-safe.
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name: "roundrobin",
// "weightedrandom" or "consistenthash". Matching ignores case.
func New(name string) (Balancer, error) {
	switch strings.ToLower(name) {
	case "", "roundrobin":
		return &RoundRobinBalancer{}, nil
	case "weightedrandom":
		return &WeightedRandomBalancer{}, nil
	case "consistenthash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
