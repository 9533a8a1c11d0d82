// Package registry announces dispatch servers to clients.
//
// A server registers one ServiceInstance per listening address under its
// service name, listing the methods it serves; clients Discover the instances
// of a service, or Watch them for changes, and pick one per call.
package registry

import (
	"context"
	"errors"
	"slices"
)

var ErrNoInstances = errors.New("registry: no instances available")

type ServiceInstance struct {
	Addr    string   `json:"addr"`
	Weight  int      `json:"weight"` // Weight for load balancing
	Version string   `json:"version,omitempty"`
	Methods []string `json:"methods,omitempty"`
}

// Serves reports whether the instance announced method. An instance that
// announced no methods is assumed to serve all of them.
func (i ServiceInstance) Serves(method string) bool {
	return len(i.Methods) == 0 || slices.Contains(i.Methods, method)
}

// Serving filters instances down to those serving method.
func Serving(instances []ServiceInstance, method string) []ServiceInstance {
	out := make([]ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Serves(method) {
			out = append(out, inst)
		}
	}
	return out
}

type Registry interface {
	// Register announces instance for ttl seconds, renewed until Deregister.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list on every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
