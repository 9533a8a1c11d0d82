package server

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"dispatch-rpc/middleware"
	"dispatch-rpc/signature"
)

var (
	ErrDuplicateMethod = errors.New("server: method already registered")
	ErrInvalidMethod   = errors.New("server: invalid method")
)

// Method is one registry entry.
type Method struct {
	Name    string
	Handler middleware.HandlerFunc
	// Signatures lists the accepted call shapes. Empty means the handler
	// accepts anything and validates its own params.
	Signatures []signature.Signature
	Doc        string
}

// Registry maps method names to entries. It is safe for concurrent use, so
// methods may be registered while requests are being served.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]*Method
	strict  bool
}

// NewRegistry returns an empty registry. A strict registry rejects a second
// registration under the same name; otherwise the last registration wins.
func NewRegistry(strict bool) *Registry {
	return &Registry{methods: make(map[string]*Method), strict: strict}
}

// Register inserts or replaces m.
func (r *Registry) Register(m Method) error {
	if m.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidMethod)
	}
	if m.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidMethod, m.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.methods[m.Name]; ok && r.strict {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, m.Name)
	}
	m.Signatures = slices.Clone(m.Signatures)
	r.methods[m.Name] = &m
	return nil
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (*Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.methods)
}
