package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Router is a HostProvider selecting the host by the scheme of the address.
type Router struct {
	mu    sync.RWMutex
	hosts map[string]Host
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{hosts: make(map[string]Host)}
}

// Register binds a scheme to a host, replacing any previous binding.
func (r *Router) Register(scheme string, host Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[strings.ToLower(scheme)] = host
}

// GetHost returns the host registered for the scheme of address.
func (r *Router) GetHost(_ context.Context, address string) (Host, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	host, ok := r.hosts[addr.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrHostNotFound, addr.Scheme)
	}

	return host, nil
}

// Schemes returns the registered schemes.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemes := make([]string, 0, len(r.hosts))
	for s := range r.hosts {
		schemes = append(schemes, s)
	}
	return schemes
}
