package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/pcmwire/pkg/transport"
)

// ErrTransportNotRegistered is returned by [Registry.CreateDialer] when no
// factory has been registered under the requested transport name.
var ErrTransportNotRegistered = errors.New("config: transport not registered")

// TransportFactory builds a dialer from a config entry.
type TransportFactory func(TransportEntry) (transport.Dialer, error)

// Registry maps transport names to their dialer factories. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]TransportFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]TransportFactory)}
}

// RegisterTransport registers a dialer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTransport(name string, factory TransportFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[name] = factory
}

// CreateDialer instantiates a dialer using the factory registered under
// entry.Name. Returns [ErrTransportNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateDialer(entry TransportEntry) (transport.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.transports[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTransportNotRegistered, entry.Name)
	}
	d, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create transport %q: %w", entry.Name, err)
	}
	return d, nil
}

// Transports returns the registered transport names in sorted order.
func (r *Registry) Transports() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
