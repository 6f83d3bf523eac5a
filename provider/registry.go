package provider

import (
	"sync"

	"github.com/metinweb/ors-payment-service/payerr"
)

// Registry maps bank tags to adapter factories. Several tags may share one
// factory: the NestPay adapter serves every bank running that platform.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds an adapter factory under tag.
func (r *Registry) Register(tag string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = factory
}

// Create builds a fresh adapter for tag. Unknown tags fail with
// not_implemented so configured-but-unsupported banks surface cleanly.
func (r *Registry) Create(tag string) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, payerr.Newf(payerr.KindNotImplemented, "no adapter registered for %q", tag)
	}
	return factory(), nil
}

// Tags returns all registered tags.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	return tags
}

// DefaultRegistry is the process-wide registry adapters register into from
// their package init.
var DefaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(tag string, factory Factory) {
	DefaultRegistry.Register(tag, factory)
}

// Create builds an adapter from the default registry.
func Create(tag string) (Adapter, error) {
	return DefaultRegistry.Create(tag)
}
