package breaker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Registry owns the breakers for a process. It is constructed once and
// injected wherever breakers are needed; there is no package-level state.
type Registry struct {
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for service, creating it with DefaultConfig when
// it does not exist yet.
func (r *Registry) Get(service string) *CircuitBreaker {
	return r.GetOrCreate(service, DefaultConfig())
}

// GetOrCreate returns the breaker for service, creating it with cfg when it
// does not exist yet. An existing breaker keeps its original config.
func (r *Registry) GetOrCreate(service string, cfg Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[service]; ok {
		return b
	}
	b := New(service, cfg, r.logger)
	r.breakers[service] = b
	return b
}

// Lookup returns the breaker for service without creating one.
func (r *Registry) Lookup(service string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[service]
	return b, ok
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats snapshots every registered breaker, keyed by service name.
func (r *Registry) Stats() map[string]Stats {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(breakers))
	for _, b := range breakers {
		out[b.Service()] = b.Stats()
	}
	return out
}

// Reset resets one breaker. It reports false when the service is unknown.
func (r *Registry) Reset(ctx context.Context, service string) bool {
	b, ok := r.Lookup(service)
	if !ok {
		return false
	}
	b.Reset(ctx)
	return true
}

// ResetAll resets every registered breaker.
func (r *Registry) ResetAll(ctx context.Context) {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset(ctx)
	}
}
