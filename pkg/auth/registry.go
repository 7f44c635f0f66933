package auth

import (
	"fmt"
	"sort"
)

// Registry maps strategy names to strategies. It is filled at startup
// and then only read, so dispatches may share it without locking.
// Register must not be called concurrently with Dispatch.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy under name. Names are unique.
func (r *Registry) Register(name string, s Strategy) error {
	if name == "" {
		return fmt.Errorf("strategy name must not be empty")
	}
	if s == nil {
		return fmt.Errorf("strategy %q is nil", name)
	}
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.strategies[name] = s
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, s Strategy) {
	if err := r.Register(name, s); err != nil {
		panic(err)
	}
}

// Lookup returns the strategy registered under name.
func (r *Registry) Lookup(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
