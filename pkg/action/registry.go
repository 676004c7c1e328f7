package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/fantasm/pkg/domain"
)

// Registry maps the action names used in configuration to implementations.
// Values are Action, ListAction or both.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]any
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]any),
	}
}

// Register adds an implementation under name. It panics if impl implements
// neither Action nor ListAction, since that is a programming error.
// If an action with the same name exists, it is overwritten.
func (r *Registry) Register(name string, impl any) {
	switch impl.(type) {
	case Action, ListAction:
	default:
		panic(fmt.Sprintf("action %q: %T implements neither Action nor ListAction", name, impl))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = impl
}

// RegisterFunc is shorthand for Register(name, Func(fn)).
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, ec *domain.Context) Result) {
	r.Register(name, Func(fn))
}

// Lookup returns the implementation registered under name.
func (r *Registry) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.actions[name]
	return impl, ok
}

// Names lists registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
