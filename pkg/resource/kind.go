package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hostforge/hostforge/pkg/system"
)

// Kind is the capability contract a resource kind implements. One
// implementation exists per kind; all host access goes through the
// system context passed to each call, never through ambient globals.
type Kind interface {
	// Name returns the kind name this implementation handles.
	Name() string

	// Validate checks a declaration's attributes before any run starts.
	Validate(decl *Decl) error

	// Probe reads the actual state of the declared resource.
	Probe(ctx context.Context, sys *system.Context, decl *Decl) (*CurrentState, error)

	// Diff compares desired against probed state. An empty result means
	// the resource is already converged and Apply must not be called.
	Diff(decl *Decl, current *CurrentState) []Change

	// Apply transitions the resource to its desired state. It is only
	// called when Diff reported at least one change.
	Apply(ctx context.Context, sys *system.Context, decl *Decl, current *CurrentState) error
}

// Refresher is the optional refresh capability of a kind. Refresh runs a
// secondary action (e.g. a service restart) when an upstream resource on a
// notify edge changed, regardless of the resource's own diff.
type Refresher interface {
	Refresh(ctx context.Context, sys *system.Context, decl *Decl) error
}

// Registry maps kind names to their implementations.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry creates an empty kind registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]Kind),
	}
}

// Register adds a kind implementation. Registering the same name twice
// is an error.
func (r *Registry) Register(k Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := k.Name()
	if name == "" {
		return NewError(ErrCodeValidation, "kind has empty name", nil)
	}
	if _, exists := r.kinds[name]; exists {
		return NewError(ErrCodeValidation,
			fmt.Sprintf("kind %q already registered", name), nil)
	}
	r.kinds[name] = k
	return nil
}

// Lookup returns the implementation for a kind name.
func (r *Registry) Lookup(name string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.kinds[name]
	if !ok {
		return nil, NewError(ErrCodeValidation,
			fmt.Sprintf("unknown resource kind %q", name), nil)
	}
	return k, nil
}

// Names returns the registered kind names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
