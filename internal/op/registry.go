package op

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// Factory builds a Kind from its declared parameters.
type Factory func(params map[string]cty.Value) (Kind, error)

// Registry maps operator names to factories.
type Registry struct {
	all map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{all: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in operator.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(CAddName, buildCAdd)
	return r
}

// Register adds a factory. Registering the same name twice is a programming
// error and panics.
func (r *Registry) Register(name string, f Factory) {
	if _, exists := r.all[name]; exists {
		panic(fmt.Sprintf("operator with name '%s' already registered", name))
	}
	slog.Debug("Registering operator.", "name", name)
	r.all[name] = f
}

// Build looks up name and builds its Kind from params.
func (r *Registry) Build(name string, params map[string]cty.Value) (Kind, error) {
	f, ok := r.all[name]
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", name)
	}
	return f(params)
}

// Names returns the registered operator names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.all))
	for name := range r.all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
