package reflection

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

// Registry maps reflection names to functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a registry holding the builtin reflections.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	for name, fn := range builtins() {
		r.funcs[name] = fn
	}
	return r
}

// Default is the registry used when none is configured.
var Default = NewRegistry()

// Register binds fn to name in the Default registry.
func Register(name string, fn Func) { Default.Register(name, fn) }

// Register binds fn to name, silently replacing an existing binding.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Resolve returns the function bound to name.
func (r *Registry) Resolve(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReflection, name)
	}
	return fn, nil
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bound is a reflection with its parameters applied.
type Bound func(rc *Context, model *schema.Model, field string, row Row, log Logger) (Outcome, error)

// Bind resolves spec and applies its parameters.
func (r *Registry) Bind(spec Spec) (Bound, error) {
	spec = spec.Normalize()
	fn, err := r.Resolve(spec.Function)
	if err != nil {
		return nil, err
	}
	params := spec.Parameters
	return func(rc *Context, model *schema.Model, field string, row Row, log Logger) (Outcome, error) {
		return fn(rc, model, field, row, log, params)
	}, nil
}
