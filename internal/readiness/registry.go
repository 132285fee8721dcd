package readiness

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/keithlinneman/kprobe/internal/xerrors"
)

// Factory constructs a check. It is called once per Resolve, at startup.
type Factory func(ctx context.Context) (Check, error)

// Registry maps check names to factories so the check chain can be configured
// by name (flags, env) and resolved once before serving.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering an empty name, a nil factory or a
// duplicate name is a wiring bug and panics.
func (r *Registry) Register(name string, f Factory) {
	name = strings.TrimSpace(name)
	if name == "" || f == nil {
		panic("readiness: Register requires a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		panic("readiness: check " + name + " registered twice")
	}
	r.factories[name] = f
}

// RegisterCheck registers a prebuilt check instance under name.
func (r *Registry) RegisterCheck(name string, c Check) {
	r.Register(name, func(context.Context) (Check, error) { return c, nil })
}

// Names returns the registered check names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// Resolve instantiates the named checks in order. Every failure is a
// *ConfigError: an empty list, an unknown name, a factory error, or a factory
// returning nil.
func (r *Registry) Resolve(ctx context.Context, names []string) ([]Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Check, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		f, ok := r.factories[name]
		if !ok {
			return nil, xerrors.WithStack(configErrorf("unknown readiness check %q (registered: %s)", name, strings.Join(r.namesLocked(), ", ")))
		}
		c, err := f(ctx)
		if err != nil {
			return nil, xerrors.WithStack(&ConfigError{Reason: "readiness check " + strconv.Quote(name), Err: err})
		}
		if c == nil {
			return nil, xerrors.WithStack(configErrorf("readiness check %q resolved to nil", name))
		}
		if _, ok := c.(Namer); !ok {
			c = Named(name, c)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, xerrors.WithStack(configErrorf("no readiness checks configured"))
	}
	return out, nil
}

// Build resolves names and constructs an Evaluator over them.
func (r *Registry) Build(ctx context.Context, names []string, opts ...Option) (*Evaluator, error) {
	checks, err := r.Resolve(ctx, names)
	if err != nil {
		return nil, err
	}
	return NewEvaluator(checks, opts...)
}

func (r *Registry) namesLocked() []string {
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
