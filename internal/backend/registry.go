package backend

import (
	"context"
	"fmt"
	"strings"

	"inferd/internal/errs"
)

// DefaultModel is the reserved model name meaning "let the server choose".
const DefaultModel = "default"

// Registry is the ordered list of backends fixed at startup.
type Registry struct {
	backends []Backend
	byName   map[string]Backend
}

// NewRegistry builds a registry; backend names must be unique.
func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{byName: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		if b == nil {
			continue
		}
		if _, dup := r.byName[b.Name()]; dup {
			return nil, fmt.Errorf("duplicate backend name %q", b.Name())
		}
		r.byName[b.Name()] = b
		r.backends = append(r.backends, b)
	}
	return r, nil
}

// Backends returns the backends in registration order.
func (r *Registry) Backends() []Backend { return append([]Backend(nil), r.backends...) }

// Lookup finds a backend by name.
func (r *Registry) Lookup(name string) (Backend, bool) {
	b, ok := r.byName[name]
	return b, ok
}

// Resolution is the outcome of resolving a requested model.
type Resolution struct {
	Backend Backend
	Model   string
}

// Resolve picks the backend for requested using the registry order.
func (r *Registry) Resolve(requested string) (Resolution, error) {
	return Resolve(requested, r.backends)
}

// Resolve is a pure function of the requested name and the backends' current
// availability: the first backend that can serve a named model wins; an
// empty or "default" name goes to the first default provider, else to the
// first backend with any servable model.
func Resolve(requested string, backends []Backend) (Resolution, error) {
	if len(backends) == 0 {
		return Resolution{}, errs.NoBackendAvailable("no backends registered")
	}
	name := strings.TrimSpace(requested)
	if name != "" && name != DefaultModel {
		for _, b := range backends {
			if b.CanServe(name) {
				return Resolution{Backend: b, Model: name}, nil
			}
		}
		return Resolution{}, errs.ModelNotFound(name)
	}
	for _, b := range backends {
		if dm := b.Capabilities().DefaultModel; dm != "" && b.CanServe(dm) {
			return Resolution{Backend: b, Model: dm}, nil
		}
	}
	for _, b := range backends {
		if models := b.Models(); len(models) > 0 {
			return Resolution{Backend: b, Model: models[0]}, nil
		}
	}
	return Resolution{}, errs.NoBackendAvailable("no backend has a servable model")
}

// ModelRef is a resolvable model and the backend that would serve it.
type ModelRef struct {
	Model   string
	Backend string
	Tools   bool
}

// Models lists every resolvable model name once, attributed to the backend
// Resolve would pick for it.
func (r *Registry) Models() []ModelRef {
	seen := make(map[string]struct{})
	var out []ModelRef
	for _, b := range r.backends {
		caps := b.Capabilities()
		for _, m := range b.Models() {
			if _, ok := seen[m]; ok || !b.CanServe(m) {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, ModelRef{Model: m, Backend: b.Name(), Tools: caps.Tools})
		}
	}
	return out
}

// Refresh refreshes every backend and returns the first error, if any.
func (r *Registry) Refresh(ctx context.Context) error {
	var first error
	for _, b := range r.backends {
		if err := b.Refresh(ctx); err != nil && first == nil {
			first = fmt.Errorf("refresh %s: %w", b.Name(), err)
		}
	}
	return first
}

// Close closes every backend.
func (r *Registry) Close() error {
	var first error
	for _, b := range r.backends {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
