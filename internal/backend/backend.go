// Package backend defines the generation backend contract, the ordered
// registry that resolves a requested model to a backend, and the concrete
// backends: OpenAI-compatible HTTP servers, Ollama, a spawned llama-server per
// model and in-process llama.cpp (built with -tags=llama).
//
// A backend turns a conversation into a stream of Events. Streams are
// channels; producers stop as soon as the context passed to Generate is done.
package backend

import (
	"context"
	"sort"
	"sync"

	"inferd/pkg/types"
)

// Capabilities are declared statically by each backend.
type Capabilities struct {
	// Tools reports whether the backend can emit tool calls.
	Tools bool
	// DefaultModel, when set, makes the backend a default provider: it serves
	// requests that name no model (or "default") with this model.
	DefaultModel string
}

// Backend is a text-generation provider.
type Backend interface {
	Name() string
	// Type is the configured backend type (openai, ollama, spawn, llamacpp).
	Type() string
	Capabilities() Capabilities
	// Models returns the current availability snapshot, sorted.
	Models() []string
	CanServe(model string) bool
	// Refresh re-reads model availability from the backend's source.
	Refresh(ctx context.Context) error
	// Load prepares a ready-to-generate instance for model.
	Load(ctx context.Context, model string) (Instance, error)
	Close() error
}

// Instance is a loaded model owned by one backend.
type Instance interface {
	// Generate starts one generation call. The returned channel yields events
	// in production order and is closed after the terminal event.
	Generate(ctx context.Context, req GenerateRequest) (<-chan Event, error)
	Close() error
}

// Describer is implemented by backends that serve model files from disk and
// can report their size, quantization and family.
type Describer interface {
	Describe(model string) (types.Model, bool)
}

// modelSet is a concurrency-safe availability snapshot.
type modelSet struct {
	mu     sync.RWMutex
	sorted []string
	index  map[string]struct{}
}

func newModelSet(models []string) *modelSet {
	s := &modelSet{}
	s.Set(models)
	return s
}

func (s *modelSet) Set(models []string) {
	index := make(map[string]struct{}, len(models))
	sorted := make([]string, 0, len(models))
	for _, m := range models {
		if m == "" {
			continue
		}
		if _, dup := index[m]; dup {
			continue
		}
		index[m] = struct{}{}
		sorted = append(sorted, m)
	}
	sort.Strings(sorted)
	s.mu.Lock()
	s.sorted, s.index = sorted, index
	s.mu.Unlock()
}

func (s *modelSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.sorted...)
}

func (s *modelSet) Has(m string) bool {
	s.mu.RLock()
	_, ok := s.index[m]
	s.mu.RUnlock()
	return ok
}
