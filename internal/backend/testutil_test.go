package backend

import (
	"context"
	"sync"

	"inferd/pkg/types"
)

// stubBackend is a Backend with a fixed model list.
type stubBackend struct {
	name   string
	caps   Capabilities
	models *modelSet
}

func newStub(name string, caps Capabilities, models ...string) *stubBackend {
	return &stubBackend{name: name, caps: caps, models: newModelSet(models)}
}

func (s *stubBackend) Name() string                  { return s.name }
func (s *stubBackend) Type() string                  { return "stub" }
func (s *stubBackend) Capabilities() Capabilities    { return s.caps }
func (s *stubBackend) Models() []string              { return s.models.List() }
func (s *stubBackend) CanServe(m string) bool        { return s.models.Has(m) }
func (s *stubBackend) Refresh(context.Context) error { return nil }
func (s *stubBackend) Close() error                  { return nil }

func (s *stubBackend) Load(context.Context, string) (Instance, error) { return nil, nil }

// memCatalog is an in-memory ModelCatalog.
type memCatalog struct {
	mu        sync.Mutex
	models    map[string]types.Model
	refreshes int
}

func newMemCatalog(models ...types.Model) *memCatalog {
	c := &memCatalog{models: map[string]types.Model{}}
	for _, m := range models {
		c.models[m.ID] = m
	}
	return c
}

func (c *memCatalog) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.models))
	for id := range c.models {
		ids = append(ids, id)
	}
	return newModelSet(ids).List()
}

func (c *memCatalog) Lookup(id string) (types.Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.models[id]
	return m, ok
}

func (c *memCatalog) Refresh() error {
	c.mu.Lock()
	c.refreshes++
	c.mu.Unlock()
	return nil
}
