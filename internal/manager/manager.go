package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/agent"
	"inferd/internal/backend"
	"inferd/internal/errs"
	"inferd/pkg/types"
)

type Manager struct {
	reg   *backend.Registry
	cache *Cache
	agent *agent.Loop
	pub   EventPublisher
	log   zerolog.Logger
	start time.Time
}

// New constructs a Manager from Config.
func New(cfg Config) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, errors.New("manager: registry is required")
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	log := cfg.Logger.With().Str("component", "manager").Logger()
	return &Manager{
		reg:   cfg.Registry,
		cache: NewCache(cfg.permitsFor, cfg.MaxInstances, pub, log),
		agent: cfg.Agent,
		pub:   pub,
		log:   log,
		start: time.Now(),
	}, nil
}

// Registry returns the backend registry.
func (m *Manager) Registry() *backend.Registry { return m.reg }

// Models lists resolvable models.
func (m *Manager) Models() []backend.ModelRef { return m.reg.Models() }

// Describe returns on-disk details for ref when its backend serves files.
func (m *Manager) Describe(ref backend.ModelRef) (types.Model, bool) {
	b, ok := m.reg.Lookup(ref.Backend)
	if !ok {
		return types.Model{}, false
	}
	d, ok := b.(backend.Describer)
	if !ok {
		return types.Model{}, false
	}
	return d.Describe(ref.Model)
}

// Ready reports whether at least one backend has a servable model.
func (m *Manager) Ready() bool {
	for _, b := range m.reg.Backends() {
		if len(b.Models()) > 0 {
			return true
		}
	}
	return false
}

// Reload refreshes every backend's availability snapshot.
func (m *Manager) Reload(ctx context.Context) error {
	err := m.reg.Refresh(ctx)
	m.pub.Publish(Event{Name: EventReload, Fields: map[string]any{"models": len(m.reg.Models())}})
	if err != nil {
		m.log.Warn().Err(err).Msg("reload finished with errors")
	}
	return err
}

// Unload evicts the instance for model. With an empty backend name every
// backend's instance of model is unloaded. It reports ModelNotFound when
// nothing was loaded.
func (m *Manager) Unload(ctx context.Context, backendName, model string) error {
	if model == "" {
		return errs.Protocol(400, "model is required")
	}
	var keys []Key
	if backendName != "" {
		if _, ok := m.reg.Lookup(backendName); !ok {
			return errs.Protocol(404, "unknown backend %q", backendName)
		}
		keys = []Key{{Backend: backendName, Model: model}}
	} else {
		keys = m.cache.Keys(model)
	}
	unloaded := 0
	for _, k := range keys {
		if m.cache.Unload(ctx, k) {
			unloaded++
		}
	}
	if unloaded == 0 {
		return &errs.Error{Kind: errs.KindModelNotFound, Msg: fmt.Sprintf("model '%s' is not loaded", model)}
	}
	return nil
}

// Close unloads all instances and closes the backends.
func (m *Manager) Close(ctx context.Context) error {
	err := m.cache.Close(ctx)
	if cerr := m.reg.Close(); err == nil {
		err = cerr
	}
	return err
}

// Open validates and resolves req and makes sure its instance is loaded.
// Nothing is streamed yet; errors here are pre-stream errors.
func (m *Manager) Open(ctx context.Context, req backend.ChatRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	res, err := m.reg.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	if _, err := m.cache.Get(ctx, res.Backend, res.Model); err != nil {
		return nil, err
	}
	s := &Session{
		m:       m,
		req:     req,
		backend: res.Backend,
		model:   res.Model,
		agent:   m.agent.ShouldRun(res.Backend.Capabilities(), req),
	}
	m.log.Debug().Str("backend", res.Backend.Name()).Str("model", res.Model).Bool("agent", s.agent).Msg("request resolved")
	return s, nil
}
