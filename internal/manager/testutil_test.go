package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/backend"
)

// fakeBackend serves a fixed model list with fakeInstances.
type fakeBackend struct {
	name    string
	caps    backend.Capabilities
	models  []string
	loadErr error
	// loadDelay slows Load so concurrent first users overlap.
	loadDelay time.Duration
	// script is replayed by every Generate call, unless gen is set.
	script []backend.Event
	gen    func(ctx context.Context, req backend.GenerateRequest, send func(backend.Event) bool) backend.Event

	loads  atomic.Int32
	mu     sync.Mutex
	insts  []*fakeInstance
	closed atomic.Bool
}

func (f *fakeBackend) Name() string                       { return f.name }
func (f *fakeBackend) Type() string                       { return "fake" }
func (f *fakeBackend) Capabilities() backend.Capabilities { return f.caps }
func (f *fakeBackend) Models() []string                   { return append([]string(nil), f.models...) }
func (f *fakeBackend) Refresh(context.Context) error      { return nil }

func (f *fakeBackend) CanServe(model string) bool {
	for _, m := range f.models {
		if m == model {
			return true
		}
	}
	return false
}

func (f *fakeBackend) Load(ctx context.Context, model string) (backend.Instance, error) {
	f.loads.Add(1)
	if f.loadDelay > 0 {
		time.Sleep(f.loadDelay)
	}
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	inst := &fakeInstance{b: f, model: model}
	f.mu.Lock()
	f.insts = append(f.insts, inst)
	f.mu.Unlock()
	return inst, nil
}

func (f *fakeBackend) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeInstance struct {
	b      *fakeBackend
	model  string
	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
	closed atomic.Bool
}

func (i *fakeInstance) Generate(ctx context.Context, req backend.GenerateRequest) (<-chan backend.Event, error) {
	if i.closed.Load() {
		return nil, errors.New("generate on closed instance")
	}
	i.calls.Add(1)
	return backend.Produce(ctx, func(send func(backend.Event) bool) backend.Event {
		n := i.active.Add(1)
		defer i.active.Add(-1)
		for {
			p := i.peak.Load()
			if n <= p || i.peak.CompareAndSwap(p, n) {
				break
			}
		}
		if i.b.gen != nil {
			return i.b.gen(ctx, req, send)
		}
		script := i.b.script
		if len(script) == 0 {
			script = []backend.Event{backend.TextDelta("ok"), backend.DoneEvent(backend.Finish{})}
		}
		for _, ev := range script[:len(script)-1] {
			if !send(ev) {
				return backend.Event{}
			}
		}
		return script[len(script)-1]
	}), nil
}

func (i *fakeInstance) Close() error {
	i.closed.Store(true)
	return nil
}

func newTestManager(t *testing.T, cfg Config, backends ...backend.Backend) *Manager {
	t.Helper()
	reg, err := backend.NewRegistry(backends...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cfg.Registry = reg
	cfg.Logger = zerolog.Nop()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func chatReq(model string) backend.ChatRequest {
	return backend.ChatRequest{Model: model, Messages: []backend.Message{{Role: backend.RoleUser, Content: "Hi"}}}
}

// collect runs s and returns every emitted event.
func collect(t *testing.T, ctx context.Context, s *Session) ([]backend.Event, error) {
	t.Helper()
	var evs []backend.Event
	err := s.Run(ctx, func(ev backend.Event) error {
		evs = append(evs, ev)
		return nil
	})
	return evs, err
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
