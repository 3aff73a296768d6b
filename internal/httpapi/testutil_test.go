package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/agent"
	"inferd/internal/backend"
	"inferd/pkg/types"
)

type mockService struct {
	models   []backend.ModelRef
	describe map[string]types.Model
	status   types.StatusResponse
	ready    bool
	openErr  error
	events   []backend.Event
	runErr   error

	mu        sync.Mutex
	lastReq   backend.ChatRequest
	reloads   int
	unloadErr error
	unloaded  []string
}

func (m *mockService) Open(ctx context.Context, req backend.ChatRequest) (Session, error) {
	m.mu.Lock()
	m.lastReq = req
	m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	model := req.Model
	if model == "" {
		model = "default-model"
	}
	return &mockSession{model: model, events: m.events, err: m.runErr}, nil
}

func (m *mockService) Models() []backend.ModelRef { return m.models }

func (m *mockService) Describe(ref backend.ModelRef) (types.Model, bool) {
	d, ok := m.describe[ref.Model]
	return d, ok
}

func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }

func (m *mockService) Reload(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
	return nil
}

func (m *mockService) Unload(_ context.Context, b, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unloadErr != nil {
		return m.unloadErr
	}
	m.unloaded = append(m.unloaded, b+"/"+model)
	return nil
}

func (m *mockService) request() backend.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReq
}

type mockSession struct {
	model  string
	events []backend.Event
	err    error
}

func (s *mockSession) Model() string { return s.model }

func (s *mockSession) Run(ctx context.Context, emit agent.EmitFunc) error {
	for _, ev := range s.events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	if s.err != nil {
		return s.err
	}
	if n := len(s.events); n > 0 && s.events[n-1].Kind == backend.EventError {
		return s.events[n-1].Err
	}
	return nil
}

func newTestMux(svc Service) http.Handler {
	return NewMux(svc, Options{Logger: zerolog.Nop(), LogLevel: "off"})
}

func newRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return serve(h, newRequest(method, path, body))
}

// lines returns the non-empty lines of body.
func lines(body string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func textEvents(parts ...string) []backend.Event {
	evs := make([]backend.Event, 0, len(parts)+1)
	for _, p := range parts {
		evs = append(evs, backend.TextDelta(p))
	}
	return append(evs, backend.DoneEvent(backend.Finish{Usage: backend.Usage{PromptTokens: 3, CompletionTokens: len(parts), TotalTokens: 3 + len(parts)}}))
}
