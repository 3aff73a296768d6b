package e2e

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/agent"
	"inferd/internal/agent/tools"
	"inferd/internal/backend"
	"inferd/internal/httpapi"
	"inferd/internal/manager"
)

// upstream is a fake model server. handle receives the 1-based call number
// and the request body of every chat call.
type upstream struct {
	srv    *httptest.Server
	handle func(n int, w http.ResponseWriter, r *http.Request, body []byte)

	mu           sync.Mutex
	calls        int
	active, peak int
	bodies       [][]byte
}

func (u *upstream) enter(body []byte) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.active++
	if u.active > u.peak {
		u.peak = u.active
	}
	u.bodies = append(u.bodies, body)
	return u.calls
}

func (u *upstream) leave() {
	u.mu.Lock()
	u.active--
	u.mu.Unlock()
}

func (u *upstream) stats() (calls, peak int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls, u.peak
}

func (u *upstream) body(i int) []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bodies[i]
}

// newOpenAIUpstream serves /v1/models and /v1/chat/completions.
func newOpenAIUpstream(t *testing.T, models []string, handle func(n int, w http.ResponseWriter, r *http.Request, body []byte)) *upstream {
	t.Helper()
	u := &upstream{handle: handle}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		var data []string
		for _, m := range models {
			data = append(data, fmt.Sprintf(`{"id":%q,"object":"model"}`, m))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"object":"list","data":[%s]}`, strings.Join(data, ","))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n := u.enter(body)
		defer u.leave()
		u.handle(n, w, r, body)
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

// newOllamaUpstream serves /api/tags and /api/chat.
func newOllamaUpstream(t *testing.T, models []string, handle func(n int, w http.ResponseWriter, r *http.Request, body []byte)) *upstream {
	t.Helper()
	u := &upstream{handle: handle}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		var list []string
		for _, m := range models {
			list = append(list, fmt.Sprintf(`{"name":%q}`, m))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"models":[%s]}`, strings.Join(list, ","))
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n := u.enter(body)
		defer u.leave()
		u.handle(n, w, r, body)
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

// writeSSETokens streams tokens as OpenAI chunks, pausing between them.
func writeSSETokens(w http.ResponseWriter, pause time.Duration, tokens ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	fl, _ := w.(http.Flusher)
	for _, tok := range tokens {
		fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		if fl != nil {
			fl.Flush()
		}
		if pause > 0 {
			time.Sleep(pause)
		}
	}
	fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n")
	fmt.Fprint(w, "data: [DONE]\n\n")
}

// writeSSEToolCall streams a single tool call split over two chunks.
func writeSSEToolCall(w http.ResponseWriter, id, name, args string) {
	w.Header().Set("Content-Type", "text/event-stream")
	half := len(args) / 2
	fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":%q,\"type\":\"function\",\"function\":{\"name\":%q,\"arguments\":%q}}]}}]}\n\n", id, name, args[:half])
	fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":%q}}]}}]}\n\n", args[half:])
	fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n")
	fmt.Fprint(w, "data: [DONE]\n\n")
}

type stackConfig struct {
	permits int
	agent   bool
}

// newStack wires backends, manager and HTTP mux the way the binary does.
func newStack(t *testing.T, sc stackConfig, backends ...backend.Backend) (*httptest.Server, *manager.Manager) {
	t.Helper()
	reg, err := backend.NewRegistry(backends...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	var loop *agent.Loop
	if sc.agent {
		loop = agent.New(tools.NewExecutor(tools.Config{Timeout: 5 * time.Second}), agent.DefaultMaxIterations, zerolog.Nop())
	}
	mgr, err := manager.New(manager.Config{Registry: reg, Agent: loop, DefaultPermits: sc.permits})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := mgr.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(httpapi.NewService(mgr), httpapi.Options{LogLevel: "off"}))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close(context.Background())
	})
	return srv, mgr
}

func openAIBackend(name string, u *upstream, tools bool, models ...string) backend.Backend {
	return backend.NewOpenAI(backend.OpenAIConfig{
		Name:           name,
		BaseURL:        u.srv.URL,
		Models:         models,
		Discover:       len(models) == 0,
		Tools:          tools,
		RequestTimeout: 10 * time.Second,
		Cooldown:       time.Minute,
	})
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	return httpPostJSONContext(t, context.Background(), url, payload)
}

func httpPostJSONContext(t *testing.T, ctx context.Context, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(payload)))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// sseData returns the data payloads of an SSE body in order.
func sseData(body []byte) []string {
	var out []string
	for _, ev := range strings.Split(string(body), "\n\n") {
		ev = strings.TrimSpace(ev)
		if strings.HasPrefix(ev, "data: ") {
			out = append(out, strings.TrimPrefix(ev, "data: "))
		}
	}
	return out
}

// ndjsonLines returns the non-empty lines of an NDJSON body.
func ndjsonLines(body []byte) []string {
	var out []string
	for _, l := range strings.Split(string(body), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
