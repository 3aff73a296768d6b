package manager

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestEventPublisher_LoadAndUnload_EmitsEvents(t *testing.T) {
	pub := NewMemoryPublisher()
	m := newTestManager(t, Config{Publisher: pub}, &fakeBackend{name: "a", models: []string{"m"}})
	if _, err := m.Open(testCtx(t), chatReq("m")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m.Unload(testCtx(t), "a", "m"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	want := map[string]bool{
		"load_start":   false,
		"load_ready":   false,
		"unload_start": false,
		"unload_done":  false,
	}
	for _, e := range pub.Events() {
		if _, ok := want[e.Name]; ok {
			want[e.Name] = true
			if e.Backend != "a" || e.Model != "m" {
				t.Fatalf("event %q has key %s/%s", e.Name, e.Backend, e.Model)
			}
		}
	}
	for k, v := range want {
		if !v {
			t.Fatalf("expected event %q to be published; got events: %v", k, pub.Names())
		}
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := LogPublisher{Logger: zerolog.New(&buf).Level(zerolog.DebugLevel)}
	p.Publish(Event{Name: "load_ready", Backend: "b", Model: "m", Fields: map[string]any{"duration_ms": 12}})
	p.Publish(Event{Name: "load_error", Backend: "b", Model: "m", Fields: map[string]any{"error": "boom"}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 log lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], `"level":"debug"`) || !strings.Contains(lines[0], `"event":"load_ready"`) || !strings.Contains(lines[0], `"duration_ms":12`) {
		t.Fatalf("unexpected first line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"warn"`) || !strings.Contains(lines[1], `"error":"boom"`) {
		t.Fatalf("unexpected second line: %s", lines[1])
	}
}
