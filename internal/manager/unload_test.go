package manager

import (
	"context"
	"testing"
	"time"

	"inferd/internal/backend"
	"inferd/internal/errs"
)

func TestUnloadRemovesEntryAndClosesInstance(t *testing.T) {
	fb := &fakeBackend{name: "a", models: []string{"m"}}
	m := newTestManager(t, Config{}, fb)
	if _, err := m.Open(testCtx(t), chatReq("m")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m.Unload(testCtx(t), "", "m"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if n := len(m.Status().Instances); n != 0 {
		t.Fatalf("instances=%d after unload", n)
	}
	if !fb.insts[0].closed.Load() {
		t.Fatalf("instance not closed")
	}
	if m.Status().UnloadsTotal != 1 {
		t.Fatalf("unloads not counted")
	}
	// Reloads on next use.
	if _, err := m.Open(testCtx(t), chatReq("m")); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if fb.loads.Load() != 2 {
		t.Fatalf("loads=%d want 2", fb.loads.Load())
	}
}

func TestUnloadErrors(t *testing.T) {
	m := newTestManager(t, Config{}, &fakeBackend{name: "a", models: []string{"m"}})
	if err := m.Unload(testCtx(t), "", "m"); !errs.Is(err, errs.KindModelNotFound) {
		t.Fatalf("unload of unloaded model: %v", err)
	}
	if err := m.Unload(testCtx(t), "nope", "m"); !errs.Is(err, errs.KindProtocol) {
		t.Fatalf("unknown backend: %v", err)
	}
	if err := m.Unload(testCtx(t), "", ""); !errs.Is(err, errs.KindProtocol) {
		t.Fatalf("empty model: %v", err)
	}
}

// An in-flight generation finishes on the old instance; the instance is
// closed only after it is done.
func TestInflightGenerationSurvivesUnload(t *testing.T) {
	proceed := make(chan struct{})
	fb := &fakeBackend{name: "a", models: []string{"m"}}
	fb.gen = func(ctx context.Context, _ backend.GenerateRequest, send func(backend.Event) bool) backend.Event {
		send(backend.TextDelta("before"))
		<-proceed
		send(backend.TextDelta("after"))
		return backend.DoneEvent(backend.Finish{})
	}
	m := newTestManager(t, Config{}, fb)
	s, err := m.Open(testCtx(t), chatReq("m"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	type result struct {
		evs []backend.Event
		err error
	}
	done := make(chan result, 1)
	started := make(chan struct{})
	go func() {
		var evs []backend.Event
		err := s.Run(testCtx(t), func(ev backend.Event) error {
			if len(evs) == 0 {
				close(started)
			}
			evs = append(evs, ev)
			return nil
		})
		done <- result{evs, err}
	}()
	<-started

	unloaded := make(chan error, 1)
	go func() { unloaded <- m.Unload(context.Background(), "a", "m") }()
	waitFor(t, "entry removed", func() bool { return len(m.Status().Instances) == 0 })
	if fb.insts[0].closed.Load() {
		t.Fatalf("instance closed while a generation holds its permit")
	}
	close(proceed)
	r := <-done
	if r.err != nil || len(r.evs) != 3 || r.evs[1].Text != "after" {
		t.Fatalf("in-flight generation: %+v err=%v", r.evs, r.err)
	}
	if err := <-unloaded; err != nil {
		t.Fatalf("unload: %v", err)
	}
	if !fb.insts[0].closed.Load() {
		t.Fatalf("instance not closed after drain")
	}
}

// A waiter queued on an unloaded entry moves to the fresh instance.
func TestQueuedWaiterMovesToFreshInstance(t *testing.T) {
	proceed := make(chan struct{})
	fb := &fakeBackend{name: "a", models: []string{"m"}}
	fb.gen = func(ctx context.Context, _ backend.GenerateRequest, send func(backend.Event) bool) backend.Event {
		select {
		case <-proceed:
		case <-ctx.Done():
		}
		return backend.DoneEvent(backend.Finish{})
	}
	m := newTestManager(t, Config{}, fb)
	s1, _ := m.Open(testCtx(t), chatReq("m"))
	s2, _ := m.Open(testCtx(t), chatReq("m"))

	first := make(chan error, 1)
	go func() { _, err := collect(t, testCtx(t), s1); first <- err }()
	waitFor(t, "first holds permit", func() bool { return m.Status().Instances[0].Inflight == 1 })
	second := make(chan error, 1)
	go func() { _, err := collect(t, testCtx(t), s2); second <- err }()
	waitFor(t, "second waits", func() bool { return m.Status().Instances[0].Waiting == 1 })

	go func() { _ = m.Unload(context.Background(), "a", "m") }()
	waitFor(t, "second reloaded", func() bool { return fb.loads.Load() == 2 })
	close(proceed)
	for _, ch := range []chan error{first, second} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("run: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("request hung after unload")
		}
	}
	if fb.insts[1].calls.Load() != 1 {
		t.Fatalf("second request did not run on the fresh instance")
	}
}

func TestLRUEvictsIdleInstances(t *testing.T) {
	fb := &fakeBackend{name: "a", models: []string{"m1", "m2", "m3"}}
	pub := NewMemoryPublisher()
	m := newTestManager(t, Config{MaxInstances: 2, Publisher: pub}, fb)
	for _, model := range []string{"m1", "m2", "m3"} {
		if _, err := m.Open(testCtx(t), chatReq(model)); err != nil {
			t.Fatalf("open %s: %v", model, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	st := m.Status()
	if len(st.Instances) != 2 {
		t.Fatalf("instances=%d want 2", len(st.Instances))
	}
	for _, in := range st.Instances {
		if in.Model == "m1" {
			t.Fatalf("least recently used instance was kept")
		}
	}
	waitFor(t, "evicted instance closed", func() bool { return fb.insts[0].closed.Load() })
}
