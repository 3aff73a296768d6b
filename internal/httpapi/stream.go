package httpapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"inferd/internal/backend"
)

// eventWriter turns generation events into one response. emit returning an
// error means the client is gone. finish receives the session's result and
// writes anything still owed to the client.
type eventWriter interface {
	emit(ev backend.Event) error
	finish(err error)
}

// streamBase carries the lazy-header logic shared by the SSE and NDJSON
// writers: nothing is written until the first event, and a first event that
// is an error becomes a plain JSON error response.
type streamBase struct {
	w           http.ResponseWriter
	out         io.Writer
	flush       func()
	contentType string
	started     bool
}

func newStreamBase(w http.ResponseWriter, debug io.Writer, contentType string) streamBase {
	b := streamBase{w: w, out: w, flush: func() {}, contentType: contentType}
	if f, ok := w.(http.Flusher); ok {
		b.flush = f.Flush
	}
	if debug != nil {
		b.out = io.MultiWriter(w, debug)
	}
	return b
}

// begin sends the streaming headers. It reports false when ev was written as
// a plain error response instead.
func (b *streamBase) begin(ev backend.Event) bool {
	if b.started {
		return true
	}
	b.started = true
	if ev.Kind == backend.EventError {
		writeJSONError(b.w, ev.Err)
		return false
	}
	h := b.w.Header()
	h.Set("Content-Type", b.contentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	b.w.WriteHeader(http.StatusOK)
	return true
}

// finish answers with a plain error when the session ended before any event.
func (b *streamBase) finish(err error) {
	if !b.started && err != nil {
		b.started = true
		writeJSONError(b.w, err)
	}
}

func (b *streamBase) write(p []byte) error {
	if _, err := b.out.Write(p); err != nil {
		incStreamAbort("write")
		return err
	}
	b.flush()
	return nil
}

// completionID returns a chat completion id such as "chatcmpl-9b2f0c41d7e3".
func completionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func rfc3339Now() string { return time.Now().UTC().Format(time.RFC3339Nano) }
