package backend

import (
	"context"

	"inferd/internal/errs"
)

// EventKind tags a generation event.
type EventKind int

const (
	EventTextDelta EventKind = iota + 1
	EventToolCall
	EventError
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	case EventToolCall:
		return "tool_call"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// ToolCall is a backend's request to invoke a tool. Arguments is raw JSON.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage contains token accounting when the backend reports it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Finish describes a normal end of generation.
type Finish struct {
	Reason string
	Usage  Usage
}

// Event is one unit of backend output. Exactly one of Done, Error or ToolCall
// ends a stream.
type Event struct {
	Kind   EventKind
	Text   string
	Call   ToolCall
	Err    error
	Finish Finish
}

func TextDelta(s string) Event { return Event{Kind: EventTextDelta, Text: s} }

func ToolCallEvent(c ToolCall) Event { return Event{Kind: EventToolCall, Call: c} }

func ErrorEvent(err error) Event { return Event{Kind: EventError, Err: err} }

func DoneEvent(f Finish) Event {
	if f.Reason == "" {
		f.Reason = "stop"
	}
	return Event{Kind: EventDone, Finish: f}
}

// Terminal reports whether ev ends a generation call.
func (ev Event) Terminal() bool { return ev.Kind != EventTextDelta }

// Produce runs fn on its own goroutine and returns the unbuffered channel it
// feeds. fn streams non-terminal events through send and returns the terminal
// event. send reports false once ctx is done, after which fn should return.
// The channel is closed after the terminal event, or without one when ctx was
// cancelled and nobody is reading.
func Produce(ctx context.Context, fn func(send func(Event) bool) Event) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		send := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		term := fn(send)
		if err := ctx.Err(); err != nil {
			term = ErrorEvent(errs.Cancelled(err))
		}
		if !term.Terminal() {
			term = DoneEvent(Finish{})
		}
		send(term)
	}()
	return ch
}

// Drain reads ch to completion. The result ends with a terminal event, or with
// a cancellation error when ctx ends first or the producer stopped early.
func Drain(ctx context.Context, ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				if len(out) == 0 || !out[len(out)-1].Terminal() {
					out = append(out, ErrorEvent(errs.Cancelled(context.Canceled)))
				}
				return out
			}
			out = append(out, ev)
			if ev.Terminal() {
				return out
			}
		case <-ctx.Done():
			return append(out, ErrorEvent(errs.Cancelled(ctx.Err())))
		}
	}
}
