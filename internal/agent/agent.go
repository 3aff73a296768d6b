// Package agent runs the bounded tool-calling loop: generate, execute a
// built-in tool the model asked for, feed the result back, generate again.
//
// The loop owns no backend state. It is handed a generate function that
// performs one generation call (including gate admission) and an emit
// function that writes events to the client in production order.
package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"inferd/internal/agent/tools"
	"inferd/internal/backend"
	"inferd/internal/errs"
)

// DefaultMaxIterations bounds the number of generation rounds per request.
const DefaultMaxIterations = 5

// State is a step of the loop's state machine.
type State int

const (
	Prompting State = iota
	AwaitingBackend
	Executing
	Completed
	Error
	IterationsExhausted
	// Surfaced ends the loop on a tool call only the caller can answer.
	Surfaced
)

func (s State) String() string {
	switch s {
	case Prompting:
		return "prompting"
	case AwaitingBackend:
		return "awaiting_backend"
	case Executing:
		return "executing"
	case Completed:
		return "completed"
	case Error:
		return "error"
	case IterationsExhausted:
		return "iterations_exhausted"
	case Surfaced:
		return "surfaced"
	default:
		return "unknown"
	}
}

// GenerateFunc performs one generation call over msgs. round is 1-based.
type GenerateFunc func(ctx context.Context, round int, msgs []backend.Message) (<-chan backend.Event, error)

// EmitFunc delivers an event to the client. An error stops the loop.
type EmitFunc func(backend.Event) error

// Executor runs built-in tools.
type Executor interface {
	IsBuiltin(name string) bool
	Execute(ctx context.Context, name, argsJSON string) tools.Result
}

// Outcome summarizes a finished run.
type Outcome struct {
	State State
	// Text is the assistant text of the final round.
	Text       string
	Call       backend.ToolCall
	Finish     backend.Finish
	Rounds     int
	Executions int
	Err        error
	// Transcript is the conversation including the tool turns the loop added.
	Transcript []backend.Message
}

// Loop is a configured agent loop; it is safe for concurrent use.
type Loop struct {
	MaxIterations int
	Executor      Executor
	Logger        zerolog.Logger
}

// New returns a loop with the given iteration bound (DefaultMaxIterations if <= 0).
func New(exec Executor, maxIterations int, log zerolog.Logger) *Loop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Loop{MaxIterations: maxIterations, Executor: exec, Logger: log}
}

// ShouldRun reports whether a request enters agent mode. It is evaluated
// once per request: the backend must support tools, tool_choice must not be
// "none" and at least one offered tool must be a built-in.
func (l *Loop) ShouldRun(caps backend.Capabilities, req backend.ChatRequest) bool {
	if l == nil || l.Executor == nil || !caps.Tools || req.ToolChoice.Mode == backend.ToolChoiceNone {
		return false
	}
	for _, t := range req.Tools {
		if l.Executor.IsBuiltin(t.Name) {
			return true
		}
	}
	return false
}

// ChoiceForRound returns the tool_choice sent on the given round. A pinned
// function or "required" holds for round 1 only; later rounds use "auto".
func ChoiceForRound(c backend.ToolChoice, round int) backend.ToolChoice {
	if round <= 1 {
		return c
	}
	switch c.Mode {
	case backend.ToolChoiceRequired, backend.ToolChoiceFunction:
		return backend.ToolChoice{Mode: backend.ToolChoiceAuto}
	}
	return c
}

func (l *Loop) max() int {
	if l.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return l.MaxIterations
}

// Run drives the loop until the model answers, asks for a non-built-in
// tool, fails, or the iteration bound is reached. Every event the client
// must see, including the terminal one, goes through emit.
func (l *Loop) Run(ctx context.Context, generate GenerateFunc, transcript []backend.Message, offered []backend.Tool, emit EmitFunc) Outcome {
	out := l.run(ctx, generate, transcript, offered, emit)
	agentRunsTotal.WithLabelValues(out.State.String()).Inc()
	agentRounds.Observe(float64(out.Rounds))
	ev := l.Logger.Debug()
	if out.State == Error {
		ev = l.Logger.Warn().Err(out.Err)
	}
	ev.Str("state", out.State.String()).Int("rounds", out.Rounds).Int("executions", out.Executions).Msg("agent loop finished")
	return out
}

func (l *Loop) run(ctx context.Context, generate GenerateFunc, transcript []backend.Message, offered []backend.Tool, emit EmitFunc) Outcome {
	builtin := make(map[string]bool, len(offered))
	for _, t := range offered {
		if l.Executor != nil && l.Executor.IsBuiltin(t.Name) {
			builtin[t.Name] = true
		}
	}
	msgs := append([]backend.Message(nil), transcript...)
	out := Outcome{State: Prompting}

	fail := func(err error) Outcome {
		out.State, out.Err, out.Transcript = Error, err, msgs
		_ = emit(backend.ErrorEvent(err))
		return out
	}

	for {
		// Prompting
		if out.Rounds+1 > l.max() {
			out.State, out.Err, out.Transcript = IterationsExhausted, errs.IterationsExhausted(l.max()), msgs
			_ = emit(backend.ErrorEvent(out.Err))
			return out
		}
		out.Rounds++
		if err := ctx.Err(); err != nil {
			return fail(errs.Cancelled(err))
		}

		out.State = AwaitingBackend
		ch, err := generate(ctx, out.Rounds, msgs)
		if err != nil {
			return fail(errs.Generation(err))
		}
		var text strings.Builder
		term, err := forward(ctx, ch, &text, emit)
		if err != nil {
			return fail(err)
		}
		out.Text = text.String()

		switch term.Kind {
		case backend.EventDone:
			out.State, out.Finish, out.Transcript = Completed, term.Finish, msgs
			_ = emit(term)
			return out
		case backend.EventError:
			return fail(errs.Generation(term.Err))
		case backend.EventToolCall:
			if !builtin[term.Call.Name] {
				out.State, out.Call, out.Transcript = Surfaced, term.Call, msgs
				_ = emit(term)
				return out
			}
		}

		out.State = Executing
		call := term.Call
		l.Logger.Debug().Str("tool", call.Name).Str("call_id", call.ID).Int("round", out.Rounds).Msg("executing built-in tool")
		res := l.Executor.Execute(ctx, call.Name, call.Arguments)
		out.Executions++
		if err := ctx.Err(); err != nil {
			return fail(errs.Cancelled(err))
		}
		if !res.Success {
			l.Logger.Debug().Err(errs.ToolExecution(call.Name, stringError(res.Error))).Msg("tool failed; result fed back to the model")
		}
		msgs = append(msgs,
			backend.Message{Role: backend.RoleAssistant, Content: out.Text, ToolCalls: []backend.ToolCall{call}},
			backend.Message{Role: backend.RoleTool, Content: res.Content(), ToolCallID: call.ID, Name: call.Name},
		)
		out.State = Prompting
	}
}

// forward relays text deltas to emit and returns the terminal event.
func forward(ctx context.Context, ch <-chan backend.Event, text *strings.Builder, emit EmitFunc) (backend.Event, error) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return backend.Event{}, errs.Cancelled(err)
				}
				return backend.Event{}, errs.Generation(errors.New("stream ended without a terminal event"))
			}
			if ev.Terminal() {
				return ev, nil
			}
			text.WriteString(ev.Text)
			if err := emit(ev); err != nil {
				return backend.Event{}, errs.Cancelled(err)
			}
		case <-ctx.Done():
			return backend.Event{}, errs.Cancelled(ctx.Err())
		}
	}
}

type stringError string

func (e stringError) Error() string { return string(e) }
