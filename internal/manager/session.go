package manager

import (
	"context"
	"errors"

	"inferd/internal/agent"
	"inferd/internal/backend"
	"inferd/internal/errs"
)

// maxGateRetries bounds how often a request follows an unloaded entry to
// its replacement.
const maxGateRetries = 3

// Session is one opened chat request.
type Session struct {
	m       *Manager
	req     backend.ChatRequest
	backend backend.Backend
	model   string
	agent   bool
}

// Model is the resolved model name.
func (s *Session) Model() string { return s.model }

// Backend is the resolved backend name.
func (s *Session) Backend() string { return s.backend.Name() }

// AgentMode reports whether the agent loop drives this request.
func (s *Session) AgentMode() bool { return s.agent }

// Run generates and passes every event to emit in production order, ending
// with exactly one terminal event. The returned error is the failure that
// terminal event carried, if any; a surfaced tool call is not an error.
func (s *Session) Run(ctx context.Context, emit agent.EmitFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.agent {
		out := s.m.agent.Run(ctx, s.generate, s.req.Messages, s.req.Tools, emit)
		switch out.State {
		case agent.Completed, agent.Surfaced:
			return nil
		default:
			return out.Err
		}
	}

	ch, err := s.generate(ctx, 1, s.req.Messages)
	if err != nil {
		err = errs.Generation(err)
		_ = emit(backend.ErrorEvent(err))
		return err
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				err := errs.Cancelled(context.Canceled)
				if ctx.Err() == nil {
					err = errs.Generation(errors.New("stream ended without a terminal event"))
				}
				_ = emit(backend.ErrorEvent(err))
				return err
			}
			if err := emit(ev); err != nil {
				return errs.Cancelled(err)
			}
			if ev.Terminal() {
				if ev.Kind == backend.EventError {
					return ev.Err
				}
				return nil
			}
		case <-ctx.Done():
			return errs.Cancelled(ctx.Err())
		}
	}
}

// generate performs one gated generation call. The permit is held until the
// backend's stream has closed, including after cancellation.
func (s *Session) generate(ctx context.Context, round int, msgs []backend.Message) (<-chan backend.Event, error) {
	for attempt := 0; ; attempt++ {
		e, err := s.m.cache.Get(ctx, s.backend, s.model)
		if err != nil {
			return nil, err
		}
		release, err := e.gate.Acquire(ctx)
		if errors.Is(err, errGateClosed) && attempt < maxGateRetries {
			s.m.log.Debug().Str("key", e.key.String()).Msg("instance unloaded while waiting; retrying on a fresh one")
			continue
		}
		if errors.Is(err, errGateClosed) {
			return nil, errs.NoBackendAvailable("instance kept unloading while waiting: " + e.key.String())
		}
		if err != nil {
			return nil, err
		}
		e.touch()
		src, err := e.inst.Generate(ctx, backend.GenerateRequest{
			Model:      s.model,
			Messages:   msgs,
			Tools:      s.req.Tools,
			ToolChoice: agent.ChoiceForRound(s.req.ToolChoice, round),
			Params:     s.req.Params,
		})
		if err != nil {
			release()
			return nil, err
		}
		return s.relay(ctx, src, release), nil
	}
}

// relay forwards src until it closes, then releases the permit. Once ctx is
// done it stops forwarding but keeps draining src so the backend has
// finished before the next waiter is admitted.
func (s *Session) relay(ctx context.Context, src <-chan backend.Event, release func()) <-chan backend.Event {
	out := make(chan backend.Event)
	name := s.backend.Name()
	go func() {
		defer release()
		defer close(out)
		forwarding := true
		for ev := range src {
			generationEventsTotal.WithLabelValues(name, ev.Kind.String()).Inc()
			if !forwarding {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				forwarding = false
			}
		}
	}()
	return out
}
