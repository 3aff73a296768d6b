package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"inferd/internal/backend"
	"inferd/pkg/types"
)

// sseWriter streams OpenAI chat.completion.chunk events. Chunk ids are
// "<base>-<n>" with n counting from 1.
type sseWriter struct {
	streamBase
	model   string
	base    string
	created int64
	n       int
}

func newSSEWriter(w http.ResponseWriter, debug io.Writer, model string) *sseWriter {
	return &sseWriter{
		streamBase: newStreamBase(w, debug, "text/event-stream"),
		model:      model,
		base:       completionID(),
		created:    time.Now().Unix(),
	}
}

func (s *sseWriter) chunk(delta types.ChunkDelta, finish *string) types.ChatCompletionChunk {
	s.n++
	if s.n == 1 {
		delta.Role = backend.RoleAssistant
	}
	return types.ChatCompletionChunk{
		ID:      fmt.Sprintf("%s-%d", s.base, s.n),
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []types.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func (s *sseWriter) data(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write([]byte("data: " + string(b) + "\n\n"))
}

func (s *sseWriter) done() error { return s.write([]byte("data: [DONE]\n\n")) }

func (s *sseWriter) emit(ev backend.Event) error {
	if !s.begin(ev) {
		return nil
	}
	switch ev.Kind {
	case backend.EventTextDelta:
		return s.data(s.chunk(types.ChunkDelta{Content: ev.Text}, nil))
	case backend.EventToolCall:
		reason := "tool_calls"
		if err := s.data(s.chunk(types.ChunkDelta{ToolCalls: []types.ToolCallWire{toolCallWire(ev.Call, true)}}, &reason)); err != nil {
			return err
		}
		return s.done()
	case backend.EventDone:
		return s.done()
	case backend.EventError:
		_, body := errorBody(ev.Err)
		return s.data(types.ErrorResponse{Error: body})
	}
	return nil
}

func toolCallWire(c backend.ToolCall, indexed bool) types.ToolCallWire {
	w := types.ToolCallWire{ID: c.ID, Type: "function", Function: types.FunctionCallWire{Name: c.Name, Arguments: c.Arguments}}
	if indexed {
		zero := 0
		w.Index = &zero
	}
	return w
}
