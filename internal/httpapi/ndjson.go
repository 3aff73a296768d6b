package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"inferd/internal/backend"
	"inferd/pkg/types"
)

// ndjsonWriter streams Ollama /api/chat lines.
type ndjsonWriter struct {
	streamBase
	model string
	start time.Time
}

func newNDJSONWriter(w http.ResponseWriter, debug io.Writer, model string) *ndjsonWriter {
	return &ndjsonWriter{
		streamBase: newStreamBase(w, debug, "application/x-ndjson"),
		model:      model,
		start:      time.Now(),
	}
}

func (n *ndjsonWriter) line(v types.OllamaChatResponse) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.write(append(b, '\n'))
}

func (n *ndjsonWriter) emit(ev backend.Event) error {
	if !n.begin(ev) {
		return nil
	}
	resp := types.OllamaChatResponse{Model: n.model, CreatedAt: rfc3339Now()}
	switch ev.Kind {
	case backend.EventTextDelta:
		resp.Message = &types.OllamaMessage{Role: backend.RoleAssistant, Content: ev.Text}
		return n.line(resp)
	case backend.EventToolCall:
		resp.Message = &types.OllamaMessage{Role: backend.RoleAssistant, ToolCalls: []types.OllamaToolCall{ollamaToolCall(ev.Call)}}
		if err := n.line(resp); err != nil {
			return err
		}
		return n.line(n.final(backend.Finish{Reason: "stop"}))
	case backend.EventDone:
		return n.line(n.final(ev.Finish))
	case backend.EventError:
		_, body := errorBody(ev.Err)
		resp.Error = &body
		resp.Done = true
		return n.line(resp)
	}
	return nil
}

func (n *ndjsonWriter) final(f backend.Finish) types.OllamaChatResponse {
	return types.OllamaChatResponse{
		Model:           n.model,
		CreatedAt:       rfc3339Now(),
		Message:         &types.OllamaMessage{Role: backend.RoleAssistant},
		Done:            true,
		DoneReason:      f.Reason,
		TotalDuration:   time.Since(n.start).Nanoseconds(),
		PromptEvalCount: f.Usage.PromptTokens,
		EvalCount:       f.Usage.CompletionTokens,
	}
}

func ollamaToolCall(c backend.ToolCall) types.OllamaToolCall {
	args := json.RawMessage(c.Arguments)
	if !gjson.Valid(c.Arguments) {
		args = json.RawMessage("{}")
	}
	return types.OllamaToolCall{Function: types.OllamaFunctionCall{Name: c.Name, Arguments: args}}
}
