package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"inferd/internal/backend"
	"inferd/pkg/types"
)

// collector accumulates a whole generation for stream:false requests.
type collector struct {
	text strings.Builder
	call *backend.ToolCall
	fin  backend.Finish
	err  error
}

func (c *collector) add(ev backend.Event) {
	switch ev.Kind {
	case backend.EventTextDelta:
		c.text.WriteString(ev.Text)
	case backend.EventToolCall:
		call := ev.Call
		c.call = &call
	case backend.EventDone:
		c.fin = ev.Finish
	case backend.EventError:
		c.err = ev.Err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// completionWriter answers /chat/completions with one chat.completion object.
type completionWriter struct {
	collector
	w     http.ResponseWriter
	model string
}

func (c *completionWriter) emit(ev backend.Event) error {
	c.add(ev)
	return nil
}

func (c *completionWriter) finish(err error) {
	if c.err == nil {
		c.err = err
	}
	if c.err != nil {
		writeJSONError(c.w, c.err)
		return
	}
	msg := types.CompletionMessage{Role: backend.RoleAssistant, Content: c.text.String()}
	reason := c.fin.Reason
	if c.call != nil {
		msg.ToolCalls = []types.ToolCallWire{toolCallWire(*c.call, false)}
		reason = "tool_calls"
	}
	resp := types.ChatCompletion{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   c.model,
		Choices: []types.CompletionChoice{{Index: 0, Message: msg, FinishReason: reason}},
	}
	if u := c.fin.Usage; u.TotalTokens > 0 || u.PromptTokens > 0 || u.CompletionTokens > 0 {
		resp.Usage = &types.CompletionUsage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	writeJSON(c.w, http.StatusOK, resp)
}

// ollamaReplyWriter answers /chat with a single done:true object.
type ollamaReplyWriter struct {
	collector
	w     http.ResponseWriter
	model string
	start time.Time
}

func (o *ollamaReplyWriter) emit(ev backend.Event) error {
	o.add(ev)
	return nil
}

func (o *ollamaReplyWriter) finish(err error) {
	if o.err == nil {
		o.err = err
	}
	if o.err != nil {
		writeJSONError(o.w, o.err)
		return
	}
	f := o.fin
	if f.Reason == "" {
		f.Reason = "stop"
	}
	msg := &types.OllamaMessage{Role: backend.RoleAssistant, Content: o.text.String()}
	if o.call != nil {
		msg.ToolCalls = []types.OllamaToolCall{ollamaToolCall(*o.call)}
	}
	writeJSON(o.w, http.StatusOK, types.OllamaChatResponse{
		Model:           o.model,
		CreatedAt:       rfc3339Now(),
		Message:         msg,
		Done:            true,
		DoneReason:      f.Reason,
		TotalDuration:   time.Since(o.start).Nanoseconds(),
		PromptEvalCount: f.Usage.PromptTokens,
		EvalCount:       f.Usage.CompletionTokens,
	})
}
