package httpapi

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"inferd/internal/backend"
	"inferd/internal/errs"
	"inferd/pkg/types"
)

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return errs.Protocol(http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errs.Protocol(http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", limit)
		}
		return errs.Protocol(http.StatusBadRequest, "invalid JSON body: %v", err)
	}
	return nil
}

func toolsFromWire(defs []types.ToolDefinition) []backend.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]backend.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, backend.Tool{Name: d.Function.Name, Description: d.Function.Description, Parameters: d.Function.Parameters})
	}
	return out
}

func toolChoiceFromWire(tc *types.ToolChoiceOption) backend.ToolChoice {
	if tc == nil {
		return backend.ToolChoice{}
	}
	return backend.ToolChoice{Mode: tc.Mode, Function: tc.Function}
}

// chatRequestFromOpenAI converts a /chat/completions body.
func chatRequestFromOpenAI(in types.ChatCompletionRequest) backend.ChatRequest {
	msgs := make([]backend.Message, 0, len(in.Messages))
	for _, m := range in.Messages {
		msg := backend.Message{
			Role:       m.Role,
			Content:    m.Content.Text,
			Images:     m.Content.Images,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, c := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, backend.ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: c.Function.Arguments})
		}
		msgs = append(msgs, msg)
	}
	maxTokens := in.MaxTokens
	if maxTokens == 0 {
		maxTokens = in.MaxCompletionTokens
	}
	return backend.ChatRequest{
		Model:      in.Model,
		Messages:   msgs,
		Tools:      toolsFromWire(in.Tools),
		ToolChoice: toolChoiceFromWire(in.ToolChoice),
		Params: backend.Params{
			Temperature: in.Temperature,
			TopP:        in.TopP,
			MaxTokens:   maxTokens,
			Stop:        in.Stop,
			Seed:        in.Seed,
			Options:     in.Options,
		},
		Stream: in.Stream,
	}
}

// chatRequestFromOllama converts an /api/chat body. Well-known options are
// lifted into Params; the remaining keys pass through unexamined.
func chatRequestFromOllama(in types.OllamaChatRequest) backend.ChatRequest {
	msgs := make([]backend.Message, 0, len(in.Messages))
	// Ollama tool turns carry no call id; they answer the preceding
	// assistant calls in order, matched by tool name when one is given.
	var pending []backend.ToolCall
	for _, m := range in.Messages {
		msg := backend.Message{Role: m.Role, Content: m.Content, Images: m.Images, Name: m.ToolName}
		if len(m.ToolCalls) > 0 {
			pending = pending[:0]
		}
		for _, c := range m.ToolCalls {
			args := string(c.Function.Arguments)
			if args == "" || args == "null" {
				args = "{}"
			}
			call := backend.ToolCall{ID: backend.NewCallID(), Name: c.Function.Name, Arguments: args}
			msg.ToolCalls = append(msg.ToolCalls, call)
			pending = append(pending, call)
		}
		if m.Role == backend.RoleTool {
			for i, c := range pending {
				if m.ToolName == "" || m.ToolName == c.Name {
					msg.ToolCallID, msg.Name = c.ID, c.Name
					pending = append(pending[:i], pending[i+1:]...)
					break
				}
			}
		}
		msgs = append(msgs, msg)
	}
	p := backend.Params{Temperature: in.Temperature, MaxTokens: in.MaxTokens}
	rest := make(map[string]any, len(in.Options))
	for k, v := range in.Options {
		switch k {
		case "temperature":
			if f, ok := v.(float64); ok {
				p.Temperature = &f
				continue
			}
		case "top_p":
			if f, ok := v.(float64); ok {
				p.TopP = &f
				continue
			}
		case "top_k":
			if f, ok := v.(float64); ok {
				p.TopK = int(f)
				continue
			}
		case "num_predict":
			if f, ok := v.(float64); ok {
				p.MaxTokens = int(f)
				continue
			}
		case "seed":
			if f, ok := v.(float64); ok {
				s := int64(f)
				p.Seed = &s
				continue
			}
		case "stop":
			if str, ok := v.(string); ok {
				p.Stop = []string{str}
				continue
			}
			if list, ok := v.([]any); ok {
				for _, s := range list {
					if str, ok := s.(string); ok {
						p.Stop = append(p.Stop, str)
					}
				}
				continue
			}
		}
		rest[k] = v
	}
	if len(rest) > 0 {
		p.Options = rest
	}
	stream := true
	if in.Stream != nil {
		stream = *in.Stream
	}
	return backend.ChatRequest{
		Model:      in.Model,
		Messages:   msgs,
		Tools:      toolsFromWire(in.Tools),
		ToolChoice: toolChoiceFromWire(in.ToolChoice),
		Params:     p,
		Stream:     stream,
	}
}
