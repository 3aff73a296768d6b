package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	// Model name; empty or "default" lets the server choose.
	// example: llama-3.2-3b-instruct-4bit
	Model string `json:"model" example:"llama-3.2-3b-instruct-4bit"`
	// Conversation so far; must not be empty.
	Messages []ChatMessage `json:"messages"`
	// Sampling temperature.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP *float64 `json:"top_p,omitempty" example:"0.9"`
	// Maximum number of tokens to generate.
	// example: 256
	MaxTokens int `json:"max_tokens,omitempty" example:"256"`
	// Newer clients send max_completion_tokens instead of max_tokens.
	MaxCompletionTokens int `json:"max_completion_tokens,omitempty"`
	// Stop sequences; a string or an array of strings.
	Stop StringOrList `json:"stop,omitempty" swaggertype:"array,string"`
	// Random seed.
	Seed *int64 `json:"seed,omitempty"`
	// Stream the response as server-sent events.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Function tools the model may call.
	Tools []ToolDefinition `json:"tools,omitempty"`
	// "auto", "none", "required" or {"type":"function","function":{"name":...}}.
	ToolChoice *ToolChoiceOption `json:"tool_choice,omitempty" swaggertype:"object"`
	// Engine-specific knobs passed through to the backend unexamined.
	Options map[string]any `json:"options,omitempty"`
}

// ChatMessage is one OpenAI-style message.
type ChatMessage struct {
	// example: user
	Role string `json:"role" example:"user"`
	// Text content. Array-of-parts content is flattened to text; image parts are kept in Images.
	Content MessageContent `json:"content" swaggertype:"string"`
	// Assistant tool calls (when replaying a conversation).
	ToolCalls []ToolCallWire `json:"tool_calls,omitempty"`
	// Id of the call a role=tool message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// Optional participant or function name.
	Name string `json:"name,omitempty"`
}

// MessageContent accepts a string or an array of content parts.
type MessageContent struct {
	Text   string
	Images []string
}

func (c *MessageContent) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = MessageContent{}
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &c.Text)
	}
	var parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	if err := json.Unmarshal(b, &parts); err != nil {
		return errors.New("content must be a string or an array of parts")
	}
	var sb strings.Builder
	for _, p := range parts {
		switch p.Type {
		case "text", "input_text":
			sb.WriteString(p.Text)
		case "image_url":
			if p.ImageURL.URL != "" {
				c.Images = append(c.Images, p.ImageURL.URL)
			}
		}
	}
	c.Text = sb.String()
	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) { return json.Marshal(c.Text) }

// StringOrList accepts "x" or ["x","y"].
type StringOrList []string

func (s *StringOrList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if b[0] == '"' {
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*s = StringOrList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ToolDefinition is {"type":"function","function":{...}}.
type ToolDefinition struct {
	// example: function
	Type     string             `json:"type" example:"function"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function.
type FunctionDefinition struct {
	// example: execute_shell
	Name string `json:"name" example:"execute_shell"`
	// example: Run a shell command and return its output
	Description string `json:"description,omitempty" example:"Run a shell command and return its output"`
	// JSON schema of the arguments.
	Parameters json.RawMessage `json:"parameters,omitempty" swaggertype:"object"`
}

// ToolChoiceOption accepts a mode string or a pinned function object.
type ToolChoiceOption struct {
	Mode     string
	Function string
}

func (t *ToolChoiceOption) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &t.Mode)
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return errors.New("tool_choice must be a string or an object")
	}
	t.Mode = "function"
	t.Function = obj.Function.Name
	return nil
}

func (t ToolChoiceOption) MarshalJSON() ([]byte, error) {
	if t.Mode == "function" {
		return json.Marshal(map[string]any{"type": "function", "function": map[string]string{"name": t.Function}})
	}
	return json.Marshal(t.Mode)
}

// ToolCallWire is an OpenAI tool call. Index is only set in streaming deltas.
type ToolCallWire struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function FunctionCallWire `json:"function"`
}

// FunctionCallWire carries the called function and its JSON-encoded arguments.
type FunctionCallWire struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// ChatCompletionChunk is one SSE data payload.
type ChatCompletionChunk struct {
	// example: chatcmpl-3f1c2a-1
	ID string `json:"id" example:"chatcmpl-3f1c2a-1"`
	// example: chat.completion.chunk
	Object string `json:"object" example:"chat.completion.chunk"`
	// example: 1700000000
	Created int64 `json:"created" example:"1700000000"`
	// example: llama-3.2-3b-instruct-4bit
	Model   string        `json:"model" example:"llama-3.2-3b-instruct-4bit"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice is a streaming choice.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta is the incremental message content.
type ChunkDelta struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []ToolCallWire `json:"tool_calls,omitempty"`
}

// ChatCompletion is the non-streaming response.
type ChatCompletion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object" example:"chat.completion"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *CompletionUsage   `json:"usage,omitempty"`
}

// CompletionChoice holds the final assistant message.
type CompletionChoice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// CompletionMessage is an assistant reply.
type CompletionMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ToolCallWire `json:"tool_calls,omitempty"`
}

// CompletionUsage is OpenAI token accounting.
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelList is returned by GET /v1/models.
type ModelList struct {
	// example: list
	Object string        `json:"object" example:"list"`
	Data   []ModelObject `json:"data"`
}

// ModelObject is one entry of ModelList.
type ModelObject struct {
	// example: llama-3.2-3b-instruct-4bit
	ID string `json:"id" example:"llama-3.2-3b-instruct-4bit"`
	// example: model
	Object string `json:"object" example:"model"`
	// example: 1700000000
	Created int64 `json:"created" example:"1700000000"`
	// Backend that serves the model.
	// example: local
	OwnedBy string `json:"owned_by" example:"local"`
}
