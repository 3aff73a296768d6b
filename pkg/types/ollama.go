package types

import "encoding/json"

// OllamaChatRequest is the body of POST /api/chat.
type OllamaChatRequest struct {
	// example: llama3.2:3b
	Model    string          `json:"model" example:"llama3.2:3b"`
	Messages []OllamaMessage `json:"messages"`
	// Streaming defaults to true when omitted.
	Stream *bool `json:"stream,omitempty"`
	// Top-level knobs accepted for parity with the OpenAI endpoint.
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Tools       []ToolDefinition  `json:"tools,omitempty"`
	ToolChoice  *ToolChoiceOption `json:"tool_choice,omitempty" swaggertype:"object"`
	// Ollama generation options (temperature, top_p, top_k, num_predict, stop, seed, ...).
	Options map[string]any `json:"options,omitempty"`
	// Output format hint; accepted for client compatibility and ignored.
	Format json.RawMessage `json:"format,omitempty" swaggertype:"object"`
	// How long the model stays loaded; the backend's keep_alive setting applies instead.
	KeepAlive json.RawMessage `json:"keep_alive,omitempty" swaggertype:"string"`
}

// OllamaMessage is one Ollama chat message.
type OllamaMessage struct {
	// example: user
	Role string `json:"role" example:"user"`
	// example: Hi
	Content   string           `json:"content" example:"Hi"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []OllamaToolCall `json:"tool_calls,omitempty"`
	// Name of the tool whose result a role=tool message carries.
	ToolName string `json:"tool_name,omitempty"`
}

// OllamaToolCall is a tool invocation; arguments are a JSON object.
type OllamaToolCall struct {
	Function OllamaFunctionCall `json:"function"`
}

// OllamaFunctionCall names the function and its arguments object.
type OllamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments" swaggertype:"object"`
}

// OllamaChatResponse is one NDJSON line (or the whole non-streamed reply).
type OllamaChatResponse struct {
	Model     string         `json:"model"`
	CreatedAt string         `json:"created_at"`
	Message   *OllamaMessage `json:"message,omitempty"`
	Done      bool           `json:"done"`
	// Present on the final line.
	DoneReason      string `json:"done_reason,omitempty"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	// Present on a terminal error line.
	Error *ErrorBody `json:"error,omitempty"`
}

// TagsResponse is returned by GET /api/tags.
type TagsResponse struct {
	Models []TagModel `json:"models"`
}

// TagModel is one installed model in Ollama's listing schema.
type TagModel struct {
	// example: llama-3.2-3b-instruct-4bit
	Name string `json:"name" example:"llama-3.2-3b-instruct-4bit"`
	// example: llama-3.2-3b-instruct-4bit
	Model      string     `json:"model" example:"llama-3.2-3b-instruct-4bit"`
	ModifiedAt string     `json:"modified_at"`
	Size       int64      `json:"size"`
	Digest     string     `json:"digest"`
	Details    TagDetails `json:"details"`
}

// TagDetails mirrors Ollama's model details block.
type TagDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}
