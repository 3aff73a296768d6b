package backend

import (
	"encoding/json"
	"net/http"
	"strings"

	"inferd/internal/errs"
)

// Roles accepted on the wire. RoleTool is used for synthetic tool-result turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation turn. Images are passed through unexamined.
type Message struct {
	Role       string
	Content    string
	Images     []string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// Tool is a function definition offered to the backend.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Tool choice modes.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
	ToolChoiceFunction = "function"
)

// ToolChoice pins or disables tool use. Function is set only for ToolChoiceFunction.
type ToolChoice struct {
	Mode     string
	Function string
}

// Params are generation knobs. Nil pointers mean "backend default". Options
// carries engine-specific knobs the core never interprets.
type Params struct {
	Temperature *float64
	TopP        *float64
	TopK        int
	MaxTokens   int
	Stop        []string
	Seed        *int64
	Options     map[string]any
}

// ChatRequest is the protocol-independent form of both chat endpoints.
type ChatRequest struct {
	Model      string
	Messages   []Message
	Tools      []Tool
	ToolChoice ToolChoice
	Params     Params
	Stream     bool
}

// Validate checks the invariants shared by both endpoints.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errs.Protocol(http.StatusBadRequest, "messages must not be empty")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			return errs.Protocol(http.StatusBadRequest, "messages[%d]: unsupported role %q", i, m.Role)
		}
	}
	seen := make(map[string]struct{}, len(r.Tools))
	for i, t := range r.Tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return errs.Protocol(http.StatusBadRequest, "tools[%d]: function name is required", i)
		}
		if _, dup := seen[name]; dup {
			return errs.Protocol(http.StatusBadRequest, "tools[%d]: duplicate tool name %q", i, name)
		}
		seen[name] = struct{}{}
	}
	if r.ToolChoice.Mode == ToolChoiceFunction {
		if _, ok := seen[r.ToolChoice.Function]; !ok {
			return errs.Protocol(http.StatusBadRequest, "tool_choice names unknown function %q", r.ToolChoice.Function)
		}
	}
	return nil
}

// GenerateRequest is what an Instance receives for one generation call.
type GenerateRequest struct {
	Model      string
	Messages   []Message
	Tools      []Tool
	ToolChoice ToolChoice
	Params     Params
}
