package httpapi

import (
	"encoding/json"
	"testing"

	"inferd/pkg/types"
)

func TestChatRequestFromOllama_Options(t *testing.T) {
	var in types.OllamaChatRequest
	body := `{"model":"llama3.2:3b","stream":false,
	"messages":[{"role":"user","content":"Hi","images":["AAAA"]},
	{"role":"assistant","content":"","tool_calls":[{"function":{"name":"current_time","arguments":{"timezone":"UTC"}}}]},
	{"role":"tool","content":"2024-05-01T12:00:00Z","tool_name":"current_time"}],
	"temperature":0.1,
	"options":{"temperature":0.7,"top_p":0.9,"top_k":40,"num_predict":128,"stop":["\n\n"],"seed":42,"mirostat":2}}`
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	req := chatRequestFromOllama(in)
	p := req.Params
	if p.Temperature == nil || *p.Temperature != 0.7 {
		t.Fatalf("options.temperature must win over top-level: %v", p.Temperature)
	}
	if *p.TopP != 0.9 || p.TopK != 40 || p.MaxTokens != 128 || len(p.Stop) != 1 || *p.Seed != 42 {
		t.Fatalf("params: %+v", p)
	}
	if len(p.Options) != 1 || p.Options["mirostat"] != float64(2) {
		t.Fatalf("passthrough options: %+v", p.Options)
	}
	if req.Stream {
		t.Fatalf("stream:false ignored")
	}
	if len(req.Messages[0].Images) != 1 {
		t.Fatalf("images dropped")
	}
	call := req.Messages[1].ToolCalls[0]
	if call.Name != "current_time" || call.Arguments != `{"timezone":"UTC"}` || call.ID == "" {
		t.Fatalf("tool call: %+v", call)
	}
	if req.Messages[2].Name != "current_time" {
		t.Fatalf("tool turn name: %+v", req.Messages[2])
	}
}

func TestChatRequestFromOllama_StopString(t *testing.T) {
	req := chatRequestFromOllama(types.OllamaChatRequest{Options: map[string]any{"stop": "END"}})
	if len(req.Params.Stop) != 1 || req.Params.Stop[0] != "END" || req.Params.Options != nil {
		t.Fatalf("params: %+v", req.Params)
	}
	if !req.Stream {
		t.Fatalf("stream must default to true")
	}
}

func TestChatRequestFromOllama_PairsToolTurnsWithCalls(t *testing.T) {
	var in types.OllamaChatRequest
	body := `{"model":"m","messages":[
	{"role":"user","content":"time and files?"},
	{"role":"assistant","content":"","tool_calls":[
		{"function":{"name":"current_time","arguments":{}}},
		{"function":{"name":"list_dir","arguments":{"path":"."}}}]},
	{"role":"tool","content":"a.txt","tool_name":"list_dir"},
	{"role":"tool","content":"2024-05-01T12:00:00Z"}]}`
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	req := chatRequestFromOllama(in)
	calls := req.Messages[1].ToolCalls
	if len(calls) != 2 || calls[0].ID == calls[1].ID {
		t.Fatalf("calls: %+v", calls)
	}
	if got := req.Messages[2]; got.ToolCallID != calls[1].ID || got.Name != "list_dir" {
		t.Fatalf("named tool turn: %+v", got)
	}
	if got := req.Messages[3]; got.ToolCallID != calls[0].ID || got.Name != "current_time" {
		t.Fatalf("unnamed tool turn: %+v", got)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
