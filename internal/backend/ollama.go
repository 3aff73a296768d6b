package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"inferd/internal/errs"
	"inferd/pkg/types"
)

// OllamaConfig configures a backend that forwards to an Ollama server.
type OllamaConfig struct {
	Name           string
	BaseURL        string
	Models         []string
	Discover       bool
	Tools          bool
	DefaultModel   string
	KeepAlive      string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
}

// OllamaBackend implements Backend over Ollama's /api/chat.
type OllamaBackend struct {
	cfg     OllamaConfig
	baseURL string
	http    *http.Client
	models  *modelSet
	log     zerolog.Logger
}

// NewOllama constructs an Ollama backend.
func NewOllama(cfg OllamaConfig) *OllamaBackend {
	return &OllamaBackend{
		cfg:     cfg,
		baseURL: trimBaseURL(cfg.BaseURL),
		http:    newHTTPClient(cfg.ConnectTimeout),
		models:  newModelSet(cfg.Models),
		log:     cfg.Logger.With().Str("backend", cfg.Name).Logger(),
	}
}

func (b *OllamaBackend) Name() string { return b.cfg.Name }
func (b *OllamaBackend) Type() string { return "ollama" }

func (b *OllamaBackend) Capabilities() Capabilities {
	return Capabilities{Tools: b.cfg.Tools, DefaultModel: b.cfg.DefaultModel}
}

func (b *OllamaBackend) Models() []string { return b.models.List() }

func (b *OllamaBackend) CanServe(model string) bool { return b.models.Has(model) }

func (b *OllamaBackend) Close() error { return nil }

// Refresh lists installed models via GET /api/tags.
func (b *OllamaBackend) Refresh(ctx context.Context) error {
	if !b.cfg.Discover {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newUpstreamStatusError(resp)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return err
	}
	found := append([]string(nil), b.cfg.Models...)
	for _, n := range gjson.GetBytes(buf.Bytes(), "models.#.name").Array() {
		found = append(found, n.String())
	}
	b.models.Set(found)
	return nil
}

func (b *OllamaBackend) Load(ctx context.Context, model string) (Instance, error) {
	if !b.models.Has(model) {
		return nil, errs.ModelNotFound(model)
	}
	return &ollamaInstance{b: b, model: model}, nil
}

type ollamaInstance struct {
	b     *OllamaBackend
	model string
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []types.OllamaMessage  `json:"messages"`
	Stream   bool                   `json:"stream"`
	Tools    []types.ToolDefinition `json:"tools,omitempty"`
	Options  map[string]any         `json:"options,omitempty"`
}

func (i *ollamaInstance) body(req GenerateRequest) ([]byte, error) {
	msgs := make([]types.OllamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := types.OllamaMessage{Role: m.Role, Content: m.Content, Images: m.Images}
		if m.Role == RoleTool {
			om.ToolName = m.Name
		}
		for _, c := range m.ToolCalls {
			args := json.RawMessage(c.Arguments)
			if !gjson.Valid(c.Arguments) {
				args = json.RawMessage("{}")
			}
			om.ToolCalls = append(om.ToolCalls, types.OllamaToolCall{Function: types.OllamaFunctionCall{Name: c.Name, Arguments: args}})
		}
		msgs = append(msgs, om)
	}
	payload := ollamaChatRequest{Model: i.model, Messages: msgs, Stream: true}
	if req.ToolChoice.Mode != ToolChoiceNone {
		payload.Tools = toToolDefinitions(req.Tools)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	p := req.Params
	set := func(path string, v any) {
		if err == nil {
			body, err = sjson.SetBytes(body, path, v)
		}
	}
	if p.Temperature != nil {
		set("options.temperature", *p.Temperature)
	}
	if p.TopP != nil {
		set("options.top_p", *p.TopP)
	}
	if p.TopK > 0 {
		set("options.top_k", p.TopK)
	}
	if p.MaxTokens > 0 {
		set("options.num_predict", p.MaxTokens)
	}
	if len(p.Stop) > 0 {
		set("options.stop", p.Stop)
	}
	if p.Seed != nil {
		set("options.seed", *p.Seed)
	}
	if i.b.cfg.KeepAlive != "" {
		set("keep_alive", i.b.cfg.KeepAlive)
	}
	if err != nil {
		return nil, err
	}
	return mergeOptions(body, "options.", p.Options)
}

func (i *ollamaInstance) Generate(ctx context.Context, req GenerateRequest) (<-chan Event, error) {
	body, err := i.body(req)
	if err != nil {
		return nil, errs.Protocol(http.StatusBadRequest, "encode upstream request: %v", err)
	}
	return Produce(ctx, func(send func(Event) bool) Event {
		return i.stream(ctx, body, send)
	}), nil
}

func (i *ollamaInstance) stream(ctx context.Context, body []byte, send func(Event) bool) Event {
	if t := i.b.cfg.RequestTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return ErrorEvent(errs.Generation(err))
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := i.b.http.Do(req)
	if err != nil {
		observeUpstream(i.b.cfg.Name, 0)
		return streamFailure(ctx, err)
	}
	defer resp.Body.Close()
	observeUpstream(i.b.cfg.Name, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorEvent(errs.Generation(newUpstreamStatusError(resp)))
	}

	var (
		call     *ToolCall
		terminal *Event
		sawDone  bool
	)
	readErr := eachLine(resp.Body, func(line string) bool {
		if !gjson.Valid(line) {
			i.b.log.Debug().Str("line", line).Msg("skipping unparsable stream line")
			return true
		}
		res := gjson.Parse(line)
		if e := res.Get("error"); e.Exists() {
			ev := ErrorEvent(errs.Generation(errors.New(e.String())))
			terminal = &ev
			return false
		}
		if txt := res.Get("message.content"); txt.Str != "" {
			if !send(TextDelta(txt.Str)) {
				ev := ErrorEvent(errs.Cancelled(context.Canceled))
				terminal = &ev
				return false
			}
		}
		if tc := res.Get("message.tool_calls.0.function"); tc.Exists() && call == nil {
			args := tc.Get("arguments").Raw
			if args == "" {
				args = "{}"
			}
			id := res.Get("message.tool_calls.0.id").String()
			if id == "" {
				id = NewCallID()
			}
			call = &ToolCall{ID: id, Name: tc.Get("name").String(), Arguments: args}
		}
		if res.Get("done").Bool() {
			sawDone = true
			reason := res.Get("done_reason").String()
			prompt := int(res.Get("prompt_eval_count").Int())
			eval := int(res.Get("eval_count").Int())
			ev := DoneEvent(Finish{Reason: reason, Usage: Usage{PromptTokens: prompt, CompletionTokens: eval, TotalTokens: prompt + eval}})
			terminal = &ev
			return false
		}
		return true
	})
	if terminal != nil && terminal.Kind == EventError {
		return *terminal
	}
	if readErr != nil {
		return streamFailure(ctx, readErr)
	}
	if call != nil {
		return ToolCallEvent(*call)
	}
	if !sawDone {
		return ErrorEvent(errs.Generation(errors.New("upstream stream ended without a done line")))
	}
	return *terminal
}

func (i *ollamaInstance) Close() error { return nil }
