package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"inferd/internal/errs"
	"inferd/pkg/types"
)

const defaultCooldown = 60 * time.Second

// OpenAIConfig configures a backend that talks to an OpenAI-compatible server
// (llama-server, vLLM, LM Studio or a hosted provider).
type OpenAIConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	// Models is the static model list; Discover adds whatever GET /v1/models reports.
	Models         []string
	Discover       bool
	Tools          bool
	DefaultModel   string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	// Cooldown is how long the backend stays out of rotation after a 429
	// without Retry-After.
	Cooldown time.Duration
	Logger   zerolog.Logger
}

// OpenAIBackend implements Backend over the OpenAI chat completions API.
type OpenAIBackend struct {
	cfg    OpenAIConfig
	client *openAIClient
	models *modelSet
	// cooldownUntil is a unix-nano deadline; zero means available.
	cooldownUntil atomic.Int64
	now           func() time.Time
}

// NewOpenAI constructs an OpenAI-compatible backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAIBackend {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &OpenAIBackend{
		cfg: cfg,
		client: &openAIClient{
			name:    cfg.Name,
			baseURL: trimBaseURL(cfg.BaseURL),
			apiKey:  cfg.APIKey,
			timeout: cfg.RequestTimeout,
			http:    newHTTPClient(cfg.ConnectTimeout),
			log:     cfg.Logger.With().Str("backend", cfg.Name).Logger(),
		},
		models: newModelSet(cfg.Models),
		now:    time.Now,
	}
}

func (b *OpenAIBackend) Name() string { return b.cfg.Name }
func (b *OpenAIBackend) Type() string { return "openai" }

func (b *OpenAIBackend) Capabilities() Capabilities {
	return Capabilities{Tools: b.cfg.Tools, DefaultModel: b.cfg.DefaultModel}
}

// Models is empty while the backend is cooling down.
func (b *OpenAIBackend) Models() []string {
	if b.coolingDown() {
		return nil
	}
	return b.models.List()
}

func (b *OpenAIBackend) CanServe(model string) bool {
	return !b.coolingDown() && b.models.Has(model)
}

func (b *OpenAIBackend) Refresh(ctx context.Context) error {
	if !b.cfg.Discover {
		return nil
	}
	found, err := b.client.listModels(ctx)
	if err != nil {
		return err
	}
	b.models.Set(append(append([]string(nil), b.cfg.Models...), found...))
	return nil
}

func (b *OpenAIBackend) Load(ctx context.Context, model string) (Instance, error) {
	if !b.models.Has(model) {
		return nil, errs.ModelNotFound(model)
	}
	return &openAIInstance{client: b.client, model: model, onStatus: b.observeStatus}, nil
}

func (b *OpenAIBackend) Close() error { return nil }

// CooldownUntil reports when the backend returns to rotation (zero if available).
func (b *OpenAIBackend) CooldownUntil() time.Time {
	until := b.cooldownUntil.Load()
	if until == 0 || b.now().UnixNano() >= until {
		return time.Time{}
	}
	return time.Unix(0, until)
}

func (b *OpenAIBackend) coolingDown() bool { return !b.CooldownUntil().IsZero() }

func (b *OpenAIBackend) observeStatus(err *upstreamStatusError) {
	if err.status != http.StatusTooManyRequests {
		return
	}
	d := err.retryAfter
	if d <= 0 {
		d = b.cfg.Cooldown
	}
	b.cooldownUntil.Store(b.now().Add(d).UnixNano())
	cooldownsTotal.WithLabelValues(b.cfg.Name).Inc()
	b.client.log.Warn().Dur("cooldown", d).Msg("upstream rate limited; backend out of rotation")
}

type openAIInstance struct {
	client   *openAIClient
	model    string
	onStatus func(*upstreamStatusError)
}

func (i *openAIInstance) Generate(ctx context.Context, req GenerateRequest) (<-chan Event, error) {
	body, err := i.client.chatBody(i.model, req)
	if err != nil {
		return nil, errs.Protocol(http.StatusBadRequest, "encode upstream request: %v", err)
	}
	return Produce(ctx, func(send func(Event) bool) Event {
		ev := i.client.streamChat(ctx, body, send)
		var se *upstreamStatusError
		if ev.Kind == EventError && errors.As(ev.Err, &se) && i.onStatus != nil {
			i.onStatus(se)
		}
		return ev
	}), nil
}

func (i *openAIInstance) Close() error { return nil }

// openAIClient speaks the OpenAI wire protocol. It is shared by the openai
// and spawn backends.
type openAIClient struct {
	name    string
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	log     zerolog.Logger
}

type openAIChatRequest struct {
	Model         string                  `json:"model,omitempty"`
	Messages      []openAIMessage         `json:"messages"`
	Stream        bool                    `json:"stream"`
	StreamOptions *openAIStreamOptions    `json:"stream_options,omitempty"`
	Temperature   *float64                `json:"temperature,omitempty"`
	TopP          *float64                `json:"top_p,omitempty"`
	MaxTokens     int                     `json:"max_tokens,omitempty"`
	Stop          []string                `json:"stop,omitempty"`
	Seed          *int64                  `json:"seed,omitempty"`
	Tools         []types.ToolDefinition  `json:"tools,omitempty"`
	ToolChoice    *types.ToolChoiceOption `json:"tool_choice,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string               `json:"role"`
	Content    any                  `json:"content"`
	ToolCalls  []types.ToolCallWire `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	Name       string               `json:"name,omitempty"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

func toOpenAIMessages(msgs []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		if len(m.Images) > 0 {
			parts := []openAIContentPart{{Type: "text", Text: m.Content}}
			for _, img := range m.Images {
				parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: img}})
			}
			om.Content = parts
		}
		for _, c := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, types.ToolCallWire{
				ID:       c.ID,
				Type:     "function",
				Function: types.FunctionCallWire{Name: c.Name, Arguments: c.Arguments},
			})
		}
		out = append(out, om)
	}
	return out
}

func toToolDefinitions(tools []Tool) []types.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	out := make([]types.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, types.ToolDefinition{
			Type:     "function",
			Function: types.FunctionDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return out
}

// chatBody encodes the upstream request; engine options are merged in as
// top-level keys with sjson.
func (c *openAIClient) chatBody(model string, req GenerateRequest) ([]byte, error) {
	payload := openAIChatRequest{
		Model:         model,
		Messages:      toOpenAIMessages(req.Messages),
		Stream:        true,
		StreamOptions: &openAIStreamOptions{IncludeUsage: true},
		Temperature:   req.Params.Temperature,
		TopP:          req.Params.TopP,
		MaxTokens:     req.Params.MaxTokens,
		Stop:          req.Params.Stop,
		Seed:          req.Params.Seed,
		Tools:         toToolDefinitions(req.Tools),
	}
	if len(payload.Tools) > 0 && req.ToolChoice.Mode != "" {
		payload.ToolChoice = &types.ToolChoiceOption{Mode: req.ToolChoice.Mode, Function: req.ToolChoice.Function}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if req.Params.TopK > 0 {
		if body, err = sjson.SetBytes(body, "top_k", req.Params.TopK); err != nil {
			return nil, err
		}
	}
	return mergeOptions(body, "", req.Params.Options)
}

// mergeOptions sets each option under prefix in a stable key order.
func mergeOptions(body []byte, prefix string, opts map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var err error
	for _, k := range keys {
		if body, err = sjson.SetBytes(body, prefix+k, opts[k]); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (c *openAIClient) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *openAIClient) listModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newUpstreamStatusError(resp)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	var ids []string
	for _, id := range gjson.GetBytes(buf.Bytes(), "data.#.id").Array() {
		ids = append(ids, id.String())
	}
	return ids, nil
}

// toolCallAcc accumulates streamed tool-call fragments for one index.
type toolCallAcc struct {
	id, name string
	args     bytes.Buffer
}

// streamChat posts body and forwards content deltas. It returns the terminal
// event: the first tool call when the model proposed any, else Done.
func (c *openAIClient) streamChat(ctx context.Context, body []byte, send func(Event) bool) Event {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		return ErrorEvent(errs.Generation(err))
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		observeUpstream(c.name, 0)
		return streamFailure(ctx, err)
	}
	defer resp.Body.Close()
	observeUpstream(c.name, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorEvent(errs.Generation(newUpstreamStatusError(resp)))
	}

	var (
		finish   Finish
		calls    = map[int]*toolCallAcc{}
		order    []int
		terminal *Event
	)
	readErr := eachLine(resp.Body, func(line string) bool {
		if len(line) < 5 || !bytes.EqualFold([]byte(line[:5]), []byte("data:")) {
			return true
		}
		data := bytes.TrimSpace([]byte(line[5:]))
		if string(data) == "[DONE]" {
			return false
		}
		if !gjson.ValidBytes(data) {
			c.log.Debug().Str("line", line).Msg("skipping unparsable stream line")
			return true
		}
		res := gjson.ParseBytes(data)
		if e := res.Get("error"); e.Exists() {
			msg := e.Get("message").String()
			if msg == "" {
				msg = e.String()
			}
			ev := ErrorEvent(errs.Generation(errors.New(msg)))
			terminal = &ev
			return false
		}
		if u := res.Get("usage"); u.IsObject() {
			finish.Usage = Usage{
				PromptTokens:     int(u.Get("prompt_tokens").Int()),
				CompletionTokens: int(u.Get("completion_tokens").Int()),
				TotalTokens:      int(u.Get("total_tokens").Int()),
			}
		}
		choice := res.Get("choices.0")
		if !choice.Exists() {
			return true
		}
		if txt := choice.Get("delta.content"); txt.Type == gjson.String && txt.Str != "" {
			if !send(TextDelta(txt.Str)) {
				ev := ErrorEvent(errs.Cancelled(context.Canceled))
				terminal = &ev
				return false
			}
		}
		choice.Get("delta.tool_calls").ForEach(func(_, tc gjson.Result) bool {
			idx := int(tc.Get("index").Int())
			acc, ok := calls[idx]
			if !ok {
				acc = &toolCallAcc{}
				calls[idx] = acc
				order = append(order, idx)
			}
			if id := tc.Get("id").String(); id != "" {
				acc.id = id
			}
			if name := tc.Get("function.name").String(); name != "" && acc.name == "" {
				acc.name = name
			}
			acc.args.WriteString(tc.Get("function.arguments").String())
			return true
		})
		if fr := choice.Get("finish_reason"); fr.Type == gjson.String && fr.Str != "" {
			finish.Reason = fr.Str
		}
		return true
	})
	if terminal != nil {
		return *terminal
	}
	if readErr != nil {
		return streamFailure(ctx, readErr)
	}
	if len(order) > 0 {
		sort.Ints(order)
		first := calls[order[0]]
		if len(order) > 1 {
			c.log.Debug().Int("dropped", len(order)-1).Msg("model proposed several tool calls; forwarding the first")
		}
		call := ToolCall{ID: first.id, Name: first.name, Arguments: first.args.String()}
		if call.ID == "" {
			call.ID = NewCallID()
		}
		if call.Arguments == "" {
			call.Arguments = "{}"
		}
		return ToolCallEvent(call)
	}
	return DoneEvent(finish)
}
