package backend

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"inferd/internal/errs"
	"inferd/pkg/types"
)

// LlamaCppConfig configures the in-process llama.cpp backend. It is only
// functional in binaries built with -tags llama.
type LlamaCppConfig struct {
	Name         string
	Catalog      ModelCatalog
	CtxSize      int
	GPULayers    int
	Threads      int
	DefaultModel string
	Logger       zerolog.Logger
}

// llamaModel is a loaded set of weights.
type llamaModel interface {
	// predict blocks until generation ends; onToken returning false stops it.
	predict(prompt string, p Params, threads int, onToken func(string) bool) (string, error)
	free()
}

// LlamaCppBackend runs GGUF models in-process through go-llama.cpp.
type LlamaCppBackend struct {
	cfg LlamaCppConfig
	log zerolog.Logger
}

func NewLlamaCpp(cfg LlamaCppConfig) *LlamaCppBackend {
	return &LlamaCppBackend{cfg: cfg, log: cfg.Logger.With().Str("backend", cfg.Name).Logger()}
}

func (b *LlamaCppBackend) Name() string { return b.cfg.Name }
func (b *LlamaCppBackend) Type() string { return "llamacpp" }

// Capabilities never advertises tools: the ChatML prompt has no tool syntax.
func (b *LlamaCppBackend) Capabilities() Capabilities {
	return Capabilities{DefaultModel: b.cfg.DefaultModel}
}

func (b *LlamaCppBackend) Models() []string {
	if !LlamaBuilt {
		return nil
	}
	return b.cfg.Catalog.IDs()
}

func (b *LlamaCppBackend) Describe(model string) (types.Model, bool) {
	return b.cfg.Catalog.Lookup(model)
}

func (b *LlamaCppBackend) CanServe(model string) bool {
	if !LlamaBuilt {
		return false
	}
	_, ok := b.cfg.Catalog.Lookup(model)
	return ok
}

func (b *LlamaCppBackend) Refresh(context.Context) error { return b.cfg.Catalog.Refresh() }

func (b *LlamaCppBackend) Load(ctx context.Context, model string) (Instance, error) {
	mdl, ok := b.cfg.Catalog.Lookup(model)
	if !ok {
		return nil, errs.ModelNotFound(model)
	}
	if strings.TrimSpace(mdl.Path) == "" {
		return nil, errs.NoBackendAvailable("model " + model + " has no file path")
	}
	m, err := loadLlamaModel(mdl.Path, b.cfg.CtxSize, b.cfg.GPULayers)
	if err != nil {
		return nil, err
	}
	b.log.Info().Str("model", model).Str("path", mdl.Path).Msg("model loaded in-process")
	return &llamaInstance{b: b, model: model, m: m}, nil
}

func (b *LlamaCppBackend) Close() error { return nil }

type llamaInstance struct {
	b     *LlamaCppBackend
	model string

	// mu serializes predict calls; go-llama.cpp keeps one token callback per model.
	mu sync.Mutex
	m  llamaModel
}

func (i *llamaInstance) Generate(ctx context.Context, req GenerateRequest) (<-chan Event, error) {
	prompt := renderChatML(req.Messages)
	params := req.Params
	params.Stop = append(append([]string(nil), params.Stop...), chatMLEnd)
	return Produce(ctx, func(send func(Event) bool) Event {
		i.mu.Lock()
		defer i.mu.Unlock()
		if i.m == nil {
			return ErrorEvent(errs.Generation(errClosedInstance))
		}
		cancelled := false
		_, err := i.m.predict(prompt, params, i.b.cfg.Threads, func(tok string) bool {
			if ctx.Err() != nil || !send(TextDelta(tok)) {
				cancelled = true
				return false
			}
			return true
		})
		if cancelled {
			return ErrorEvent(errs.Cancelled(context.Canceled))
		}
		if err != nil {
			return ErrorEvent(errs.Generation(err))
		}
		return DoneEvent(Finish{Reason: "stop"})
	}), nil
}

func (i *llamaInstance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.m != nil {
		i.m.free()
		i.m = nil
	}
	return nil
}
