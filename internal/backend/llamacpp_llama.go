//go:build llama

package backend

import (
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// LlamaBuilt reports whether this binary links llama.cpp.
const LlamaBuilt = true

type goLlamaModel struct {
	model *llama.LLama
}

func loadLlamaModel(path string, ctxSize, gpuLayers int) (llamaModel, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	opts := []llama.ModelOption{llama.SetContext(zn(ctxSize, 4096))}
	if gpuLayers > 0 {
		opts = append(opts, llama.SetGPULayers(gpuLayers))
	}
	m, err := llama.New(path, opts...)
	if err != nil {
		return nil, err
	}
	return &goLlamaModel{model: m}, nil
}

func (g *goLlamaModel) predict(prompt string, p Params, threads int, onToken func(string) bool) (string, error) {
	g.model.SetTokenCallback(onToken)
	defer g.model.SetTokenCallback(nil)
	return g.model.Predict(prompt, predictOptions(p, threads)...)
}

func (g *goLlamaModel) free() { g.model.Free() }

// predictOptions maps request params onto go-llama.cpp options, falling back
// to the library defaults for unset values.
func predictOptions(p Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(zn(p.MaxTokens, 512)),
		llama.SetThreads(zn(threads, 4)),
		llama.SetTopK(zn(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTopP(zf(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTemperature(zf(p.Temperature, llama.DefaultOptions.Temperature)),
	}
	if p.Seed != nil {
		po = append(po, llama.SetSeed(int(*p.Seed)))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v *float64, def float32) float32 {
	if v != nil {
		return float32(*v)
	}
	return def
}
