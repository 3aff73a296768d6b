//go:build !llama

package backend

import "inferd/internal/errs"

// LlamaBuilt reports whether this binary links llama.cpp.
const LlamaBuilt = false

func loadLlamaModel(string, int, int) (llamaModel, error) {
	return nil, errs.NoBackendAvailable("llama support not built; rebuild with -tags llama")
}
