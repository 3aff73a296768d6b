package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

const ggufExt = ".gguf"

var quantPattern = regexp.MustCompile(`(?i)(?:^|[-_.])((?:i?q\d(?:_[a-z0-9]+)*)|f16|f32|bf16|\d+bit)$`)

// LoadDir scans a directory for *.gguf files and builds a registry from filenames.
// ID is the file name without extension; Path is the absolute file path.
func LoadDir(dir string) ([]types.Model, error) {
	abs, err := fsutil.ResolveDir(dir)
	if err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !IsModelFile(name) {
			continue
		}
		m := types.Model{ID: ModelID(name), Name: name, Path: filepath.Join(abs, name)}
		if fi, err := e.Info(); err == nil {
			m.Size = fi.Size()
			m.ModifiedAt = fi.ModTime()
		}
		m.Quant, m.Family = guessQuant(m.ID), guessFamily(m.ID)
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// IsModelFile reports whether name has the .gguf extension (any case).
func IsModelFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ggufExt)
}

// ModelID strips the .gguf extension from a file name.
func ModelID(name string) string {
	base := filepath.Base(name)
	return base[:len(base)-len(filepath.Ext(base))]
}

func guessQuant(id string) string {
	if m := quantPattern.FindStringSubmatch(id); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

func guessFamily(id string) string {
	lower := strings.ToLower(id)
	for _, f := range []string{"llama", "mistral", "mixtral", "qwen", "phi", "gemma", "deepseek", "granite", "smollm"} {
		if strings.HasPrefix(lower, f) || strings.Contains(lower, "-"+f) {
			return f
		}
	}
	return ""
}
