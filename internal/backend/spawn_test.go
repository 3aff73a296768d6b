package backend

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferd/internal/errs"
	"inferd/pkg/types"
)

// buildFakeLlamaServer compiles testdata/fake_llama_server and returns its path.
func buildFakeLlamaServer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode")
	}
	bin := filepath.Join(t.TempDir(), "fake_llama_server")
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fake_llama_server")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build fake server: %v: %s", err, string(out))
	}
	return bin
}

func TestSpawnLoadGenerateAndClose(t *testing.T) {
	bin := buildFakeLlamaServer(t)
	cat := newMemCatalog(types.Model{ID: "tiny", Path: "/models/tiny.gguf"})
	b := NewSpawn(SpawnConfig{
		Name: "local", Catalog: cat, LlamaBin: bin,
		PortStart: 31300, PortEnd: 31320, ReadyTimeout: 10 * time.Second,
		Logger: zerolog.Nop(),
	})
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	inst, err := b.Load(ctx, "tiny")
	require.NoError(t, err)
	pid, ok := b.PID("tiny")
	require.True(t, ok)
	assert.Positive(t, pid)

	evs := generate(t, inst, userReq("hi"))
	require.Len(t, evs, 4)
	assert.Equal(t, "hello", evs[0].Text)
	assert.Equal(t, EventDone, evs[3].Kind)

	// A second load reuses the healthy process.
	_, err = b.Load(ctx, "tiny")
	require.NoError(t, err)
	pid2, _ := b.PID("tiny")
	assert.Equal(t, pid, pid2)

	require.NoError(t, inst.Close())
	_, ok = b.PID("tiny")
	assert.False(t, ok)
}

func TestSpawnEarlyExit(t *testing.T) {
	bin := buildFakeLlamaServer(t)
	t.Setenv("FAKE_LLAMA_EXIT_EARLY", "1")
	cat := newMemCatalog(types.Model{ID: "broken", Path: "/models/broken.gguf"})
	b := NewSpawn(SpawnConfig{Name: "local", Catalog: cat, LlamaBin: bin, Logger: zerolog.Nop()})

	_, err := b.Load(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load model")
	_, ok := b.PID("broken")
	assert.False(t, ok)
}

func TestSpawnMissingBinary(t *testing.T) {
	cat := newMemCatalog(types.Model{ID: "m", Path: "/models/m.gguf"})
	b := NewSpawn(SpawnConfig{Name: "local", Catalog: cat, LlamaBin: filepath.Join(t.TempDir(), "nope"), Logger: zerolog.Nop()})
	_, err := b.Load(context.Background(), "m")
	assert.True(t, errs.Is(err, errs.KindNoBackendAvailable))

	_, err = b.Load(context.Background(), "unknown")
	assert.True(t, errs.Is(err, errs.KindModelNotFound))
}

func TestSpawnModelsFollowCatalog(t *testing.T) {
	cat := newMemCatalog(types.Model{ID: "b"}, types.Model{ID: "a"})
	b := NewSpawn(SpawnConfig{Name: "local", Catalog: cat, Tools: true, DefaultModel: "a", Logger: zerolog.Nop()})
	assert.Equal(t, []string{"a", "b"}, b.Models())
	assert.True(t, b.CanServe("b"))
	assert.False(t, b.CanServe("c"))
	assert.Equal(t, Capabilities{Tools: true, DefaultModel: "a"}, b.Capabilities())
	require.NoError(t, b.Refresh(context.Background()))
	assert.Equal(t, 1, cat.refreshes)
}

func TestSpawnArgs(t *testing.T) {
	b := NewSpawn(SpawnConfig{CtxSize: 4096, GPULayers: 99, Threads: 8, Tools: true, ExtraArgs: []string{"--flash-attn"}, Catalog: newMemCatalog()})
	args := b.args("/m.gguf", 9000)
	assert.Equal(t, []string{
		"-m", "/m.gguf", "--host", "127.0.0.1", "--port", "9000",
		"-c", "4096", "-ngl", "99", "-t", "8", "--jinja", "--flash-attn",
	}, args)
}

func TestTailBufferKeepsSuffix(t *testing.T) {
	tb := &tailBuffer{max: 4}
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defg"))
	assert.Equal(t, "defg", tb.String())
}
