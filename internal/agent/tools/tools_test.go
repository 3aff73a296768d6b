package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	cfg.Logger = zerolog.Nop()
	return NewExecutor(cfg)
}

func TestShellSuccess(t *testing.T) {
	e := newTestExecutor(t, Config{})
	res := e.Execute(context.Background(), ShellTool, `{"command":"echo hello"}`)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "hello\n", res.Output)
	assert.Equal(t, 0, res.ExitStatus)
	assert.Positive(t, res.Duration)
}

func TestShellNonZeroExit(t *testing.T) {
	e := newTestExecutor(t, Config{})
	res := e.Execute(context.Background(), ShellTool, `{"command":"echo oops >&2; exit 3"}`)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitStatus)
	assert.Contains(t, res.Output, "oops")
	assert.Contains(t, res.Content(), "exit status 3")
}

func TestShellTimeout(t *testing.T) {
	e := newTestExecutor(t, Config{Timeout: 100 * time.Millisecond})
	start := time.Now()
	res := e.Execute(context.Background(), ShellTool, `{"command":"sleep 10"}`)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out after 100ms")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestShellRunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	e := newTestExecutor(t, Config{WorkDir: dir})
	res := e.Execute(context.Background(), ShellTool, `{"command":"pwd"}`)
	require.True(t, res.Success)
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Output))
	assert.Equal(t, want, got)
}

func TestCancelledContext(t *testing.T) {
	e := newTestExecutor(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Execute(ctx, ShellTool, `{"command":"sleep 5"}`)
	assert.False(t, res.Success)
}

func TestReadFileAndTruncation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("0123456789"), 0o644))
	e := newTestExecutor(t, Config{WorkDir: dir, MaxOutputBytes: 4})

	res := e.Execute(context.Background(), ReadFileTool, `{"path":"notes.txt"}`)
	require.True(t, res.Success, res.Error)
	assert.True(t, strings.HasPrefix(res.Output, "0123\n[output truncated"))

	res = e.Execute(context.Background(), ReadFileTool, `{"path":"missing.txt"}`)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not a file")
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	out := truncate("héllo", 2)
	assert.True(t, strings.HasPrefix(out, "h\n[output truncated: 1 of 6"), out)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "héllo", truncate("héllo", 6))
}

func TestReadFileExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "todo.txt"), []byte("buy milk"), 0o644))
	e := newTestExecutor(t, Config{})

	res := e.Execute(context.Background(), ReadFileTool, `{"path":"~/todo.txt"}`)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "buy milk", res.Output)
}

func TestListDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), nil, 0o644))
	e := newTestExecutor(t, Config{WorkDir: dir})
	res := e.Execute(context.Background(), ListDirTool, `{}`)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "b.txt\nsub/", res.Output)
}

func TestCurrentTime(t *testing.T) {
	e := newTestExecutor(t, Config{})
	res := e.Execute(context.Background(), CurrentTimeTool, `{"timezone":"UTC"}`)
	require.True(t, res.Success, res.Error)
	_, err := time.Parse(time.RFC3339, res.Output)
	assert.NoError(t, err)

	res = e.Execute(context.Background(), CurrentTimeTool, `{"timezone":"Mars/Olympus"}`)
	assert.False(t, res.Success)
}

func TestInvalidInput(t *testing.T) {
	e := newTestExecutor(t, Config{})
	res := e.Execute(context.Background(), "launch_rockets", `{}`)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")

	res = e.Execute(context.Background(), ShellTool, `{not json`)
	assert.False(t, res.Success)

	res = e.Execute(context.Background(), ShellTool, ``)
	assert.Contains(t, res.Error, "missing required argument")
}

func TestAllowedRestrictsBuiltins(t *testing.T) {
	e := newTestExecutor(t, Config{Allowed: []string{CurrentTimeTool}})
	assert.True(t, e.IsBuiltin(CurrentTimeTool))
	assert.False(t, e.IsBuiltin(ShellTool))
	defs := e.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, CurrentTimeTool, defs[0].Name)

	all := newTestExecutor(t, Config{}).Definitions()
	require.Len(t, all, 4)
	assert.Equal(t, CurrentTimeTool, all[0].Name)
	assert.Contains(t, string(all[0].Parameters), `"type":"object"`)
}

func TestExecutionMetrics(t *testing.T) {
	e := newTestExecutor(t, Config{})
	before := testutil.ToFloat64(toolExecutionsTotal.WithLabelValues(CurrentTimeTool, "ok"))
	e.Execute(context.Background(), CurrentTimeTool, `{}`)
	after := testutil.ToFloat64(toolExecutionsTotal.WithLabelValues(CurrentTimeTool, "ok"))
	assert.Equal(t, before+1, after)
}
