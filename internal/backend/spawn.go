package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/common/fsutil"
	"inferd/internal/errs"
	"inferd/pkg/types"
)

// ModelCatalog is the on-disk model source used by the local backends.
type ModelCatalog interface {
	IDs() []string
	Lookup(id string) (types.Model, bool)
	Refresh() error
}

// SpawnConfig configures a backend that starts one llama-server process per
// loaded model and talks to it over the OpenAI API.
type SpawnConfig struct {
	Name      string
	Catalog   ModelCatalog
	LlamaBin  string
	Host      string
	PortStart int
	PortEnd   int
	CtxSize   int
	GPULayers int
	Threads   int
	ExtraArgs []string
	Tools     bool
	// DefaultModel makes this backend the default provider when set.
	DefaultModel string
	ReadyTimeout time.Duration
	Logger       zerolog.Logger
}

// SpawnBackend implements Backend with llama-server subprocesses.
type SpawnBackend struct {
	cfg  SpawnConfig
	http *http.Client
	log  zerolog.Logger

	mu    sync.Mutex
	procs map[string]*procInfo // key: model id
}

type procInfo struct {
	cmd     *exec.Cmd
	baseURL string
	pid     int
	exited  chan struct{}
	stderr  *tailBuffer
}

// NewSpawn constructs a spawn backend.
func NewSpawn(cfg SpawnConfig) *SpawnBackend {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.LlamaBin == "" {
		cfg.LlamaBin = "llama-server"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 60 * time.Second
	}
	return &SpawnBackend{
		cfg:   cfg,
		http:  newHTTPClient(2 * time.Second),
		log:   cfg.Logger.With().Str("backend", cfg.Name).Logger(),
		procs: make(map[string]*procInfo),
	}
}

func (b *SpawnBackend) Name() string { return b.cfg.Name }
func (b *SpawnBackend) Type() string { return "spawn" }

func (b *SpawnBackend) Capabilities() Capabilities {
	return Capabilities{Tools: b.cfg.Tools, DefaultModel: b.cfg.DefaultModel}
}

func (b *SpawnBackend) Models() []string { return b.cfg.Catalog.IDs() }

func (b *SpawnBackend) CanServe(model string) bool {
	_, ok := b.cfg.Catalog.Lookup(model)
	return ok
}

func (b *SpawnBackend) Describe(model string) (types.Model, bool) { return b.cfg.Catalog.Lookup(model) }

func (b *SpawnBackend) Refresh(context.Context) error { return b.cfg.Catalog.Refresh() }

// Load starts llama-server for model and waits until it answers /health.
func (b *SpawnBackend) Load(ctx context.Context, model string) (Instance, error) {
	mdl, ok := b.cfg.Catalog.Lookup(model)
	if !ok {
		return nil, errs.ModelNotFound(model)
	}
	baseURL, err := b.ensureProcess(ctx, model, mdl.Path)
	if err != nil {
		return nil, err
	}
	client := &openAIClient{name: b.cfg.Name, baseURL: baseURL, http: b.http, log: b.log}
	return &spawnInstance{b: b, model: model, inner: &openAIInstance{client: client, model: model}}, nil
}

// Close stops every spawned process.
func (b *SpawnBackend) Close() error {
	b.mu.Lock()
	models := make([]string, 0, len(b.procs))
	for m := range b.procs {
		models = append(models, m)
	}
	b.mu.Unlock()
	for _, m := range models {
		_ = b.stop(m)
	}
	return nil
}

// PID returns the process id serving model, if running.
func (b *SpawnBackend) PID(model string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p := b.procs[model]; p != nil {
		return p.pid, true
	}
	return 0, false
}

type spawnInstance struct {
	b     *SpawnBackend
	model string
	inner *openAIInstance
}

func (i *spawnInstance) Generate(ctx context.Context, req GenerateRequest) (<-chan Event, error) {
	return i.inner.Generate(ctx, req)
}

func (i *spawnInstance) Close() error { return i.b.stop(i.model) }

func (b *SpawnBackend) args(modelPath string, port int) []string {
	args := []string{"-m", modelPath, "--host", b.cfg.Host, "--port", strconv.Itoa(port)}
	if b.cfg.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(b.cfg.CtxSize))
	}
	if b.cfg.GPULayers > 0 {
		args = append(args, "-ngl", strconv.Itoa(b.cfg.GPULayers))
	}
	if b.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(b.cfg.Threads))
	}
	if b.cfg.Tools {
		args = append(args, "--jinja")
	}
	return append(args, b.cfg.ExtraArgs...)
}

// ensureProcess returns the base URL of a healthy llama-server for model,
// starting one if needed.
func (b *SpawnBackend) ensureProcess(ctx context.Context, model, modelPath string) (string, error) {
	b.mu.Lock()
	if p := b.procs[model]; p != nil {
		b.mu.Unlock()
		if b.isHealthy(ctx, p.baseURL) {
			return p.baseURL, nil
		}
		_ = b.stop(model)
	} else {
		b.mu.Unlock()
	}

	if filepathHasSep(b.cfg.LlamaBin) && !fsutil.IsFile(b.cfg.LlamaBin) {
		return "", errs.NoBackendAvailable("llama-server binary not found: " + b.cfg.LlamaBin)
	}
	port, err := b.pickPort()
	if err != nil {
		return "", err
	}
	baseURL := fmt.Sprintf("http://%s", net.JoinHostPort(b.cfg.Host, strconv.Itoa(port)))

	cmd := exec.Command(b.cfg.LlamaBin, b.args(modelPath, port)...)
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", errs.NoBackendAvailable("llama-server binary not found: " + b.cfg.LlamaBin)
		}
		return "", fmt.Errorf("start llama-server: %w", err)
	}
	p := &procInfo{cmd: cmd, baseURL: baseURL, pid: cmd.Process.Pid, exited: make(chan struct{}), stderr: stderr}
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(p.exited)
	}()
	b.log.Info().Str("model", model).Int("pid", p.pid).Int("port", port).Msg("llama-server started")

	b.mu.Lock()
	b.procs[model] = p
	b.mu.Unlock()

	deadline := time.NewTimer(b.cfg.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if b.isHealthy(ctx, baseURL) {
			b.log.Info().Str("model", model).Int("pid", p.pid).Str("url", baseURL).Msg("llama-server ready")
			return baseURL, nil
		}
		select {
		case <-p.exited:
			b.forget(model, p)
			b.log.Warn().Str("model", model).Int("pid", p.pid).AnErr("exit", waitErr).Msg("llama-server exited before ready")
			return "", fmt.Errorf("llama-server exited before ready: %v; stderr tail: %s", waitErr, stderr.String())
		case <-deadline.C:
			_ = b.stop(model)
			return "", fmt.Errorf("llama-server not ready within %s: %s", b.cfg.ReadyTimeout, baseURL)
		case <-ctx.Done():
			_ = b.stop(model)
			return "", ctx.Err()
		case <-tick.C:
		}
	}
}

func (b *SpawnBackend) isHealthy(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (b *SpawnBackend) pickPort() (int, error) {
	if b.cfg.PortStart > 0 && b.cfg.PortEnd >= b.cfg.PortStart {
		for p := b.cfg.PortStart; p <= b.cfg.PortEnd; p++ {
			l, err := net.Listen("tcp", net.JoinHostPort(b.cfg.Host, strconv.Itoa(p)))
			if err != nil {
				continue
			}
			_ = l.Close()
			return p, nil
		}
		return 0, fmt.Errorf("no free port in range %d-%d", b.cfg.PortStart, b.cfg.PortEnd)
	}
	l, err := net.Listen("tcp", net.JoinHostPort(b.cfg.Host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func (b *SpawnBackend) forget(model string, p *procInfo) {
	b.mu.Lock()
	if b.procs[model] == p {
		delete(b.procs, model)
	}
	b.mu.Unlock()
}

// stop sends SIGTERM, then kills the process if it has not exited in 2s.
func (b *SpawnBackend) stop(model string) error {
	b.mu.Lock()
	p := b.procs[model]
	delete(b.procs, model)
	b.mu.Unlock()
	if p == nil || p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	b.log.Info().Str("model", model).Int("pid", p.pid).Msg("llama-server stopped")
	return nil
}

func filepathHasSep(p string) bool {
	for i := 0; i < len(p); i++ {
		if p[i] == '/' || p[i] == '\\' {
			return true
		}
	}
	return false
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
