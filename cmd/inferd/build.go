package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/agent"
	"inferd/internal/agent/tools"
	"inferd/internal/backend"
	"inferd/internal/config"
	"inferd/internal/httpapi"
	"inferd/internal/manager"
	"inferd/internal/registry"
)

// app is the wired service: backends, manager and the background jobs that
// keep availability snapshots fresh.
type app struct {
	cfg  config.Config
	log  zerolog.Logger
	reg  *backend.Registry
	mgr  *manager.Manager
	jobs []func(ctx context.Context)
}

func newApp(cfg config.Config, log zerolog.Logger) (*app, error) {
	backends, jobs, err := buildBackends(cfg, log)
	if err != nil {
		return nil, err
	}
	reg, err := backend.NewRegistry(backends...)
	if err != nil {
		return nil, err
	}
	permits := make(map[string]int, len(cfg.Backends))
	for _, b := range cfg.Backends {
		if b.Permits > 0 {
			permits[b.Name] = b.Permits
		}
	}
	var loop *agent.Loop
	if cfg.Agent.On() {
		exec := tools.NewExecutor(tools.Config{
			Timeout:        cfg.Tools.Timeout.Std(),
			WorkDir:        cfg.Tools.WorkDir,
			MaxOutputBytes: cfg.Tools.MaxOutputBytes,
			Allowed:        cfg.Agent.AllowedTools,
			Logger:         log.With().Str("component", "tools").Logger(),
		})
		loop = agent.New(exec, cfg.Agent.MaxIterations, log.With().Str("component", "agent").Logger())
	}
	mgr, err := manager.New(manager.Config{
		Registry:       reg,
		Agent:          loop,
		Permits:        permits,
		DefaultPermits: cfg.Cache.DefaultPermits,
		MaxInstances:   cfg.Cache.MaxInstances,
		Publisher:      manager.LogPublisher{Logger: log},
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, reg: reg, mgr: mgr, jobs: jobs}, nil
}

// buildBackends constructs the configured backends in order, plus the
// watcher and refresh jobs they need.
func buildBackends(cfg config.Config, log zerolog.Logger) ([]backend.Backend, []func(context.Context), error) {
	var (
		out  []backend.Backend
		jobs []func(context.Context)
	)
	for _, bc := range cfg.Backends {
		var b backend.Backend
		var catalog *registry.Catalog
		switch bc.Type {
		case config.TypeOpenAI:
			b = backend.NewOpenAI(backend.OpenAIConfig{
				Name:           bc.Name,
				BaseURL:        bc.BaseURL,
				APIKey:         bc.Key(),
				Models:         bc.Models,
				Discover:       bc.Discover,
				Tools:          bc.Tools,
				DefaultModel:   bc.DefaultModel,
				RequestTimeout: bc.RequestTimeout.Std(),
				ConnectTimeout: bc.ConnectTimeout.Std(),
				Cooldown:       bc.Cooldown.Std(),
				Logger:         log,
			})
		case config.TypeOllama:
			b = backend.NewOllama(backend.OllamaConfig{
				Name:           bc.Name,
				BaseURL:        bc.BaseURL,
				Models:         bc.Models,
				Discover:       bc.Discover,
				Tools:          bc.Tools,
				DefaultModel:   bc.DefaultModel,
				KeepAlive:      bc.KeepAlive,
				RequestTimeout: bc.RequestTimeout.Std(),
				ConnectTimeout: bc.ConnectTimeout.Std(),
				Logger:         log,
			})
		case config.TypeSpawn:
			catalog = registry.NewCatalog(bc.ModelsDir, log.With().Str("backend", bc.Name).Logger())
			b = backend.NewSpawn(backend.SpawnConfig{
				Name:         bc.Name,
				Catalog:      catalog,
				LlamaBin:     bc.LlamaBin,
				Host:         bc.Host,
				PortStart:    bc.PortStart,
				PortEnd:      bc.PortEnd,
				CtxSize:      bc.CtxSize,
				GPULayers:    bc.GPULayers,
				Threads:      bc.Threads,
				ExtraArgs:    bc.ExtraArgs,
				Tools:        bc.Tools,
				DefaultModel: bc.DefaultModel,
				Logger:       log,
			})
		case config.TypeLlamaCpp:
			if !backend.LlamaBuilt {
				log.Warn().Str("backend", bc.Name).Msg("binary built without -tags llama; backend serves no models")
			}
			catalog = registry.NewCatalog(bc.ModelsDir, log.With().Str("backend", bc.Name).Logger())
			b = backend.NewLlamaCpp(backend.LlamaCppConfig{
				Name:         bc.Name,
				Catalog:      catalog,
				CtxSize:      bc.CtxSize,
				GPULayers:    bc.GPULayers,
				Threads:      bc.Threads,
				DefaultModel: bc.DefaultModel,
				Logger:       log,
			})
		default:
			return nil, nil, fmt.Errorf("backend %q: unsupported type %q", bc.Name, bc.Type)
		}
		out = append(out, b)
		if catalog != nil && bc.Watch {
			jobs = append(jobs, watchJob(catalog, bc.Name, log))
		}
		if bc.RefreshInterval > 0 {
			jobs = append(jobs, refreshJob(b, bc.RefreshInterval.Std(), log))
		}
	}
	return out, jobs, nil
}

func watchJob(c *registry.Catalog, name string, log zerolog.Logger) func(context.Context) {
	return func(ctx context.Context) {
		err := c.Watch(ctx, func() {
			log.Info().Str("backend", name).Int("models", len(c.IDs())).Msg("models dir changed")
		})
		if err != nil {
			log.Warn().Err(err).Str("backend", name).Msg("models dir watcher stopped")
		}
	}
}

func refreshJob(b backend.Backend, every time.Duration, log zerolog.Logger) func(context.Context) {
	return func(ctx context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := b.Refresh(ctx); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Str("backend", b.Name()).Msg("periodic refresh failed")
				}
			}
		}
	}
}

// handler returns the HTTP handler; generations stop when base is canceled.
func (a *app) handler(base context.Context) http.Handler {
	return httpapi.NewMux(httpapi.NewService(a.mgr), httpapi.Options{
		BaseContext:  base,
		MaxBodyBytes: a.cfg.MaxBodyBytes,
		CORS: httpapi.CORSOptions{
			Enabled: a.cfg.CORS.Enabled,
			Origins: a.cfg.CORS.Origins,
			Methods: a.cfg.CORS.Methods,
			Headers: a.cfg.CORS.Headers,
		},
		LogLevel: a.cfg.LogLevel,
		Logger:   a.log,
	})
}

// serve runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully within the configured timeout.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.mgr.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("initial refresh incomplete")
	}
	for _, job := range a.jobs {
		go job(ctx)
	}

	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{Addr: cfg.Addr, Handler: a.handler(base), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Int("backends", len(a.reg.Backends())).Int("models", len(a.reg.Models())).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = a.mgr.Close(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown timed out; aborting in-flight requests")
		cancelBase()
		_ = srv.Close()
	}
	cancelBase()
	cctx, ccancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer ccancel()
	if err := a.mgr.Close(cctx); err != nil {
		log.Warn().Err(err).Msg("close backends")
	}
	return nil
}

// listModels prints every resolvable model, backend order first.
func listModels(ctx context.Context, w io.Writer, cfg config.Config, log zerolog.Logger) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.mgr.Close(context.Background())
	if err := a.mgr.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("refresh incomplete")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tTYPE\tMODEL")
	for _, ref := range a.mgr.Models() {
		typ := ""
		if b, ok := a.reg.Lookup(ref.Backend); ok {
			typ = b.Type()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ref.Backend, typ, ref.Model)
	}
	return tw.Flush()
}
