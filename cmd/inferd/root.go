package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"inferd/internal/backend"
	"inferd/internal/config"
)

// options collects the command-line surface. Flag defaults come from
// INFERD_* environment variables.
type options struct {
	configPath string
	logLevel   string
	logFormat  string

	addr          string
	modelsDir     string
	llamaBin      string
	openAIURL     string
	openAIModels  string
	openAIKeyEnv  string
	ollamaURL     string
	defaultModel  string
	maxInstances  int
	permits       int
	noAgent       bool
	allowedTools  string
	toolsWorkDir  string
	corsOrigins   string
	watchModelDir bool
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// splitCSV splits a comma-separated list, trimming blanks and dropping empties.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "inferd",
		Short:         "Local inference server with OpenAI and Ollama compatible endpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", envStr("INFERD_CONFIG", ""), "Config file (.yaml, .yml, .json, .toml); defaults INFERD_CONFIG")
	pf.StringVar(&o.logLevel, "log-level", envStr("INFERD_LOG_LEVEL", ""), "Log level: debug|info|warn|error (defaults INFERD_LOG_LEVEL or info)")
	pf.StringVar(&o.logFormat, "log-format", envStr("INFERD_LOG_FORMAT", ""), "Log format: auto|console|json")
	pf.StringVar(&o.modelsDir, "models-dir", envStr("INFERD_MODELS_DIR", ""), "Directory of *.gguf files served by a local backend")
	pf.StringVar(&o.llamaBin, "llama-bin", envStr("INFERD_LLAMA_BIN", ""), "llama-server binary for the local backend when llama.cpp is not linked in")
	pf.BoolVar(&o.watchModelDir, "watch", envBool("INFERD_WATCH", true), "Rescan --models-dir when gguf files change")
	pf.StringVar(&o.openAIURL, "openai-url", envStr("INFERD_OPENAI_BASE_URL", ""), "Base URL of an OpenAI-compatible server")
	pf.StringVar(&o.openAIModels, "openai-models", envStr("INFERD_OPENAI_MODELS", ""), "Comma-separated models served by --openai-url (empty: discover)")
	pf.StringVar(&o.openAIKeyEnv, "openai-key-env", envStr("INFERD_OPENAI_KEY_ENV", "OPENAI_API_KEY"), "Environment variable holding the --openai-url API key")
	pf.StringVar(&o.ollamaURL, "ollama-url", envStr("INFERD_OLLAMA_URL", ""), "Base URL of an Ollama server")
	pf.StringVar(&o.defaultModel, "default-model", envStr("INFERD_DEFAULT_MODEL", ""), "Model used when a request names none (set on the first backend)")

	root.AddCommand(newServeCmd(o), newModelsCmd(o), newVersionCmd())
	return root
}

func newServeCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP server",
		Example: "  inferd serve --models-dir ~/models/llm\n  inferd serve --config inferd.yaml\n  inferd serve --openai-url http://127.0.0.1:8000/v1 --openai-models qwen2.5-7b",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, o)
			if err != nil {
				return err
			}
			log := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			return serve(cmd.Context(), cfg, log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", envStr("INFERD_ADDR", ":8080"), "HTTP listen address, e.g. :8080 (defaults INFERD_ADDR)")
	f.IntVar(&o.maxInstances, "max-instances", envInt("INFERD_MAX_INSTANCES", 0), "Maximum loaded instances, least recently used evicted first (0=unbounded)")
	f.IntVar(&o.permits, "permits", envInt("INFERD_PERMITS", 0), "Concurrent generations per instance for backends that set none")
	f.BoolVar(&o.noAgent, "no-agent", envBool("INFERD_NO_AGENT", false), "Disable the built-in tool loop")
	f.StringVar(&o.allowedTools, "allowed-tools", envStr("INFERD_ALLOWED_TOOLS", ""), "Comma-separated built-in tools the agent may run (empty: all)")
	f.StringVar(&o.toolsWorkDir, "tools-workdir", envStr("INFERD_TOOLS_WORKDIR", ""), "Working directory for execute_shell")
	f.StringVar(&o.corsOrigins, "cors-origins", envStr("INFERD_CORS_ORIGINS", ""), "Comma-separated allowed CORS origins; enables CORS")
	return cmd
}

func newModelsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models each backend can serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, o)
			if err != nil {
				return err
			}
			log := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			return listModels(cmd.Context(), cmd.OutOrStdout(), cfg, log)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "inferd %s (llama.cpp linked: %t)\n", version, backend.LlamaBuilt)
		},
	}
}

// resolveConfig loads the config file when given, then lets flags that were
// set explicitly (or through their environment defaults) override it.
func resolveConfig(cmd *cobra.Command, o *options) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	override := func(flag, env string) bool {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			return true
		}
		return o.configPath == "" || os.Getenv(env) != ""
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if override("addr", "INFERD_ADDR") && o.addr != "" {
		cfg.Addr = o.addr
	}
	if override("max-instances", "INFERD_MAX_INSTANCES") && o.maxInstances > 0 {
		cfg.Cache.MaxInstances = o.maxInstances
	}
	if override("permits", "INFERD_PERMITS") && o.permits > 0 {
		cfg.Cache.DefaultPermits = o.permits
	}
	if o.noAgent {
		off := false
		cfg.Agent.Enabled = &off
	}
	if tools := splitCSV(o.allowedTools); len(tools) > 0 {
		cfg.Agent.AllowedTools = tools
	}
	if o.toolsWorkDir != "" {
		cfg.Tools.WorkDir = o.toolsWorkDir
	}
	if origins := splitCSV(o.corsOrigins); len(origins) > 0 {
		cfg.CORS.Enabled = true
		cfg.CORS.Origins = origins
	}
	cfg.Backends = append(cfg.Backends, flagBackends(o)...)
	if o.defaultModel != "" && len(cfg.Backends) > 0 {
		cfg.Backends[0].DefaultModel = o.defaultModel
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if len(cfg.Backends) == 0 {
		return cfg, errors.New("no backends configured: pass --config, --models-dir, --openai-url or --ollama-url")
	}
	return cfg, nil
}

// flagBackends turns the shortcut flags into backend entries: the local
// models dir first, then Ollama, then the OpenAI-compatible server.
func flagBackends(o *options) []config.Backend {
	var out []config.Backend
	if o.modelsDir != "" {
		b := config.Backend{Name: "local", ModelsDir: o.modelsDir, Watch: o.watchModelDir, LlamaBin: o.llamaBin}
		if backend.LlamaBuilt && o.llamaBin == "" {
			b.Type = config.TypeLlamaCpp
		} else {
			b.Type = config.TypeSpawn
		}
		out = append(out, b)
	}
	if o.ollamaURL != "" {
		out = append(out, config.Backend{Name: "ollama", Type: config.TypeOllama, BaseURL: o.ollamaURL, Discover: true, Tools: true})
	}
	if o.openAIURL != "" {
		models := splitCSV(o.openAIModels)
		out = append(out, config.Backend{
			Name:      "openai",
			Type:      config.TypeOpenAI,
			BaseURL:   o.openAIURL,
			APIKeyEnv: o.openAIKeyEnv,
			Models:    models,
			Discover:  len(models) == 0,
			Tools:     true,
		})
	}
	return out
}
