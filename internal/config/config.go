package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Backend types understood by the server.
const (
	TypeOpenAI   = "openai"
	TypeOllama   = "ollama"
	TypeSpawn    = "spawn"
	TypeLlamaCpp = "llamacpp"
)

// Duration is a time.Duration that reads and writes as "1.5s", "2m" and so on
// in every supported file format.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults.
type Config struct {
	Addr            string    `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel        string    `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat       string    `json:"log_format" yaml:"log_format" toml:"log_format"`
	MaxBodyBytes    int64     `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	ShutdownTimeout Duration  `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	CORS            CORS      `json:"cors" yaml:"cors" toml:"cors"`
	Agent           Agent     `json:"agent" yaml:"agent" toml:"agent"`
	Tools           Tools     `json:"tools" yaml:"tools" toml:"tools"`
	Cache           Cache     `json:"cache" yaml:"cache" toml:"cache"`
	Backends        []Backend `json:"backends" yaml:"backends" toml:"backends"`
}

type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Agent toggles the tool loop. Enabled is a pointer so an absent key keeps
// the default (on).
type Agent struct {
	Enabled       *bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	MaxIterations int      `json:"max_iterations" yaml:"max_iterations" toml:"max_iterations"`
	AllowedTools  []string `json:"allowed_tools" yaml:"allowed_tools" toml:"allowed_tools"`
}

// On reports whether agent mode is enabled.
func (a Agent) On() bool { return a.Enabled == nil || *a.Enabled }

type Tools struct {
	Timeout        Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	WorkDir        string   `json:"workdir" yaml:"workdir" toml:"workdir"`
	MaxOutputBytes int      `json:"max_output_bytes" yaml:"max_output_bytes" toml:"max_output_bytes"`
}

type Cache struct {
	MaxInstances   int `json:"max_instances" yaml:"max_instances" toml:"max_instances"`
	DefaultPermits int `json:"default_permits" yaml:"default_permits" toml:"default_permits"`
}

// Backend is one entry of the ordered backend list. Order is resolution
// priority.
type Backend struct {
	Name    string `json:"name" yaml:"name" toml:"name"`
	Type    string `json:"type" yaml:"type" toml:"type"`
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key" toml:"api_key"`
	// APIKeyEnv names an environment variable holding the key.
	APIKeyEnv    string   `json:"api_key_env" yaml:"api_key_env" toml:"api_key_env"`
	Models       []string `json:"models" yaml:"models" toml:"models"`
	Discover     bool     `json:"discover" yaml:"discover" toml:"discover"`
	ModelsDir    string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	Watch        bool     `json:"watch" yaml:"watch" toml:"watch"`
	DefaultModel string   `json:"default_model" yaml:"default_model" toml:"default_model"`
	Tools        bool     `json:"tools" yaml:"tools" toml:"tools"`
	Permits      int      `json:"permits" yaml:"permits" toml:"permits"`

	// spawn and llamacpp
	LlamaBin  string   `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin"`
	Host      string   `json:"host" yaml:"host" toml:"host"`
	PortStart int      `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd   int      `json:"port_end" yaml:"port_end" toml:"port_end"`
	CtxSize   int      `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads   int      `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers int      `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	ExtraArgs []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`

	// ollama
	KeepAlive string `json:"keep_alive" yaml:"keep_alive" toml:"keep_alive"`

	RefreshInterval Duration `json:"refresh_interval" yaml:"refresh_interval" toml:"refresh_interval"`
	RequestTimeout  Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	ConnectTimeout  Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout"`
	Cooldown        Duration `json:"cooldown" yaml:"cooldown" toml:"cooldown"`
}

// Key returns the API key, reading APIKeyEnv when APIKey is empty.
func (b Backend) Key() string {
	if b.APIKey != "" {
		return b.APIKey
	}
	if b.APIKeyEnv != "" {
		return os.Getenv(b.APIKeyEnv)
	}
	return ""
}

// Defaults fills unspecified fields.
func (c *Config) Defaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "auto"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = Duration(5 * time.Second)
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 5
	}
	if c.Tools.Timeout <= 0 {
		c.Tools.Timeout = Duration(30 * time.Second)
	}
	if c.Tools.MaxOutputBytes <= 0 {
		c.Tools.MaxOutputBytes = 64 << 10
	}
	if c.Cache.DefaultPermits <= 0 {
		c.Cache.DefaultPermits = 1
	}
	for i := range c.Backends {
		b := &c.Backends[i]
		b.Type = strings.ToLower(strings.TrimSpace(b.Type))
		if b.Name == "" {
			b.Name = fmt.Sprintf("%s-%d", b.Type, i)
		}
		if b.Type == TypeOllama && b.BaseURL == "" {
			b.BaseURL = "http://127.0.0.1:11434"
		}
		if (b.Type == TypeSpawn || b.Type == TypeLlamaCpp) && b.ModelsDir == "" {
			b.ModelsDir = "~/models/llm"
		}
		if b.Type == TypeSpawn && b.LlamaBin == "" {
			b.LlamaBin = "llama-server"
		}
	}
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var problems []error
	if c.MaxBodyBytes < 0 {
		problems = append(problems, errors.New("max_body_bytes must not be negative"))
	}
	if c.Agent.MaxIterations < 0 {
		problems = append(problems, errors.New("agent.max_iterations must not be negative"))
	}
	if c.Cache.MaxInstances < 0 {
		problems = append(problems, errors.New("cache.max_instances must not be negative"))
	}
	seen := map[string]bool{}
	for i, b := range c.Backends {
		where := fmt.Sprintf("backends[%d]", i)
		if b.Name != "" {
			where = fmt.Sprintf("backend %q", b.Name)
			if seen[b.Name] {
				problems = append(problems, fmt.Errorf("%s: duplicate name", where))
			}
			seen[b.Name] = true
		}
		switch b.Type {
		case TypeOpenAI, TypeOllama:
			if b.BaseURL == "" {
				problems = append(problems, fmt.Errorf("%s: base_url is required", where))
			}
			if b.Type == TypeOpenAI && len(b.Models) == 0 && !b.Discover {
				problems = append(problems, fmt.Errorf("%s: set models or discover", where))
			}
		case TypeSpawn, TypeLlamaCpp:
			if b.ModelsDir == "" {
				problems = append(problems, fmt.Errorf("%s: models_dir is required", where))
			}
			if b.PortEnd < b.PortStart {
				problems = append(problems, fmt.Errorf("%s: port_end below port_start", where))
			}
		default:
			problems = append(problems, fmt.Errorf("%s: unsupported type %q", where, b.Type))
		}
		if b.Permits < 0 {
			problems = append(problems, fmt.Errorf("%s: permits must not be negative", where))
		}
	}
	return errors.Join(problems...)
}
