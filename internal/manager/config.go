package manager

import (
	"github.com/rs/zerolog"

	"inferd/internal/agent"
	"inferd/internal/backend"
)

// Defaults applied when corresponding Config fields are unset.
const defaultPermits = 1

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Registry *backend.Registry
	// Agent runs the tool loop; nil disables agent mode.
	Agent *agent.Loop
	// Permits is the per-backend permit count; missing backends use DefaultPermits.
	Permits        map[string]int
	DefaultPermits int
	// MaxInstances caps loaded instances (LRU); 0 means unbounded.
	MaxInstances int
	Publisher    EventPublisher
	Logger       zerolog.Logger
}

func (c Config) permitsFor(backendName string) int {
	if n := c.Permits[backendName]; n > 0 {
		return n
	}
	if c.DefaultPermits > 0 {
		return c.DefaultPermits
	}
	return defaultPermits
}
