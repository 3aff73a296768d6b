package httpapi

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

// defaultMaxBodyBytes bounds JSON request bodies when Options leaves it unset.
const defaultMaxBodyBytes int64 = 1 << 20

// CORSOptions configures the opt-in CORS middleware.
type CORSOptions struct {
	Enabled bool
	Origins []string
	Methods []string
	Headers []string
}

// Options configures NewMux.
type Options struct {
	// BaseContext is canceled on shutdown; in-flight generations stop with it.
	BaseContext context.Context
	// MaxBodyBytes caps chat request bodies (default 1 MiB).
	MaxBodyBytes int64
	CORS         CORSOptions
	// LogLevel is the default per-request log level (off, error, info, debug);
	// when empty INFERD_LOG_LEVEL is used.
	LogLevel string
	Logger   zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.LogLevel == "" {
		o.LogLevel = os.Getenv("INFERD_LOG_LEVEL")
	}
	if len(o.CORS.Methods) == 0 {
		o.CORS.Methods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(o.CORS.Headers) == 0 {
		o.CORS.Headers = []string{"Content-Type", "Authorization", "X-Log-Level"}
	}
	return o
}
