package httpapi

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug", "1":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// requestLogLevel applies per-request overrides: ?log= wins over X-Log-Level,
// which wins over the server default.
func requestLogLevel(r *http.Request, def LogLevel) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return def
}

// lineLogger logs every complete line written to it; used at debug level to
// trace the SSE or NDJSON stream exactly as the client receives it.
type lineLogger struct {
	log zerolog.Logger
	buf []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	for {
		idx := bytes.IndexByte(l.buf, '\n')
		if idx < 0 {
			break
		}
		if line := bytes.TrimSpace(l.buf[:idx]); len(line) > 0 {
			l.log.Debug().Str("line", string(line)).Msg("stream>")
		}
		l.buf = l.buf[idx+1:]
	}
	return len(p), nil
}
