package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"inferd/internal/errs"
)

// newHTTPClient builds a client for upstream servers. Timeout stays zero:
// every request carries its own context so streams are bounded by the caller.
func newHTTPClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: 0}
}

// trimBaseURL drops trailing slashes and a trailing /v1 so callers can append
// versioned paths themselves.
func trimBaseURL(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	return strings.TrimSuffix(u, "/v1")
}

// upstreamStatusError is a non-2xx reply from an upstream server.
type upstreamStatusError struct {
	status     int
	message    string
	retryAfter time.Duration
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.status, e.message)
}

// newUpstreamStatusError reads a bounded part of the body and extracts the
// error message when the upstream used an OpenAI or Ollama error shape.
func newUpstreamStatusError(resp *http.Response) *upstreamStatusError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(b))
	if gjson.ValidBytes(b) {
		if m := gjson.GetBytes(b, "error.message"); m.Exists() {
			msg = m.String()
		} else if m := gjson.GetBytes(b, "error"); m.Type == gjson.String {
			msg = m.String()
		}
	}
	if msg == "" {
		msg = resp.Status
	}
	return &upstreamStatusError{status: resp.StatusCode, message: msg, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// streamFailure converts a transport or read error into a terminal event.
func streamFailure(ctx context.Context, err error) Event {
	if ctx.Err() != nil {
		return ErrorEvent(errs.Cancelled(ctx.Err()))
	}
	return ErrorEvent(errs.Generation(err))
}

// eachLine calls fn for every non-empty trimmed line of r until fn returns
// false or r is exhausted.
func eachLine(r io.Reader, fn func(line string) bool) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" {
			if !fn(l) {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// NewCallID returns an id for a tool call the backend left unnamed.
func NewCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
