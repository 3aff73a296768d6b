// Package tools implements the built-in tools the agent loop may run locally.
//
// The executor only sees a tool name and its raw JSON arguments. Every call is
// raced against a timeout so a hung command cannot stall the caller.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"inferd/internal/backend"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 64 * 1024
)

// Result is the outcome of one tool execution. ExitStatus is -1 when the tool
// is not a process or the process never exited.
type Result struct {
	Success    bool
	Output     string
	Error      string
	Duration   time.Duration
	ExitStatus int
}

// Content renders r as the text fed back to the model.
func (r Result) Content() string {
	if r.Success {
		return r.Output
	}
	var sb strings.Builder
	sb.WriteString("error: ")
	sb.WriteString(r.Error)
	if r.ExitStatus > 0 {
		fmt.Fprintf(&sb, " (exit status %d)", r.ExitStatus)
	}
	if out := strings.TrimSpace(r.Output); out != "" {
		sb.WriteString("\n")
		sb.WriteString(out)
	}
	return sb.String()
}

// Config configures the executor.
type Config struct {
	Timeout        time.Duration
	WorkDir        string
	MaxOutputBytes int
	// Allowed limits the built-ins that may run; empty means all of them.
	Allowed []string
	Logger  zerolog.Logger
}

// runFunc executes a tool. A returned error means the tool ran and failed.
type runFunc func(ctx context.Context, args gjson.Result) (output string, exitStatus int, err error)

type builtin struct {
	def backend.Tool
	run runFunc
}

// Executor runs built-in tools.
type Executor struct {
	cfg      Config
	log      zerolog.Logger
	builtins map[string]builtin
}

// NewExecutor returns an executor exposing the allowed built-ins.
func NewExecutor(cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	e := &Executor{cfg: cfg, log: cfg.Logger, builtins: make(map[string]builtin)}
	all := []builtin{
		{def: shellDef, run: e.runShell},
		{def: readFileDef, run: e.runReadFile},
		{def: listDirDef, run: e.runListDir},
		{def: currentTimeDef, run: runCurrentTime},
	}
	allowed := make(map[string]bool, len(cfg.Allowed))
	for _, n := range cfg.Allowed {
		allowed[strings.TrimSpace(n)] = true
	}
	for _, b := range all {
		if len(allowed) == 0 || allowed[b.def.Name] {
			e.builtins[b.def.Name] = b
		}
	}
	return e
}

// IsBuiltin reports whether name is a tool this executor can run.
func (e *Executor) IsBuiltin(name string) bool {
	_, ok := e.builtins[name]
	return ok
}

// Definitions returns the enabled built-ins sorted by name.
func (e *Executor) Definitions() []backend.Tool {
	out := make([]backend.Tool, 0, len(e.builtins))
	for _, b := range e.builtins {
		out = append(out, b.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var errUnknownTool = errors.New("unknown tool")

// Execute runs name with argsJSON. It never returns an error: failures are
// reported in the Result so they can be fed back to the model.
func (e *Executor) Execute(ctx context.Context, name, argsJSON string) Result {
	start := time.Now()
	res := e.execute(ctx, name, argsJSON)
	res.Duration = time.Since(start)
	status := "ok"
	if !res.Success {
		status = "error"
	}
	toolExecutionsTotal.WithLabelValues(name, status).Inc()
	toolDuration.WithLabelValues(name).Observe(res.Duration.Seconds())
	e.log.Debug().Str("tool", name).Bool("success", res.Success).Int("exit_status", res.ExitStatus).Dur("duration", res.Duration).Msg("tool executed")
	return res
}

func (e *Executor) execute(ctx context.Context, name, argsJSON string) Result {
	b, ok := e.builtins[name]
	if !ok {
		return Result{Error: fmt.Sprintf("%v: %s", errUnknownTool, name), ExitStatus: -1}
	}
	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}
	if !gjson.Valid(argsJSON) {
		return Result{Error: "arguments are not valid JSON", ExitStatus: -1}
	}
	args := gjson.Parse(argsJSON)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	type outcome struct {
		out  string
		exit int
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		out, exit, err := b.run(ctx, args)
		done <- outcome{out, exit, err}
	}()

	select {
	case o := <-done:
		out := truncate(o.out, e.cfg.MaxOutputBytes)
		if o.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Result{Output: out, Error: fmt.Sprintf("timed out after %s", e.cfg.Timeout), ExitStatus: -1}
			}
			return Result{Output: out, Error: o.err.Error(), ExitStatus: o.exit}
		}
		return Result{Success: true, Output: out, ExitStatus: o.exit}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Error: fmt.Sprintf("timed out after %s", e.cfg.Timeout), ExitStatus: -1}
		}
		return Result{Error: ctx.Err().Error(), ExitStatus: -1}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n[output truncated: %d of %d bytes shown]", cut, len(s))
}

func schema(props map[string]string, required ...string) json.RawMessage {
	p := make(map[string]any, len(props))
	for k, desc := range props {
		p[k] = map[string]string{"type": "string", "description": desc}
	}
	s := map[string]any{"type": "object", "properties": p}
	if len(required) > 0 {
		s["required"] = required
	}
	b, _ := json.Marshal(s)
	return b
}
