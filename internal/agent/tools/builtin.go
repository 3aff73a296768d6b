package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"inferd/internal/backend"
	"inferd/internal/common/fsutil"
)

const (
	ShellTool       = "execute_shell"
	ReadFileTool    = "read_file"
	ListDirTool     = "list_directory"
	CurrentTimeTool = "current_time"
)

var (
	shellDef = backend.Tool{
		Name:        ShellTool,
		Description: "Run a shell command with sh -c and return its combined output.",
		Parameters:  schema(map[string]string{"command": "The command line to run"}, "command"),
	}
	readFileDef = backend.Tool{
		Name:        ReadFileTool,
		Description: "Read a text file.",
		Parameters:  schema(map[string]string{"path": "File path, relative to the working directory"}, "path"),
	}
	listDirDef = backend.Tool{
		Name:        ListDirTool,
		Description: "List the entries of a directory.",
		Parameters:  schema(map[string]string{"path": "Directory path, relative to the working directory"}),
	}
	currentTimeDef = backend.Tool{
		Name:        CurrentTimeTool,
		Description: "Return the current date and time.",
		Parameters:  schema(map[string]string{"timezone": "IANA time zone name, for example Europe/Berlin"}),
	}
)

func (e *Executor) runShell(ctx context.Context, args gjson.Result) (string, int, error) {
	command := strings.TrimSpace(args.Get("command").String())
	if command == "" {
		return "", -1, errors.New("missing required argument: command")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.cfg.WorkDir
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitCode(), fmt.Errorf("command exited with status %d", exitErr.ExitCode())
		}
		return string(out), -1, err
	}
	return string(out), 0, nil
}

func (e *Executor) resolvePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "."
	}
	p, err := fsutil.ExpandHome(p)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) && e.cfg.WorkDir != "" {
		p = filepath.Join(e.cfg.WorkDir, p)
	}
	return filepath.Abs(p)
}

func (e *Executor) runReadFile(ctx context.Context, args gjson.Result) (string, int, error) {
	if !args.Get("path").Exists() {
		return "", -1, errors.New("missing required argument: path")
	}
	p, err := e.resolvePath(args.Get("path").String())
	if err != nil {
		return "", -1, err
	}
	if !fsutil.IsFile(p) {
		return "", -1, fmt.Errorf("not a file: %s", p)
	}
	f, err := os.Open(p)
	if err != nil {
		return "", -1, err
	}
	defer f.Close()
	// One byte past the cap so the executor can report truncation.
	b, err := io.ReadAll(io.LimitReader(f, int64(e.cfg.MaxOutputBytes)+1))
	if err != nil {
		return "", -1, err
	}
	return string(b), -1, nil
}

func (e *Executor) runListDir(ctx context.Context, args gjson.Result) (string, int, error) {
	p, err := e.resolvePath(args.Get("path").String())
	if err != nil {
		return "", -1, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return "", -1, err
	}
	names := make([]string, 0, len(entries))
	for _, de := range entries {
		n := de.Name()
		if de.IsDir() {
			n += "/"
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), -1, nil
}

func runCurrentTime(ctx context.Context, args gjson.Result) (string, int, error) {
	now := time.Now()
	if tz := strings.TrimSpace(args.Get("timezone").String()); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return "", -1, fmt.Errorf("unknown timezone %q", tz)
		}
		now = now.In(loc)
	}
	return now.Format(time.RFC3339), -1, nil
}
