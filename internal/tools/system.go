package tools

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/dispatch"
	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/log"
	"github.com/toolgate/toolgate/internal/security"
)

// maxOutputBytes caps captured stdout and stderr per command.
const maxOutputBytes = 1 << 20

// SystemToolset implements host inspection and command execution.
// Commands run directly via exec, never through a shell, so the deny
// list checked at the gate cannot be sidestepped with shell syntax.
type SystemToolset struct {
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	workDir        string
	logger         log.Logger
}

// NewSystemToolset creates the system toolset. workDir is the sandbox
// root; commands execute with it as their working directory.
func NewSystemToolset(defaultTimeout time.Duration, workDir string, logger log.Logger) *SystemToolset {
	return &SystemToolset{
		defaultTimeout: defaultTimeout,
		maxTimeout:     10 * time.Minute,
		workDir:        workDir,
		logger:         logger,
	}
}

type systemInfoInput struct{}

type systemCommandInput struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	WorkDir        string `json:"work_dir,omitempty"`
}

type systemEnvInput struct {
	Name string `json:"name,omitempty"`
}

// Register adds the system tools.
func (t *SystemToolset) Register(reg *dispatch.Registry) error {
	if err := add(reg, "system_info",
		"Report host platform, CPU, and runtime details.",
		gate.Policy{}, t.systemInfo); err != nil {
		return err
	}
	if err := add(reg, "system_command",
		"Run a command inside the sandbox without a shell.",
		gate.Policy{CommandField: "command", PathFields: []string{"work_dir"}},
		t.systemCommand); err != nil {
		return err
	}
	return add(reg, "system_env",
		"Read non-sensitive environment variables.",
		gate.Policy{}, t.systemEnv)
}

func (t *SystemToolset) systemInfo(_ context.Context, _ systemInfoInput) (any, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return map[string]any{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
		"go_version": runtime.Version(),
		"hostname":   hostname,
		"pid":        os.Getpid(),
		"work_dir":   t.workDir,
	}, nil
}

func (t *SystemToolset) systemCommand(ctx context.Context, in systemCommandInput) (any, error) {
	// The gate already vetted the command string; split it here and
	// run argv directly. Quoting is not interpreted.
	argv := strings.Fields(in.Command)
	if len(argv) == 0 {
		return nil, dispatch.Errorf(dispatch.KindExecutionError, "empty command")
	}

	timeout := t.defaultTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}
	if timeout > t.maxTimeout {
		timeout = t.maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := t.workDir
	if in.WorkDir != "" {
		dir = in.WorkDir
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, n: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, n: maxOutputBytes}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, dispatch.Errorf(dispatch.KindTimeout,
			"command exceeded %s timeout", timeout).AsRetryable()
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// The command never started (not found, not executable).
			return nil, dispatch.WrapErr(dispatch.KindExecutionError,
				"command could not be started", err)
		}
	}

	t.logger.Debug("command finished",
		"argv0", argv[0], "exit_code", exitCode, "duration", elapsed)

	// A non-zero exit is a result, not a dispatch failure: the caller
	// asked to run the command and gets its outcome.
	return map[string]any{
		"command":     in.Command,
		"exit_code":   exitCode,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"duration_ms": float64(elapsed.Microseconds()) / 1000,
	}, nil
}

func (t *SystemToolset) systemEnv(_ context.Context, in systemEnvInput) (any, error) {
	if in.Name != "" {
		if security.IsSensitiveEnv(in.Name) {
			return nil, dispatch.Errorf(dispatch.KindDomainError,
				"environment variable %s is sensitive and cannot be read", in.Name)
		}
		value, ok := os.LookupEnv(in.Name)
		return map[string]any{"name": in.Name, "value": value, "set": ok}, nil
	}

	vars := make(map[string]string)
	var redacted []string
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if security.IsSensitiveEnv(name) {
			redacted = append(redacted, name)
			continue
		}
		vars[name] = value
	}
	sort.Strings(redacted)

	return map[string]any{
		"variables": vars,
		"redacted":  redacted,
	}, nil
}

// limitedWriter discards bytes past n instead of failing the command.
type limitedWriter struct {
	w *bytes.Buffer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if remaining := l.n - l.w.Len(); remaining > 0 {
		if len(p) > remaining {
			l.w.Write(p[:remaining])
		} else {
			l.w.Write(p)
		}
	}
	return len(p), nil
}
