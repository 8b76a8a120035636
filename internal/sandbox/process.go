package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentmux/agentmux/internal/logger"
)

// restrictedEnvAllowlist lists environment variable names passed through to
// engine processes in restricted mode. Everything else is dropped.
var restrictedEnvAllowlist = []string{
	"PATH",
	"LANG",
	"TZ",
	"ANTHROPIC_API_KEY",
	"ANTHROPIC_BASE_URL",
	"ANTHROPIC_AUTH_TOKEN",
	"CLAUDE_CODE_OAUTH_TOKEN",
}

// ProcessBoundary runs engine processes directly on the host, pinned to the
// session working directory with a per-mode environment.
//
// Restricted mode here is capability-checked by convention: the working
// directory is confined and the environment is allow-listed, but an engine
// that shells out internally can still execute subprocesses. True OS-level
// confinement requires the docker boundary.
type ProcessBoundary struct {
	workDir  string
	mode     Mode
	auxDirs  []string
	released bool
	mu       sync.Mutex
}

var _ Boundary = (*ProcessBoundary)(nil)

// NewProcessBoundary creates a process boundary for one session.
// auxDirs are additional directories the session may use (created on
// provision alongside the working directory).
func NewProcessBoundary(workDir string, mode Mode, auxDirs []string) *ProcessBoundary {
	return &ProcessBoundary{
		workDir: workDir,
		mode:    mode,
		auxDirs: auxDirs,
	}
}

// Provision creates the working directory and auxiliary directories.
func (b *ProcessBoundary) Provision(ctx context.Context) error {
	if err := os.MkdirAll(b.workDir, 0o755); err != nil {
		return &ProvisioningError{Reason: "create working directory", Err: err}
	}
	for _, dir := range b.auxDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &ProvisioningError{Reason: fmt.Sprintf("create auxiliary directory %s", dir), Err: err}
		}
	}
	if b.mode == ModeRestricted {
		if err := os.MkdirAll(filepath.Join(b.workDir, ".tmp"), 0o755); err != nil {
			return &ProvisioningError{Reason: "create scratch directory", Err: err}
		}
	}
	return nil
}

// Exec starts a host process with the boundary's working directory and
// per-mode environment.
func (b *ProcessBoundary) Exec(ctx context.Context, spec ExecSpec) (*Proc, error) {
	b.mu.Lock()
	released := b.released
	b.mu.Unlock()
	if released {
		return nil, fmt.Errorf("boundary released")
	}
	if len(spec.Cmd) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, spec.Cmd[0], spec.Cmd[1:]...)
	cmd.Dir = b.workDir
	if spec.WorkingDir != "" {
		cmd.Dir = spec.WorkingDir
	}
	cmd.Env = append(b.buildEnv(), spec.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Cmd[0], err)
	}

	wait := func() (int, error) {
		err := cmd.Wait()
		if err == nil {
			return 0, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	kill := func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}

	return NewProc(stdin, stdout, stderr, wait, kill), nil
}

// buildEnv returns the environment for the boundary's capability mode.
func (b *ProcessBoundary) buildEnv() []string {
	switch b.mode {
	case ModeRestricted:
		var env []string
		for _, name := range restrictedEnvAllowlist {
			if v, ok := os.LookupEnv(name); ok {
				env = append(env, name+"="+v)
			}
		}
		// HOME and TMPDIR pinned inside the working directory so engine
		// state files stay within the session.
		env = append(env,
			"HOME="+b.workDir,
			"TMPDIR="+filepath.Join(b.workDir, ".tmp"),
		)
		return env
	default:
		return os.Environ()
	}
}

// Release marks the boundary unusable. The working directory is left in
// place; directory deletion is the session manager's decision.
func (b *ProcessBoundary) Release(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	logger.Slog().Debug("process boundary released", "working_dir", b.workDir)
	return nil
}

// Mode returns the boundary's capability mode.
func (b *ProcessBoundary) Mode() Mode {
	return b.mode
}

// WorkingDir returns the session working directory.
func (b *ProcessBoundary) WorkingDir() string {
	return b.workDir
}

// DescribeRestriction returns a human-readable summary of what the boundary
// actually enforces, including the subprocess gap in restricted mode.
func (b *ProcessBoundary) DescribeRestriction() string {
	switch b.mode {
	case ModeRestricted:
		return strings.Join([]string{
			"working directory confined to " + b.workDir,
			"environment allow-listed",
			"subprocess execution NOT blocked (engine requires it; use the docker boundary for OS-level confinement)",
		}, "; ")
	case ModeStandard:
		return "working directory pinned to " + b.workDir + "; host environment inherited"
	default:
		return "unrestricted"
	}
}
