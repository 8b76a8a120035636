// Package sandbox provides the per-session isolation boundary.
//
// A boundary wraps one session's engine processes inside a restricted
// execution context. It is provisioned once at session creation and persists
// for the session's lifetime so warm state (containers, caches) is reused
// across commands.
package sandbox

import (
	"context"
	"fmt"
	"io"
)

// Mode is the capability mode of a boundary, ordered from least to most
// permissive.
type Mode string

const (
	// ModeRestricted confines reads and writes to the session working
	// directory plus declared auxiliary directories, and passes only the
	// environment the engine requires. If the engine itself mandates
	// subprocess execution, that part of the restriction cannot be
	// enforced from outside the engine; the gap is documented rather than
	// claimed closed.
	ModeRestricted Mode = "restricted"

	// ModeStandard confines filesystem access as above but permits
	// subprocess execution and host environment access.
	ModeStandard Mode = "standard"

	// ModeFull applies no restriction. Trusted contexts only.
	ModeFull Mode = "full"
)

// ParseMode validates a capability mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRestricted, ModeStandard, ModeFull:
		return Mode(s), nil
	case "":
		return ModeStandard, nil
	default:
		return "", fmt.Errorf("unknown capability mode: %q", s)
	}
}

// ProvisioningError indicates the isolation context could not be created.
// It is fatal to session creation and is not retried automatically.
type ProvisioningError struct {
	Reason string
	Err    error
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("provisioning failed: %s", e.Reason)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// ExecSpec describes one process to run inside a boundary.
type ExecSpec struct {
	Cmd []string
	Env []string
	// WorkingDir overrides the boundary's working directory when set.
	WorkingDir string
}

// Boundary is the isolation boundary abstraction. Implementations:
// process (same host, capability-checked by convention) and docker
// (separate container with OS-level restriction).
type Boundary interface {
	// Provision creates the isolation context. Called once per session.
	Provision(ctx context.Context) error

	// Exec starts a process inside the boundary with stdio pipes attached.
	Exec(ctx context.Context, spec ExecSpec) (*Proc, error)

	// Release unconditionally tears down the isolation context.
	Release(ctx context.Context) error

	// Mode returns the boundary's capability mode.
	Mode() Mode

	// WorkingDir returns the session working directory as seen by the host.
	WorkingDir() string
}

// Proc is a process running inside a boundary, with I/O pipes.
type Proc struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	done chan struct{}
	wait func() (int, error)
	kill func() error
}

// NewProc wraps pipes and a wait function into a Proc.
func NewProc(stdin io.WriteCloser, stdout, stderr io.ReadCloser, wait func() (int, error), kill func() error) *Proc {
	return &Proc{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		done:   make(chan struct{}),
		wait:   wait,
		kill:   kill,
	}
}

// Done returns a channel that is closed once Wait has observed exit.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// Wait waits for the process to exit and returns the exit code.
func (p *Proc) Wait() (int, error) {
	code, err := p.wait()
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	return code, err
}

// Kill forcibly terminates the process.
func (p *Proc) Kill() error {
	if p.kill == nil {
		return nil
	}
	return p.kill()
}

// Close closes all I/O streams.
func (p *Proc) Close() error {
	if p.Stdin != nil {
		_ = p.Stdin.Close()
	}
	if p.Stdout != nil {
		_ = p.Stdout.Close()
	}
	if p.Stderr != nil {
		_ = p.Stderr.Close()
	}
	return nil
}
