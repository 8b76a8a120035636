// Package docker implements the out-of-process isolation boundary using the
// Docker Engine API. Each session gets one long-lived container; engine
// calls run as execs inside it.
package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/agentmux/agentmux/internal/logger"
	"github.com/agentmux/agentmux/internal/sandbox"
)

// containerWorkDir is where the session working directory is mounted inside
// the container.
const containerWorkDir = "/workspace"

// Config holds docker boundary settings.
type Config struct {
	Image     string
	SessionID string
	WorkDir   string
	Mode      sandbox.Mode
	Memory    int64 // bytes, 0 = unlimited
	CPUs      int   // 0 = unlimited
	Env       []string
}

// Boundary is a per-session container.
type Boundary struct {
	cli         *client.Client
	cfg         Config
	containerID string
}

var _ sandbox.Boundary = (*Boundary)(nil)

// NewBoundary creates a docker boundary. The container is not created until
// Provision is called.
func NewBoundary(cfg Config) (*Boundary, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Boundary{cli: cli, cfg: cfg}, nil
}

// Provision pulls the image if needed and starts the session container.
func (b *Boundary) Provision(ctx context.Context) error {
	if _, err := b.cli.Ping(ctx); err != nil {
		return &sandbox.ProvisioningError{Reason: "docker daemon unreachable", Err: err}
	}

	if err := b.ensureImage(ctx); err != nil {
		return &sandbox.ProvisioningError{Reason: "image not available", Err: err}
	}

	networkMode := "bridge"
	if b.cfg.Mode == sandbox.ModeRestricted {
		networkMode = "none"
	}

	containerConfig := &dockercontainer.Config{
		Image:      b.cfg.Image,
		Cmd:        []string{"sleep", "infinity"},
		Env:        b.cfg.Env,
		WorkingDir: containerWorkDir,
		Labels: map[string]string{
			"agentmux.session":         b.cfg.SessionID,
			"agentmux.capability_mode": string(b.cfg.Mode),
		},
		Tty: false,
	}

	hostConfig := &dockercontainer.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: b.cfg.WorkDir,
				Target: containerWorkDir,
			},
		},
		NetworkMode: dockercontainer.NetworkMode(networkMode),
		Init:        boolPtr(true),
		Resources:   buildResources(b.cfg.Memory, b.cfg.CPUs),
	}

	name := "agentmux-" + b.cfg.SessionID
	resp, err := b.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return &sandbox.ProvisioningError{Reason: "create container", Err: err}
	}
	b.containerID = resp.ID

	if err := b.cli.ContainerStart(ctx, b.containerID, dockercontainer.StartOptions{}); err != nil {
		_ = b.cli.ContainerRemove(ctx, b.containerID, dockercontainer.RemoveOptions{Force: true})
		b.containerID = ""
		return &sandbox.ProvisioningError{Reason: "start container", Err: err}
	}

	logger.Slog().Info("docker boundary provisioned",
		"session_id", b.cfg.SessionID,
		"container_id", b.containerID[:12],
		"network_mode", networkMode)
	return nil
}

func (b *Boundary) ensureImage(ctx context.Context) error {
	_, err := b.cli.ImageInspect(ctx, b.cfg.Image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image: %w", err)
	}

	reader, err := b.cli.ImagePull(ctx, b.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", b.cfg.Image, err)
	}
	defer func() { _ = reader.Close() }()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Exec runs a command inside the session container with stdio attached.
func (b *Boundary) Exec(ctx context.Context, spec sandbox.ExecSpec) (*sandbox.Proc, error) {
	if b.containerID == "" {
		return nil, fmt.Errorf("boundary not provisioned")
	}

	workDir := containerWorkDir
	if spec.WorkingDir != "" {
		workDir = spec.WorkingDir
	}

	execConfig := dockercontainer.ExecOptions{
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  true,
		Tty:          false,
	}

	execResp, err := b.cli.ContainerExecCreate(ctx, b.containerID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := b.cli.ContainerExecAttach(ctx, execResp.ID, dockercontainer.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}

	// Demux the multiplexed stream into stdout/stderr pipes.
	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()
	go func() {
		defer func() { _ = stdoutWriter.Close() }()
		defer func() { _ = stderrWriter.Close() }()
		_, _ = stdcopy.StdCopy(stdoutWriter, stderrWriter, attachResp.Reader)
	}()

	execID := execResp.ID
	wait := func() (int, error) {
		for {
			inspectResp, err := b.cli.ContainerExecInspect(ctx, execID)
			if err != nil {
				return -1, fmt.Errorf("failed to inspect exec: %w", err)
			}
			if !inspectResp.Running {
				return inspectResp.ExitCode, nil
			}
			select {
			case <-ctx.Done():
				return -1, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
	kill := func() error {
		attachResp.Close()
		return nil
	}

	stdin := &hijackedWriteCloser{conn: attachResp}
	return sandbox.NewProc(stdin, stdoutReader, stderrReader, wait, kill), nil
}

// Release removes the session container.
func (b *Boundary) Release(ctx context.Context) error {
	if b.containerID == "" {
		return b.cli.Close()
	}
	err := b.cli.ContainerRemove(ctx, b.containerID, dockercontainer.RemoveOptions{Force: true})
	b.containerID = ""
	if cerr := b.cli.Close(); err == nil {
		err = cerr
	}
	return err
}

// Mode returns the boundary's capability mode.
func (b *Boundary) Mode() sandbox.Mode {
	return b.cfg.Mode
}

// WorkingDir returns the host-side session working directory.
func (b *Boundary) WorkingDir() string {
	return b.cfg.WorkDir
}

// hijackedWriteCloser wraps a HijackedResponse to implement io.WriteCloser.
type hijackedWriteCloser struct {
	conn types.HijackedResponse
}

func (h *hijackedWriteCloser) Write(p []byte) (n int, err error) {
	return h.conn.Conn.Write(p)
}

func (h *hijackedWriteCloser) Close() error {
	h.conn.Close()
	return nil
}

func boolPtr(b bool) *bool { return &b }

func buildResources(memory int64, cpus int) dockercontainer.Resources {
	resources := dockercontainer.Resources{}
	if memory > 0 {
		resources.Memory = memory
	}
	if cpus > 0 {
		resources.NanoCPUs = int64(cpus) * 1e9
	}
	return resources
}
