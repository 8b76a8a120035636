package claude

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/agentmux/agentmux/internal/engine"
	"github.com/agentmux/agentmux/internal/logger"
	"github.com/agentmux/agentmux/internal/sandbox"
)

// Runtime is the Claude Code CLI engine. One Runtime is bound to one
// isolation boundary; each Invoke spawns a fresh CLI process inside it.
type Runtime struct {
	binary   string
	boundary sandbox.Boundary
}

var _ engine.Engine = (*Runtime)(nil)

// NewRuntime creates a CLI engine over the given boundary. binary defaults
// to "claude" when empty.
func NewRuntime(binary string, boundary sandbox.Boundary) *Runtime {
	if binary == "" {
		binary = "claude"
	}
	return &Runtime{binary: binary, boundary: boundary}
}

// Invoke starts one CLI call in stream-json mode and sends the prompt on
// stdin. The returned invocation streams events until the result frame.
func (r *Runtime) Invoke(ctx context.Context, req *engine.InvokeRequest) (engine.Invocation, error) {
	workDir := req.WorkingDir
	if workDir == "" {
		workDir = r.boundary.WorkingDir()
	}

	mcpConfigPath, err := writeMCPConfig(r.boundary.WorkingDir(), req.MCPServers)
	if err != nil {
		return nil, err
	}

	args := buildArgs(req, mcpConfigPath)
	proc, err := r.boundary.Exec(ctx, sandbox.ExecSpec{
		Cmd:        append([]string{r.binary}, args...),
		WorkingDir: workDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	inv := newInvocation(ctx, proc)
	if err := inv.sendUserMessage(req.Prompt); err != nil {
		_ = inv.Close()
		return nil, fmt.Errorf("failed to send prompt: %w", err)
	}

	logger.Slog().Debug("engine invoked",
		"binary", r.binary,
		"resume", req.ResumeToken != "",
		"allowed_tools", len(req.AllowedTools))
	return inv, nil
}

// Ping checks that the engine binary is reachable on the host.
func (r *Runtime) Ping(ctx context.Context) error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return fmt.Errorf("engine binary %q not found: %w", r.binary, err)
	}
	return nil
}

// Close releases resources held by the engine. Individual invocations own
// their processes, so there is nothing to tear down here.
func (r *Runtime) Close() error {
	return nil
}
