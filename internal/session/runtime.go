package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux/internal/engine"
	"github.com/agentmux/agentmux/internal/logger"
	"github.com/agentmux/agentmux/internal/metrics"
	"github.com/agentmux/agentmux/internal/sandbox"
)

// DefaultPermissionTimeout bounds how long a command waits for a caller's
// permission decision before treating it as denied.
const DefaultPermissionTimeout = 5 * time.Minute

// streamBufferSize bounds each command's outbound event channel.
const streamBufferSize = 100

// Runtime owns one conversation with the engine: it builds per-call
// options, invokes the engine through the session's isolation boundary and
// turns the raw event sequence into the unified stream, including the
// inline permission handshake.
type Runtime struct {
	id          string
	name        string
	description string
	boundary    sandbox.Boundary
	eng         engine.Engine
	opts        Options

	transcript  *Transcript
	permissions *permissionRegistry

	permissionTimeout time.Duration

	mu              sync.Mutex
	state           State
	allowedTools    []string
	disallowedTools []string
	mcpServers      []engine.MCPServer
	cancels         map[string]context.CancelFunc
	createdAt       time.Time
	lastActivity    time.Time
	commandCount    int
	executing       int
}

// NewRuntime wires a runtime to its boundary and engine. mcpServers is the
// already-merged descriptor list for this session.
func NewRuntime(opts Options, boundary sandbox.Boundary, eng engine.Engine, mcpServers []engine.MCPServer, permissionTimeout time.Duration) *Runtime {
	if permissionTimeout <= 0 {
		permissionTimeout = DefaultPermissionTimeout
	}
	now := time.Now()
	return &Runtime{
		id:                opts.ID,
		name:              opts.Name,
		description:       opts.Description,
		boundary:          boundary,
		eng:               eng,
		opts:              opts,
		transcript:        NewTranscript(),
		permissions:       newPermissionRegistry(),
		permissionTimeout: permissionTimeout,
		state:             StateCreated,
		allowedTools:      append([]string(nil), opts.AllowedTools...),
		disallowedTools:   append([]string(nil), opts.DisallowedTools...),
		mcpServers:        mcpServers,
		cancels:           make(map[string]context.CancelFunc),
		createdAt:         now,
		lastActivity:      now,
	}
}

// ID returns the session ID.
func (r *Runtime) ID() string { return r.id }

// Transcript returns the session's conversation log.
func (r *Runtime) Transcript() *Transcript { return r.transcript }

// Boundary returns the session's isolation boundary.
func (r *Runtime) Boundary() sandbox.Boundary { return r.boundary }

// Info returns a read-only view of the session.
func (r *Runtime) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		ID:               r.id,
		Name:             r.name,
		Description:      r.description,
		WorkingDirectory: r.boundary.WorkingDir(),
		CapabilityMode:   string(r.boundary.Mode()),
		State:            r.state,
		AllowedTools:     append([]string(nil), r.allowedTools...),
		Model:            r.opts.Model,
		CreatedAt:        r.createdAt,
		LastActivity:     r.lastActivity,
		CommandCount:     r.commandCount,
		ResumeToken:      r.transcript.ResumeToken(),
	}
}

// AllowedTools returns the session's permanent allow-list.
func (r *Runtime) AllowedTools() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.allowedTools...)
}

// addAllowedTools extends the permanent allow-list (allow_always decisions).
func (r *Runtime) addAllowedTools(patterns []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowedTools = unionTools(r.allowedTools, patterns)
}

// ExecuteOptions configures one command dispatch.
type ExecuteOptions struct {
	Prompt            string
	ContinuationToken string   // overrides the session's captured token
	OverrideTools     []string // extra allowed tools for this call only
}

// Execute dispatches one command and returns its unified event stream.
// The stream always ends with exactly one terminal event: done, aborted or
// error. Structural failures (engine unreachable) surface as the terminal
// error event, never as a silent close.
func (r *Runtime) Execute(ctx context.Context, opts ExecuteOptions) (string, <-chan Event) {
	commandID := uuid.NewString()
	out := make(chan Event, streamBufferSize)

	cmdCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.state = StateExecuting
	r.executing++
	r.commandCount++
	r.lastActivity = time.Now()
	r.cancels[commandID] = cancel
	effectiveTools := unionTools(r.allowedTools, opts.OverrideTools)
	disallowed := append([]string(nil), r.disallowedTools...)
	servers := r.mcpServers
	r.mu.Unlock()

	go r.run(cmdCtx, cancel, commandID, opts, effectiveTools, disallowed, servers, out)
	return commandID, out
}

func (r *Runtime) run(ctx context.Context, cancel context.CancelFunc, commandID string, opts ExecuteOptions, effectiveTools, disallowed []string, servers []engine.MCPServer, out chan<- Event) {
	start := time.Now()
	outcome := "done"
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.cancels, commandID)
		r.executing--
		if r.state == StateExecuting && r.executing == 0 {
			r.state = StateIdle
		}
		r.lastActivity = time.Now()
		r.mu.Unlock()
		metrics.RecordCommand(outcome, time.Since(start).Seconds())
		close(out)
	}()

	r.transcript.AppendUser(opts.Prompt)

	resumeToken := opts.ContinuationToken
	if resumeToken == "" {
		resumeToken = r.transcript.ResumeToken()
	}

	permissionMode := r.opts.PermissionMode
	if permissionMode == "" && r.boundary.Mode() == sandbox.ModeFull {
		permissionMode = "bypassPermissions"
	}

	req := &engine.InvokeRequest{
		Prompt:            opts.Prompt,
		WorkingDir:        r.boundary.WorkingDir(),
		ResumeToken:       resumeToken,
		PermissionMode:    permissionMode,
		AllowedTools:      effectiveTools,
		DisallowedTools:   disallowed,
		Model:             r.opts.Model,
		FallbackModel:     r.opts.FallbackModel,
		MaxTurns:          r.opts.MaxTurns,
		MaxThinkingTokens: r.opts.MaxThinkingTokens,
		SystemPrompt:      r.opts.SystemPrompt,
		SystemPromptMode:  r.opts.SystemPromptMode,
		Agents:            r.opts.Agents,
		MCPServers:        servers,
	}

	inv, err := r.eng.Invoke(ctx, req)
	if err != nil {
		outcome = "error"
		r.emit(ctx, out, r.errorEvent(commandID, err))
		return
	}
	defer func() { _ = inv.Close() }()

	for {
		select {
		case <-ctx.Done():
			outcome = "aborted"
			_ = inv.Interrupt()
			r.emit(context.Background(), out, Event{
				Type:      EventAborted,
				SessionID: r.id,
				CommandID: commandID,
				Display:   "[aborted] command cancelled",
				Timestamp: time.Now(),
			})
			r.captureResumeToken(inv)
			return

		case err, ok := <-inv.Errors():
			if !ok {
				continue
			}
			outcome = "error"
			r.emit(ctx, out, r.errorEvent(commandID, err))
			r.captureResumeToken(inv)
			return

		case ev, ok := <-inv.Events():
			if !ok {
				// Stream exhausted without a result frame. Still guarantee a
				// terminal event.
				select {
				case err := <-inv.Errors():
					if err != nil {
						outcome = "error"
						r.emit(ctx, out, r.errorEvent(commandID, err))
						r.captureResumeToken(inv)
						return
					}
				default:
				}
				r.emit(ctx, out, Event{
					Type:      EventDone,
					SessionID: r.id,
					CommandID: commandID,
					Display:   "[done]",
					Timestamp: time.Now(),
				})
				r.captureResumeToken(inv)
				return
			}

			r.transcript.AppendEngine(ev.Raw, ev.Text)

			if ev.IsGatedAction() {
				var done bool
				effectiveTools, done = r.handleGatedAction(ctx, out, commandID, inv, ev, effectiveTools)
				if done {
					outcome = "error"
					r.captureResumeToken(inv)
					return
				}
				continue
			}

			r.emit(ctx, out, Event{
				Type:      EventEngine,
				SessionID: r.id,
				CommandID: commandID,
				Engine:    ev,
				Display:   engine.DisplayMessage(ev),
				Timestamp: time.Now(),
			})

			if ev.IsTerminal() {
				if ev.IsError {
					outcome = "error"
					r.emit(ctx, out, Event{
						Type:      EventError,
						SessionID: r.id,
						CommandID: commandID,
						Error:     ev.Text,
						Display:   "[error] " + ev.Text,
						Timestamp: time.Now(),
					})
				} else {
					r.emit(ctx, out, Event{
						Type:      EventDone,
						SessionID: r.id,
						CommandID: commandID,
						Display:   fmt.Sprintf("[done] %d turns", ev.NumTurns),
						Timestamp: time.Now(),
					})
				}
				r.captureResumeToken(inv)
				return
			}
		}
	}
}

// handleGatedAction runs one permission cycle: auto-allow when the effective
// allow-list already covers the request, otherwise surface it to the caller
// and block until a decision or timeout. Returns the effective allow-list for
// the rest of the command (grown by allow_always grants) and whether the
// command must terminate (decision undeliverable).
func (r *Runtime) handleGatedAction(ctx context.Context, out chan<- Event, commandID string, inv engine.Invocation, ev *engine.Event, effectiveTools []string) ([]string, bool) {
	patterns := ev.Suggestions
	if len(patterns) == 0 && ev.ToolName != "" {
		patterns = []string{ev.ToolName}
	}

	if CoveredByAllowList(effectiveTools, patterns) {
		if err := inv.Respond(ev.RequestID, engine.ControlDecision{Allow: true}); err != nil {
			logger.Slog().Warn("failed to auto-allow covered action",
				"session_id", r.id, "tool", ev.ToolName, "error", err)
		}
		return effectiveTools, false
	}

	req := &PermissionRequest{
		ID:          ev.RequestID,
		SessionID:   r.id,
		CommandID:   commandID,
		ToolName:    ev.ToolName,
		Patterns:    patterns,
		Description: engine.DisplayMessage(ev),
		Input:       ev.ToolInput,
		CreatedAt:   time.Now(),
	}
	pending, decisionCh := r.permissions.register(req)

	r.emit(ctx, out, Event{
		Type:       EventPermissionRequested,
		SessionID:  r.id,
		CommandID:  commandID,
		Permission: req,
		Display:    "[permission] " + ev.ToolName + " requires approval",
		Timestamp:  time.Now(),
	})

	timer := time.NewTimer(r.permissionTimeout)
	defer timer.Stop()

	var decision PermissionDecision
	select {
	case decision = <-decisionCh:
	case <-timer.C:
		r.permissions.remove(req.ID)
		decision = PermissionDecision{Decision: DecisionDeny, Message: "permission decision timed out"}
		logger.Slog().Warn("permission request timed out",
			"session_id", r.id, "request_id", req.ID, "tool", ev.ToolName)
	case <-ctx.Done():
		r.permissions.remove(req.ID)
		// The abort path in the main loop emits the terminal event.
		return effectiveTools, false
	}

	metrics.RecordPermissionDecision(string(decision.Decision))

	ctrl := engine.ControlDecision{Message: decision.Message}
	switch decision.Decision {
	case DecisionAllow:
		ctrl.Allow = true
	case DecisionAllowAlways:
		ctrl.Allow = true
		grant := patterns
		if len(decision.AllowedTools) > 0 {
			grant = decision.AllowedTools
		}
		ctrl.UpdatedPermissions = grant
		r.addAllowedTools(grant)
		// Later gated actions in this same command auto-allow too.
		effectiveTools = unionTools(effectiveTools, grant)
	case DecisionDeny:
		ctrl.Allow = false
		if ctrl.Message == "" {
			ctrl.Message = "denied by caller"
		}
	}

	err := inv.Respond(ev.RequestID, ctrl)
	resolution := ResolutionContinuedInPlace
	if err != nil {
		// The invocation cannot accept the decision mid-stream. The
		// allow-list change (if any) is already applied, so the caller can
		// re-issue the command.
		resolution = ResolutionRequiresRedispatch
	}
	pending.outcome <- resolution

	if err != nil && !errors.Is(err, engine.ErrNotInteractive) {
		r.emit(ctx, out, r.errorEvent(commandID, fmt.Errorf("failed to deliver permission decision: %w", err)))
		return effectiveTools, true
	}
	if errors.Is(err, engine.ErrNotInteractive) {
		r.emit(ctx, out, r.errorEvent(commandID, fmt.Errorf("engine call cannot continue after permission decision; re-dispatch the command")))
		return effectiveTools, true
	}
	return effectiveTools, false
}

func (r *Runtime) errorEvent(commandID string, err error) Event {
	return Event{
		Type:      EventError,
		SessionID: r.id,
		CommandID: commandID,
		Error:     err.Error(),
		Display:   "[error] " + err.Error(),
		Timestamp: time.Now(),
	}
}

// emit delivers an event, dropping it only if the command context is gone
// and the buffer is full. Terminal events use a background context upstream
// so they are never lost.
func (r *Runtime) emit(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
		select {
		case out <- ev:
		default:
			logger.Slog().Warn("event dropped on cancelled stream",
				"session_id", r.id, "type", string(ev.Type))
		}
	}
}

func (r *Runtime) captureResumeToken(inv engine.Invocation) {
	if token := inv.ResumeToken(); token != "" {
		r.transcript.SetResumeToken(token)
	}
}

// RespondToPermission delivers a caller decision for a pending request.
// The returned resolution reports whether the engine call continued in
// place or the command must be re-dispatched.
func (r *Runtime) RespondToPermission(ctx context.Context, requestID string, decision PermissionDecision) (Resolution, error) {
	outcomeCh, ok := r.permissions.resolve(requestID, decision)
	if !ok {
		return "", ErrPermissionNotFound
	}
	select {
	case res := <-outcomeCh:
		return res, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// PendingPermissions lists requests awaiting a decision.
func (r *Runtime) PendingPermissions() []*PermissionRequest {
	return r.permissions.list()
}

// Cancel trips the cancellation signal for all in-flight commands.
// Returns false when nothing was executing.
func (r *Runtime) Cancel() bool {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.cancels))
	for _, c := range r.cancels {
		cancels = append(cancels, c)
	}
	r.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	return len(cancels) > 0
}

// ClearTranscript drops the conversation log and resume token.
func (r *Runtime) ClearTranscript() {
	r.transcript.Clear()
}

// close tears down the runtime: cancels in-flight commands, denies pending
// permission requests and releases the boundary.
func (r *Runtime) close(ctx context.Context) error {
	r.Cancel()
	r.permissions.drain("session removed")

	r.mu.Lock()
	r.state = StateRemoved
	r.mu.Unlock()

	if err := r.eng.Close(); err != nil {
		logger.Slog().Warn("engine close failed", "session_id", r.id, "error", err)
	}
	return r.boundary.Release(ctx)
}
