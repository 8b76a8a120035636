// Package session implements the session manager and per-session runtime:
// a registry of isolated engine conversations, each exposed as a
// cancellable, streaming, permission-gated command channel.
package session

import (
	"time"

	"github.com/agentmux/agentmux/internal/engine"
	"github.com/agentmux/agentmux/internal/sandbox"
)

// EventType classifies entries on a command's unified stream.
type EventType string

const (
	// EventEngine carries an opaque structured message from the engine.
	EventEngine EventType = "engine"
	// EventPermissionRequested signals a gated action awaiting a decision.
	EventPermissionRequested EventType = "permission_request"
	// EventDone is the normal-completion terminal event.
	EventDone EventType = "done"
	// EventAborted is the cancelled-command terminal event.
	EventAborted EventType = "aborted"
	// EventError is the failure terminal event.
	EventError EventType = "error"
)

// Event is one entry on a command's unified stream. Exactly one of the
// payload fields is set, per Type. Every stream ends with exactly one
// terminal event (done, aborted or error).
type Event struct {
	Type       EventType          `json:"type"`
	SessionID  string             `json:"session_id"`
	CommandID  string             `json:"command_id"`
	Engine     *engine.Event      `json:"engine,omitempty"`
	Permission *PermissionRequest `json:"permission,omitempty"`
	Error      string             `json:"error,omitempty"`
	Display    string             `json:"display,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// IsTerminal reports whether the event ends its command's stream.
func (e *Event) IsTerminal() bool {
	switch e.Type {
	case EventDone, EventAborted, EventError:
		return true
	}
	return false
}

// Options configures a new session.
type Options struct {
	ID                string                            `json:"id,omitempty"`
	Name              string                            `json:"name,omitempty"`
	Description       string                            `json:"description,omitempty"`
	WorkingDirectory  string                            `json:"working_directory,omitempty"`
	CapabilityMode    string                            `json:"capability_mode,omitempty"`
	PermissionMode    string                            `json:"permission_mode,omitempty"` // engine posture: default, acceptEdits, bypassPermissions
	AllowedTools      []string                          `json:"allowed_tools,omitempty"`
	DisallowedTools   []string                          `json:"disallowed_tools,omitempty"`
	Model             string                            `json:"model,omitempty"`
	FallbackModel     string                            `json:"fallback_model,omitempty"`
	MaxTurns          int                               `json:"max_turns,omitempty"`
	MaxThinkingTokens int                               `json:"max_thinking_tokens,omitempty"`
	SystemPrompt      string                            `json:"system_prompt,omitempty"`
	SystemPromptMode  string                            `json:"system_prompt_mode,omitempty"` // append (default) or replace
	Agents            map[string]engine.AgentDefinition `json:"agents,omitempty"`
	MCPServers        []engine.MCPServer                `json:"mcp_servers,omitempty"`
}

// State is the session lifecycle state.
type State string

const (
	StateCreated   State = "created"
	StateIdle      State = "idle"
	StateExecuting State = "executing"
	StateRemoved   State = "removed"
)

// Info is the read-only view of one session.
type Info struct {
	ID               string    `json:"id"`
	Name             string    `json:"name,omitempty"`
	Description      string    `json:"description,omitempty"`
	WorkingDirectory string    `json:"working_directory"`
	CapabilityMode   string    `json:"capability_mode"`
	State            State     `json:"state"`
	AllowedTools     []string  `json:"allowed_tools,omitempty"`
	Model            string    `json:"model,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	CommandCount     int       `json:"command_count"`
	ResumeToken      string    `json:"resume_token,omitempty"`
}

// ManagerInfo is the manager's read-only snapshot.
type ManagerInfo struct {
	BaseDirectory string          `json:"base_directory"`
	SessionCount  int             `json:"session_count"`
	Capacity      int             `json:"capacity"`
	Defaults      ManagerDefaults `json:"defaults"`
	Sessions      []Info          `json:"sessions,omitempty"`
}

// ManagerDefaults describes manager-wide settings applied to new sessions
// when their options leave the field unset.
type ManagerDefaults struct {
	CapabilityMode  string             `json:"capability_mode"`
	Model           string             `json:"model,omitempty"`
	FallbackModel   string             `json:"fallback_model,omitempty"`
	MaxTurns        int                `json:"max_turns,omitempty"`
	AllowedTools    []string           `json:"allowed_tools,omitempty"`
	DisallowedTools []string           `json:"disallowed_tools,omitempty"`
	MCPServers      []engine.MCPServer `json:"mcp_servers,omitempty"`
}

// MergeMCPServers merges manager-wide default descriptors with
// session-specific overrides. An override with the same name replaces the
// default in place; new names are appended in override order.
func MergeMCPServers(defaults, overrides []engine.MCPServer) []engine.MCPServer {
	merged := make([]engine.MCPServer, len(defaults))
	copy(merged, defaults)

	byName := make(map[string]int, len(merged))
	for i, s := range merged {
		byName[s.Name] = i
	}

	for _, o := range overrides {
		if i, ok := byName[o.Name]; ok {
			merged[i] = o
			continue
		}
		byName[o.Name] = len(merged)
		merged = append(merged, o)
	}
	return merged
}

// BoundaryFactory constructs the isolation boundary for a new session.
type BoundaryFactory func(sessionID, workDir string, mode sandbox.Mode) (sandbox.Boundary, error)

// EngineFactory constructs the engine bound to a session's boundary.
type EngineFactory func(boundary sandbox.Boundary) engine.Engine
