// Package engine provides the external coding-engine abstraction layer.
//
// The engine is a black box invoked with a prompt and structured options,
// yielding an asynchronous sequence of structured events. agentmux does not
// interpret engine output beyond detecting gated-action signals and the
// conversation resume handle.
package engine

import (
	"context"
	"errors"
)

// ErrNotInteractive is returned by Invocation.Respond when the underlying
// invocation cannot accept an inline control response. The caller must treat
// the pending gated action as unresolvable in place and re-dispatch after
// updating the allow-list.
var ErrNotInteractive = errors.New("invocation does not accept inline control responses")

// Engine is the interface for external engine backends.
type Engine interface {
	// Invoke starts one engine call and returns its live invocation.
	Invoke(ctx context.Context, req *InvokeRequest) (Invocation, error)

	// Ping checks if the engine is available and responsive.
	Ping(ctx context.Context) error

	// Close releases any resources held by the engine.
	Close() error
}

// Invocation is one in-flight engine call.
type Invocation interface {
	// Events returns the channel of engine events. It is closed when the
	// underlying process exits.
	Events() <-chan *Event

	// Errors returns a channel for transport-level errors.
	Errors() <-chan error

	// Done returns a channel that closes when the invocation finishes.
	Done() <-chan struct{}

	// Respond delivers a control decision for a pending gated-action
	// request. Returns ErrNotInteractive if the invocation is one-shot.
	Respond(requestID string, decision ControlDecision) error

	// Interrupt asks the engine to stop the current turn.
	Interrupt() error

	// Close tears down the invocation and its process.
	Close() error

	// ResumeToken returns the engine's conversation-resume handle, once
	// known (empty until the init event arrives).
	ResumeToken() string
}

// ControlDecision is the caller's answer to a gated-action request.
type ControlDecision struct {
	Allow bool

	// UpdatedPermissions carries tool patterns to persist engine-side when
	// the caller chose allow-permanently.
	UpdatedPermissions []string

	// Message is an optional deny reason surfaced to the engine.
	Message string
}

// InvokeRequest contains parameters for one engine call.
type InvokeRequest struct {
	// Required
	Prompt     string
	WorkingDir string

	// ResumeToken ties this call to a prior engine-side conversation.
	// Empty for a fresh context.
	ResumeToken string

	// PermissionMode is the engine-level permission posture
	// (e.g. "default", "acceptEdits", "bypassPermissions").
	PermissionMode string

	// Tool control
	AllowedTools    []string
	DisallowedTools []string

	// Engine tuning
	Model             string
	FallbackModel     string
	MaxTurns          int
	MaxThinkingTokens int

	// SystemPrompt is appended to (or replaces, per SystemPromptMode) the
	// engine's own system prompt.
	SystemPrompt     string
	SystemPromptMode string // "append" (default) or "replace"

	// Agents defines subagents available to this call.
	Agents map[string]AgentDefinition

	// MCPServers lists auxiliary tool services for this call.
	MCPServers []MCPServer
}

// AgentDefinition describes a subagent the engine may delegate to.
type AgentDefinition struct {
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Tools       []string `json:"tools,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// MCPServer is a named auxiliary tool-service descriptor.
type MCPServer struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"` // "stdio", "sse", or "http"
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	URL     string            `json:"url,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}
