// Package claude implements the engine abstraction on top of the Claude Code
// CLI invoked in bidirectional stream-json mode.
package claude

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agentmux/agentmux/internal/engine"
)

// buildArgs translates an InvokeRequest into Claude CLI arguments.
// The prompt itself is not an argument; it is written to stdin as a
// stream-json user message so the control channel stays open.
func buildArgs(req *engine.InvokeRequest, mcpConfigPath string) []string {
	args := []string{
		"-p",
		"--verbose",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
	}

	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.FallbackModel != "" {
		args = append(args, "--fallback-model", req.FallbackModel)
	}
	if req.PermissionMode != "" {
		args = append(args, "--permission-mode", req.PermissionMode)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if len(req.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(req.DisallowedTools, ","))
	}
	if req.ResumeToken != "" {
		args = append(args, "--resume", req.ResumeToken)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if req.MaxThinkingTokens > 0 {
		args = append(args, "--max-thinking-tokens", strconv.Itoa(req.MaxThinkingTokens))
	}
	if req.SystemPrompt != "" {
		if req.SystemPromptMode == "replace" {
			args = append(args, "--system-prompt", req.SystemPrompt)
		} else {
			args = append(args, "--append-system-prompt", req.SystemPrompt)
		}
	}
	if len(req.Agents) > 0 {
		if data, err := json.Marshal(req.Agents); err == nil {
			args = append(args, "--agents", string(data))
		}
	}
	if mcpConfigPath != "" {
		args = append(args, "--mcp-config", mcpConfigPath)
	}

	return args
}

// writeMCPConfig materializes the merged MCP server descriptors as the JSON
// config file the CLI expects. Returns an empty path when there are no
// servers. The file lives inside the working directory so it stays within
// the session's boundary.
func writeMCPConfig(workDir string, servers []engine.MCPServer) (string, error) {
	if len(servers) == 0 {
		return "", nil
	}

	type serverEntry struct {
		Type    string            `json:"type,omitempty"`
		Command string            `json:"command,omitempty"`
		Args    []string          `json:"args,omitempty"`
		URL     string            `json:"url,omitempty"`
		Env     map[string]string `json:"env,omitempty"`
		Headers map[string]string `json:"headers,omitempty"`
	}

	cfg := struct {
		MCPServers map[string]serverEntry `json:"mcpServers"`
	}{MCPServers: make(map[string]serverEntry, len(servers))}

	for _, s := range servers {
		cfg.MCPServers[s.Name] = serverEntry{
			Type:    s.Type,
			Command: s.Command,
			Args:    s.Args,
			URL:     s.URL,
			Env:     s.Env,
			Headers: s.Headers,
		}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal MCP config: %w", err)
	}

	path := filepath.Join(workDir, ".agentmux-mcp.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write MCP config: %w", err)
	}
	return path, nil
}

// userMessage is the stream-json stdin frame carrying the prompt.
type userMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

func encodeUserMessage(prompt string) ([]byte, error) {
	var msg userMessage
	msg.Type = "user"
	msg.Message.Role = "user"
	msg.Message.Content = prompt

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user message: %w", err)
	}
	return append(data, '\n'), nil
}

// controlResponse is the stream-json stdin frame answering a control_request.
type controlResponse struct {
	Type     string `json:"type"`
	Response struct {
		Subtype   string `json:"subtype"`
		RequestID string `json:"request_id"`
		Response  any    `json:"response"`
	} `json:"response"`
}

func encodeControlResponse(requestID string, decision engine.ControlDecision) ([]byte, error) {
	body := map[string]any{}
	if decision.Allow {
		body["behavior"] = "allow"
		if len(decision.UpdatedPermissions) > 0 {
			body["updatedPermissions"] = decision.UpdatedPermissions
		}
	} else {
		body["behavior"] = "deny"
		if decision.Message != "" {
			body["message"] = decision.Message
		}
	}

	var resp controlResponse
	resp.Type = "control_response"
	resp.Response.Subtype = "success"
	resp.Response.RequestID = requestID
	resp.Response.Response = body

	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal control response: %w", err)
	}
	return append(data, '\n'), nil
}

// controlRequest is the stream-json stdin frame for engine-directed control
// operations (interrupt).
func encodeInterruptRequest(requestID string) ([]byte, error) {
	frame := map[string]any{
		"type":       "control_request",
		"request_id": requestID,
		"request": map[string]any{
			"subtype": "interrupt",
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal interrupt request: %w", err)
	}
	return append(data, '\n'), nil
}
