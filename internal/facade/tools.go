package facade

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentmux/agentmux/internal/audit"
	"github.com/agentmux/agentmux/internal/engine"
	"github.com/agentmux/agentmux/internal/session"
)

// schemaFor derives the input schema for a tool's parameter struct.
func schemaFor[T any]() *jsonschema.Schema {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		// Parameter structs are static; a failure here is a programming
		// error caught by the tool tests.
		panic(fmt.Sprintf("schema generation failed: %v", err))
	}
	return schema
}

func addTool[In, Out any](s *mcp.Server, name, description string, handler mcp.ToolHandlerFor[In, Out]) {
	mcp.AddTool(s, &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: schemaFor[In](),
	}, handler)
}

func (s *Server) registerTools() {
	addTool(s.mcpServer, "ping",
		"Liveness check. Returns ok and whether the engine is reachable.",
		s.handlePing)
	addTool(s.mcpServer, "manager_info",
		"Manager snapshot: base directory, session count, capacity and defaults.",
		s.handleManagerInfo)
	addTool(s.mcpServer, "session_create",
		"Create a new isolated session. Returns its info including the working directory.",
		s.handleSessionCreate)
	addTool(s.mcpServer, "session_get",
		"Get one session's info by ID.",
		s.handleSessionGet)
	addTool(s.mcpServer, "session_list",
		"List all live sessions.",
		s.handleSessionList)
	addTool(s.mcpServer, "session_remove",
		"Remove a session: aborts in-flight commands and releases its isolation boundary.",
		s.handleSessionRemove)
	addTool(s.mcpServer, "session_remove_all",
		"Remove every live session. Returns the count removed.",
		s.handleSessionRemoveAll)
	addTool(s.mcpServer, "session_execute",
		"Dispatch a prompt to a session. Returns a command ID; poll session_events for the stream.",
		s.handleSessionExecute)
	addTool(s.mcpServer, "session_events",
		"Poll a session's event stream. Pass since_index=-1 for all buffered events.",
		s.handleSessionEvents)
	addTool(s.mcpServer, "session_cancel",
		"Cancel a session's in-flight commands.",
		s.handleSessionCancel)
	addTool(s.mcpServer, "permission_respond",
		"Resolve a pending permission request with allow, allow_always or deny.",
		s.handlePermissionRespond)
	addTool(s.mcpServer, "permission_list",
		"List permission requests awaiting a decision.",
		s.handlePermissionList)
	addTool(s.mcpServer, "transcript_export",
		"Persist a session's conversation log to the audit store.",
		s.handleTranscriptExport)
	addTool(s.mcpServer, "transcript_clear",
		"Clear a session's conversation log and resume token.",
		s.handleTranscriptClear)
	addTool(s.mcpServer, "command_history",
		"Recorded command history for a session from the audit store.",
		s.handleCommandHistory)
}

type emptyInput struct{}

type pingOutput struct {
	Status string `json:"status"`
	Engine string `json:"engine"`
}

func (s *Server) handlePing(ctx context.Context, req *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, pingOutput, error) {
	out := pingOutput{Status: "ok", Engine: "ok"}
	if s.enginePing != nil {
		if err := s.enginePing(ctx); err != nil {
			out.Engine = err.Error()
		}
	}
	return nil, out, nil
}

func (s *Server) handleManagerInfo(ctx context.Context, req *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, session.ManagerInfo, error) {
	return nil, s.manager.Snapshot(), nil
}

type sessionCreateInput struct {
	ID               string             `json:"id,omitempty" jsonschema:"optional caller-supplied session ID"`
	Name             string             `json:"name,omitempty" jsonschema:"optional display name"`
	Description      string             `json:"description,omitempty"`
	WorkingDirectory string             `json:"working_directory,omitempty" jsonschema:"absolute path; auto-generated under the base directory when omitted"`
	CapabilityMode   string             `json:"capability_mode,omitempty" jsonschema:"restricted, standard or full"`
	PermissionMode   string             `json:"permission_mode,omitempty" jsonschema:"engine permission posture: default, acceptEdits or bypassPermissions"`
	AllowedTools     []string           `json:"allowed_tools,omitempty" jsonschema:"tool patterns allowed without a permission prompt"`
	DisallowedTools  []string           `json:"disallowed_tools,omitempty"`
	Model            string             `json:"model,omitempty"`
	FallbackModel    string             `json:"fallback_model,omitempty"`
	MaxTurns         int                `json:"max_turns,omitempty"`
	SystemPrompt     string             `json:"system_prompt,omitempty"`
	SystemPromptMode string             `json:"system_prompt_mode,omitempty" jsonschema:"append (default) or replace"`
	MCPServers       []engine.MCPServer `json:"mcp_servers,omitempty" jsonschema:"session-specific MCP servers; same-name entries override manager defaults"`
}

func (s *Server) handleSessionCreate(ctx context.Context, req *mcp.CallToolRequest, in sessionCreateInput) (*mcp.CallToolResult, session.Info, error) {
	info, err := s.manager.CreateSession(ctx, session.Options{
		ID:               in.ID,
		Name:             in.Name,
		Description:      in.Description,
		WorkingDirectory: in.WorkingDirectory,
		CapabilityMode:   in.CapabilityMode,
		PermissionMode:   in.PermissionMode,
		AllowedTools:     in.AllowedTools,
		DisallowedTools:  in.DisallowedTools,
		Model:            in.Model,
		FallbackModel:    in.FallbackModel,
		MaxTurns:         in.MaxTurns,
		SystemPrompt:     in.SystemPrompt,
		SystemPromptMode: in.SystemPromptMode,
		MCPServers:       in.MCPServers,
	})
	if err != nil {
		return nil, session.Info{}, err
	}
	if s.auditStore != nil {
		if err := s.auditStore.RecordSessionCreated(info); err != nil {
			return nil, info, nil // session exists; audit failure is not fatal
		}
	}
	return nil, info, nil
}

type sessionIDInput struct {
	SessionID string `json:"session_id" jsonschema:"the session ID"`
}

type sessionGetOutput struct {
	Found   bool          `json:"found"`
	Session *session.Info `json:"session,omitempty"`
}

func (s *Server) handleSessionGet(ctx context.Context, req *mcp.CallToolRequest, in sessionIDInput) (*mcp.CallToolResult, sessionGetOutput, error) {
	info, ok := s.manager.GetInfo(in.SessionID)
	if !ok {
		return nil, sessionGetOutput{Found: false}, nil
	}
	return nil, sessionGetOutput{Found: true, Session: &info}, nil
}

type sessionListOutput struct {
	Sessions []session.Info `json:"sessions"`
	Count    int            `json:"count"`
}

func (s *Server) handleSessionList(ctx context.Context, req *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, sessionListOutput, error) {
	sessions := s.manager.List()
	return nil, sessionListOutput{Sessions: sessions, Count: len(sessions)}, nil
}

type sessionRemoveInput struct {
	SessionID     string `json:"session_id" jsonschema:"the session ID"`
	KeepDirectory bool   `json:"keep_directory,omitempty" jsonschema:"keep the working directory on disk"`
}

type sessionRemoveOutput struct {
	Removed bool `json:"removed"`
}

func (s *Server) handleSessionRemove(ctx context.Context, req *mcp.CallToolRequest, in sessionRemoveInput) (*mcp.CallToolResult, sessionRemoveOutput, error) {
	removed := s.manager.Remove(ctx, in.SessionID, in.KeepDirectory)
	if removed {
		s.streams.drop(in.SessionID)
		if s.auditStore != nil {
			_ = s.auditStore.RecordSessionRemoved(in.SessionID)
		}
	}
	return nil, sessionRemoveOutput{Removed: removed}, nil
}

type sessionRemoveAllInput struct {
	KeepDirectories bool `json:"keep_directories,omitempty"`
}

type sessionRemoveAllOutput struct {
	Removed int `json:"removed"`
}

func (s *Server) handleSessionRemoveAll(ctx context.Context, req *mcp.CallToolRequest, in sessionRemoveAllInput) (*mcp.CallToolResult, sessionRemoveAllOutput, error) {
	ids := make([]string, 0)
	for _, info := range s.manager.List() {
		ids = append(ids, info.ID)
	}
	count := s.manager.RemoveAll(ctx, in.KeepDirectories)
	for _, id := range ids {
		s.streams.drop(id)
		if s.auditStore != nil {
			_ = s.auditStore.RecordSessionRemoved(id)
		}
	}
	return nil, sessionRemoveAllOutput{Removed: count}, nil
}

type sessionExecuteInput struct {
	SessionID         string   `json:"session_id" jsonschema:"the session ID"`
	Prompt            string   `json:"prompt" jsonschema:"the command to execute"`
	ContinuationToken string   `json:"continuation_token,omitempty" jsonschema:"override the session's captured resume token"`
	OverrideTools     []string `json:"override_tools,omitempty" jsonschema:"extra allowed tool patterns for this call only"`
}

type sessionExecuteOutput struct {
	CommandID  string `json:"command_id"`
	SinceIndex int    `json:"since_index" jsonschema:"pass to session_events to read this command's events"`
}

func (s *Server) handleSessionExecute(ctx context.Context, req *mcp.CallToolRequest, in sessionExecuteInput) (*mcp.CallToolResult, sessionExecuteOutput, error) {
	if in.Prompt == "" {
		return nil, sessionExecuteOutput{}, fmt.Errorf("prompt is required")
	}

	sinceIndex := s.streams.buffer(in.SessionID).LastIndex()

	// The command outlives this RPC; detach from the request context.
	commandID, events, err := s.manager.Dispatch(context.Background(), in.SessionID, session.ExecuteOptions{
		Prompt:            in.Prompt,
		ContinuationToken: in.ContinuationToken,
		OverrideTools:     in.OverrideTools,
	})
	if err != nil {
		return nil, sessionExecuteOutput{}, err
	}

	s.streams.drain(in.SessionID, commandID, in.Prompt, events, s.auditStore)
	return nil, sessionExecuteOutput{CommandID: commandID, SinceIndex: sinceIndex}, nil
}

type sessionEventsInput struct {
	SessionID  string `json:"session_id" jsonschema:"the session ID"`
	SinceIndex int    `json:"since_index" jsonschema:"last index seen; -1 for all buffered events"`
}

type sessionEventsOutput struct {
	Events    []*session.BufferedEvent `json:"events"`
	LastIndex int                      `json:"last_index"`
}

func (s *Server) handleSessionEvents(ctx context.Context, req *mcp.CallToolRequest, in sessionEventsInput) (*mcp.CallToolResult, sessionEventsOutput, error) {
	buf, ok := s.streams.lookup(in.SessionID)
	if !ok {
		if _, exists := s.manager.GetInfo(in.SessionID); !exists {
			return nil, sessionEventsOutput{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, in.SessionID)
		}
		return nil, sessionEventsOutput{Events: []*session.BufferedEvent{}, LastIndex: -1}, nil
	}

	events, err := buf.After(in.SinceIndex)
	if err != nil {
		return nil, sessionEventsOutput{}, err
	}

	lastIndex := in.SinceIndex
	if len(events) > 0 {
		lastIndex = events[len(events)-1].Index
	}
	return nil, sessionEventsOutput{Events: events, LastIndex: lastIndex}, nil
}

type sessionCancelOutput struct {
	Cancelled bool `json:"cancelled"`
}

func (s *Server) handleSessionCancel(ctx context.Context, req *mcp.CallToolRequest, in sessionIDInput) (*mcp.CallToolResult, sessionCancelOutput, error) {
	return nil, sessionCancelOutput{Cancelled: s.manager.Cancel(in.SessionID)}, nil
}

type permissionRespondInput struct {
	RequestID    string   `json:"request_id" jsonschema:"ID from the permission_request event"`
	Decision     string   `json:"decision" jsonschema:"allow, allow_always or deny"`
	AllowedTools []string `json:"allowed_tools,omitempty" jsonschema:"patterns to grant for allow_always; defaults to the requested patterns"`
	Message      string   `json:"message,omitempty" jsonschema:"optional message for deny"`
}

type permissionRespondOutput struct {
	Resolved   bool   `json:"resolved"`
	Resolution string `json:"resolution,omitempty"`
}

func (s *Server) handlePermissionRespond(ctx context.Context, req *mcp.CallToolRequest, in permissionRespondInput) (*mcp.CallToolResult, permissionRespondOutput, error) {
	var decision session.Decision
	switch in.Decision {
	case string(session.DecisionAllow), string(session.DecisionAllowAlways), string(session.DecisionDeny):
		decision = session.Decision(in.Decision)
	default:
		return nil, permissionRespondOutput{}, fmt.Errorf("decision must be allow, allow_always or deny, got %q", in.Decision)
	}

	res, err := s.manager.RespondToPermission(ctx, in.RequestID, session.PermissionDecision{
		Decision:     decision,
		AllowedTools: in.AllowedTools,
		Message:      in.Message,
	})
	if err == session.ErrPermissionNotFound {
		return nil, permissionRespondOutput{Resolved: false}, nil
	}
	if err != nil {
		return nil, permissionRespondOutput{}, err
	}
	return nil, permissionRespondOutput{Resolved: true, Resolution: string(res)}, nil
}

type permissionListOutput struct {
	Pending []*session.PermissionRequest `json:"pending"`
}

func (s *Server) handlePermissionList(ctx context.Context, req *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, permissionListOutput, error) {
	pending := s.manager.PendingPermissions()
	if pending == nil {
		pending = []*session.PermissionRequest{}
	}
	return nil, permissionListOutput{Pending: pending}, nil
}

type transcriptExportOutput struct {
	Exported bool `json:"exported"`
	Entries  int  `json:"entries"`
}

func (s *Server) handleTranscriptExport(ctx context.Context, req *mcp.CallToolRequest, in sessionIDInput) (*mcp.CallToolResult, transcriptExportOutput, error) {
	rt, ok := s.manager.Get(in.SessionID)
	if !ok {
		return nil, transcriptExportOutput{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, in.SessionID)
	}
	if s.auditStore == nil {
		return nil, transcriptExportOutput{}, fmt.Errorf("audit store is disabled")
	}

	entries := rt.Transcript().Entries()
	if err := s.auditStore.ExportTranscript(in.SessionID, entries); err != nil {
		return nil, transcriptExportOutput{}, err
	}
	return nil, transcriptExportOutput{Exported: true, Entries: len(entries)}, nil
}

type transcriptClearOutput struct {
	Cleared bool `json:"cleared"`
}

func (s *Server) handleTranscriptClear(ctx context.Context, req *mcp.CallToolRequest, in sessionIDInput) (*mcp.CallToolResult, transcriptClearOutput, error) {
	rt, ok := s.manager.Get(in.SessionID)
	if !ok {
		return nil, transcriptClearOutput{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, in.SessionID)
	}
	rt.ClearTranscript()
	return nil, transcriptClearOutput{Cleared: true}, nil
}

type commandHistoryInput struct {
	SessionID string `json:"session_id" jsonschema:"the session ID"`
	Limit     int    `json:"limit,omitempty" jsonschema:"max records to return, default 50"`
}

type commandHistoryOutput struct {
	Commands []audit.CommandRecord `json:"commands"`
}

func (s *Server) handleCommandHistory(ctx context.Context, req *mcp.CallToolRequest, in commandHistoryInput) (*mcp.CallToolResult, commandHistoryOutput, error) {
	if s.auditStore == nil {
		return nil, commandHistoryOutput{}, fmt.Errorf("audit store is disabled")
	}
	records, err := s.auditStore.CommandHistory(in.SessionID, in.Limit)
	if err != nil {
		return nil, commandHistoryOutput{}, err
	}
	if records == nil {
		records = []audit.CommandRecord{}
	}
	return nil, commandHistoryOutput{Commands: records}, nil
}
