package engine

// Event kinds produced by engine backends. Backends map their native wire
// format onto these constants; unknown kinds pass through with the native
// type string so callers can still log and forward them.
const (
	EventSystem         = "system"
	EventAssistant      = "assistant"
	EventUser           = "user"
	EventResult         = "result"
	EventControlRequest = "control_request"
)

// Subtypes carried on events.
const (
	SubtypeInit       = "init"
	SubtypeCanUseTool = "can_use_tool"
)

// Event is one structured message from the engine. Raw always carries the
// full decoded payload; the named fields are conveniences extracted during
// parsing.
type Event struct {
	Type      string         `json:"type"`
	Subtype   string         `json:"subtype,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`

	// Gated-action fields, set when Type is EventControlRequest with
	// Subtype SubtypeCanUseTool.
	RequestID   string         `json:"request_id,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolInput   map[string]any `json:"tool_input,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`

	// Assistant/result conveniences.
	Text       string `json:"text,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	NumTurns   int    `json:"num_turns,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty"`
}

// IsGatedAction reports whether the event is a gated-action signal that
// requires caller approval before the engine can proceed.
func (e *Event) IsGatedAction() bool {
	return e.Type == EventControlRequest && e.Subtype == SubtypeCanUseTool
}

// IsTerminal reports whether the event ends the engine call.
func (e *Event) IsTerminal() bool {
	return e.Type == EventResult
}
