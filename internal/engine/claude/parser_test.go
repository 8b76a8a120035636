package claude

import (
	"testing"

	"github.com/agentmux/agentmux/internal/engine"
)

func TestParseEventSkipsNoise(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty line", ""},
		{"non-json", "warning: something on stdout"},
		{"missing type", `{"foo":"bar"}`},
		{"control response echo", `{"type":"control_response","response":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ev := parseEvent([]byte(tt.line)); ev != nil {
				t.Errorf("parseEvent(%q) = %+v, want nil", tt.line, ev)
			}
		})
	}
}

func TestParseInitEvent(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"abc-123","model":"sonnet"}`
	ev := parseEvent([]byte(line))
	if ev == nil {
		t.Fatal("parseEvent returned nil")
	}
	if ev.Type != engine.EventSystem || ev.Subtype != engine.SubtypeInit {
		t.Errorf("type/subtype = %s/%s", ev.Type, ev.Subtype)
	}
	if ev.SessionID != "abc-123" {
		t.Errorf("SessionID = %q", ev.SessionID)
	}
}

func TestParseAssistantEvent(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hello"},{"type":"tool_use","name":"Read"},{"type":"text","text":"world"}]}}`
	ev := parseEvent([]byte(line))
	if ev == nil {
		t.Fatal("parseEvent returned nil")
	}
	if ev.Text != "hello\nworld" {
		t.Errorf("Text = %q, want %q", ev.Text, "hello\nworld")
	}
}

func TestParseResultEvent(t *testing.T) {
	line := `{"type":"result","subtype":"success","result":"done!","is_error":false,"num_turns":3,"duration_ms":4200,"session_id":"abc-123"}`
	ev := parseEvent([]byte(line))
	if ev == nil {
		t.Fatal("parseEvent returned nil")
	}
	if !ev.IsTerminal() {
		t.Error("result event not terminal")
	}
	if ev.Text != "done!" || ev.IsError || ev.NumTurns != 3 || ev.DurationMs != 4200 {
		t.Errorf("unexpected fields: %+v", ev)
	}
}

func TestParseControlRequestStringSuggestions(t *testing.T) {
	line := `{"type":"control_request","request_id":"req-7","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"npm install"},"permission_suggestions":["Bash(npm:*)"]}}`
	ev := parseEvent([]byte(line))
	if ev == nil {
		t.Fatal("parseEvent returned nil")
	}
	if !ev.IsGatedAction() {
		t.Fatal("control_request/can_use_tool not detected as gated action")
	}
	if ev.RequestID != "req-7" || ev.ToolName != "Bash" {
		t.Errorf("request fields: %+v", ev)
	}
	if len(ev.Suggestions) != 1 || ev.Suggestions[0] != "Bash(npm:*)" {
		t.Errorf("Suggestions = %v", ev.Suggestions)
	}
	if cmd, _ := ev.ToolInput["command"].(string); cmd != "npm install" {
		t.Errorf("ToolInput = %v", ev.ToolInput)
	}
}

func TestParseControlRequestStructuredSuggestions(t *testing.T) {
	line := `{"type":"control_request","request_id":"req-8","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{},"permission_suggestions":[{"toolName":"Bash","ruleContent":"go test:*"}]}}`
	ev := parseEvent([]byte(line))
	if ev == nil {
		t.Fatal("parseEvent returned nil")
	}
	if len(ev.Suggestions) != 1 || ev.Suggestions[0] != "Bash(go test:*)" {
		t.Errorf("Suggestions = %v", ev.Suggestions)
	}
}

func TestParseControlRequestNoSuggestionsFallsBackToToolName(t *testing.T) {
	line := `{"type":"control_request","request_id":"req-9","request":{"subtype":"can_use_tool","tool_name":"WebFetch","input":{}}}`
	ev := parseEvent([]byte(line))
	if ev == nil {
		t.Fatal("parseEvent returned nil")
	}
	if len(ev.Suggestions) != 1 || ev.Suggestions[0] != "WebFetch" {
		t.Errorf("Suggestions = %v, want [WebFetch]", ev.Suggestions)
	}
}

func TestParseControlRequestOtherSubtypeNotGated(t *testing.T) {
	line := `{"type":"control_request","request_id":"req-10","request":{"subtype":"hook_callback"}}`
	ev := parseEvent([]byte(line))
	if ev == nil {
		t.Fatal("parseEvent returned nil")
	}
	if ev.IsGatedAction() {
		t.Error("non-can_use_tool control_request detected as gated action")
	}
}
