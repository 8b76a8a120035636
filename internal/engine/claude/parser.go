package claude

import (
	"encoding/json"
	"time"

	"github.com/agentmux/agentmux/internal/engine"
)

// parseEvent decodes one NDJSON line from the CLI into an engine.Event.
// Returns nil for blank lines and frames that are not engine events
// (e.g. control_response echoes).
func parseEvent(line []byte) *engine.Event {
	if len(line) == 0 {
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		// Non-JSON noise on stdout (engine warnings); skip.
		return nil
	}

	typ, _ := raw["type"].(string)
	if typ == "" || typ == "control_response" {
		return nil
	}

	ev := &engine.Event{
		Type:      typ,
		Raw:       raw,
		Timestamp: time.Now().UnixMilli(),
	}
	if subtype, ok := raw["subtype"].(string); ok {
		ev.Subtype = subtype
	}
	if sid, ok := raw["session_id"].(string); ok {
		ev.SessionID = sid
	}

	switch typ {
	case engine.EventAssistant:
		ev.Text = extractMessageText(raw)
	case engine.EventResult:
		if text, ok := raw["result"].(string); ok {
			ev.Text = text
		}
		if isErr, ok := raw["is_error"].(bool); ok {
			ev.IsError = isErr
		}
		if n, ok := raw["num_turns"].(float64); ok {
			ev.NumTurns = int(n)
		}
		if d, ok := raw["duration_ms"].(float64); ok {
			ev.DurationMs = int(d)
		}
	case engine.EventControlRequest:
		parseControlRequest(raw, ev)
	}

	return ev
}

// parseControlRequest extracts gated-action fields from a control_request
// frame.
func parseControlRequest(raw map[string]any, ev *engine.Event) {
	if rid, ok := raw["request_id"].(string); ok {
		ev.RequestID = rid
	}
	req, ok := raw["request"].(map[string]any)
	if !ok {
		return
	}
	if subtype, ok := req["subtype"].(string); ok {
		ev.Subtype = subtype
	}
	if ev.Subtype != engine.SubtypeCanUseTool {
		return
	}
	if tn, ok := req["tool_name"].(string); ok {
		ev.ToolName = tn
	}
	if input, ok := req["input"].(map[string]any); ok {
		ev.ToolInput = input
	}
	if suggestions, ok := req["permission_suggestions"].([]any); ok {
		for _, s := range suggestions {
			ev.Suggestions = append(ev.Suggestions, suggestionPattern(s))
		}
	}
	// Fall back to the bare tool name so callers always have a pattern to
	// allow permanently.
	if len(ev.Suggestions) == 0 && ev.ToolName != "" {
		ev.Suggestions = []string{ev.ToolName}
	}
}

// suggestionPattern renders one permission suggestion as a tool pattern
// string. Suggestions arrive either as plain strings or as structured
// {toolName, ruleContent} objects.
func suggestionPattern(s any) string {
	switch v := s.(type) {
	case string:
		return v
	case map[string]any:
		tool, _ := v["toolName"].(string)
		if tool == "" {
			if rules, ok := v["rules"].([]any); ok && len(rules) > 0 {
				if rule, ok := rules[0].(map[string]any); ok {
					tool, _ = rule["toolName"].(string)
					if content, ok := rule["ruleContent"].(string); ok && content != "" {
						return tool + "(" + content + ")"
					}
				}
			}
			return ""
		}
		if content, ok := v["ruleContent"].(string); ok && content != "" {
			return tool + "(" + content + ")"
		}
		return tool
	default:
		return ""
	}
}

// extractMessageText pulls the concatenated text blocks out of an assistant
// message frame.
func extractMessageText(raw map[string]any) string {
	msg, ok := raw["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, ok := msg["content"].([]any)
	if !ok {
		return ""
	}
	var text string
	for _, block := range content {
		b, ok := block.(map[string]any)
		if !ok {
			continue
		}
		if bt, _ := b["type"].(string); bt == "text" {
			if t, ok := b["text"].(string); ok {
				if text != "" {
					text += "\n"
				}
				text += t
			}
		}
	}
	return text
}
