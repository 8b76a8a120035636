package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DisplayMessage renders a compact single-line summary of an event for
// human-facing stream consumers. Returns an empty string for events that
// have no useful display form.
func DisplayMessage(e *Event) string {
	switch e.Type {
	case EventSystem:
		if e.Subtype == SubtypeInit {
			return fmt.Sprintf("[init] session %s", e.SessionID)
		}
		return ""
	case EventAssistant:
		if e.Text == "" {
			return ""
		}
		return truncate(e.Text, 500)
	case EventUser:
		// Tool results echoed back by the engine; too noisy to display.
		return ""
	case EventResult:
		if e.IsError {
			return fmt.Sprintf("[error] %s", truncate(e.Text, 200))
		}
		return fmt.Sprintf("[done] %d turns, %dms", e.NumTurns, e.DurationMs)
	case EventControlRequest:
		if e.Subtype == SubtypeCanUseTool {
			return fmt.Sprintf("[permission] %s requested (%s)", e.ToolName, strings.Join(e.Suggestions, ", "))
		}
		return ""
	default:
		return ""
	}
}

// truncate shortens s to at most max bytes, backing up so a multi-byte
// rune is never split.
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
