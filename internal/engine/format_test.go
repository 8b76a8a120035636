package engine

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDisplayMessageAssistantTruncation(t *testing.T) {
	text := strings.Repeat("漢", 200) // 600 bytes, past the 500-byte cap
	got := DisplayMessage(&Event{Type: EventAssistant, Text: text})
	if !utf8.ValidString(got) {
		t.Fatalf("truncated display is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long text not truncated: %d bytes", len(got))
	}
}

func TestTruncateRuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short unchanged", "hello", 10, "hello"},
		{"ascii cut", "hello world", 5, "hello..."},
		{"multi-byte backs up", "aé", 2, "a..."},
		{"exact boundary kept", "aé", 3, "aé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.max); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}
