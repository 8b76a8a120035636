package session

import (
	"reflect"
	"testing"
)

func TestPatternCovers(t *testing.T) {
	tests := []struct {
		name      string
		allowed   string
		requested string
		want      bool
	}{
		{"bare tool exact", "Read", "Read", true},
		{"bare tool covers scoped", "Bash", "Bash(rm -rf /)", true},
		{"different tools", "Read", "Write", false},
		{"scoped exact", "Bash(npm:*)", "Bash(npm:*)", true},
		{"glob covers narrower", "Bash(npm:*)", "Bash(npm:install)", true},
		{"glob rejects other command", "Bash(npm:*)", "Bash(rm:-rf)", false},
		{"scoped does not cover bare", "Bash(npm:*)", "Bash", false},
		{"double star", "Read(/workspace/**)", "Read(/workspace/src/main.go)", true},
		{"double star outside", "Read(/workspace/**)", "Read(/etc/passwd)", false},
		{"mcp tool name", "mcp__docs__search", "mcp__docs__search", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := patternCovers(tt.allowed, tt.requested); got != tt.want {
				t.Errorf("patternCovers(%q, %q) = %v, want %v", tt.allowed, tt.requested, got, tt.want)
			}
		})
	}
}

func TestCoveredByAllowList(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		requested []string
		want      bool
	}{
		{"all covered", []string{"Read", "Bash(npm:*)"}, []string{"Bash(npm:install)"}, true},
		{"one uncovered", []string{"Read"}, []string{"Read", "Write"}, false},
		{"empty request", []string{"Read"}, nil, false},
		{"empty allow list", nil, []string{"Read"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CoveredByAllowList(tt.allowList, tt.requested); got != tt.want {
				t.Errorf("CoveredByAllowList(%v, %v) = %v, want %v", tt.allowList, tt.requested, got, tt.want)
			}
		})
	}
}

func TestUnionTools(t *testing.T) {
	got := unionTools([]string{"Read", "Write"}, []string{"Write", "Bash", ""})
	want := []string{"Read", "Write", "Bash"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unionTools = %v, want %v", got, want)
	}
}

func TestParseToolPattern(t *testing.T) {
	tests := []struct {
		in       string
		wantTool string
		wantRule string
	}{
		{"Bash", "Bash", ""},
		{"Bash(npm:*)", "Bash", "npm:*"},
		{"Read(/tmp/**)", "Read", "/tmp/**"},
		{"Weird(unclosed", "Weird(unclosed", ""},
	}
	for _, tt := range tests {
		p := parseToolPattern(tt.in)
		if p.tool != tt.wantTool || p.rule != tt.wantRule {
			t.Errorf("parseToolPattern(%q) = {%q %q}, want {%q %q}", tt.in, p.tool, p.rule, tt.wantTool, tt.wantRule)
		}
	}
}
