package validation

import "testing"

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"sess_20250815_143022_a1b2c3d4", false},
		{"550e8400-e29b-41d4-a716-446655440000", false},
		{"", true},
		{"sess_bogus", true},
		{"sess_20250815_143022_", true},
		{"not-a-uuid", true},
		{"../etc/passwd", true},
	}
	for _, tt := range tests {
		err := ValidateSessionID(tt.id)
		if tt.wantErr && err == nil {
			t.Errorf("ValidateSessionID(%q) succeeded, want error", tt.id)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("ValidateSessionID(%q) failed: %v", tt.id, err)
		}
	}
}

func TestValidateSessionName(t *testing.T) {
	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name    string
		wantErr bool
	}{
		{"", false},
		{"code review", false},
		{"feature_branch-2.0", false},
		{string(long), true},
		{"bad/name", true},
		{"rm -rf; echo", true},
	}
	for _, tt := range tests {
		err := ValidateSessionName(tt.name)
		if tt.wantErr && err == nil {
			t.Errorf("ValidateSessionName(%q) succeeded, want error", tt.name)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("ValidateSessionName(%q) failed: %v", tt.name, err)
		}
	}
}

func TestSanitizeDirName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Code Review", "code-review"},
		{"feature_branch", "feature-branch"},
		{"...dots...", "dots"},
		{"!!!", ""},
		{"Mixed 123 Name", "mixed-123-name"},
	}
	for _, tt := range tests {
		if got := SanitizeDirName(tt.in); got != tt.want {
			t.Errorf("SanitizeDirName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateWorkingDirectory(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/srv/sessions/review", false},
		{"", true},
		{"relative/path", true},
		{"/srv/../etc", true},
	}
	for _, tt := range tests {
		err := ValidateWorkingDirectory(tt.path)
		if tt.wantErr && err == nil {
			t.Errorf("ValidateWorkingDirectory(%q) succeeded, want error", tt.path)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("ValidateWorkingDirectory(%q) failed: %v", tt.path, err)
		}
	}
}
