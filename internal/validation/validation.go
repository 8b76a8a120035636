// Package validation provides input validation for identifiers and paths.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	// sessRegex matches sess_YYYYMMDD_HHMMSS_RANDOMHEX identifiers generated
	// by the session manager.
	sessRegex = regexp.MustCompile(`^sess_\d{8}_\d{6}_[0-9a-fA-F]+$`)

	// nameRegex matches safe display names (letters, digits, dash, underscore, space)
	nameRegex = regexp.MustCompile(`^[a-zA-Z0-9 _.-]+$`)
)

// ValidateUUID checks if the string is a valid UUID.
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid UUID format: %s", id)
	}
	return nil
}

// ValidateSessionID validates a session ID (UUID or sess_* format).
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if strings.HasPrefix(id, "sess_") {
		if !sessRegex.MatchString(id) {
			return fmt.Errorf("invalid session ID format: %s", id)
		}
		return nil
	}
	return ValidateUUID(id)
}

// ValidateSessionName validates an optional session display name.
func ValidateSessionName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) > 128 {
		return fmt.Errorf("session name too long (max 128 characters)")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("session name contains invalid characters: %s", name)
	}
	return nil
}

// SanitizeDirName converts a display name into a safe directory name component.
// Returns an empty string if nothing safe remains.
func SanitizeDirName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '-', r == '.':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}

// ValidateWorkingDirectory checks a caller-supplied working directory path.
// The path must be absolute and free of traversal components.
func ValidateWorkingDirectory(path string) error {
	if path == "" {
		return fmt.Errorf("working directory cannot be empty")
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("working directory must be an absolute path: %s", path)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal detected: %s", path)
	}
	return nil
}
