package session

import (
	"sync"
	"time"
)

// EntryKind distinguishes transcript entry origins.
type EntryKind string

const (
	EntryUser   EntryKind = "user"
	EntryEngine EntryKind = "engine"
)

// TranscriptEntry is one exchanged message in a session's conversation log.
type TranscriptEntry struct {
	Kind      EntryKind      `json:"kind"`
	Text      string         `json:"text,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Transcript is the append-only conversation log for one session. It also
// owns the engine resume token, since clearing the log must invalidate it.
type Transcript struct {
	entries     []TranscriptEntry
	resumeToken string
	mu          sync.RWMutex
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// AppendUser records a dispatched prompt.
func (t *Transcript) AppendUser(prompt string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TranscriptEntry{
		Kind:      EntryUser,
		Text:      prompt,
		Timestamp: time.Now(),
	})
}

// AppendEngine records a raw engine event.
func (t *Transcript) AppendEngine(raw map[string]any, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TranscriptEntry{
		Kind:      EntryEngine,
		Text:      text,
		Raw:       raw,
		Timestamp: time.Now(),
	})
}

// Entries returns a copy of the log.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// ResumeToken returns the engine conversation handle captured from the most
// recent execution, or empty when no context exists.
func (t *Transcript) ResumeToken() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resumeToken
}

// SetResumeToken records the engine conversation handle.
func (t *Transcript) SetResumeToken(token string) {
	if token == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumeToken = token
}

// Clear drops all entries and invalidates the resume token, forcing a fresh
// engine context on the next command.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.resumeToken = ""
}
