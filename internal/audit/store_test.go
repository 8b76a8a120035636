package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmux/agentmux/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "audit", "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordSessionLifecycle(t *testing.T) {
	store := newTestStore(t)

	info := session.Info{
		ID:               "sess_1",
		Name:             "review",
		WorkingDirectory: "/tmp/review",
		CapabilityMode:   "standard",
		CreatedAt:        time.Now(),
	}
	if err := store.RecordSessionCreated(info); err != nil {
		t.Fatalf("RecordSessionCreated failed: %v", err)
	}
	if err := store.RecordSessionRemoved("sess_1"); err != nil {
		t.Fatalf("RecordSessionRemoved failed: %v", err)
	}

	// Removal of an unknown session is a no-op, not an error.
	if err := store.RecordSessionRemoved("missing"); err != nil {
		t.Errorf("RecordSessionRemoved for unknown id failed: %v", err)
	}
}

func TestRecordCommandAndHistory(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, outcome := range []string{"completed", "aborted", "error"} {
		rec := CommandRecord{
			ID:         "cmd_" + outcome,
			SessionID:  "sess_1",
			Prompt:     "do the thing",
			Outcome:    outcome,
			NumTurns:   i + 1,
			DurationMs: int64(100 * (i + 1)),
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.RecordCommand(rec); err != nil {
			t.Fatalf("RecordCommand failed: %v", err)
		}
	}

	history, err := store.CommandHistory("sess_1", 0)
	if err != nil {
		t.Fatalf("CommandHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history = %d records, want 3", len(history))
	}
	// Newest first.
	if history[0].Outcome != "error" || history[2].Outcome != "completed" {
		t.Errorf("history order: %s .. %s", history[0].Outcome, history[2].Outcome)
	}
	if history[0].NumTurns != 3 || history[0].DurationMs != 300 {
		t.Errorf("record fields: %+v", history[0])
	}

	limited, err := store.CommandHistory("sess_1", 2)
	if err != nil {
		t.Fatalf("CommandHistory with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited history = %d records, want 2", len(limited))
	}

	empty, err := store.CommandHistory("sess_unknown", 0)
	if err != nil {
		t.Fatalf("CommandHistory for unknown session failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown session history = %d records", len(empty))
	}
}

func TestExportTranscriptRoundTrip(t *testing.T) {
	store := newTestStore(t)

	entries := []session.TranscriptEntry{
		{Kind: session.EntryUser, Text: "fix the bug", Timestamp: time.Now().Add(-2 * time.Minute)},
		{Kind: session.EntryEngine, Text: "done", Timestamp: time.Now().Add(-time.Minute)},
	}
	if err := store.ExportTranscript("sess_1", entries); err != nil {
		t.Fatalf("ExportTranscript failed: %v", err)
	}

	got, err := store.Transcript("sess_1")
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("transcript = %d entries, want 2", len(got))
	}
	if got[0].Kind != session.EntryUser || got[0].Text != "fix the bug" {
		t.Errorf("first entry = %+v", got[0])
	}
	if got[1].Kind != session.EntryEngine {
		t.Errorf("second entry = %+v", got[1])
	}
}

func TestExportTranscriptReplacesPrior(t *testing.T) {
	store := newTestStore(t)

	first := []session.TranscriptEntry{
		{Kind: session.EntryUser, Text: "one", Timestamp: time.Now()},
		{Kind: session.EntryEngine, Text: "two", Timestamp: time.Now()},
	}
	if err := store.ExportTranscript("sess_1", first); err != nil {
		t.Fatal(err)
	}

	second := []session.TranscriptEntry{
		{Kind: session.EntryUser, Text: "only", Timestamp: time.Now()},
	}
	if err := store.ExportTranscript("sess_1", second); err != nil {
		t.Fatal(err)
	}

	got, err := store.Transcript("sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Text != "only" {
		t.Errorf("transcript after re-export = %+v", got)
	}
}

func TestTranscriptUnknownSession(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Transcript("missing")
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("transcript = %d entries, want 0", len(got))
	}
}
