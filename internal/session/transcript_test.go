package session

import "testing"

func TestTranscriptAppendOrder(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("first prompt")
	tr.AppendEngine(map[string]any{"type": "assistant"}, "reply")
	tr.AppendUser("second prompt")

	entries := tr.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Kind != EntryUser || entries[1].Kind != EntryEngine || entries[2].Kind != EntryUser {
		t.Errorf("unexpected entry kinds: %v %v %v", entries[0].Kind, entries[1].Kind, entries[2].Kind)
	}
}

func TestTranscriptEntriesReturnsCopy(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("prompt")

	entries := tr.Entries()
	entries[0].Text = "mutated"

	if tr.Entries()[0].Text != "prompt" {
		t.Error("Entries exposed internal state")
	}
}

func TestTranscriptResumeToken(t *testing.T) {
	tr := NewTranscript()
	if tr.ResumeToken() != "" {
		t.Error("fresh transcript has a resume token")
	}

	tr.SetResumeToken("conv-1")
	if tr.ResumeToken() != "conv-1" {
		t.Errorf("ResumeToken = %q", tr.ResumeToken())
	}

	// Empty tokens never overwrite a captured one.
	tr.SetResumeToken("")
	if tr.ResumeToken() != "conv-1" {
		t.Error("empty token overwrote the captured one")
	}
}

func TestTranscriptClearInvalidatesToken(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("prompt")
	tr.SetResumeToken("conv-1")

	tr.Clear()

	if tr.Len() != 0 {
		t.Errorf("Len after clear = %d", tr.Len())
	}
	if tr.ResumeToken() != "" {
		t.Error("resume token survived clear")
	}
}
