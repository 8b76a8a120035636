package session

import (
	"testing"
)

func bufferEvent(text string) *Event {
	return &Event{Type: EventEngine, Display: text}
}

func TestEventBufferAppendAndAfter(t *testing.T) {
	buf := NewEventBuffer("s1", 10)

	for i, text := range []string{"a", "b", "c"} {
		if idx := buf.Append(bufferEvent(text)); idx != i {
			t.Errorf("Append(%q) index = %d, want %d", text, idx, i)
		}
	}

	all, err := buf.After(-1)
	if err != nil {
		t.Fatalf("After(-1) failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("After(-1) = %d events, want 3", len(all))
	}

	rest, err := buf.After(0)
	if err != nil {
		t.Fatalf("After(0) failed: %v", err)
	}
	if len(rest) != 2 || rest[0].Event.Display != "b" {
		t.Fatalf("After(0) = %+v, want [b c]", rest)
	}

	none, err := buf.After(2)
	if err != nil {
		t.Fatalf("After(2) failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("After(2) = %d events, want 0", len(none))
	}
}

func TestEventBufferOverflowPurgesOldest(t *testing.T) {
	buf := NewEventBuffer("s1", 3)

	for i := 0; i < 5; i++ {
		buf.Append(bufferEvent("e"))
	}

	if buf.Len() != 3 {
		t.Errorf("Len = %d, want 3", buf.Len())
	}
	if buf.DroppedEvents() != 2 {
		t.Errorf("DroppedEvents = %d, want 2", buf.DroppedEvents())
	}
	if buf.LastIndex() != 4 {
		t.Errorf("LastIndex = %d, want 4", buf.LastIndex())
	}

	// Indices 0 and 1 were purged; polling from before the window errors.
	if _, err := buf.After(0); err == nil {
		t.Error("After(0) should fail after purge")
	}

	// Polling from inside the window still works.
	events, err := buf.After(2)
	if err != nil {
		t.Fatalf("After(2) failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("After(2) = %d events, want 2", len(events))
	}
}

func TestEventBufferEmpty(t *testing.T) {
	buf := NewEventBuffer("s1", 10)
	if buf.LastIndex() != -1 {
		t.Errorf("LastIndex of empty buffer = %d, want -1", buf.LastIndex())
	}
	events, err := buf.After(-1)
	if err != nil || len(events) != 0 {
		t.Errorf("After(-1) on empty = (%v, %v)", events, err)
	}
}

func TestEventBufferStats(t *testing.T) {
	buf := NewEventBuffer("s1", 2)
	buf.Append(bufferEvent("a"))
	buf.Append(bufferEvent("b"))
	buf.Append(bufferEvent("c"))

	stats := buf.Stats()
	if stats.SessionID != "s1" {
		t.Errorf("SessionID = %q", stats.SessionID)
	}
	if stats.CurrentSize != 2 || stats.StartIndex != 1 || stats.LastIndex != 2 || stats.DroppedEvents != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
