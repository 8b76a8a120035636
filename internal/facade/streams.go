package facade

import (
	"sync"
	"time"

	"github.com/agentmux/agentmux/internal/audit"
	"github.com/agentmux/agentmux/internal/logger"
	"github.com/agentmux/agentmux/internal/session"
)

// streamTracker drains command event streams into per-session ring buffers
// so remote callers can poll with since_index across disconnects.
type streamTracker struct {
	bufferSize int
	mu         sync.Mutex
	buffers    map[string]*session.EventBuffer
	wg         sync.WaitGroup
}

func newStreamTracker(bufferSize int) *streamTracker {
	if bufferSize <= 0 {
		bufferSize = session.DefaultEventBufferSize
	}
	return &streamTracker{
		bufferSize: bufferSize,
		buffers:    make(map[string]*session.EventBuffer),
	}
}

// buffer returns (creating if needed) the event buffer for a session.
func (t *streamTracker) buffer(sessionID string) *session.EventBuffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf, ok := t.buffers[sessionID]
	if !ok {
		buf = session.NewEventBuffer(sessionID, t.bufferSize)
		t.buffers[sessionID] = buf
	}
	return buf
}

// lookup returns the buffer for a session without creating one.
func (t *streamTracker) lookup(sessionID string) (*session.EventBuffer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf, ok := t.buffers[sessionID]
	return buf, ok
}

// drop discards a session's buffer on removal.
func (t *streamTracker) drop(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buffers, sessionID)
}

// drain consumes one command's stream into the session buffer and records
// the command in the audit store once the stream terminates.
func (t *streamTracker) drain(sessionID, commandID, prompt string, events <-chan session.Event, store *audit.Store) {
	buf := t.buffer(sessionID)
	start := time.Now()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		outcome := "done"
		numTurns := 0
		for ev := range events {
			e := ev
			buf.Append(&e)
			switch ev.Type {
			case session.EventAborted:
				outcome = "aborted"
			case session.EventError:
				outcome = "error"
			case session.EventEngine:
				if ev.Engine != nil && ev.Engine.IsTerminal() {
					numTurns = ev.Engine.NumTurns
				}
			}
		}

		if store == nil {
			return
		}
		rec := audit.CommandRecord{
			ID:         commandID,
			SessionID:  sessionID,
			Prompt:     prompt,
			Outcome:    outcome,
			NumTurns:   numTurns,
			DurationMs: time.Since(start).Milliseconds(),
			StartedAt:  start,
		}
		if err := store.RecordCommand(rec); err != nil {
			logger.Slog().Warn("failed to record command",
				"session_id", sessionID, "command_id", commandID, "error", err)
		}
	}()
}

// wait blocks until all drain goroutines finish. Used on shutdown.
func (t *streamTracker) wait() {
	t.wg.Wait()
}
