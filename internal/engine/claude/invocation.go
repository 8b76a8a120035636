package claude

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/agentmux/agentmux/internal/engine"
	"github.com/agentmux/agentmux/internal/logger"
	"github.com/agentmux/agentmux/internal/sandbox"
)

// invocation is one live CLI process in stream-json mode.
type invocation struct {
	proc        *sandbox.Proc
	eventCh     chan *engine.Event
	errCh       chan error
	doneCh      chan struct{}
	resumeToken string
	requestSeq  atomic.Int64
	mu          sync.Mutex // guards stdin writes and closed/resumeToken
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
}

var _ engine.Invocation = (*invocation)(nil)

// eventChannelSize bounds the producer/consumer bridge so a stalled consumer
// back-pressures the reader instead of growing memory.
const eventChannelSize = 64

func newInvocation(ctx context.Context, proc *sandbox.Proc) *invocation {
	ctx, cancel := context.WithCancel(ctx)
	inv := &invocation{
		proc:    proc,
		eventCh: make(chan *engine.Event, eventChannelSize),
		errCh:   make(chan error, 1),
		doneCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go inv.readEvents()
	return inv
}

func (i *invocation) Events() <-chan *engine.Event { return i.eventCh }
func (i *invocation) Errors() <-chan error         { return i.errCh }
func (i *invocation) Done() <-chan struct{}        { return i.doneCh }

// ResumeToken returns the engine session ID captured from the init event.
func (i *invocation) ResumeToken() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.resumeToken
}

func (i *invocation) setResumeToken(token string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.resumeToken == "" {
		i.resumeToken = token
	}
}

// sendUserMessage writes the prompt frame to the engine's stdin.
func (i *invocation) sendUserMessage(prompt string) error {
	data, err := encodeUserMessage(prompt)
	if err != nil {
		return err
	}
	return i.write(data)
}

// Respond answers a pending control_request. The stream-json protocol is
// bidirectional, so decisions continue the call in place.
func (i *invocation) Respond(requestID string, decision engine.ControlDecision) error {
	data, err := encodeControlResponse(requestID, decision)
	if err != nil {
		return err
	}
	return i.write(data)
}

// Interrupt asks the engine to stop the current turn.
func (i *invocation) Interrupt() error {
	id := fmt.Sprintf("agentmux-%d", i.requestSeq.Add(1))
	data, err := encodeInterruptRequest(id)
	if err != nil {
		return err
	}
	return i.write(data)
}

func (i *invocation) write(data []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return fmt.Errorf("invocation is closed")
	}
	if _, err := i.proc.Stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to engine stdin: %w", err)
	}
	return nil
}

// Close tears down the invocation and its process.
func (i *invocation) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	i.cancel()
	_ = i.proc.Close()
	_ = i.proc.Kill()
	return nil
}

// readEvents reads NDJSON frames from the engine's stdout until it exits.
func (i *invocation) readEvents() {
	defer close(i.eventCh)
	defer close(i.doneCh)

	scanner := bufio.NewScanner(i.proc.Stdout)
	const maxScanTokenSize = 4 * 1024 * 1024
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxScanTokenSize)

	for scanner.Scan() {
		select {
		case <-i.ctx.Done():
			return
		default:
		}

		ev := parseEvent(scanner.Bytes())
		if ev == nil {
			continue
		}

		if ev.Type == engine.EventSystem && ev.Subtype == engine.SubtypeInit && ev.SessionID != "" {
			i.setResumeToken(ev.SessionID)
		}

		select {
		case i.eventCh <- ev:
		case <-i.ctx.Done():
			return
		}

		if ev.IsTerminal() {
			// The CLI exits after the result frame; stop reading so the
			// consumer sees a prompt close.
			go func() { _, _ = i.proc.Wait() }()
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case i.errCh <- fmt.Errorf("engine stream error: %w", err):
		default:
		}
		logger.Slog().Error("engine stream scanner failed", "error", err)
	}
}
