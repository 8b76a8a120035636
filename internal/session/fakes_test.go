package session

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/agentmux/agentmux/internal/engine"
	"github.com/agentmux/agentmux/internal/sandbox"
)

// fakeBoundary is an in-memory isolation boundary for tests.
type fakeBoundary struct {
	workDir  string
	mode     sandbox.Mode
	mu       sync.Mutex
	released bool
}

func (b *fakeBoundary) Provision(ctx context.Context) error {
	return os.MkdirAll(b.workDir, 0o755)
}

func (b *fakeBoundary) Exec(ctx context.Context, spec sandbox.ExecSpec) (*sandbox.Proc, error) {
	panic("fakeBoundary.Exec should not be called; the fake engine bypasses it")
}

func (b *fakeBoundary) Release(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	return nil
}

func (b *fakeBoundary) Mode() sandbox.Mode { return b.mode }
func (b *fakeBoundary) WorkingDir() string { return b.workDir }
func (b *fakeBoundary) wasReleased() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// failingBoundary always fails to provision.
type failingBoundary struct{ fakeBoundary }

func (b *failingBoundary) Provision(ctx context.Context) error {
	return &sandbox.ProvisioningError{Reason: "out of resources"}
}

// fakeInvocation plays a scripted event sequence. A nil entry in the script
// blocks until the invocation is closed, simulating a long-running call.
type fakeInvocation struct {
	events      chan *engine.Event
	errs        chan error
	done        chan struct{}
	gate        chan engine.ControlDecision
	closeCh     chan struct{}
	closeOnce   sync.Once
	respondErr  error
	resumeToken string

	mu          sync.Mutex
	decisions   []engine.ControlDecision
	interrupted bool
}

func newFakeInvocation(resumeToken string, respondErr error, script []*engine.Event) *fakeInvocation {
	inv := &fakeInvocation{
		events:      make(chan *engine.Event),
		errs:        make(chan error, 1),
		done:        make(chan struct{}),
		gate:        make(chan engine.ControlDecision, 1),
		closeCh:     make(chan struct{}),
		respondErr:  respondErr,
		resumeToken: resumeToken,
	}
	go func() {
		defer close(inv.done)
		defer close(inv.events)
		for _, ev := range script {
			if ev == nil {
				<-inv.closeCh
				return
			}
			select {
			case inv.events <- ev:
			case <-inv.closeCh:
				return
			}
			if ev.IsGatedAction() {
				select {
				case <-inv.gate:
				case <-inv.closeCh:
					return
				}
			}
		}
	}()
	return inv
}

func (i *fakeInvocation) Events() <-chan *engine.Event { return i.events }
func (i *fakeInvocation) Errors() <-chan error         { return i.errs }
func (i *fakeInvocation) Done() <-chan struct{}        { return i.done }
func (i *fakeInvocation) ResumeToken() string          { return i.resumeToken }

func (i *fakeInvocation) Respond(requestID string, decision engine.ControlDecision) error {
	i.mu.Lock()
	i.decisions = append(i.decisions, decision)
	i.mu.Unlock()
	if i.respondErr != nil {
		return i.respondErr
	}
	i.gate <- decision
	return nil
}

func (i *fakeInvocation) Interrupt() error {
	i.mu.Lock()
	i.interrupted = true
	i.mu.Unlock()
	return nil
}

func (i *fakeInvocation) Close() error {
	i.closeOnce.Do(func() { close(i.closeCh) })
	return nil
}

func (i *fakeInvocation) recordedDecisions() []engine.ControlDecision {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]engine.ControlDecision(nil), i.decisions...)
}

// fakeEngine returns one scripted invocation per Invoke call.
type fakeEngine struct {
	mu          sync.Mutex
	script      []*engine.Event
	respondErr  error
	resumeToken string
	invokeErr   error
	invocations []*fakeInvocation
	requests    []*engine.InvokeRequest
}

func (e *fakeEngine) Invoke(ctx context.Context, req *engine.InvokeRequest) (engine.Invocation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.invokeErr != nil {
		return nil, e.invokeErr
	}
	e.requests = append(e.requests, req)
	inv := newFakeInvocation(e.resumeToken, e.respondErr, e.script)
	e.invocations = append(e.invocations, inv)
	return inv, nil
}

func (e *fakeEngine) Ping(ctx context.Context) error { return nil }
func (e *fakeEngine) Close() error                   { return nil }

func (e *fakeEngine) lastInvocation() *fakeInvocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.invocations) == 0 {
		return nil
	}
	return e.invocations[len(e.invocations)-1]
}

func (e *fakeEngine) lastRequest() *engine.InvokeRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.requests) == 0 {
		return nil
	}
	return e.requests[len(e.requests)-1]
}

// Scripted event constructors.

func assistantEvent(text string) *engine.Event {
	return &engine.Event{Type: engine.EventAssistant, Text: text}
}

func resultEvent(isError bool, text string) *engine.Event {
	return &engine.Event{Type: engine.EventResult, IsError: isError, Text: text, NumTurns: 1}
}

func gatedEvent(requestID, tool string, patterns ...string) *engine.Event {
	return &engine.Event{
		Type:        engine.EventControlRequest,
		Subtype:     engine.SubtypeCanUseTool,
		RequestID:   requestID,
		ToolName:    tool,
		Suggestions: patterns,
	}
}

func newTestManager(t *testing.T, capacity int, eng engine.Engine) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{
		BaseDirectory:     t.TempDir(),
		Capacity:          capacity,
		PermissionTimeout: 2 * time.Second,
	}, func(sessionID, workDir string, mode sandbox.Mode) (sandbox.Boundary, error) {
		return &fakeBoundary{workDir: workDir, mode: mode}, nil
	}, func(boundary sandbox.Boundary) engine.Engine {
		return eng
	})
}

// collectEvents drains a stream to completion with a safety timeout.
func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out draining stream; got %d events", len(events))
		}
	}
}

// nextEvent reads one event with a safety timeout.
func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("stream closed unexpectedly")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}
