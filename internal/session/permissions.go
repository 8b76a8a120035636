package session

import (
	"sync"
	"time"
)

// Decision is a caller's verdict on one permission request.
type Decision string

const (
	// DecisionAllow approves this occurrence only.
	DecisionAllow Decision = "allow"
	// DecisionAllowAlways approves and adds the patterns to the session's
	// permanent allow-list.
	DecisionAllowAlways Decision = "allow_always"
	// DecisionDeny refuses the action.
	DecisionDeny Decision = "deny"
)

// Resolution tags how an approval took effect on the in-flight engine call.
type Resolution string

const (
	// ResolutionContinuedInPlace means the decision was delivered into the
	// open engine call and the command continues.
	ResolutionContinuedInPlace Resolution = "continued_in_place"
	// ResolutionRequiresRedispatch means the engine call could not accept
	// the decision mid-stream; the allow-list was updated but the caller
	// must re-issue the command.
	ResolutionRequiresRedispatch Resolution = "requires_redispatch"
)

// PermissionRequest is one gated-action approval cycle surfaced to callers.
type PermissionRequest struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	CommandID   string         `json:"command_id"`
	ToolName    string         `json:"tool_name"`
	Patterns    []string       `json:"patterns"`
	Description string         `json:"description,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// PermissionDecision carries a resolved verdict back to the waiting runtime.
type PermissionDecision struct {
	Decision     Decision `json:"decision"`
	AllowedTools []string `json:"allowed_tools,omitempty"` // extra patterns for allow_always
	Message      string   `json:"message,omitempty"`
}

// permissionRegistry maps pending request IDs to their decision channels.
// One registry is owned by each runtime so pending requests die with the
// session instead of leaking process-wide.
type permissionRegistry struct {
	pending map[string]*pendingPermission
	mu      sync.Mutex
}

type pendingPermission struct {
	request  *PermissionRequest
	decision chan PermissionDecision
	outcome  chan Resolution
}

func newPermissionRegistry() *permissionRegistry {
	return &permissionRegistry{pending: make(map[string]*pendingPermission)}
}

// register records a pending request and returns its decision channel plus
// the channel on which the runtime reports how the decision took effect.
func (r *permissionRegistry) register(req *PermissionRequest) (*pendingPermission, <-chan PermissionDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &pendingPermission{
		request:  req,
		decision: make(chan PermissionDecision, 1),
		outcome:  make(chan Resolution, 1),
	}
	r.pending[req.ID] = p
	return p, p.decision
}

// resolve delivers a decision for the given request ID and returns the
// channel carrying the resolution tag. Each request is resolved at most
// once; later calls return ok=false.
func (r *permissionRegistry) resolve(requestID string, decision PermissionDecision) (<-chan Resolution, bool) {
	r.mu.Lock()
	p, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	p.decision <- decision
	return p.outcome, true
}

// remove discards a pending request without resolving it (timeout, abort).
func (r *permissionRegistry) remove(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, requestID)
}

// list returns the currently pending requests.
func (r *permissionRegistry) list() []*PermissionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PermissionRequest, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p.request)
	}
	return out
}

// drain resolves every pending request as denied. Used on session removal
// so no caller blocks forever on a dead session.
func (r *permissionRegistry) drain(message string) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]*pendingPermission)
	r.mu.Unlock()
	for _, p := range pending {
		p.decision <- PermissionDecision{Decision: DecisionDeny, Message: message}
	}
}
