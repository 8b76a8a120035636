package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentmux/agentmux/internal/engine"
	"github.com/agentmux/agentmux/internal/logger"
	"github.com/agentmux/agentmux/internal/metrics"
	"github.com/agentmux/agentmux/internal/sandbox"
	"github.com/agentmux/agentmux/internal/validation"
)

// ManagerConfig configures a session manager.
type ManagerConfig struct {
	BaseDirectory     string
	Capacity          int
	Defaults          ManagerDefaults
	PermissionTimeout time.Duration
	CreateRatePerMin  float64
	CreateBurst       int
}

// Manager is the registry of session runtimes. It provisions working
// directories, merges default and per-session MCP descriptors, enforces the
// capacity limit and routes commands to the right runtime.
type Manager struct {
	cfg             ManagerConfig
	boundaryFactory BoundaryFactory
	engineFactory   EngineFactory
	limiter         *rate.Limiter

	mu       sync.RWMutex
	sessions map[string]*Runtime
	// reserved maps session IDs of in-flight creates to their working
	// directory, so concurrent creates see capacity and directories as
	// taken before the runtime is registered.
	reserved map[string]string
}

// NewManager creates a session manager. The factories construct each new
// session's isolation boundary and engine.
func NewManager(cfg ManagerConfig, boundaryFactory BoundaryFactory, engineFactory EngineFactory) *Manager {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 16
	}
	var limiter *rate.Limiter
	if cfg.CreateRatePerMin > 0 {
		burst := cfg.CreateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.CreateRatePerMin/60.0), burst)
	}
	return &Manager{
		cfg:             cfg,
		boundaryFactory: boundaryFactory,
		engineFactory:   engineFactory,
		limiter:         limiter,
		sessions:        make(map[string]*Runtime),
		reserved:        make(map[string]string),
	}
}

// CreateSession provisions a new session: validates capacity, derives a
// unique working directory, merges MCP descriptors, builds the isolation
// boundary and registers the runtime. Structural failures are returned as
// errors; a ProvisioningError from the boundary aborts creation.
func (m *Manager) CreateSession(ctx context.Context, opts Options) (Info, error) {
	if m.limiter != nil && !m.limiter.Allow() {
		return Info{}, ErrRateLimited
	}

	if opts.Name != "" {
		if err := validation.ValidateSessionName(opts.Name); err != nil {
			return Info{}, fmt.Errorf("invalid session name: %w", err)
		}
	}

	mode, err := sandbox.ParseMode(firstNonEmpty(opts.CapabilityMode, m.cfg.Defaults.CapabilityMode))
	if err != nil {
		return Info{}, err
	}

	id := opts.ID
	if id == "" {
		id = generateSessionID()
	} else if err := validation.ValidateSessionID(id); err != nil {
		return Info{}, fmt.Errorf("invalid session id: %w", err)
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return Info{}, fmt.Errorf("session %s already exists", id)
	}
	if _, exists := m.reserved[id]; exists {
		m.mu.Unlock()
		return Info{}, fmt.Errorf("session %s already exists", id)
	}
	live := len(m.sessions) + len(m.reserved)
	if live >= m.cfg.Capacity {
		m.mu.Unlock()
		return Info{}, fmt.Errorf("%w: %d sessions live, capacity %d", ErrCapacityExceeded, live, m.cfg.Capacity)
	}

	workDir, err := m.deriveWorkDirLocked(id, opts)
	if err != nil {
		m.mu.Unlock()
		return Info{}, err
	}

	m.reserved[id] = workDir
	m.mu.Unlock()

	undo := func() {
		m.mu.Lock()
		delete(m.reserved, id)
		m.mu.Unlock()
	}

	boundary, err := m.boundaryFactory(id, workDir, mode)
	if err != nil {
		undo()
		return Info{}, fmt.Errorf("failed to construct boundary: %w", err)
	}
	if err := boundary.Provision(ctx); err != nil {
		undo()
		metrics.RecordProvisionFailure()
		return Info{}, err
	}

	if opts.Model == "" {
		opts.Model = m.cfg.Defaults.Model
	}
	if opts.FallbackModel == "" {
		opts.FallbackModel = m.cfg.Defaults.FallbackModel
	}
	if opts.MaxTurns == 0 {
		opts.MaxTurns = m.cfg.Defaults.MaxTurns
	}
	if len(opts.AllowedTools) == 0 {
		opts.AllowedTools = append([]string(nil), m.cfg.Defaults.AllowedTools...)
	}
	if len(opts.DisallowedTools) == 0 {
		opts.DisallowedTools = append([]string(nil), m.cfg.Defaults.DisallowedTools...)
	}
	opts.ID = id
	opts.CapabilityMode = string(mode)
	opts.WorkingDirectory = workDir

	servers := MergeMCPServers(m.cfg.Defaults.MCPServers, opts.MCPServers)
	rt := NewRuntime(opts, boundary, m.engineFactory(boundary), servers, m.cfg.PermissionTimeout)

	m.mu.Lock()
	if _, ok := m.reserved[id]; !ok {
		// Remove or RemoveAll revoked the reservation while the boundary
		// was being provisioned. The session must not come alive.
		m.mu.Unlock()
		_ = rt.close(ctx)
		return Info{}, fmt.Errorf("session %s removed during creation", id)
	}
	delete(m.reserved, id)
	m.sessions[id] = rt
	m.mu.Unlock()

	metrics.RecordSessionCreated(string(mode))
	logger.Slog().Info("session created",
		"session_id", id,
		"working_dir", workDir,
		"capability_mode", string(mode))
	return rt.Info(), nil
}

// deriveWorkDirLocked picks the session working directory: caller-supplied
// (validated) or generated under the base directory. Guarantees no
// collision with any live session. Caller holds m.mu.
func (m *Manager) deriveWorkDirLocked(id string, opts Options) (string, error) {
	if opts.WorkingDirectory != "" {
		if err := validation.ValidateWorkingDirectory(opts.WorkingDirectory); err != nil {
			return "", err
		}
		for _, rt := range m.sessions {
			if rt.Boundary().WorkingDir() == opts.WorkingDirectory {
				return "", fmt.Errorf("working directory %s already in use by session %s", opts.WorkingDirectory, rt.ID())
			}
		}
		for rid, dir := range m.reserved {
			if dir == opts.WorkingDirectory {
				return "", fmt.Errorf("working directory %s already in use by session %s", opts.WorkingDirectory, rid)
			}
		}
		return opts.WorkingDirectory, nil
	}

	name := id
	if opts.Name != "" {
		name = validation.SanitizeDirName(opts.Name) + "-" + id
	}
	dir := filepath.Join(m.cfg.BaseDirectory, name)
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return abs, nil
}

// Get returns the runtime for a session ID.
func (m *Manager) Get(id string) (*Runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return rt, true
}

// GetInfo returns the read-only view of one session, or ok=false.
func (m *Manager) GetInfo(id string) (Info, bool) {
	rt, ok := m.Get(id)
	if !ok {
		return Info{}, false
	}
	return rt.Info(), true
}

// List returns info for all live sessions.
func (m *Manager) List() []Info {
	m.mu.RLock()
	runtimes := make([]*Runtime, 0, len(m.sessions))
	for _, rt := range m.sessions {
		runtimes = append(runtimes, rt)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(runtimes))
	for _, rt := range runtimes {
		infos = append(infos, rt.Info())
	}
	return infos
}

// Dispatch routes a command to a session and returns its event stream.
func (m *Manager) Dispatch(ctx context.Context, id string, opts ExecuteOptions) (string, <-chan Event, error) {
	rt, ok := m.Get(id)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	commandID, events := rt.Execute(ctx, opts)
	return commandID, events, nil
}

// Cancel trips the cancellation signal for a session's in-flight commands.
// Returns false when the session does not exist or nothing was executing.
func (m *Manager) Cancel(id string) bool {
	rt, ok := m.Get(id)
	if !ok {
		return false
	}
	return rt.Cancel()
}

// RespondToPermission delivers a decision for a pending request. The
// request ID is unique across sessions, so the manager scans runtimes.
func (m *Manager) RespondToPermission(ctx context.Context, requestID string, decision PermissionDecision) (Resolution, error) {
	m.mu.RLock()
	runtimes := make([]*Runtime, 0, len(m.sessions))
	for _, rt := range m.sessions {
		runtimes = append(runtimes, rt)
	}
	m.mu.RUnlock()

	for _, rt := range runtimes {
		res, err := rt.RespondToPermission(ctx, requestID, decision)
		if err == ErrPermissionNotFound {
			continue
		}
		return res, err
	}
	return "", ErrPermissionNotFound
}

// PendingPermissions lists requests awaiting a decision across all sessions.
func (m *Manager) PendingPermissions() []*PermissionRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PermissionRequest
	for _, rt := range m.sessions {
		out = append(out, rt.PendingPermissions()...)
	}
	return out
}

// Remove tears down a session: cancels in-flight commands, releases the
// boundary, deregisters the ID and optionally deletes the working
// directory. Returns false when the session did not exist.
func (m *Manager) Remove(ctx context.Context, id string, keepWorkingDirectory bool) bool {
	m.mu.Lock()
	rt, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	} else if _, pending := m.reserved[id]; pending {
		// Revoke the in-flight create; the creating goroutine observes the
		// missing reservation, tears down its boundary and returns an error.
		delete(m.reserved, id)
		m.mu.Unlock()
		logger.Slog().Info("session creation revoked", "session_id", id)
		return true
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	workDir := rt.Boundary().WorkingDir()
	if err := rt.close(ctx); err != nil {
		logger.Slog().Warn("boundary release failed", "session_id", id, "error", err)
	}

	if !keepWorkingDirectory {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Slog().Warn("failed to delete working directory",
				"session_id", id, "working_dir", workDir, "error", err)
		}
	}

	metrics.RecordSessionRemoved()
	logger.Slog().Info("session removed",
		"session_id", id,
		"kept_working_dir", keepWorkingDirectory)
	return true
}

// RemoveAll removes every live session and returns the count removed.
func (m *Manager) RemoveAll(ctx context.Context, keepWorkingDirectories bool) int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions)+len(m.reserved))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	for id := range m.reserved {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	count := 0
	for _, id := range ids {
		if m.Remove(ctx, id, keepWorkingDirectories) {
			count++
		}
	}
	return count
}

// Snapshot returns the manager's read-only introspection view.
func (m *Manager) Snapshot() ManagerInfo {
	sessions := m.List()
	return ManagerInfo{
		BaseDirectory: m.cfg.BaseDirectory,
		SessionCount:  len(sessions),
		Capacity:      m.cfg.Capacity,
		Defaults:      m.cfg.Defaults,
		Sessions:      sessions,
	}
}

// DefaultMCPServers returns a copy of the manager-wide descriptor defaults.
func (m *Manager) DefaultMCPServers() []engine.MCPServer {
	out := make([]engine.MCPServer, len(m.cfg.Defaults.MCPServers))
	copy(out, m.cfg.Defaults.MCPServers)
	return out
}

func generateSessionID() string {
	timestamp := time.Now().Format("20060102_150405")
	randomBytes := make([]byte, 4)
	_, _ = rand.Read(randomBytes)
	randomHex := hex.EncodeToString(randomBytes)
	return fmt.Sprintf("sess_%s_%s", timestamp, randomHex)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
