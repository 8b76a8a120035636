package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmux/agentmux/internal/engine"
	"github.com/agentmux/agentmux/internal/sandbox"
	"github.com/agentmux/agentmux/internal/session"
)

// stubEngine satisfies engine.Engine for sessions that never dispatch.
type stubEngine struct{}

func (stubEngine) Invoke(ctx context.Context, req *engine.InvokeRequest) (engine.Invocation, error) {
	return nil, context.Canceled
}
func (stubEngine) Ping(ctx context.Context) error { return nil }
func (stubEngine) Close() error                   { return nil }

func newTestManager(t *testing.T, baseDir string) *session.Manager {
	t.Helper()
	boundaryFactory := func(sessionID, workDir string, mode sandbox.Mode) (sandbox.Boundary, error) {
		return sandbox.NewProcessBoundary(workDir, mode, nil), nil
	}
	engineFactory := func(boundary sandbox.Boundary) engine.Engine {
		return stubEngine{}
	}
	return session.NewManager(session.ManagerConfig{
		BaseDirectory: baseDir,
		Capacity:      8,
	}, boundaryFactory, engineFactory)
}

func TestParseCron(t *testing.T) {
	sched, err := ParseCron("*/15 * * * *")
	if err != nil {
		t.Fatalf("ParseCron failed: %v", err)
	}
	now := time.Now()
	next := sched.Next(now)
	if !next.After(now) || next.Sub(now) > 15*time.Minute {
		t.Errorf("Next = %s, want within 15m of now", next)
	}

	for _, expr := range []string{"not a cron", "0 */15 * * * *", ""} {
		if _, err := ParseCron(expr); err == nil {
			t.Errorf("ParseCron(%q) succeeded, want error", expr)
		}
	}
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	baseDir := t.TempDir()
	mgr := newTestManager(t, baseDir)
	ctx := context.Background()

	info, err := mgr.CreateSession(ctx, session.Options{Name: "stale"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	j, err := NewJanitor(mgr, "*/15 * * * *", 10*time.Millisecond, baseDir, false)
	if err != nil {
		t.Fatalf("NewJanitor failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if removed := j.Sweep(ctx); removed != 1 {
		t.Errorf("Sweep removed %d sessions, want 1", removed)
	}
	if _, ok := mgr.Get(info.ID); ok {
		t.Error("idle session still present after sweep")
	}
}

func TestSweepKeepsActiveSessions(t *testing.T) {
	baseDir := t.TempDir()
	mgr := newTestManager(t, baseDir)
	ctx := context.Background()

	info, err := mgr.CreateSession(ctx, session.Options{Name: "fresh"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	j, err := NewJanitor(mgr, "*/15 * * * *", time.Hour, baseDir, false)
	if err != nil {
		t.Fatalf("NewJanitor failed: %v", err)
	}

	if removed := j.Sweep(ctx); removed != 0 {
		t.Errorf("Sweep removed %d sessions, want 0", removed)
	}
	if _, ok := mgr.Get(info.ID); !ok {
		t.Error("fresh session removed by sweep")
	}
}

func TestSweepDeletesOrphanedDirs(t *testing.T) {
	baseDir := t.TempDir()
	mgr := newTestManager(t, baseDir)
	ctx := context.Background()

	live, err := mgr.CreateSession(ctx, session.Options{Name: "live"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	orphan := filepath.Join(baseDir, "leftover-sess_20250101_000000_dead")
	if err := os.MkdirAll(orphan, 0o755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-24 * time.Hour)
	if err := os.Chtimes(orphan, old, old); err != nil {
		t.Fatal(err)
	}

	j, err := NewJanitor(mgr, "*/15 * * * *", time.Hour, baseDir, true)
	if err != nil {
		t.Fatalf("NewJanitor failed: %v", err)
	}
	j.Sweep(ctx)

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("orphaned directory survived sweep")
	}
	if _, err := os.Stat(live.WorkingDirectory); err != nil {
		t.Errorf("live session directory deleted: %v", err)
	}
}

func TestSweepKeepsRecentOrphanedDirs(t *testing.T) {
	baseDir := t.TempDir()
	mgr := newTestManager(t, baseDir)

	// A directory created moments ago may belong to a session mid-creation.
	recent := filepath.Join(baseDir, "in-progress")
	if err := os.MkdirAll(recent, 0o755); err != nil {
		t.Fatal(err)
	}

	j, err := NewJanitor(mgr, "*/15 * * * *", time.Hour, baseDir, true)
	if err != nil {
		t.Fatalf("NewJanitor failed: %v", err)
	}
	j.Sweep(context.Background())

	if _, err := os.Stat(recent); err != nil {
		t.Errorf("recent directory deleted: %v", err)
	}
}

func TestJanitorStartStop(t *testing.T) {
	mgr := newTestManager(t, t.TempDir())
	j, err := NewJanitor(mgr, "*/15 * * * *", time.Hour, t.TempDir(), false)
	if err != nil {
		t.Fatalf("NewJanitor failed: %v", err)
	}
	j.Start()
	j.Stop()
}
