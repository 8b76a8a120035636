// Package cleanup runs the background janitor: a cron-scheduled sweep that
// removes sessions idle past the configured timeout and deletes orphaned
// working directories left behind by earlier runs.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentmux/agentmux/internal/logger"
	"github.com/agentmux/agentmux/internal/session"
)

// cronParser is configured for standard 5-field cron (minute hour day month weekday)
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates and parses a cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Janitor sweeps the session manager on a cron schedule.
type Janitor struct {
	manager      *session.Manager
	schedule     cron.Schedule
	idleTimeout  time.Duration
	sweepOrphans bool
	baseDir      string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor builds a janitor. scheduleExpr is a 5-field cron expression.
func NewJanitor(manager *session.Manager, scheduleExpr string, idleTimeout time.Duration, baseDir string, sweepOrphans bool) (*Janitor, error) {
	sched, err := ParseCron(scheduleExpr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Janitor{
		manager:      manager,
		schedule:     sched,
		idleTimeout:  idleTimeout,
		sweepOrphans: sweepOrphans,
		baseDir:      baseDir,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins the sweep loop.
func (j *Janitor) Start() {
	j.wg.Add(1)
	go j.loop()
	logger.Slog().Info("janitor started", "idle_timeout", j.idleTimeout.String())
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.cancel()
	j.wg.Wait()
	logger.Slog().Info("janitor stopped")
}

func (j *Janitor) loop() {
	defer j.wg.Done()

	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-j.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.Sweep(j.ctx)
		}
	}
}

// Sweep removes idle sessions and, when enabled, orphaned directories.
// Returns the number of sessions removed.
func (j *Janitor) Sweep(ctx context.Context) int {
	removed := j.sweepIdleSessions(ctx)
	if j.sweepOrphans {
		j.sweepOrphanedDirs()
	}
	return removed
}

func (j *Janitor) sweepIdleSessions(ctx context.Context) int {
	cutoff := time.Now().Add(-j.idleTimeout)
	removed := 0
	for _, info := range j.manager.List() {
		if info.State == session.StateExecuting {
			continue
		}
		if info.LastActivity.After(cutoff) {
			continue
		}
		if j.manager.Remove(ctx, info.ID, false) {
			removed++
			logger.Slog().Info("janitor removed idle session",
				"session_id", info.ID,
				"idle_since", info.LastActivity.Format(time.RFC3339))
		}
	}
	return removed
}

// sweepOrphanedDirs deletes directories under the base directory that no
// live session owns. Directories newer than the idle timeout are kept, so a
// session being created concurrently is never swept.
func (j *Janitor) sweepOrphanedDirs() {
	entries, err := os.ReadDir(j.baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Slog().Warn("janitor failed to read base directory", "error", err)
		}
		return
	}

	live := make(map[string]bool)
	for _, info := range j.manager.List() {
		live[info.WorkingDirectory] = true
	}

	cutoff := time.Now().Add(-j.idleTimeout)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(j.baseDir, entry.Name())
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		if live[dir] {
			continue
		}
		fi, err := entry.Info()
		if err != nil || fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logger.Slog().Warn("janitor failed to delete orphaned directory", "dir", dir, "error", err)
			continue
		}
		logger.Slog().Info("janitor deleted orphaned directory", "dir", dir)
	}
}
