// Package scheduler drives the reconciliation engine from timers, focus and change
// notifications, and on-demand calls.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/reconcile"
)

// ErrNoProject is returned by on-demand calls when no project is current.
var ErrNoProject = errors.New("no project is open")

// Reconciler is the part of the engine the scheduler drives.
type Reconciler interface {
	CheckEntry(ctx context.Context, id string, mode reconcile.Mode) (reconcile.Outcome, error)
	DetectChanges(ctx context.Context, projectID string) (*reconcile.Detection, error)
	Rescan(ctx context.Context, projectID string) (*reconcile.Report, error)
}

// SettingsSource supplies settings; it is read on every cycle.
type SettingsSource interface {
	Settings() (entry.Settings, error)
}

// Config holds scheduler dependencies.
type Config struct {
	Engine   Reconciler
	Settings SettingsSource
	Logger   *slog.Logger
}

// State is a snapshot for status reporting.
type State struct {
	Running        bool          `json:"running"`
	ProjectID      string        `json:"projectId,omitempty"`
	ActiveEntryID  string        `json:"activeEntryId,omitempty"`
	ActiveInterval time.Duration `json:"activeInterval"`
	ScanInterval   time.Duration `json:"scanInterval"`
	LastScan       time.Time     `json:"lastScan,omitempty"`
	LastCheck      time.Time     `json:"lastCheck,omitempty"`
}

// Scheduler owns the active-entry timer and the directory-scan timer.
type Scheduler struct {
	engine   Reconciler
	settings SettingsSource
	logger   *slog.Logger

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	restart   chan struct{}
	ctx       context.Context
	projectID string
	activeID  string
	lastScan  time.Time
	lastCheck time.Time

	checkBusy atomic.Bool
	scanBusy  atomic.Bool
	inflight  sync.WaitGroup
}

// New creates a stopped scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		engine:   cfg.Engine,
		settings: cfg.Settings,
		logger:   cfg.Logger,
	}
}

// Start launches the timers. Calling Start on a running scheduler does nothing.
// Runs started by the scheduler outlive ctx cancellation and Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.restart = make(chan struct{}, 1)
	s.ctx = context.WithoutCancel(ctx)

	active, scan := s.intervals()
	go s.loop(ctx, s.stop, s.restart, active, scan)
	s.logger.Info("scheduler started", "active_interval", active, "scan_interval", scan)
}

// Stop clears the timers. In-flight runs are allowed to complete and apply their result.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	s.logger.Info("scheduler stopped")
}

// Wait blocks until every run started by the scheduler has finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, restart <-chan struct{}, activeInterval, scanInterval time.Duration) {
	active := time.NewTicker(activeInterval)
	defer active.Stop()
	scan := time.NewTicker(scanInterval)
	defer scan.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.Stop()
			return
		case <-restart:
			newActive, newScan := s.intervals()
			if newActive != activeInterval {
				active.Reset(newActive)
				activeInterval = newActive
			}
			if newScan != scanInterval {
				scan.Reset(newScan)
				scanInterval = newScan
			}
			s.logger.Debug("scheduler intervals updated", "active_interval", activeInterval, "scan_interval", scanInterval)
		case <-active.C:
			s.triggerCheck("timer")
		case <-scan.C:
			s.triggerScan("timer")
		}
	}
}

func (s *Scheduler) intervals() (time.Duration, time.Duration) {
	settings, err := s.settings.Settings()
	if err != nil {
		s.logger.Warn("failed to read settings, using defaults", "error", err)
		settings = entry.DefaultSettings()
	}
	settings = settings.Normalize()
	return settings.PollingActiveInterval, settings.DirectoryScanInterval
}

// SetProject makes projectID the root watched by the directory-scan timer.
func (s *Scheduler) SetProject(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectID = projectID
}

// SetActiveEntry sets the entry checked by the active-entry timer. The timer keeps its cadence.
func (s *Scheduler) SetActiveEntry(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
}

// SettingsChanged restarts the timers with the current intervals.
func (s *Scheduler) SettingsChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	select {
	case s.restart <- struct{}{}:
	default:
	}
}

// NotifyFocus runs the directory scan and, with an active entry, a per-entry check right away.
func (s *Scheduler) NotifyFocus() {
	s.triggerScan("focus")
	s.triggerCheck("focus")
}

// NotifyChange is called by the filesystem watcher after a debounced burst of changes.
func (s *Scheduler) NotifyChange() {
	s.triggerScan("change")
	s.triggerCheck("change")
}

// State returns a snapshot of the scheduler.
func (s *Scheduler) State() State {
	active, scan := s.intervals()
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Running:        s.running,
		ProjectID:      s.projectID,
		ActiveEntryID:  s.activeID,
		ActiveInterval: active,
		ScanInterval:   scan,
		LastScan:       s.lastScan,
		LastCheck:      s.lastCheck,
	}
}

func (s *Scheduler) snapshot() (ctx context.Context, running bool, projectID, activeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx, s.running, s.projectID, s.activeID
}

// triggerCheck starts a background check of the active entry unless one is already running.
func (s *Scheduler) triggerCheck(reason string) {
	ctx, running, _, id := s.snapshot()
	if !running || id == "" {
		return
	}
	if !s.checkBusy.CompareAndSwap(false, true) {
		s.logger.Debug("active entry check still running, skipping", "reason", reason)
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.checkBusy.Store(false)
		outcome, err := s.engine.CheckEntry(ctx, id, reconcile.Background)
		s.mu.Lock()
		s.lastCheck = time.Now()
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("active entry check failed", "id", id, "reason", reason, "error", err)
			return
		}
		s.logger.Debug("active entry checked", "id", id, "reason", reason, "outcome", outcome)
	}()
}

// triggerScan starts a background directory scan unless one is already running.
func (s *Scheduler) triggerScan(reason string) {
	ctx, running, projectID, _ := s.snapshot()
	if !running || projectID == "" {
		return
	}
	if !s.scanBusy.CompareAndSwap(false, true) {
		s.logger.Debug("directory scan still running, skipping", "reason", reason)
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.scanBusy.Store(false)
		detection, err := s.engine.DetectChanges(ctx, projectID)
		s.mu.Lock()
		s.lastScan = time.Now()
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("directory scan failed", "project", projectID, "reason", reason, "error", err)
			return
		}
		if detection.PermissionLost {
			s.logger.Debug("directory scan skipped, permission missing", "project", projectID)
		}
	}()
}

// SyncEntryNow checks one entry immediately and returns when the check is done.
// It follows the background permission contract: missing permission is reported, not requested.
func (s *Scheduler) SyncEntryNow(ctx context.Context, id string) (reconcile.Outcome, error) {
	outcome, err := s.engine.CheckEntry(ctx, id, reconcile.Background)
	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()
	return outcome, err
}

// RefreshNow runs a full rescan of the current project and returns when it is done.
// It is an explicit user action and may prompt for permission.
func (s *Scheduler) RefreshNow(ctx context.Context) (*reconcile.Report, error) {
	_, _, projectID, _ := s.snapshot()
	if projectID == "" {
		return nil, ErrNoProject
	}
	report, err := s.engine.Rescan(ctx, projectID)
	s.mu.Lock()
	s.lastScan = time.Now()
	s.mu.Unlock()
	return report, err
}
