package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/events"
	"github.com/lexandro/mdspace-mcp/ignore"
	"github.com/lexandro/mdspace-mcp/overlay"
	"github.com/lexandro/mdspace-mcp/reconcile"
	"github.com/lexandro/mdspace-mcp/scanner"
	"github.com/lexandro/mdspace-mcp/scheduler"
	"github.com/lexandro/mdspace-mcp/store"
	"github.com/lexandro/mdspace-mcp/tools"
	"github.com/lexandro/mdspace-mcp/watcher"
	"github.com/spf13/afero"
)

// workspaceConfig configures the composition root.
type workspaceConfig struct {
	Fs       afero.Fs
	Store    *store.Store
	Patterns []string // extra ignore patterns from -exclude
	Watch    bool     // start a filesystem watcher per opened root
	Logger   *slog.Logger
	Now      func() time.Time
}

// workspace owns the engine stack and the roots opened in this process.
type workspace struct {
	fs        afero.Fs
	store     *store.Store
	caps      *capability.Store
	scanner   *scanner.Scanner
	engine    *reconcile.Engine
	overlay   *overlay.Overlay
	scheduler *scheduler.Scheduler
	events    *events.Broadcaster
	logger    *slog.Logger
	watch     bool
	now       func() time.Time

	mu    sync.Mutex
	roots map[string]*openRoot // by project ID
}

// openRoot is a root folder attached in this process.
type openRoot struct {
	project *entry.Project
	volume  *capability.Volume
	watcher *watcher.Watcher
	matcher *ignore.Matcher
}

func newWorkspace(cfg workspaceConfig) *workspace {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	caps := capability.NewStore(cfg.Logger)
	bus := events.NewBroadcaster()
	scan := scanner.New(scanner.Config{Capabilities: caps, Logger: cfg.Logger, Patterns: cfg.Patterns, Now: cfg.Now})
	engine := reconcile.New(reconcile.Config{
		Store:        cfg.Store,
		Capabilities: caps,
		Scanner:      scan,
		Events:       bus,
		Logger:       cfg.Logger,
		Now:          cfg.Now,
	})

	return &workspace{
		fs:      cfg.Fs,
		store:   cfg.Store,
		caps:    caps,
		scanner: scan,
		engine:  engine,
		overlay: overlay.New(overlay.Config{
			Store:        cfg.Store,
			Capabilities: caps,
			Engine:       engine,
			Events:       bus,
			Logger:       cfg.Logger,
			Now:          cfg.Now,
		}),
		scheduler: scheduler.New(scheduler.Config{Engine: engine, Settings: cfg.Store, Logger: cfg.Logger}),
		events:    bus,
		logger:    cfg.Logger,
		watch:     cfg.Watch,
		now:       cfg.Now,
		roots:     make(map[string]*openRoot),
	}
}

// Open attaches the folder at dir as a root. A folder whose name matches a stored project is
// reattached: entry handles are rebound by disk path and new disk files are detected. Any
// other folder becomes a new project and is scanned in full. The opened root becomes current.
func (w *workspace) Open(ctx context.Context, dir string) (*tools.OpenResult, error) {
	location, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	info, err := w.fs.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", location, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a folder", location)
	}

	volume := capability.NewVolume(w.fs, location, nil)
	name := volume.Name()
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	result := &tools.OpenResult{Name: name, Location: location}
	project, err := w.store.ProjectByName(name)
	switch {
	case err == nil:
		if open, ok := w.roots[project.ID]; ok {
			if open.volume.Location() != location {
				return nil, fmt.Errorf("a root named %s is already open from %s", name, open.volume.Location())
			}
			// Opening the same folder twice refreshes it
			result.ProjectID = project.ID
			result.Reattached = true
			if result.Report, err = w.engine.Rescan(ctx, project.ID); err != nil {
				return nil, err
			}
			w.scheduler.SetProject(project.ID)
			return result, nil
		}
		project.Location = location
		project.LastOpenedAt = now
		if err := w.store.PutProject(project); err != nil {
			return nil, err
		}
		result.Reattached = true
		if result.Report, err = w.engine.Reattach(ctx, project.ID, volume.Root()); err != nil {
			return nil, err
		}
		project.Dir = volume.Root()
		if result.Detection, err = w.engine.DetectChanges(ctx, project.ID); err != nil {
			w.logger.Warn("change detection after reattach failed", "root", name, "error", err)
		}

	case errors.Is(err, store.ErrNotFound):
		project = &entry.Project{
			ID:           uuid.NewString(),
			Name:         name,
			Location:     location,
			CreatedAt:    now,
			LastOpenedAt: now,
			Dir:          volume.Root(),
		}
		if err := w.store.PutProject(project); err != nil {
			return nil, err
		}
		if result.Report, err = w.engine.Rescan(ctx, project.ID); err != nil {
			return nil, err
		}

	default:
		return nil, err
	}

	result.ProjectID = project.ID
	root := &openRoot{project: project, volume: volume}
	w.roots[project.ID] = root
	w.scheduler.SetProject(project.ID)
	if w.watch {
		w.startWatcher(ctx, root)
	}

	w.logger.Info("root opened", "root", name, "location", location, "project", project.ID, "reattached", result.Reattached)
	return result, nil
}

// Reconnect asks for access to a project root again and rescans it.
func (w *workspace) Reconnect(ctx context.Context, projectID string) (*reconcile.Report, error) {
	project, err := w.store.Project(projectID)
	if err != nil {
		return nil, err
	}
	if project.Dir == nil {
		return nil, fmt.Errorf("project %s: %w", project.Name, reconcile.ErrNeedReopen)
	}
	state, err := w.caps.RequestPermission(ctx, project.Dir)
	if err != nil {
		return nil, err
	}
	if state != capability.PermissionGranted {
		return nil, fmt.Errorf("project %s: %w", project.Name, capability.ErrPermissionLost)
	}
	return w.engine.Rescan(ctx, projectID)
}

// diskText reads an entry's disk text without asking for permission.
func (w *workspace) diskText(ctx context.Context, e *entry.Entry) (string, error) {
	if e.File == nil {
		return "", errDetached
	}
	if w.caps.QueryPermission(ctx, e.File) != capability.PermissionGranted {
		return "", capability.ErrPermissionLost
	}
	return w.caps.ReadText(ctx, e.File)
}

func (w *workspace) startWatcher(ctx context.Context, root *openRoot) {
	settings, err := w.store.Settings()
	if err != nil {
		settings = entry.DefaultSettings()
	}
	root.matcher = w.scanner.Matcher(ctx, root.project.Dir, settings)

	fileWatcher, err := watcher.NewWatcher(watcher.Config{
		Dir:     root.volume.Location(),
		Root:    root.project.Name,
		Checker: root.matcher,
		Logger:  w.logger,
	})
	if err != nil {
		w.logger.Warn("failed to start file watcher, continuing with timed scans", "root", root.project.Name, "error", err)
		return
	}
	root.watcher = fileWatcher
	go fileWatcher.Start()
	go w.handleWatcherEvents(context.WithoutCancel(ctx), root)
}

// handleWatcherEvents turns debounced disk changes into engine work. The current project goes
// through the scheduler so runs never overlap; other roots get a direct change detection.
// It runs until the watcher is closed.
func (w *workspace) handleWatcherEvents(ctx context.Context, root *openRoot) {
	gitIgnore := path.Join(root.project.Name, watcher.GitIgnoreName)
	for batch := range root.watcher.Events() {
		for _, event := range batch {
			if event.Path == gitIgnore {
				w.reloadIgnore(ctx, root)
				break
			}
		}
		w.logger.Debug("disk change", "root", root.project.Name, "events", len(batch))

		if w.scheduler.State().ProjectID == root.project.ID {
			w.scheduler.NotifyChange()
			continue
		}
		if _, err := w.engine.DetectChanges(ctx, root.project.ID); err != nil {
			w.logger.Warn("change detection failed", "root", root.project.Name, "error", err)
		}
	}
}

func (w *workspace) reloadIgnore(ctx context.Context, root *openRoot) {
	var text string
	if fh, err := root.project.Dir.File(ctx, watcher.GitIgnoreName, false); err == nil {
		if text, err = w.caps.ReadText(ctx, fh); err != nil {
			w.logger.Warn("failed to read .gitignore", "root", root.project.Name, "error", err)
			return
		}
	}
	root.matcher.Reload(strings.NewReader(text))
	w.logger.Info("reloaded ignore rules", "root", root.project.Name)
}

// Close stops the scheduler and the watchers. In-flight runs finish first.
func (w *workspace) Close() {
	w.scheduler.Stop()
	w.scheduler.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if root.watcher != nil {
			root.watcher.Close()
		}
	}
}
