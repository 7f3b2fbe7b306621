package watcher

import (
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultQuiet is the debounce window used when Config.Quiet is zero.
const DefaultQuiet = 250 * time.Millisecond

// GitIgnoreName is emitted even when the checker would ignore it, so consumers can reload rules.
const GitIgnoreName = ".gitignore"

// IgnoreChecker decides which paths are watched. Paths are relative to the root, slash-separated.
type IgnoreChecker interface {
	ShouldIgnoreDir(relativePath string) bool
	ShouldIgnore(relativePath string) bool
}

// Config describes one watched root.
type Config struct {
	Dir     string // OS directory backing the root
	Root    string // root name used as the event path prefix
	Checker IgnoreChecker
	Quiet   time.Duration
	Logger  *slog.Logger
}

// Watcher provides recursive file system watching with debouncing for one root.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	checker   IgnoreChecker
	dir       string
	root      string
	logger    *slog.Logger
}

// NewWatcher creates a recursive watcher on cfg.Dir and registers every non-ignored
// subdirectory.
func NewWatcher(cfg Config) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	quiet := cfg.Quiet
	if quiet <= 0 {
		quiet = DefaultQuiet
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		debouncer: NewDebouncer(quiet),
		checker:   cfg.Checker,
		dir:       cfg.Dir,
		root:      cfg.Root,
		logger:    cfg.Logger,
	}

	err = filepath.WalkDir(cfg.Dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip entries that can't be read
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(p); ok && rel != "" && w.checker.ShouldIgnoreDir(rel) {
			return filepath.SkipDir
		}
		if watchErr := fsWatcher.Add(p); watchErr != nil {
			w.logger.Warn("failed to watch directory", "path", p, "error", watchErr)
		}
		return nil
	})
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return w, nil
}

// Root returns the root name events are prefixed with.
func (w *Watcher) Root() string {
	return w.root
}

// Events returns the channel that receives debounced file system events.
func (w *Watcher) Events() <-chan []DebouncedEvent {
	return w.debouncer.Output()
}

// Start begins listening for file system events. Call this in a goroutine.
// It runs until the watcher is closed.
func (w *Watcher) Start() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "root", w.root, "error", err)
		}
	}
}

func (w *Watcher) relative(osPath string) (string, bool) {
	rel, err := filepath.Rel(w.dir, osPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return filepath.ToSlash(rel), true
}

// handleEvent converts one fsnotify event into a debounced event with a root-prefixed path.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, ok := w.relative(event.Name)
	if !ok || rel == "" {
		return
	}
	entryPath := path.Join(w.root, rel)

	// New directories are watched and reported; their files arrive as separate events
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			if w.checker.ShouldIgnoreDir(rel) {
				return
			}
			if err := w.fsWatcher.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			w.debouncer.Add(DebouncedEvent{Path: entryPath, Op: OpCreate, IsDir: true})
			return
		}
	}

	if rel != GitIgnoreName && w.checker.ShouldIgnore(rel) {
		return
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove):
		op = OpRemove
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}

	w.debouncer.Add(DebouncedEvent{Path: entryPath, Op: op})
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.debouncer.Stop()
	return w.fsWatcher.Close()
}
