// Package scanner walks capability-scoped directory trees and produces flat entry descriptors.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/ignore"
)

// ErrNeedReopen is returned when a stored path can no longer be resolved from the root handle,
// for example because a folder was renamed or moved on disk.
var ErrNeedReopen = errors.New("path cannot be resolved from root, reopen the folder")

// Limits bounds a walk.
type Limits struct {
	MaxDepth   int // folder levels below the root
	MaxEntries int
}

// LimitsFrom reads the walk limits from settings.
func LimitsFrom(settings entry.Settings) Limits {
	settings = settings.Normalize()
	return Limits{MaxDepth: settings.MaxDepth, MaxEntries: settings.MaxEntries}
}

// Result is the outcome of a walk.
type Result struct {
	Entries   []*entry.Entry // the starting folder first, then breadth-first order
	Skipped   int            // children that failed to list or stat
	Truncated bool           // MaxEntries was reached
}

// Config holds scanner dependencies.
type Config struct {
	Capabilities *capability.Store
	Logger       *slog.Logger
	// Patterns are extra doublestar exclude patterns applied to every walk.
	Patterns []string
	Now      func() time.Time
}

// Scanner walks directory handles under the ignore policy.
type Scanner struct {
	caps     *capability.Store
	logger   *slog.Logger
	patterns []string
	now      func() time.Time
}

// New creates a scanner.
func New(cfg Config) *Scanner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scanner{
		caps:     cfg.Capabilities,
		logger:   cfg.Logger,
		patterns: cfg.Patterns,
		now:      cfg.Now,
	}
}

type pending struct {
	dir   capability.DirHandle
	path  string
	depth int
}

// Walk scans dir, whose root-prefixed path is prefix, and returns the folder itself plus every
// accepted descendant with fresh handles. Failures below the starting folder are logged and
// skipped; only an unreadable starting folder fails the walk.
func (s *Scanner) Walk(ctx context.Context, dir capability.DirHandle, prefix string, matcher *ignore.Matcher, limits Limits) (*Result, error) {
	prefix = entry.NormalizePath(prefix)
	if prefix == "" {
		prefix = dir.Name()
	}
	now := s.now()

	children, err := dir.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}

	result := &Result{Entries: []*entry.Entry{s.folder(prefix, dir, now)}}
	queue := []pending{}
	depth := len(entry.Segments(prefix)) - 1

	// The first level reuses the listing above so an unreadable root fails fast.
	s.visit(ctx, children, pending{dir: dir, path: prefix, depth: depth}, matcher, limits, result, &queue, now)

	for len(queue) > 0 && !result.Truncated {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue[0]
		queue = queue[1:]

		children, err := current.dir.List(ctx)
		if err != nil {
			s.logger.Warn("failed to list folder", "path", current.path, "error", err)
			result.Skipped++
			continue
		}
		s.visit(ctx, children, current, matcher, limits, result, &queue, now)
	}

	if result.Truncated {
		s.logger.Warn("scan stopped at entry limit", "path", prefix, "limit", limits.MaxEntries)
	}
	s.logger.Debug("scan complete", "path", prefix, "entries", len(result.Entries), "skipped", result.Skipped)
	return result, nil
}

func (s *Scanner) visit(ctx context.Context, children []capability.Handle, parent pending, matcher *ignore.Matcher, limits Limits, result *Result, queue *[]pending, now time.Time) {
	for _, child := range children {
		if limits.MaxEntries > 0 && len(result.Entries) >= limits.MaxEntries {
			result.Truncated = true
			return
		}
		path := entry.Join(parent.path, child.Name())
		relative := entry.Relative(path)

		switch h := child.(type) {
		case capability.DirHandle:
			if matcher != nil && matcher.ShouldIgnoreDir(relative) {
				continue
			}
			if limits.MaxDepth > 0 && parent.depth+1 > limits.MaxDepth {
				continue
			}
			result.Entries = append(result.Entries, s.folder(path, h, now))
			*queue = append(*queue, pending{dir: h, path: path, depth: parent.depth + 1})

		case capability.FileHandle:
			if matcher != nil && matcher.ShouldIgnore(relative) {
				continue
			}
			info, err := s.caps.StatFile(ctx, h)
			if err != nil {
				s.logger.Warn("failed to stat file", "path", path, "error", err)
				result.Skipped++
				continue
			}
			e := newEntry(path, entry.TypeFile, now)
			e.DiskLastModified = info.LastModified
			e.File = h
			result.Entries = append(result.Entries, e)
		}
	}
}

func (s *Scanner) folder(path string, h capability.DirHandle, now time.Time) *entry.Entry {
	e := newEntry(path, entry.TypeFolder, now)
	e.Dir = h
	return e
}

func newEntry(path string, typ entry.Type, now time.Time) *entry.Entry {
	return &entry.Entry{
		ID:           uuid.NewString(),
		Path:         path,
		RealPath:     path,
		Name:         entry.Base(path),
		Type:         typ,
		Status:       entry.StatusSynced,
		LastSyncedAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Matcher builds the ignore policy for root from settings, reading .gitignore through the handle.
func (s *Scanner) Matcher(ctx context.Context, root capability.DirHandle, settings entry.Settings) *ignore.Matcher {
	settings = settings.Normalize()
	options := ignore.MatcherOptions{
		IgnoredFolders: settings.IgnoredFolders,
		CustomPatterns: s.patterns,
		Extensions:     settings.Extensions,
	}
	if fh, err := root.File(ctx, ".gitignore", false); err == nil {
		if text, err := s.caps.ReadText(ctx, fh); err == nil {
			options.GitIgnore = strings.NewReader(text)
		} else {
			s.logger.Debug("failed to read .gitignore", "root", root.Name(), "error", err)
		}
	}
	return ignore.NewMatcher(options)
}

// Resolve name-walks from root to the folder at the root-prefixed path. Any segment that cannot
// be resolved yields ErrNeedReopen. Permission loss is returned as is.
func Resolve(ctx context.Context, root capability.DirHandle, path string) (capability.DirHandle, error) {
	segments, err := rootSegments(root, path)
	if err != nil {
		return nil, err
	}
	dir := root
	for _, name := range segments {
		next, err := dir.Dir(ctx, name, false)
		if err != nil {
			return nil, resolveErr(path, err)
		}
		dir = next
	}
	return dir, nil
}

func rootSegments(root capability.DirHandle, path string) ([]string, error) {
	segments := entry.Segments(path)
	if len(segments) == 0 || segments[0] != root.Name() {
		return nil, fmt.Errorf("%s is outside root %s: %w", path, root.Name(), ErrNeedReopen)
	}
	return segments[1:], nil
}

func resolveErr(path string, err error) error {
	if errors.Is(err, capability.ErrPermissionLost) {
		return err
	}
	return fmt.Errorf("resolving %s: %w: %v", path, ErrNeedReopen, err)
}
