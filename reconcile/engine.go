// Package reconcile compares disk state with the persisted overlay and applies the outcome.
//
// Per-entry checks take their decision inside a store transaction, so an edit that lands
// between the disk stat and the write is never overwritten. Rescans compute the complete
// replacement set and apply it with a single store swap.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/events"
	"github.com/lexandro/mdspace-mcp/scanner"
	"github.com/lexandro/mdspace-mcp/store"
)

// Mode says whether a call comes from an explicit user action or from a timer.
type Mode int

const (
	// Background calls only query permission and skip silently when it is missing.
	Background Mode = iota
	// Interactive calls may prompt for permission.
	Interactive
)

// Outcome is the result of a per-entry check.
type Outcome string

const (
	OutcomeUnchanged      Outcome = "unchanged"
	OutcomeReloaded       Outcome = "reloaded"
	OutcomeConflict       Outcome = "conflict"
	OutcomeSkipped        Outcome = "skipped"
	OutcomePermissionLost Outcome = "permission-lost"
	OutcomeDetached       Outcome = "detached"
	OutcomeFailed         Outcome = "failed"
)

// Choice picks a side when resolving a conflict.
type Choice string

const (
	ChoiceKeepWeb Choice = "keep-web"
	ChoiceUseDisk Choice = "use-disk"
)

// ParseChoice accepts the wire names of a conflict choice.
func ParseChoice(s string) (Choice, error) {
	switch Choice(s) {
	case ChoiceKeepWeb, ChoiceUseDisk:
		return Choice(s), nil
	}
	return "", fmt.Errorf("unknown conflict choice %q (want %s or %s)", s, ChoiceKeepWeb, ChoiceUseDisk)
}

var (
	// ErrNeedReopen means the root must be chosen again before the operation can run.
	ErrNeedReopen = scanner.ErrNeedReopen
	// ErrNoConflict is returned when resolving an entry that is not in conflict.
	ErrNoConflict = errors.New("entry is not in conflict")
	// ErrDetached is returned when an entry has no live disk handle in this process.
	ErrDetached = errors.New("entry is detached from disk, reopen its root folder")
)

// errNoop aborts a store update without writing.
var errNoop = errors.New("no change")

// Config holds engine dependencies.
type Config struct {
	Store        *store.Store
	Capabilities *capability.Store
	Scanner      *scanner.Scanner
	Events       *events.Broadcaster
	Logger       *slog.Logger
	Now          func() time.Time
}

// Engine is the reconciliation engine.
type Engine struct {
	store   *store.Store
	caps    *capability.Store
	scanner *scanner.Scanner
	events  *events.Broadcaster
	logger  *slog.Logger
	now     func() time.Time

	syncing atomic.Int32
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:   cfg.Store,
		caps:    cfg.Capabilities,
		scanner: cfg.Scanner,
		events:  cfg.Events,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// Syncing reports whether a scan is in flight.
func (e *Engine) Syncing() bool { return e.syncing.Load() > 0 }

func (e *Engine) begin() func() {
	e.syncing.Add(1)
	return func() { e.syncing.Add(-1) }
}

// permit checks access for h. In background mode a missing grant is not an error: it returns
// false with a nil error after raising the permission-lost indicator.
func (e *Engine) permit(ctx context.Context, h capability.Handle, mode Mode) (bool, error) {
	err := e.caps.Permit(ctx, h, mode == Interactive)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, capability.ErrPermissionLost):
		e.events.Publish(events.Event{Type: events.EventPermissionLost, Path: h.Name()})
		if mode == Interactive {
			return false, err
		}
		return false, nil
	default:
		return false, err
	}
}

// permitRoot is permit for a project root. A root that is gone from disk cannot be reached
// through its handle any more, so it is reported as ErrNeedReopen.
func (e *Engine) permitRoot(ctx context.Context, project *entry.Project, mode Mode) (bool, error) {
	ok, err := e.permit(ctx, project.Dir, mode)
	if errors.Is(err, capability.ErrNotFound) {
		e.logger.Warn("root folder is gone from disk", "project", project.Name, "error", err)
		return false, fmt.Errorf("project %s: %w", project.Name, ErrNeedReopen)
	}
	return ok, err
}

// CheckEntry runs the per-entry transition rule against a fresh disk stat:
// an unchanged or older disk time leaves the entry alone, a newer one reloads a clean entry
// and puts a dirty entry into conflict. Running it twice without a disk change is a no-op.
func (e *Engine) CheckEntry(ctx context.Context, id string, mode Mode) (Outcome, error) {
	current, err := e.store.Entry(id)
	if err != nil {
		return OutcomeFailed, err
	}
	if current.IsWebOnly || current.IsFolder() || current.IsHidden {
		return OutcomeSkipped, nil
	}
	if current.File == nil {
		return OutcomeDetached, nil
	}

	ok, err := e.permit(ctx, current.File, mode)
	if err != nil {
		if errors.Is(err, capability.ErrPermissionLost) {
			return OutcomePermissionLost, err
		}
		e.logger.Warn("permission check failed", "path", current.Path, "error", err)
		return OutcomeFailed, err
	}
	if !ok {
		return OutcomePermissionLost, nil
	}

	info, err := e.caps.StatFile(ctx, current.File)
	if err != nil {
		e.logger.Warn("failed to stat entry", "path", current.Path, "error", err)
		if errors.Is(err, capability.ErrPermissionLost) {
			return OutcomePermissionLost, nil
		}
		return OutcomeFailed, err
	}

	now := e.now()
	outcome := OutcomeUnchanged
	updated, err := e.store.Update(id, func(stored *entry.Entry) error {
		if stored.IsWebOnly || stored.IsHidden {
			outcome = OutcomeSkipped
			return errNoop
		}
		if !info.LastModified.After(stored.DiskLastModified) {
			outcome = OutcomeUnchanged
			return errNoop
		}
		stored.DiskLastModified = info.LastModified
		stored.UpdatedAt = now
		if !stored.IsDirty {
			stored.Status = entry.StatusSynced
			stored.LastSyncedAt = now
			outcome = OutcomeReloaded
			return nil
		}
		stored.Status = entry.StatusConflict
		outcome = OutcomeConflict
		return nil
	})
	if errors.Is(err, errNoop) {
		return outcome, nil
	}
	if err != nil {
		e.logger.Error("failed to store check result", "path", current.Path, "error", err)
		return OutcomeFailed, err
	}

	switch outcome {
	case OutcomeReloaded:
		e.logger.Info("entry reloaded from disk", "path", updated.Path)
		e.events.Publish(events.Event{
			Type:    events.EventReloaded,
			EntryID: updated.ID,
			Path:    updated.Path,
			Status:  entry.StatusDiskChanged,
		})
	case OutcomeConflict:
		diskText, err := e.caps.ReadText(ctx, current.File)
		if err != nil {
			e.logger.Warn("failed to read disk side of conflict", "path", updated.Path, "error", err)
		}
		e.logger.Info("conflict detected", "path", updated.Path)
		e.events.Publish(events.Event{
			Type:     events.EventConflict,
			EntryID:  updated.ID,
			Path:     updated.Path,
			Status:   entry.StatusConflict,
			DiskText: diskText,
		})
	}
	return outcome, nil
}

// ResolveConflict applies the user's choice to an entry in conflict.
// keep-web marks it modified and keeps the overlay text; use-disk drops the overlay text and
// adopts the disk modification time.
func (e *Engine) ResolveConflict(ctx context.Context, id string, choice Choice) (*entry.Entry, error) {
	current, err := e.store.Entry(id)
	if err != nil {
		return nil, err
	}
	if current.Status != entry.StatusConflict {
		return nil, fmt.Errorf("%s: %w", current.Path, ErrNoConflict)
	}

	now := e.now()
	var apply func(stored *entry.Entry) error
	switch choice {
	case ChoiceKeepWeb:
		apply = func(stored *entry.Entry) error {
			stored.Status = entry.StatusModified
			stored.UpdatedAt = now
			return nil
		}
	case ChoiceUseDisk:
		if current.File == nil {
			return nil, fmt.Errorf("%s: %w", current.Path, ErrDetached)
		}
		if _, err := e.permit(ctx, current.File, Interactive); err != nil {
			return nil, err
		}
		info, err := e.caps.StatFile(ctx, current.File)
		if err != nil {
			return nil, fmt.Errorf("reading disk state of %s: %w", current.Path, err)
		}
		apply = func(stored *entry.Entry) error {
			stored.ContentOverride = nil
			stored.IsDirty = false
			if info.LastModified.After(stored.DiskLastModified) {
				stored.DiskLastModified = info.LastModified
			}
			stored.Status = entry.StatusSynced
			stored.LastSyncedAt = now
			stored.UpdatedAt = now
			return nil
		}
	default:
		return nil, fmt.Errorf("unknown conflict choice %q", choice)
	}

	updated, err := e.store.Update(id, func(stored *entry.Entry) error {
		if stored.Status != entry.StatusConflict {
			return fmt.Errorf("%s: %w", stored.Path, ErrNoConflict)
		}
		return apply(stored)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("conflict resolved", "path", updated.Path, "choice", choice)
	e.events.Publish(events.Event{Type: events.EventEntryChanged, EntryID: updated.ID, Path: updated.Path, Status: updated.Status})
	return updated, nil
}
