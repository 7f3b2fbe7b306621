// Package overlay implements the user-facing mutations of the entry set.
// Mutations go to the store directly; disk I/O goes through the capability store.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/events"
	"github.com/lexandro/mdspace-mcp/reconcile"
	"github.com/lexandro/mdspace-mcp/store"
)

var (
	// ErrSaveCancelled means no disk location was chosen. Nothing was changed.
	ErrSaveCancelled = errors.New("save cancelled")
	// ErrExists is returned when a save target already exists on disk.
	ErrExists = capability.ErrExists
	// ErrNotFile is returned for content operations on folders.
	ErrNotFile = errors.New("entry is a folder")
	// ErrWebOnly is returned for disk operations on entries without a disk counterpart.
	ErrWebOnly = errors.New("entry exists only in the overlay")
	// ErrDetached is returned when an entry has no live disk handle.
	ErrDetached = reconcile.ErrDetached
)

// Config holds overlay dependencies.
type Config struct {
	Store        *store.Store
	Capabilities *capability.Store
	Engine       *reconcile.Engine
	Events       *events.Broadcaster
	Picker       Picker
	Logger       *slog.Logger
	Now          func() time.Time
}

// Overlay is the overlay mutation API.
type Overlay struct {
	store  *store.Store
	caps   *capability.Store
	engine *reconcile.Engine
	events *events.Broadcaster
	picker Picker
	logger *slog.Logger
	now    func() time.Time
}

// New creates the overlay API. A nil Picker defaults to RootPicker over the same store.
func New(cfg Config) *Overlay {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Picker == nil {
		cfg.Picker = RootPicker{Store: cfg.Store}
	}
	return &Overlay{
		store:  cfg.Store,
		caps:   cfg.Capabilities,
		engine: cfg.Engine,
		events: cfg.Events,
		picker: cfg.Picker,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
}

// Content is the merged view of an entry's text.
type Content struct {
	Text string
	// FromDisk is true when the text was read from disk rather than the overlay.
	FromDisk bool
	// PermissionLost is true when disk text was needed but access is missing; Text is empty.
	PermissionLost bool
}

// Entries returns the visible entry set sorted by path.
func (o *Overlay) Entries() ([]*entry.Entry, error) {
	all, err := o.store.Entries()
	if err != nil {
		return nil, err
	}
	return entry.Visible(all), nil
}

// Placeholder is the initial content of a created document.
func Placeholder(name string) string {
	return "# " + strings.TrimSuffix(name, path.Ext(name)) + "\n"
}

// Create adds a web-only file under parentPath with placeholder content.
// An empty parentPath creates a top-level entry.
func (o *Overlay) Create(parentPath, name string) (*entry.Entry, error) {
	e, err := o.newEntry(parentPath, name, entry.TypeFile)
	if err != nil {
		return nil, err
	}
	e.SetOverride(Placeholder(name))
	e.IsDirty = true
	return o.insert(e)
}

// CreateFolder adds a web-only folder under parentPath.
func (o *Overlay) CreateFolder(parentPath, name string) (*entry.Entry, error) {
	e, err := o.newEntry(parentPath, name, entry.TypeFolder)
	if err != nil {
		return nil, err
	}
	return o.insert(e)
}

func (o *Overlay) newEntry(parentPath, name string, typ entry.Type) (*entry.Entry, error) {
	if err := entry.ValidateName(name); err != nil {
		return nil, err
	}
	parentPath = entry.NormalizePath(parentPath)
	projectID := ""
	if parentPath != "" {
		parent, err := o.store.EntryByPath(parentPath)
		if err != nil {
			return nil, fmt.Errorf("parent %s: %w", parentPath, err)
		}
		if !parent.IsFolder() {
			return nil, fmt.Errorf("parent %s: %w", parentPath, ErrNotFile)
		}
		projectID = parent.ProjectID
	}
	now := o.now()
	return &entry.Entry{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Path:      entry.Join(parentPath, name),
		Name:      name,
		Type:      typ,
		IsWebOnly: true,
		Status:    entry.StatusWebOnly,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (o *Overlay) insert(e *entry.Entry) (*entry.Entry, error) {
	if err := o.store.Put(e); err != nil {
		return nil, err
	}
	o.logger.Debug("entry created", "path", e.Path, "type", e.Type)
	o.events.Publish(events.Event{Type: events.EventSetChanged, EntryID: e.ID, Path: e.Path, Status: e.Status})
	return e, nil
}

// Rename changes the entry's name. For a folder every descendant path is rewritten in the same
// swap, so readers never see a half-renamed tree.
func (o *Overlay) Rename(id, newName string) (*entry.Entry, error) {
	if err := entry.ValidateName(newName); err != nil {
		return nil, err
	}
	now := o.now()
	var renamed *entry.Entry
	err := o.store.Swap(func(current []*entry.Entry) ([]*entry.Entry, error) {
		var target *entry.Entry
		for _, e := range current {
			if e.ID == id {
				target = e
				break
			}
		}
		if target == nil {
			return nil, fmt.Errorf("entry %s: %w", id, store.ErrNotFound)
		}
		oldPath := target.Path
		if entry.Parent(oldPath) == "" && !target.IsWebOnly {
			return nil, fmt.Errorf("%s is an opened root folder and cannot be renamed", oldPath)
		}
		newPath := entry.Join(entry.Parent(oldPath), newName)
		if newPath == oldPath {
			renamed = target
			return current, nil
		}
		for _, e := range current {
			if entry.Within(e.Path, newPath) && !entry.Within(e.Path, oldPath) {
				return nil, fmt.Errorf("%s: %w", newPath, store.ErrDuplicatePath)
			}
		}
		for _, e := range current {
			if !entry.Within(e.Path, oldPath) || (e != target && !target.IsFolder()) {
				continue
			}
			e.Path = entry.Rebase(e.Path, oldPath, newPath)
			e.UpdatedAt = now
		}
		target.Name = newName
		renamed = target
		return current, nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("entry renamed", "id", id, "path", renamed.Path)
	o.events.Publish(events.Event{Type: events.EventSetChanged, EntryID: renamed.ID, Path: renamed.Path})
	return renamed, nil
}

// UpdateContent stores text as the overlay content. It never touches disk.
// An entry in conflict stays in conflict until resolved; web-only entries stay web-only.
func (o *Overlay) UpdateContent(id, text string) (*entry.Entry, error) {
	now := o.now()
	updated, err := o.store.Update(id, func(e *entry.Entry) error {
		if e.IsFolder() {
			return fmt.Errorf("%s: %w", e.Path, ErrNotFile)
		}
		e.SetOverride(text)
		e.IsDirty = true
		switch {
		case e.IsWebOnly:
			e.Status = entry.StatusWebOnly
		case e.Status != entry.StatusConflict:
			e.Status = entry.StatusModified
		}
		e.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.events.Publish(events.Event{Type: events.EventEntryChanged, EntryID: updated.ID, Path: updated.Path, Status: updated.Status})
	return updated, nil
}

// Removal counts what HideOrDelete did.
type Removal struct {
	Deleted int `json:"deleted"`
	Hidden  int `json:"hidden"`
}

// HideOrDelete removes an entry and its descendants from every view. Web-only entries are
// deleted; disk-backed entries are hidden and kept in storage. Disk is never touched.
func (o *Overlay) HideOrDelete(id string) (Removal, error) {
	now := o.now()
	var removal Removal
	var removedPath string
	err := o.store.Swap(func(current []*entry.Entry) ([]*entry.Entry, error) {
		removal = Removal{}
		var target *entry.Entry
		for _, e := range current {
			if e.ID == id {
				target = e
				break
			}
		}
		if target == nil {
			return nil, fmt.Errorf("entry %s: %w", id, store.ErrNotFound)
		}
		removedPath = target.Path

		affected := func(e *entry.Entry) bool {
			return e == target || (target.IsFolder() && entry.Below(e.Path, target.Path))
		}
		kept := current[:0:0]
		for _, e := range current {
			switch {
			case !affected(e):
				kept = append(kept, e)
			case e.IsWebOnly:
				removal.Deleted++
			default:
				if !e.IsHidden {
					e.IsHidden = true
					e.UpdatedAt = now
				}
				removal.Hidden++
				kept = append(kept, e)
			}
		}
		return kept, nil
	})
	if err != nil {
		return Removal{}, err
	}
	o.logger.Info("entry removed", "path", removedPath, "deleted", removal.Deleted, "hidden", removal.Hidden)
	o.events.Publish(events.Event{Type: events.EventSetChanged, EntryID: id, Path: removedPath})
	return removal, nil
}

// SaveToDisk writes the overlay text to disk and marks the entry synced. A web-only entry is
// saved to a location chosen by the picker and becomes disk-backed; if the picker cancels,
// nothing changes. A failed write leaves the entry dirty.
func (o *Overlay) SaveToDisk(ctx context.Context, id, location string) (*entry.Entry, error) {
	current, err := o.store.Entry(id)
	if err != nil {
		return nil, err
	}
	if current.IsFolder() {
		return nil, fmt.Errorf("%s: %w", current.Path, ErrNotFile)
	}
	text := current.Override()

	if current.IsWebOnly {
		return o.saveNew(ctx, current, text, location)
	}
	if !current.HasOverride() {
		// Nothing in the overlay: disk already holds the content.
		return current, nil
	}
	if current.File == nil {
		return nil, fmt.Errorf("%s: %w", current.Path, ErrDetached)
	}
	if err := o.caps.Permit(ctx, current.File, true); err != nil {
		return nil, err
	}
	modified, err := o.caps.WriteText(ctx, current.File, text)
	if err != nil {
		o.logger.Error("failed to save entry", "path", current.Path, "error", err)
		return nil, fmt.Errorf("saving %s: %w", current.Path, err)
	}

	now := o.now()
	saved, err := o.store.Update(id, func(e *entry.Entry) error {
		e.DiskLastModified = modified
		e.LastSyncedAt = now
		e.UpdatedAt = now
		if e.Override() != text {
			// Edited while writing: disk holds the previous text, the overlay stays dirty.
			e.Status = entry.StatusModified
			return nil
		}
		e.ContentOverride = nil
		e.IsDirty = false
		e.Status = entry.StatusSynced
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("entry saved", "path", saved.Path)
	o.events.Publish(events.Event{Type: events.EventEntryChanged, EntryID: saved.ID, Path: saved.Path, Status: saved.Status})
	return saved, nil
}

func (o *Overlay) saveNew(ctx context.Context, current *entry.Entry, text, location string) (*entry.Entry, error) {
	target, err := o.picker.Pick(ctx, current, location)
	if err != nil {
		if errors.Is(err, ErrSaveCancelled) {
			o.logger.Info("save cancelled", "path", current.Path, "reason", err)
		}
		return nil, err
	}
	fh, modified, err := o.caps.CreateText(ctx, target.Dir, target.Name, text)
	if err != nil {
		o.logger.Error("failed to save new entry", "path", current.Path, "target", target.RealPath, "error", err)
		return nil, fmt.Errorf("saving %s: %w", current.Path, err)
	}

	now := o.now()
	var saved *entry.Entry
	err = o.store.Swap(func(all []*entry.Entry) ([]*entry.Entry, error) {
		saved = nil
		for _, e := range all {
			if e.ID == current.ID {
				saved = e
				continue
			}
			// Web-only folders the save created on disk become disk-backed
			if dir, ok := target.Folders[e.Path]; ok && e.IsWebOnly && e.IsFolder() {
				e.IsWebOnly = false
				e.RealPath = e.Path
				e.Dir = dir
				if target.ProjectID != "" {
					e.ProjectID = target.ProjectID
				}
				e.Status = entry.StatusSynced
				e.LastSyncedAt = now
				e.UpdatedAt = now
			}
		}
		if saved == nil {
			return nil, fmt.Errorf("entry %s: %w", current.ID, store.ErrNotFound)
		}

		saved.IsWebOnly = false
		saved.RealPath = target.RealPath
		if target.ProjectID != "" {
			saved.ProjectID = target.ProjectID
		}
		saved.File = fh
		saved.DiskLastModified = modified
		saved.LastSyncedAt = now
		saved.UpdatedAt = now
		if saved.Override() != text {
			saved.Status = entry.StatusModified
			return all, nil
		}
		saved.ContentOverride = nil
		saved.IsDirty = false
		saved.Status = entry.StatusSynced
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("web-only entry saved to disk", "path", saved.Path, "real_path", saved.RealPath)
	o.events.Publish(events.Event{Type: events.EventEntryChanged, EntryID: saved.ID, Path: saved.Path, Status: saved.Status})
	return saved, nil
}

// SyncFromDisk discards the overlay text and adopts the disk metadata. It needs permission to
// already be granted; without it nothing changes and the permission-lost flag is raised.
func (o *Overlay) SyncFromDisk(ctx context.Context, id string) (*entry.Entry, error) {
	current, err := o.store.Entry(id)
	if err != nil {
		return nil, err
	}
	switch {
	case current.IsFolder():
		return nil, fmt.Errorf("%s: %w", current.Path, ErrNotFile)
	case current.IsWebOnly:
		return nil, fmt.Errorf("%s: %w", current.Path, ErrWebOnly)
	case current.File == nil:
		return nil, fmt.Errorf("%s: %w", current.Path, ErrDetached)
	}
	if err := o.caps.Permit(ctx, current.File, false); err != nil {
		if errors.Is(err, capability.ErrPermissionLost) {
			o.events.Publish(events.Event{Type: events.EventPermissionLost, EntryID: id, Path: current.Path})
		}
		return nil, err
	}
	info, err := o.caps.StatFile(ctx, current.File)
	if err != nil {
		return nil, fmt.Errorf("reading disk state of %s: %w", current.Path, err)
	}

	now := o.now()
	synced, err := o.store.Update(id, func(e *entry.Entry) error {
		e.ContentOverride = nil
		e.IsDirty = false
		e.DiskLastModified = info.LastModified
		e.LastSyncedAt = now
		e.UpdatedAt = now
		e.Status = entry.StatusSynced
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.events.Publish(events.Event{Type: events.EventReloaded, EntryID: synced.ID, Path: synced.Path, Status: entry.StatusDiskChanged})
	return synced, nil
}

// ResolveConflict applies a conflict choice.
func (o *Overlay) ResolveConflict(ctx context.Context, id string, choice reconcile.Choice) (*entry.Entry, error) {
	return o.engine.ResolveConflict(ctx, id, choice)
}

// GetContent returns the overlay text when present, else the disk text. Missing permission is
// not an error: the result is empty with PermissionLost set and the indicator raised.
func (o *Overlay) GetContent(ctx context.Context, id string) (Content, error) {
	current, err := o.store.Entry(id)
	if err != nil {
		return Content{}, err
	}
	if current.IsFolder() {
		return Content{}, fmt.Errorf("%s: %w", current.Path, ErrNotFile)
	}
	if current.HasOverride() {
		return Content{Text: current.Override()}, nil
	}
	if current.IsWebOnly {
		return Content{}, nil
	}
	if current.File == nil {
		return Content{}, fmt.Errorf("%s: %w", current.Path, ErrDetached)
	}

	text, err := o.readDisk(ctx, current)
	if errors.Is(err, capability.ErrPermissionLost) {
		return Content{PermissionLost: true}, nil
	}
	if err != nil {
		return Content{}, err
	}
	return Content{Text: text, FromDisk: true}, nil
}

// DiskContent reads the disk text of an entry regardless of its overlay text.
func (o *Overlay) DiskContent(ctx context.Context, id string) (string, error) {
	current, err := o.store.Entry(id)
	if err != nil {
		return "", err
	}
	switch {
	case current.IsFolder():
		return "", fmt.Errorf("%s: %w", current.Path, ErrNotFile)
	case current.IsWebOnly:
		return "", fmt.Errorf("%s: %w", current.Path, ErrWebOnly)
	case current.File == nil:
		return "", fmt.Errorf("%s: %w", current.Path, ErrDetached)
	}
	return o.readDisk(ctx, current)
}

func (o *Overlay) readDisk(ctx context.Context, e *entry.Entry) (string, error) {
	if err := o.caps.Permit(ctx, e.File, false); err != nil {
		if errors.Is(err, capability.ErrPermissionLost) {
			o.events.Publish(events.Event{Type: events.EventPermissionLost, EntryID: e.ID, Path: e.Path})
		}
		return "", err
	}
	text, err := o.caps.ReadText(ctx, e.File)
	if err != nil {
		if !errors.Is(err, capability.ErrPermissionLost) {
			o.logger.Warn("failed to read entry", "path", e.Path, "error", err)
		}
		return "", err
	}
	return text, nil
}
