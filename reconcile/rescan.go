package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/events"
	"github.com/lexandro/mdspace-mcp/scanner"
)

// Report summarizes a rescan or reattach.
type Report struct {
	Scope       string `json:"scope"`
	Scanned     int    `json:"scanned"`
	Added       int    `json:"added"`
	Refreshed   int    `json:"refreshed"`
	Removed     int    `json:"removed"`
	Restored    int    `json:"restored"`
	DirtyKept   int    `json:"dirtyKept"`
	Orphaned    int    `json:"orphaned"`
	WebOnlyKept int    `json:"webOnlyKept"`
	Collisions  int    `json:"collisions"`
	Bound       int    `json:"bound"`
	Unbound     int    `json:"unbound"`
	Skipped     int    `json:"skipped"`
	Truncated   bool   `json:"truncated"`
}

// Changed reports whether the rescan altered the entry set.
func (r *Report) Changed() bool {
	return r.Added+r.Removed+r.Restored+r.Orphaned > 0
}

// Rescan re-walks the whole root of a project and replaces the root's entries with the fresh
// disk set plus the root's web-only entries. Entries of other roots are left untouched.
// It is an explicit user action and may prompt for permission.
func (e *Engine) Rescan(ctx context.Context, projectID string) (*Report, error) {
	project, err := e.store.Project(projectID)
	if err != nil {
		return nil, err
	}
	if project.Dir == nil {
		return nil, fmt.Errorf("project %s: %w", project.Name, ErrNeedReopen)
	}
	return e.rescan(ctx, project, project.Dir, project.Name, project.Name)
}

// RescanFolder re-walks one folder of a project. Entries outside the folder, in this root or
// any other, are left untouched; web-only entries inside it are kept.
func (e *Engine) RescanFolder(ctx context.Context, projectID, folderPath string) (*Report, error) {
	project, err := e.store.Project(projectID)
	if err != nil {
		return nil, err
	}
	if project.Dir == nil {
		return nil, fmt.Errorf("project %s: %w", project.Name, ErrNeedReopen)
	}
	folderPath = entry.NormalizePath(folderPath)
	if folderPath == project.Name || folderPath == "" {
		return e.rescan(ctx, project, project.Dir, project.Name, project.Name)
	}
	if entry.RootName(folderPath) != project.Name {
		return nil, fmt.Errorf("%s is outside root %s", folderPath, project.Name)
	}

	diskPath := folderPath
	if stored, err := e.store.EntryByPath(folderPath); err == nil {
		if !stored.IsFolder() {
			return nil, fmt.Errorf("%s is not a folder", folderPath)
		}
		if stored.IsWebOnly {
			return &Report{Scope: folderPath}, nil
		}
		diskPath = stored.DiskPath()
	}

	if _, err := e.permitRoot(ctx, project, Interactive); err != nil {
		return nil, err
	}
	dir, err := scanner.Resolve(ctx, project.Dir, diskPath)
	if err != nil {
		e.logger.Warn("folder cannot be resolved on disk", "path", folderPath, "disk_path", diskPath, "error", err)
		return nil, err
	}
	return e.rescan(ctx, project, dir, folderPath, diskPath)
}

// rescan walks dir (at diskScope on disk) and swaps the entries within scope.
func (e *Engine) rescan(ctx context.Context, project *entry.Project, dir capability.DirHandle, scope, diskScope string) (*Report, error) {
	if _, err := e.permitRoot(ctx, project, Interactive); err != nil {
		return nil, err
	}
	done := e.begin()
	defer done()

	settings, err := e.store.Settings()
	if err != nil {
		e.logger.Warn("using default settings", "error", err)
	}
	matcher := e.scanner.Matcher(ctx, project.Dir, settings)
	result, err := e.scanner.Walk(ctx, dir, diskScope, matcher, scanner.LimitsFrom(settings))
	if err != nil {
		if errors.Is(err, capability.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", diskScope, ErrNeedReopen)
		}
		return nil, err
	}
	for _, fresh := range result.Entries {
		fresh.ProjectID = project.ID
	}

	report := &Report{Scope: scope, Scanned: len(result.Entries), Skipped: result.Skipped, Truncated: result.Truncated}
	err = e.store.Swap(func(current []*entry.Entry) ([]*entry.Entry, error) {
		*report = Report{Scope: scope, Scanned: len(result.Entries), Skipped: result.Skipped, Truncated: result.Truncated}
		return merge(current, result.Entries, scope, diskScope, report), nil
	})
	if err != nil {
		e.logger.Error("rescan swap failed", "scope", scope, "error", err)
		return nil, fmt.Errorf("replacing entries under %s: %w", scope, err)
	}
	if report.Collisions > 0 {
		e.logger.Warn("disk entries shadowed by web-only entries", "scope", scope, "count", report.Collisions)
	}
	e.logger.Info("rescan complete",
		"scope", scope,
		"added", report.Added,
		"refreshed", report.Refreshed,
		"removed", report.Removed,
		"web_only_kept", report.WebOnlyKept,
	)
	e.events.Publish(events.Event{Type: events.EventSetChanged, Path: scope})
	return report, nil
}

// merge builds the replacement set for a rescan. current is the full stored set, fresh the walk
// of the scope. Entries outside the scope are kept as is, web-only entries inside it are kept,
// and disk-backed entries inside it are replaced by the fresh walk. A fresh entry that matches a
// stored one by disk path keeps its id; when the stored entry holds unsaved edits, the edits and
// the previous disk time are kept so the next check can still raise a conflict.
func merge(current, fresh []*entry.Entry, scope, diskScope string, report *Report) []*entry.Entry {
	inScope := func(e *entry.Entry) bool {
		if entry.Within(e.Path, scope) {
			return true
		}
		return e.RealPath != "" && entry.Within(e.RealPath, diskScope)
	}

	replacement := make([]*entry.Entry, 0, len(current)+len(fresh))
	taken := make(map[string]bool, len(current)+len(fresh))
	previous := make(map[string]*entry.Entry)

	for _, e := range current {
		switch {
		case !inScope(e):
			replacement = append(replacement, e)
			taken[e.Path] = true
		case e.IsWebOnly:
			replacement = append(replacement, e)
			taken[e.Path] = true
			report.WebOnlyKept++
		default:
			previous[e.RealPath] = e
		}
	}

	matched := make(map[string]bool, len(previous))
	for _, f := range fresh {
		if taken[f.Path] {
			report.Collisions++
			continue
		}
		old, ok := previous[f.RealPath]
		if ok && old.Type == f.Type && !matched[f.RealPath] {
			matched[f.RealPath] = true
			f.ID = old.ID
			f.CreatedAt = old.CreatedAt
			switch {
			case old.IsHidden:
				report.Restored++
			case old.IsDirty:
				f.ContentOverride = old.ContentOverride
				f.IsDirty = true
				f.Status = old.Status
				f.DiskLastModified = old.DiskLastModified
				f.LastSyncedAt = old.LastSyncedAt
				f.UpdatedAt = old.UpdatedAt
				report.DirtyKept++
			default:
				report.Refreshed++
			}
		} else {
			report.Added++
		}
		replacement = append(replacement, f)
		taken[f.Path] = true
	}
	for realPath, old := range previous {
		if matched[realPath] || old.IsHidden {
			continue
		}
		if old.IsDirty && !old.IsFolder() && !taken[old.Path] {
			replacement = append(replacement, orphan(old))
			taken[old.Path] = true
			report.Orphaned++
			continue
		}
		report.Removed++
	}
	return replacement
}

// orphan turns an edited entry whose disk file disappeared into a web-only entry,
// so the unsaved text survives the rescan.
func orphan(old *entry.Entry) *entry.Entry {
	e := old.Clone()
	e.IsWebOnly = true
	e.RealPath = ""
	e.File, e.Dir = nil, nil
	e.Status = entry.StatusWebOnly
	return e
}

// Reattach binds a freshly opened root to a known project and re-binds entry handles by disk
// path. Entries with no disk counterpart stay detached until a rescan.
func (e *Engine) Reattach(ctx context.Context, projectID string, root capability.DirHandle) (*Report, error) {
	project, err := e.store.Project(projectID)
	if err != nil {
		return nil, err
	}
	if root.Name() != project.Name {
		return nil, fmt.Errorf("root %s does not match project %s", root.Name(), project.Name)
	}
	if _, err := e.permit(ctx, root, Interactive); err != nil {
		if errors.Is(err, capability.ErrNotFound) {
			return nil, fmt.Errorf("project %s: %w", project.Name, ErrNeedReopen)
		}
		return nil, err
	}
	e.store.AttachRoot(project.ID, root)

	done := e.begin()
	defer done()

	settings, err := e.store.Settings()
	if err != nil {
		e.logger.Warn("using default settings", "error", err)
	}
	result, err := e.scanner.Walk(ctx, root, project.Name, e.scanner.Matcher(ctx, root, settings), scanner.LimitsFrom(settings))
	if err != nil {
		return nil, err
	}
	stored, err := e.store.EntriesWithin(project.Name)
	if err != nil {
		return nil, err
	}

	report := &Report{Scope: project.Name, Scanned: len(result.Entries), Skipped: result.Skipped, Truncated: result.Truncated}
	handles := bindByRealPath(stored, result.Entries, false)
	report.Bound = len(handles)
	for _, s := range stored {
		if !s.IsWebOnly && handles[s.ID] == nil {
			report.Unbound++
		}
	}
	e.store.BindHandles(handles)
	e.logger.Info("root reattached", "project", project.Name, "bound", report.Bound, "unbound", report.Unbound)
	e.events.Publish(events.Event{Type: events.EventSetChanged, Path: project.Name})
	return report, nil
}

// bindByRealPath pairs stored disk-backed entries with fresh handles of the same kind.
// With onlyDetached set, entries that already hold a handle are left alone.
func bindByRealPath(stored, fresh []*entry.Entry, onlyDetached bool) map[string]capability.Handle {
	byReal := make(map[string]*entry.Entry, len(fresh))
	for _, f := range fresh {
		byReal[f.RealPath] = f
	}
	handles := make(map[string]capability.Handle)
	for _, s := range stored {
		if s.IsWebOnly || s.RealPath == "" {
			continue
		}
		if onlyDetached && s.HandleState() == entry.HandleAttached {
			continue
		}
		if f, ok := byReal[s.RealPath]; ok && f.Type == s.Type {
			handles[s.ID] = f.Handle()
		}
	}
	return handles
}
