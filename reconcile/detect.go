package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/lexandro/mdspace-mcp/events"
	"github.com/lexandro/mdspace-mcp/scanner"
)

// Detection is the result of the lightweight directory scan.
type Detection struct {
	Added          []string `json:"added,omitempty"`
	Missing        []string `json:"missing,omitempty"`
	Rebound        int      `json:"rebound,omitempty"`
	PermissionLost bool     `json:"permissionLost,omitempty"`
	Truncated      bool     `json:"truncated,omitempty"`
}

// Changed reports whether listeners should refresh.
func (d *Detection) Changed() bool {
	return len(d.Added) > 0 || len(d.Missing) > 0
}

// DetectChanges walks the project root in background mode and diffs the path sets.
// Disk paths unknown to the store are inserted as new entries. Stored disk-backed paths that
// are gone from disk are only reported: removal is left to an explicit rescan, so a transient
// scan failure never destroys state. Missing permission is skipped silently.
func (e *Engine) DetectChanges(ctx context.Context, projectID string) (*Detection, error) {
	project, err := e.store.Project(projectID)
	if err != nil {
		return nil, err
	}
	if project.Dir == nil {
		return nil, fmt.Errorf("project %s: %w", project.Name, ErrNeedReopen)
	}
	ok, err := e.permitRoot(ctx, project, Background)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Detection{PermissionLost: true}, nil
	}

	done := e.begin()
	defer done()

	settings, err := e.store.Settings()
	if err != nil {
		e.logger.Warn("using default settings", "error", err)
	}
	matcher := e.scanner.Matcher(ctx, project.Dir, settings)
	result, err := e.scanner.Walk(ctx, project.Dir, project.Name, matcher, scanner.LimitsFrom(settings))
	if err != nil {
		return nil, err
	}
	stored, err := e.store.EntriesWithin(project.Name)
	if err != nil {
		return nil, err
	}

	knownPath := make(map[string]bool, len(stored))
	knownReal := make(map[string]bool, len(stored))
	for _, s := range stored {
		knownPath[s.Path] = true
		if s.RealPath != "" {
			knownReal[s.RealPath] = true
		}
	}
	onDisk := make(map[string]bool, len(result.Entries))
	for _, f := range result.Entries {
		onDisk[f.RealPath] = true
	}

	detection := &Detection{Truncated: result.Truncated}
	for _, f := range result.Entries {
		if knownReal[f.RealPath] || knownPath[f.Path] {
			continue
		}
		f.ProjectID = project.ID
		if err := e.store.Put(f); err != nil {
			e.logger.Warn("failed to insert new entry", "path", f.Path, "error", err)
			continue
		}
		knownPath[f.Path] = true
		detection.Added = append(detection.Added, f.Path)
	}

	// A truncated walk cannot prove absence.
	if !result.Truncated {
		for _, s := range stored {
			if s.IsWebOnly || s.IsHidden || s.RealPath == "" {
				continue
			}
			if !onDisk[s.RealPath] {
				detection.Missing = append(detection.Missing, s.Path)
			}
		}
		sort.Strings(detection.Missing)
	}

	if handles := bindByRealPath(stored, result.Entries, true); len(handles) > 0 {
		e.store.BindHandles(handles)
		detection.Rebound = len(handles)
	}

	if detection.Changed() {
		e.logger.Info("directory changes detected",
			"project", project.Name,
			"added", len(detection.Added),
			"missing", len(detection.Missing),
		)
		e.events.Publish(events.Event{Type: events.EventSetChanged, Path: project.Name, Missing: detection.Missing})
	}
	return detection, nil
}
