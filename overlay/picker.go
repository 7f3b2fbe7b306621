package overlay

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/store"
)

// Target is a disk location chosen for a web-only entry. The file itself is created by the save.
type Target struct {
	Dir       capability.DirHandle
	Name      string
	RealPath  string // root-prefixed disk path
	ProjectID string
	// Folders holds the folders between the root and the file, by root-prefixed path.
	Folders map[string]capability.DirHandle
}

// Picker chooses where a web-only entry is saved. It returns ErrSaveCancelled when no
// location is chosen.
type Picker interface {
	Pick(ctx context.Context, e *entry.Entry, location string) (Target, error)
}

// RootPicker saves web-only entries under an attached project root. The location is a
// root-prefixed path; an empty location means the entry's own path. Missing folders are
// created, an existing file is never overwritten.
type RootPicker struct {
	Store *store.Store
}

// Pick resolves location against the attached root whose name is its first segment.
func (p RootPicker) Pick(ctx context.Context, e *entry.Entry, location string) (Target, error) {
	path := entry.NormalizePath(location)
	if path == "" {
		path = e.Path
	}
	segments := entry.Segments(path)
	if len(segments) < 2 {
		return Target{}, fmt.Errorf("%s has no folder to save into: %w", path, ErrSaveCancelled)
	}

	project, err := p.Store.ProjectByName(segments[0])
	if err != nil || project.Dir == nil {
		return Target{}, fmt.Errorf("root %s is not open: %w", segments[0], ErrSaveCancelled)
	}

	dir := project.Dir
	folders := make(map[string]capability.DirHandle)
	folderPath := segments[0]
	for _, name := range segments[1 : len(segments)-1] {
		next, err := dir.Dir(ctx, name, true)
		if err != nil {
			return Target{}, fmt.Errorf("preparing folder %s: %w", name, err)
		}
		dir = next
		folderPath = entry.Join(folderPath, name)
		folders[folderPath] = dir
	}

	name := segments[len(segments)-1]
	if _, err := dir.File(ctx, name, false); err == nil {
		return Target{}, fmt.Errorf("%s: %w", path, ErrExists)
	} else if !errors.Is(err, capability.ErrNotFound) {
		return Target{}, fmt.Errorf("checking %s: %w", path, err)
	}
	return Target{Dir: dir, Name: name, RealPath: path, ProjectID: project.ID, Folders: folders}, nil
}
