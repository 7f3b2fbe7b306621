package entry

import (
	"time"

	"github.com/lexandro/mdspace-mcp/capability"
)

// Type distinguishes files from folders.
type Type string

const (
	TypeFile   Type = "file"
	TypeFolder Type = "folder"
)

// Status is the cached sync classification of an entry.
type Status string

const (
	StatusSynced   Status = "synced"
	StatusModified Status = "modified"
	StatusConflict Status = "conflict"
	StatusWebOnly  Status = "web-only"
	// StatusDiskChanged is transient: it is reported on reload events and never persisted.
	StatusDiskChanged Status = "disk-changed"
)

// HandleState reports whether an entry or project currently owns a live handle.
type HandleState string

const (
	HandleAttached HandleState = "attached"
	HandleDetached HandleState = "detached"
)

// Entry is a file or folder in the overlay.
// Handles are never serialized; the store attaches them on read.
type Entry struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"projectId,omitempty"`
	Path             string    `json:"path"`               // root-prefixed display path
	RealPath         string    `json:"realPath,omitempty"` // root-prefixed disk path, empty for web-only
	Name             string    `json:"name"`
	Type             Type      `json:"type"`
	ContentOverride  *string   `json:"contentOverride"`
	IsDirty          bool      `json:"isDirty"`
	IsHidden         bool      `json:"isHidden"`
	IsWebOnly        bool      `json:"isWebOnly"`
	LastSyncedAt     time.Time `json:"lastSyncedAt"`
	DiskLastModified time.Time `json:"diskLastModified"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`

	File capability.FileHandle `json:"-"`
	Dir  capability.DirHandle  `json:"-"`
}

// IsFolder reports whether the entry is a folder.
func (e *Entry) IsFolder() bool { return e.Type == TypeFolder }

// Handle returns whichever handle the entry owns, or nil.
func (e *Entry) Handle() capability.Handle {
	if e.File != nil {
		return e.File
	}
	if e.Dir != nil {
		return e.Dir
	}
	return nil
}

// HandleState reports whether a live handle is bound to this entry.
func (e *Entry) HandleState() HandleState {
	if e.Handle() != nil {
		return HandleAttached
	}
	return HandleDetached
}

// SetHandle binds h to the field matching the entry type.
func (e *Entry) SetHandle(h capability.Handle) {
	e.File, e.Dir = nil, nil
	switch v := h.(type) {
	case capability.FileHandle:
		e.File = v
	case capability.DirHandle:
		e.Dir = v
	}
}

// HasOverride reports whether the overlay holds authoritative text for the entry.
func (e *Entry) HasOverride() bool { return e.ContentOverride != nil }

// Override returns the overlay text or an empty string.
func (e *Entry) Override() string {
	if e.ContentOverride == nil {
		return ""
	}
	return *e.ContentOverride
}

// SetOverride stores a copy of text as the overlay content.
func (e *Entry) SetOverride(text string) {
	e.ContentOverride = &text
}

// DiskPath returns the path used to resolve the backing disk object.
func (e *Entry) DiskPath() string {
	if e.RealPath != "" {
		return e.RealPath
	}
	return e.Path
}

// Clone returns a copy that shares handles but not the override pointer.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.ContentOverride != nil {
		text := *e.ContentOverride
		c.ContentOverride = &text
	}
	return &c
}

// Visible filters out hidden entries, preserving order.
func Visible(entries []*Entry) []*Entry {
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsHidden {
			out = append(out, e)
		}
	}
	return out
}

// Project is an opened root folder.
type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Location     string    `json:"location,omitempty"` // OS path last opened from; a hint only
	CreatedAt    time.Time `json:"createdAt"`
	LastOpenedAt time.Time `json:"lastOpenedAt"`

	Dir capability.DirHandle `json:"-"`
}

// HandleState reports whether the project root is attached in this process.
func (p *Project) HandleState() HandleState {
	if p.Dir != nil {
		return HandleAttached
	}
	return HandleDetached
}
