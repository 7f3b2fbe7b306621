// Package capability mediates access to capability-scoped file and directory handles.
// Permission loss is an expected condition: background callers check and skip,
// interactive callers may re-request.
package capability

import (
	"context"
	"errors"
	"time"
)

// Permission is the answer to a permission query or request.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionPrompt  Permission = "prompt"
	PermissionDenied  Permission = "denied"
)

// Kind tells file handles from directory handles.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

var (
	// ErrPermissionLost is returned when an operation needs a permission that is not granted.
	ErrPermissionLost = errors.New("permission lost")
	// ErrNotFound is returned when a named child does not exist.
	ErrNotFound = errors.New("handle target not found")
	// ErrTypeMismatch is returned when a child exists with the other kind.
	ErrTypeMismatch = errors.New("handle kind mismatch")
	// ErrExists is returned when a new file would replace an existing one.
	ErrExists = errors.New("file already exists on disk")
)

// FileInfo holds the metadata needed for reconciliation.
type FileInfo struct {
	Size         int64
	LastModified time.Time
}

// Handle is an opaque ownership token for a disk object.
type Handle interface {
	Kind() Kind
	Name() string
	// QueryPermission never prompts and is safe on any schedule.
	QueryPermission(ctx context.Context) (Permission, error)
	// RequestPermission may prompt; only call it from explicit user actions.
	RequestPermission(ctx context.Context) (Permission, error)
}

// FileHandle reads and writes a single file.
type FileHandle interface {
	Handle
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Stat(ctx context.Context) (FileInfo, error)
}

// DirHandle enumerates and resolves children of a directory.
type DirHandle interface {
	Handle
	// List returns children sorted by name.
	List(ctx context.Context) ([]Handle, error)
	Dir(ctx context.Context, name string, create bool) (DirHandle, error)
	File(ctx context.Context, name string, create bool) (FileHandle, error)
	// Create writes a new file in one step, so a failed write leaves nothing behind.
	// It fails with ErrExists when the name is taken.
	Create(ctx context.Context, name string, data []byte) (FileHandle, error)
}
