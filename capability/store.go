package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Store is the single gateway to disk handles. It owns the process-wide permissionLost flag.
type Store struct {
	logger *slog.Logger
	lost   atomic.Bool
}

// NewStore creates a capability store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

// PermissionLost reports the sticky permission-lost indicator.
func (s *Store) PermissionLost() bool { return s.lost.Load() }

// QueryPermission asks without prompting. Query errors are reported as denied.
func (s *Store) QueryPermission(ctx context.Context, h Handle) Permission {
	p, err := h.QueryPermission(ctx)
	if err != nil {
		s.logger.Debug("permission query failed", "name", h.Name(), "error", err)
		return PermissionDenied
	}
	return p
}

// RequestPermission may prompt. Only explicit user actions call it.
func (s *Store) RequestPermission(ctx context.Context, h Handle) (Permission, error) {
	p, err := h.RequestPermission(ctx)
	if err != nil {
		return PermissionDenied, err
	}
	if p == PermissionGranted {
		s.clear()
	} else {
		s.markLost(h)
	}
	return p, nil
}

// Permit verifies access to h. Background callers pass interactive=false and only query;
// interactive callers may prompt. A missing grant sets the permissionLost flag and returns
// ErrPermissionLost; a granted answer clears the flag. Other failures (for example a root
// that no longer exists) are returned as is and leave the flag alone.
func (s *Store) Permit(ctx context.Context, h Handle, interactive bool) error {
	var (
		p   Permission
		err error
	)
	if interactive {
		p, err = h.RequestPermission(ctx)
	} else {
		p, err = h.QueryPermission(ctx)
	}
	if err != nil {
		return fmt.Errorf("checking permission for %s: %w", h.Name(), err)
	}
	if p != PermissionGranted {
		s.markLost(h)
		return ErrPermissionLost
	}
	s.clear()
	return nil
}

// ReadText reads the file content as text.
func (s *Store) ReadText(ctx context.Context, fh FileHandle) (string, error) {
	data, err := fh.Read(ctx)
	if err != nil {
		return "", s.noteErr(fh, err)
	}
	return string(data), nil
}

// WriteText writes text and returns the file's new modification time.
func (s *Store) WriteText(ctx context.Context, fh FileHandle, text string) (time.Time, error) {
	if err := fh.Write(ctx, []byte(text)); err != nil {
		return time.Time{}, s.noteErr(fh, err)
	}
	info, err := fh.Stat(ctx)
	if err != nil {
		return time.Time{}, s.noteErr(fh, err)
	}
	return info.LastModified, nil
}

// CreateText writes a new file under dir and returns its handle and modification time.
func (s *Store) CreateText(ctx context.Context, dir DirHandle, name, text string) (FileHandle, time.Time, error) {
	fh, err := dir.Create(ctx, name, []byte(text))
	if err != nil {
		return nil, time.Time{}, s.noteErr(dir, err)
	}
	info, err := fh.Stat(ctx)
	if err != nil {
		return nil, time.Time{}, s.noteErr(fh, err)
	}
	return fh, info.LastModified, nil
}

// StatFile returns size and modification time.
func (s *Store) StatFile(ctx context.Context, fh FileHandle) (FileInfo, error) {
	info, err := fh.Stat(ctx)
	if err != nil {
		return FileInfo{}, s.noteErr(fh, err)
	}
	return info, nil
}

func (s *Store) noteErr(h Handle, err error) error {
	if errors.Is(err, ErrPermissionLost) {
		s.markLost(h)
	}
	return err
}

func (s *Store) markLost(h Handle) {
	if !s.lost.Swap(true) {
		s.logger.Warn("permission lost", "name", h.Name())
	}
}

func (s *Store) clear() {
	if s.lost.Swap(false) {
		s.logger.Info("permission restored")
	}
}
