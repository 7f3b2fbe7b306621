package capability

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Prompter asks the user to grant access to a volume. It returns true when access is granted.
type Prompter func(ctx context.Context, name string) bool

// Volume is a directory tree on an afero filesystem guarded by a permission state.
// Handles minted from a volume share its permission, the way browser handles from one
// directory picker share a grant.
type Volume struct {
	fs       afero.Fs
	root     string
	prompter Prompter

	mu    sync.RWMutex
	state Permission
}

// NewVolume opens root on fs. Opening a volume is itself a user choice, so it starts granted.
// A nil prompter grants every interactive request.
func NewVolume(fs afero.Fs, root string, prompter Prompter) *Volume {
	return &Volume{
		fs:       fs,
		root:     filepath.Clean(root),
		prompter: prompter,
		state:    PermissionGranted,
	}
}

// Root returns the handle for the volume root directory.
func (v *Volume) Root() DirHandle {
	return &dirHandle{node{volume: v}}
}

// Location returns the OS path of the volume root.
func (v *Volume) Location() string { return v.root }

// Name returns the root folder name.
func (v *Volume) Name() string { return filepath.Base(v.root) }

// Revoke sets the permission state, simulating the platform withdrawing access.
func (v *Volume) Revoke(state Permission) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = state
}

func (v *Volume) permission() Permission {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

func (v *Volume) query() (Permission, error) {
	state := v.permission()
	if state != PermissionGranted {
		return state, nil
	}
	if _, err := v.fs.Stat(v.root); err != nil {
		if os.IsPermission(err) {
			return PermissionDenied, nil
		}
		if os.IsNotExist(err) {
			return PermissionGranted, fmt.Errorf("volume %s: %w", v.root, ErrNotFound)
		}
		return PermissionGranted, err
	}
	return PermissionGranted, nil
}

func (v *Volume) request(ctx context.Context) (Permission, error) {
	if v.permission() != PermissionGranted {
		if v.prompter != nil && !v.prompter(ctx, v.Name()) {
			v.Revoke(PermissionDenied)
			return PermissionDenied, nil
		}
		v.Revoke(PermissionGranted)
	}
	return v.query()
}

func (v *Volume) checkAccess() error {
	if v.permission() != PermissionGranted {
		return ErrPermissionLost
	}
	return nil
}

func (v *Volume) abs(rel string) string {
	if rel == "" {
		return v.root
	}
	return filepath.Join(v.root, filepath.FromSlash(rel))
}

// node is the shared part of file and directory handles: a slash path relative to the volume root.
type node struct {
	volume *Volume
	rel    string
}

func (n node) Name() string {
	if n.rel == "" {
		return n.volume.Name()
	}
	return path.Base(n.rel)
}

func (n node) QueryPermission(ctx context.Context) (Permission, error) {
	return n.volume.query()
}

func (n node) RequestPermission(ctx context.Context) (Permission, error) {
	return n.volume.request(ctx)
}

func (n node) child(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("invalid child name %q", name)
	}
	if n.rel == "" {
		return name, nil
	}
	return n.rel + "/" + name, nil
}

type dirHandle struct{ node }

func (d *dirHandle) Kind() Kind { return KindDirectory }

func (d *dirHandle) List(ctx context.Context) ([]Handle, error) {
	if err := d.volume.checkAccess(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(d.volume.fs, d.volume.abs(d.rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("listing %s: %w", d.Name(), ErrNotFound)
		}
		return nil, fmt.Errorf("listing %s: %w", d.Name(), err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	handles := make([]Handle, 0, len(infos))
	for _, info := range infos {
		rel, err := d.child(info.Name())
		if err != nil {
			continue
		}
		if info.IsDir() {
			handles = append(handles, &dirHandle{node{volume: d.volume, rel: rel}})
		} else if info.Mode().IsRegular() {
			handles = append(handles, &fileHandle{node{volume: d.volume, rel: rel}})
		}
	}
	return handles, nil
}

func (d *dirHandle) Dir(ctx context.Context, name string, create bool) (DirHandle, error) {
	if err := d.volume.checkAccess(); err != nil {
		return nil, err
	}
	rel, err := d.child(name)
	if err != nil {
		return nil, err
	}
	abs := d.volume.abs(rel)
	info, err := d.volume.fs.Stat(abs)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("%s: %w", rel, ErrTypeMismatch)
	case err == nil:
	case os.IsNotExist(err) && create:
		if err := d.volume.fs.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", rel, err)
		}
	case os.IsNotExist(err):
		return nil, fmt.Errorf("%s: %w", rel, ErrNotFound)
	default:
		return nil, fmt.Errorf("resolving %s: %w", rel, err)
	}
	return &dirHandle{node{volume: d.volume, rel: rel}}, nil
}

func (d *dirHandle) File(ctx context.Context, name string, create bool) (FileHandle, error) {
	if err := d.volume.checkAccess(); err != nil {
		return nil, err
	}
	rel, err := d.child(name)
	if err != nil {
		return nil, err
	}
	abs := d.volume.abs(rel)
	info, err := d.volume.fs.Stat(abs)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("%s: %w", rel, ErrTypeMismatch)
	case err == nil:
	case os.IsNotExist(err) && create:
		if err := afero.WriteFile(d.volume.fs, abs, nil, 0o644); err != nil {
			return nil, fmt.Errorf("creating file %s: %w", rel, err)
		}
	case os.IsNotExist(err):
		return nil, fmt.Errorf("%s: %w", rel, ErrNotFound)
	default:
		return nil, fmt.Errorf("resolving %s: %w", rel, err)
	}
	return &fileHandle{node{volume: d.volume, rel: rel}}, nil
}

func (d *dirHandle) Create(ctx context.Context, name string, data []byte) (FileHandle, error) {
	if err := d.volume.checkAccess(); err != nil {
		return nil, err
	}
	rel, err := d.child(name)
	if err != nil {
		return nil, err
	}
	if _, err := d.volume.fs.Stat(d.volume.abs(rel)); err == nil {
		return nil, fmt.Errorf("%s: %w", rel, ErrExists)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("resolving %s: %w", rel, err)
	}
	if err := d.volume.replace(rel, data); err != nil {
		return nil, err
	}
	return &fileHandle{node{volume: d.volume, rel: rel}}, nil
}

type fileHandle struct{ node }

func (f *fileHandle) Kind() Kind { return KindFile }

func (f *fileHandle) Read(ctx context.Context) ([]byte, error) {
	if err := f.volume.checkAccess(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.volume.fs, f.volume.abs(f.rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", f.rel, ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", f.rel, err)
	}
	return data, nil
}

// Write replaces the file content through a temp file in the same directory and a rename.
func (f *fileHandle) Write(ctx context.Context, data []byte) error {
	if err := f.volume.checkAccess(); err != nil {
		return err
	}
	return f.volume.replace(f.rel, data)
}

// replace writes data to a temp file next to rel and renames it into place.
func (v *Volume) replace(rel string, data []byte) error {
	abs := v.abs(rel)
	tmp, err := afero.TempFile(v.fs, filepath.Dir(abs), ".mdspace-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", rel, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		v.fs.Remove(tmpPath)
		return fmt.Errorf("writing temp file for %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		v.fs.Remove(tmpPath)
		return fmt.Errorf("closing temp file for %s: %w", rel, err)
	}
	if err := v.fs.Rename(tmpPath, abs); err != nil {
		v.fs.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", rel, err)
	}
	return nil
}

func (f *fileHandle) Stat(ctx context.Context) (FileInfo, error) {
	if err := f.volume.checkAccess(); err != nil {
		return FileInfo{}, err
	}
	info, err := f.volume.fs.Stat(f.volume.abs(f.rel))
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("stat %s: %w", f.rel, ErrNotFound)
		}
		return FileInfo{}, fmt.Errorf("stat %s: %w", f.rel, err)
	}
	return FileInfo{Size: info.Size(), LastModified: info.ModTime()}, nil
}

// OSPath returns the absolute OS path behind a handle minted by a Volume, if any.
func OSPath(h Handle) (string, bool) {
	switch v := h.(type) {
	case *dirHandle:
		return v.volume.abs(v.rel), true
	case *fileHandle:
		return v.volume.abs(v.rel), true
	}
	return "", false
}
