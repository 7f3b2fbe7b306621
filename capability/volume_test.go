package capability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVolume(t *testing.T) (*Volume, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/work/docs/notes", 0o755); err != nil {
		t.Fatal(err)
	}
	afero.WriteFile(fs, "/work/docs/a.md", []byte("# A\n"), 0o644)
	afero.WriteFile(fs, "/work/docs/notes/b.md", []byte("# B\n"), 0o644)
	return NewVolume(fs, "/work/docs", nil), fs
}

func Test_Volume_RootNameAndList(t *testing.T) {
	v, _ := newTestVolume(t)
	ctx := context.Background()

	root := v.Root()
	if root.Name() != "docs" {
		t.Errorf("expected root name docs, got %s", root.Name())
	}

	children, err := root.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	if children[0].Name() != "a.md" || children[0].Kind() != KindFile {
		t.Errorf("expected file a.md first, got %s (%s)", children[0].Name(), children[0].Kind())
	}
	if children[1].Name() != "notes" || children[1].Kind() != KindDirectory {
		t.Errorf("expected directory notes second, got %s (%s)", children[1].Name(), children[1].Kind())
	}
}

func Test_Volume_WriteUpdatesContentAndModTime(t *testing.T) {
	v, _ := newTestVolume(t)
	ctx := context.Background()

	fh, err := v.Root().File(ctx, "a.md", false)
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(testLogger())
	modified, err := store.WriteText(ctx, fh, "# A2\n")
	if err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if modified.IsZero() {
		t.Error("expected a modification time after write")
	}

	text, err := store.ReadText(ctx, fh)
	if err != nil {
		t.Fatal(err)
	}
	if text != "# A2\n" {
		t.Errorf("expected rewritten content, got %q", text)
	}

	// No temp files left behind next to the target.
	children, _ := v.Root().List(ctx)
	for _, c := range children {
		if c.Name() != "a.md" && c.Name() != "notes" {
			t.Errorf("unexpected leftover entry %s", c.Name())
		}
	}
}

func Test_Volume_MissingChild(t *testing.T) {
	v, _ := newTestVolume(t)
	ctx := context.Background()

	if _, err := v.Root().Dir(ctx, "missing", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := v.Root().File(ctx, "notes", false); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch for a directory opened as file, got %v", err)
	}
	if _, err := v.Root().Dir(ctx, "../escape", false); err == nil {
		t.Error("expected error for a name with separators")
	}
}

func Test_Volume_CreateChildren(t *testing.T) {
	v, fs := newTestVolume(t)
	ctx := context.Background()

	dir, err := v.Root().Dir(ctx, "fresh", true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dir.File(ctx, "new.md", true); err != nil {
		t.Fatal(err)
	}
	if ok, _ := afero.Exists(fs, "/work/docs/fresh/new.md"); !ok {
		t.Error("expected new.md to be created on disk")
	}
}

func Test_Store_CreateTextWritesNewFilesOnly(t *testing.T) {
	v, fs := newTestVolume(t)
	ctx := context.Background()
	store := NewStore(testLogger())

	fh, modified, err := store.CreateText(ctx, v.Root(), "c.md", "# C\n")
	if err != nil {
		t.Fatal(err)
	}
	if modified.IsZero() || fh.Name() != "c.md" {
		t.Errorf("unexpected handle %s or time %v", fh.Name(), modified)
	}
	if data, _ := afero.ReadFile(fs, "/work/docs/c.md"); string(data) != "# C\n" {
		t.Errorf("unexpected content %q", data)
	}

	if _, _, err := store.CreateText(ctx, v.Root(), "a.md", "replaced"); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
	if data, _ := afero.ReadFile(fs, "/work/docs/a.md"); string(data) != "# A\n" {
		t.Error("expected the existing file untouched")
	}
}

func Test_Store_PermitBackgroundDoesNotPrompt(t *testing.T) {
	prompted := false
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/docs", 0o755)
	v := NewVolume(fs, "/docs", func(ctx context.Context, name string) bool {
		prompted = true
		return true
	})
	store := NewStore(testLogger())
	ctx := context.Background()

	v.Revoke(PermissionDenied)
	if err := store.Permit(ctx, v.Root(), false); !errors.Is(err, ErrPermissionLost) {
		t.Fatalf("expected ErrPermissionLost, got %v", err)
	}
	if prompted {
		t.Error("background permit must not prompt")
	}
	if !store.PermissionLost() {
		t.Error("expected permissionLost flag to be set")
	}

	if err := store.Permit(ctx, v.Root(), true); err != nil {
		t.Fatalf("expected interactive permit to succeed, got %v", err)
	}
	if !prompted {
		t.Error("interactive permit should prompt")
	}
	if store.PermissionLost() {
		t.Error("expected permissionLost flag to clear after a granted check")
	}
}

func Test_Store_PromptRefused(t *testing.T) {
	fs := afero.NewMemMapFs()
	fs.MkdirAll("/docs", 0o755)
	v := NewVolume(fs, "/docs", func(ctx context.Context, name string) bool { return false })
	store := NewStore(testLogger())

	v.Revoke(PermissionPrompt)
	p, err := store.RequestPermission(context.Background(), v.Root())
	if err != nil {
		t.Fatal(err)
	}
	if p != PermissionDenied {
		t.Errorf("expected denied after refused prompt, got %s", p)
	}
	if !store.PermissionLost() {
		t.Error("expected permissionLost flag after refused prompt")
	}
}

func Test_Volume_RevokedHandlesFailIO(t *testing.T) {
	v, _ := newTestVolume(t)
	ctx := context.Background()
	fh, _ := v.Root().File(ctx, "a.md", false)

	v.Revoke(PermissionDenied)
	if _, err := fh.Read(ctx); !errors.Is(err, ErrPermissionLost) {
		t.Errorf("expected ErrPermissionLost on read, got %v", err)
	}
	store := NewStore(testLogger())
	if _, err := store.StatFile(ctx, fh); err == nil {
		t.Error("expected stat to fail while revoked")
	}
	if !store.PermissionLost() {
		t.Error("expected I/O permission failure to raise the flag")
	}
}
