package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/ignore"
	"github.com/spf13/afero"
)

func newTestScanner(t *testing.T) (*Scanner, *capability.Volume, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/work/docs/a.md":                   "# A\n",
		"/work/docs/notes/b.md":             "# B\n",
		"/work/docs/notes/deep/c.md":        "# C\n",
		"/work/docs/main.go":                "package main\n",
		"/work/docs/node_modules/x/read.md": "# X\n",
		"/work/docs/.gitignore":             "private/\n",
		"/work/docs/private/secret.md":      "# S\n",
	}
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(Config{Capabilities: capability.NewStore(logger), Logger: logger})
	return s, capability.NewVolume(fs, "/work/docs", nil), fs
}

func paths(entries []*entry.Entry) map[string]*entry.Entry {
	out := make(map[string]*entry.Entry, len(entries))
	for _, e := range entries {
		out[e.Path] = e
	}
	return out
}

func Test_Scanner_WalkAppliesPolicy(t *testing.T) {
	s, v, _ := newTestScanner(t)
	ctx := context.Background()
	root := v.Root()

	matcher := s.Matcher(ctx, root, entry.DefaultSettings())
	result, err := s.Walk(ctx, root, "docs", matcher, LimitsFrom(entry.DefaultSettings()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := paths(result.Entries)
	for _, want := range []string{"docs", "docs/a.md", "docs/notes", "docs/notes/b.md", "docs/notes/deep", "docs/notes/deep/c.md"} {
		if _, ok := got[want]; !ok {
			t.Errorf("expected %s in scan result", want)
		}
	}
	for _, unwanted := range []string{"docs/main.go", "docs/node_modules", "docs/private", "docs/private/secret.md", "docs/.gitignore"} {
		if _, ok := got[unwanted]; ok {
			t.Errorf("expected %s to be excluded", unwanted)
		}
	}
	if result.Entries[0].Path != "docs" || !result.Entries[0].IsFolder() {
		t.Errorf("expected the starting folder first, got %s", result.Entries[0].Path)
	}
}

func Test_Scanner_EntriesAreFreshAndAttached(t *testing.T) {
	s, v, fs := newTestScanner(t)
	ctx := context.Background()
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fs.Chtimes("/work/docs/a.md", stamp, stamp)

	result, err := s.Walk(ctx, v.Root(), "docs", ignore.NewMatcher(ignore.MatcherOptions{}), Limits{})
	if err != nil {
		t.Fatal(err)
	}
	a := paths(result.Entries)["docs/a.md"]
	if a == nil {
		t.Fatal("expected docs/a.md")
	}
	if a.ID == "" || a.Status != entry.StatusSynced || a.RealPath != "docs/a.md" {
		t.Errorf("unexpected entry fields: %+v", a)
	}
	if !a.DiskLastModified.Equal(stamp) {
		t.Errorf("expected disk modified %s, got %s", stamp, a.DiskLastModified)
	}
	if a.HandleState() != entry.HandleAttached || a.File == nil {
		t.Error("expected a fresh file handle")
	}

	again, _ := s.Walk(ctx, v.Root(), "docs", ignore.NewMatcher(ignore.MatcherOptions{}), Limits{})
	if paths(again.Entries)["docs/a.md"].ID == a.ID {
		t.Error("expected every walk to mint new ids")
	}
}

func Test_Scanner_Limits(t *testing.T) {
	s, v, _ := newTestScanner(t)
	ctx := context.Background()
	matcher := ignore.NewMatcher(ignore.MatcherOptions{Extensions: []string{"md"}})

	shallow, err := s.Walk(ctx, v.Root(), "docs", matcher, Limits{MaxDepth: 1})
	if err != nil {
		t.Fatal(err)
	}
	got := paths(shallow.Entries)
	if _, ok := got["docs/notes"]; !ok {
		t.Error("expected first-level folder within depth")
	}
	if _, ok := got["docs/notes/deep"]; ok {
		t.Error("expected second-level folder beyond depth to be skipped")
	}

	capped, err := s.Walk(ctx, v.Root(), "docs", matcher, Limits{MaxEntries: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(capped.Entries) != 2 || !capped.Truncated {
		t.Errorf("expected 2 entries and truncation, got %d (truncated=%v)", len(capped.Entries), capped.Truncated)
	}
}

func Test_Scanner_SubtreeWalkKeepsPrefix(t *testing.T) {
	s, v, _ := newTestScanner(t)
	ctx := context.Background()

	notes, err := Resolve(ctx, v.Root(), "docs/notes")
	if err != nil {
		t.Fatal(err)
	}
	result, err := s.Walk(ctx, notes, "docs/notes", nil, Limits{})
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range result.Entries {
		if !entry.Within(e.Path, "docs/notes") {
			t.Errorf("unexpected path %s outside the subtree", e.Path)
		}
	}
	if _, ok := paths(result.Entries)["docs/notes/deep/c.md"]; !ok {
		t.Error("expected nested file in subtree walk")
	}
}

func Test_Scanner_UnreadableRootFails(t *testing.T) {
	s, v, _ := newTestScanner(t)
	v.Revoke(capability.PermissionDenied)

	_, err := s.Walk(context.Background(), v.Root(), "docs", nil, Limits{})
	if !errors.Is(err, capability.ErrPermissionLost) {
		t.Errorf("expected ErrPermissionLost, got %v", err)
	}
}

func Test_Resolve_FailsClosed(t *testing.T) {
	_, v, fs := newTestScanner(t)
	ctx := context.Background()

	if _, err := Resolve(ctx, v.Root(), "docs"); err != nil {
		t.Errorf("expected the root itself to resolve, got %v", err)
	}
	if _, err := Resolve(ctx, v.Root(), "other/notes"); !errors.Is(err, ErrNeedReopen) {
		t.Errorf("expected ErrNeedReopen for another root, got %v", err)
	}

	fs.Rename("/work/docs/notes", "/work/docs/renamed")
	if _, err := Resolve(ctx, v.Root(), "docs/notes/deep"); !errors.Is(err, ErrNeedReopen) {
		t.Errorf("expected ErrNeedReopen after a disk rename, got %v", err)
	}
}
