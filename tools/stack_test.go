package tools

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/events"
	"github.com/lexandro/mdspace-mcp/index"
	"github.com/lexandro/mdspace-mcp/overlay"
	"github.com/lexandro/mdspace-mcp/reconcile"
	"github.com/lexandro/mdspace-mcp/scanner"
	"github.com/lexandro/mdspace-mcp/scheduler"
	"github.com/lexandro/mdspace-mcp/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/afero"
)

var baseTime = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

// stack wires the engine over an in-memory filesystem holding /work/docs.
type stack struct {
	t         *testing.T
	fs        afero.Fs
	docs      *capability.Volume
	logger    *slog.Logger
	store     *store.Store
	caps      *capability.Store
	engine    *reconcile.Engine
	overlay   *overlay.Overlay
	scheduler *scheduler.Scheduler
	index     *index.ContentIndex
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{t: t, fs: afero.NewMemMapFs(), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	s.write("/work/docs/a.md", "# A\nalpha text\n", baseTime)
	s.write("/work/docs/notes/b.md", "# B\nbeta text\n", baseTime)
	s.docs = capability.NewVolume(s.fs, "/work/docs", nil)

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	s.store = st

	bus := events.NewBroadcaster()
	s.caps = capability.NewStore(s.logger)
	s.engine = reconcile.New(reconcile.Config{
		Store:        st,
		Capabilities: s.caps,
		Scanner:      scanner.New(scanner.Config{Capabilities: s.caps, Logger: s.logger}),
		Events:       bus,
		Logger:       s.logger,
	})
	s.overlay = overlay.New(overlay.Config{Store: st, Capabilities: s.caps, Engine: s.engine, Events: bus, Logger: s.logger})
	s.scheduler = scheduler.New(scheduler.Config{Engine: s.engine, Settings: st, Logger: s.logger})

	ci, err := index.NewContentIndex()
	if err != nil {
		t.Fatalf("failed to create content index: %v", err)
	}
	t.Cleanup(func() { ci.Close() })
	s.index = ci

	st.PutProject(&entry.Project{ID: "p1", Name: "docs", Location: "/work/docs", CreatedAt: baseTime, LastOpenedAt: baseTime, Dir: s.docs.Root()})
	if _, err := s.engine.Rescan(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}
	s.scheduler.SetProject("p1")
	return s
}

func (s *stack) write(path, content string, modified time.Time) {
	s.t.Helper()
	afero.WriteFile(s.fs, path, []byte(content), 0o644)
	s.fs.Chtimes(path, modified, modified)
}

func (s *stack) disk(path string) string {
	s.t.Helper()
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		s.t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func (s *stack) entry(path string) *entry.Entry {
	s.t.Helper()
	e, err := s.store.EntryByPath(path)
	if err != nil {
		s.t.Fatalf("entry %s: %v", path, err)
	}
	return e
}

// resultText returns the text of a tool result, failing on a Go error.
func resultText(t *testing.T, result *mcp.CallToolResult, err error) string {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result.Content[0].(*mcp.TextContent).Text
}
