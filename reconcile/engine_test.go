package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/lexandro/mdspace-mcp/capability"
	"github.com/lexandro/mdspace-mcp/entry"
	"github.com/lexandro/mdspace-mcp/events"
	"github.com/lexandro/mdspace-mcp/scanner"
	"github.com/lexandro/mdspace-mcp/store"
	"github.com/spf13/afero"
)

var baseTime = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	fs     afero.Fs
	dbPath string
	logger *slog.Logger
	store  *store.Store
	caps   *capability.Store
	events *events.Broadcaster
	engine *Engine
	docs   *capability.Volume
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		fs:     afero.NewMemMapFs(),
		dbPath: filepath.Join(t.TempDir(), "mdspace.db"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		events: events.NewBroadcaster(),
	}
	f.write("/work/docs/a.md", "# A\n", baseTime)
	f.write("/work/docs/notes/b.md", "# B\n", baseTime)
	f.docs = capability.NewVolume(f.fs, "/work/docs", nil)
	f.open()
	t.Cleanup(func() { f.store.Close() })

	f.addProject("p1", f.docs)
	if _, err := f.engine.Rescan(context.Background(), "p1"); err != nil {
		t.Fatalf("initial rescan failed: %v", err)
	}
	return f
}

func (f *fixture) open() {
	f.t.Helper()
	st, err := store.Open(f.dbPath)
	if err != nil {
		f.t.Fatal(err)
	}
	f.store = st
	f.caps = capability.NewStore(f.logger)
	f.engine = New(Config{
		Store:        st,
		Capabilities: f.caps,
		Scanner:      scanner.New(scanner.Config{Capabilities: f.caps, Logger: f.logger}),
		Events:       f.events,
		Logger:       f.logger,
	})
}

func (f *fixture) reopen() {
	f.t.Helper()
	f.store.Close()
	f.open()
}

func (f *fixture) addProject(id string, v *capability.Volume) {
	f.t.Helper()
	err := f.store.PutProject(&entry.Project{ID: id, Name: v.Name(), CreatedAt: baseTime, LastOpenedAt: baseTime, Dir: v.Root()})
	if err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) write(path, content string, modified time.Time) {
	f.t.Helper()
	if err := afero.WriteFile(f.fs, path, []byte(content), 0o644); err != nil {
		f.t.Fatal(err)
	}
	if err := f.fs.Chtimes(path, modified, modified); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) entry(path string) *entry.Entry {
	f.t.Helper()
	e, err := f.store.EntryByPath(path)
	if err != nil {
		f.t.Fatalf("entry %s: %v", path, err)
	}
	return e
}

func (f *fixture) edit(path, text string) *entry.Entry {
	f.t.Helper()
	e, err := f.store.Update(f.entry(path).ID, func(e *entry.Entry) error {
		e.SetOverride(text)
		e.IsDirty = true
		e.Status = entry.StatusModified
		return nil
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return e
}

func (f *fixture) putWebOnly(path, text string) *entry.Entry {
	f.t.Helper()
	e := &entry.Entry{
		ID:        "web-" + entry.Base(path),
		ProjectID: "p1",
		Path:      path,
		Name:      entry.Base(path),
		Type:      entry.TypeFile,
		IsWebOnly: true,
		IsDirty:   true,
		Status:    entry.StatusWebOnly,
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
	e.SetOverride(text)
	if err := f.store.Put(e); err != nil {
		f.t.Fatal(err)
	}
	return e
}

func Test_Engine_RescanBuildsEntrySet(t *testing.T) {
	f := newFixture(t)

	all, _ := f.store.Entries()
	want := []string{"docs", "docs/a.md", "docs/notes", "docs/notes/b.md"}
	if len(all) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(all))
	}
	for i, e := range all {
		if e.Path != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], e.Path)
		}
		if e.Status != entry.StatusSynced || e.ProjectID != "p1" {
			t.Errorf("unexpected state for %s: %s / %s", e.Path, e.Status, e.ProjectID)
		}
	}
	if f.engine.Syncing() {
		t.Error("expected syncing flag to drop after rescan")
	}
}

func Test_Engine_CheckEntryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.entry("docs/a.md")

	if outcome, _ := f.engine.CheckEntry(ctx, a.ID, Background); outcome != OutcomeUnchanged {
		t.Fatalf("expected unchanged before any disk change, got %s", outcome)
	}

	newer := baseTime.Add(time.Hour)
	f.write("/work/docs/a.md", "# A2\n", newer)
	sub := f.events.Subscribe()
	defer f.events.Unsubscribe(sub)

	first, err := f.engine.CheckEntry(ctx, a.ID, Background)
	if err != nil || first != OutcomeReloaded {
		t.Fatalf("expected reloaded, got %s (%v)", first, err)
	}
	afterFirst := f.entry("docs/a.md")

	second, _ := f.engine.CheckEntry(ctx, a.ID, Background)
	if second != OutcomeUnchanged {
		t.Errorf("expected second check to be a no-op, got %s", second)
	}
	afterSecond := f.entry("docs/a.md")
	if afterSecond.Status != afterFirst.Status || !afterSecond.DiskLastModified.Equal(afterFirst.DiskLastModified) {
		t.Error("expected identical state after repeated checks")
	}
	if !afterSecond.DiskLastModified.Equal(newer) || afterSecond.Status != entry.StatusSynced {
		t.Errorf("expected synced at %s, got %s at %s", newer, afterSecond.Status, afterSecond.DiskLastModified)
	}

	select {
	case ev := <-sub:
		if ev.Type != events.EventReloaded || ev.Status != entry.StatusDiskChanged {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
		t.Error("expected a reload event")
	}
}

func Test_Engine_OlderDiskTimeIsIgnored(t *testing.T) {
	f := newFixture(t)
	a := f.entry("docs/a.md")
	f.write("/work/docs/a.md", "# restored backup\n", baseTime.Add(-time.Hour))

	outcome, _ := f.engine.CheckEntry(context.Background(), a.ID, Background)
	if outcome != OutcomeUnchanged {
		t.Errorf("expected unchanged for an older disk time, got %s", outcome)
	}
}

func Test_Engine_DirtyEntryConflictsThenUseDisk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.edit("docs/a.md", "local")

	sub := f.events.Subscribe()
	defer f.events.Unsubscribe(sub)
	newer := baseTime.Add(time.Minute)
	f.write("/work/docs/a.md", "disk text", newer)

	outcome, err := f.engine.CheckEntry(ctx, x.ID, Background)
	if err != nil || outcome != OutcomeConflict {
		t.Fatalf("expected conflict, got %s (%v)", outcome, err)
	}
	got := f.entry("docs/a.md")
	if got.Status != entry.StatusConflict || !got.IsDirty || got.Override() != "local" {
		t.Errorf("unexpected conflict state: %+v", got)
	}
	select {
	case ev := <-sub:
		if ev.Type != events.EventConflict || ev.DiskText != "disk text" || ev.EntryID != x.ID {
			t.Errorf("unexpected conflict event %+v", ev)
		}
	default:
		t.Error("expected a conflict event")
	}

	if again, _ := f.engine.CheckEntry(ctx, x.ID, Background); again != OutcomeUnchanged {
		t.Errorf("expected no double conflict, got %s", again)
	}

	resolved, err := f.engine.ResolveConflict(ctx, x.ID, ChoiceUseDisk)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.HasOverride() || resolved.IsDirty || resolved.Status != entry.StatusSynced {
		t.Errorf("expected clean synced entry, got %+v", resolved)
	}
	if !resolved.DiskLastModified.Equal(newer) {
		t.Errorf("expected disk time %s adopted, got %s", newer, resolved.DiskLastModified)
	}
}

func Test_Engine_KeepWebLeavesOverlay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.edit("docs/a.md", "local")
	f.write("/work/docs/a.md", "disk text", baseTime.Add(time.Minute))
	f.engine.CheckEntry(ctx, x.ID, Background)

	resolved, err := f.engine.ResolveConflict(ctx, x.ID, ChoiceKeepWeb)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != entry.StatusModified || !resolved.IsDirty || resolved.Override() != "local" {
		t.Errorf("expected modified entry with local text, got %+v", resolved)
	}

	if _, err := f.engine.ResolveConflict(ctx, x.ID, ChoiceKeepWeb); !errors.Is(err, ErrNoConflict) {
		t.Errorf("expected ErrNoConflict on a resolved entry, got %v", err)
	}
}

func Test_Engine_DirtyNeverSilentlySynced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.edit("docs/a.md", "local")

	for i := 1; i <= 3; i++ {
		f.write("/work/docs/a.md", "disk", baseTime.Add(time.Duration(i)*time.Minute))
		f.engine.CheckEntry(ctx, x.ID, Background)
		got := f.entry("docs/a.md")
		if got.Status == entry.StatusSynced || !got.IsDirty {
			t.Fatalf("round %d: dirty entry became %s", i, got.Status)
		}
	}
}

func Test_Engine_PermissionDeniedTickThenReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.entry("docs/a.md")
	before := f.entry("docs/a.md")

	f.docs.Revoke(capability.PermissionDenied)
	f.write("/work/docs/a.md", "changed", baseTime.Add(time.Hour))

	outcome, err := f.engine.CheckEntry(ctx, a.ID, Background)
	if err != nil {
		t.Fatalf("background check must not fail, got %v", err)
	}
	if outcome != OutcomePermissionLost {
		t.Errorf("expected permission-lost outcome, got %s", outcome)
	}
	after := f.entry("docs/a.md")
	if !after.UpdatedAt.Equal(before.UpdatedAt) || !after.DiskLastModified.Equal(before.DiskLastModified) {
		t.Error("expected no state mutation while permission is denied")
	}
	if !f.caps.PermissionLost() {
		t.Error("expected permissionLost flag to be set")
	}

	if p, err := f.caps.RequestPermission(ctx, f.docs.Root()); err != nil || p != capability.PermissionGranted {
		t.Fatalf("expected reconnect to grant, got %s (%v)", p, err)
	}
	if outcome, _ := f.engine.CheckEntry(ctx, a.ID, Background); outcome != OutcomeReloaded {
		t.Errorf("expected reload after reconnect, got %s", outcome)
	}
	if f.caps.PermissionLost() {
		t.Error("expected permissionLost flag to clear after a successful check")
	}
}

func Test_Engine_RescanKeepsWebOnly(t *testing.T) {
	f := newFixture(t)
	f.putWebOnly("docs/new.md", "draft")

	if _, err := f.engine.Rescan(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}
	if a := f.entry("docs/a.md"); a.Status != entry.StatusSynced {
		t.Errorf("expected docs/a.md synced, got %s", a.Status)
	}
	n := f.entry("docs/new.md")
	if n.Status != entry.StatusWebOnly || !n.IsWebOnly || n.Override() != "draft" {
		t.Errorf("expected web-only draft to survive, got %+v", n)
	}
}

func Test_Engine_RescanKeepsIdentityAndEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.edit("docs/a.md", "local")
	f.write("/work/docs/a.md", "disk", baseTime.Add(time.Hour))

	report, err := f.engine.Rescan(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if report.DirtyKept != 1 {
		t.Errorf("expected one dirty entry kept, got %d", report.DirtyKept)
	}
	got := f.entry("docs/a.md")
	if got.ID != a.ID || got.Override() != "local" || !got.IsDirty {
		t.Fatalf("expected edits to survive the rescan, got %+v", got)
	}
	if outcome, _ := f.engine.CheckEntry(ctx, a.ID, Background); outcome != OutcomeConflict {
		t.Errorf("expected the disk change to still raise a conflict, got %s", outcome)
	}
}

func Test_Engine_RescanRestoresHiddenAndDropsDeleted(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"docs/a.md", "docs/notes/b.md"} {
		f.store.Update(f.entry(path).ID, func(e *entry.Entry) error {
			e.IsHidden = true
			return nil
		})
	}
	f.fs.Remove("/work/docs/notes/b.md")

	if _, err := f.engine.Rescan(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}
	if a := f.entry("docs/a.md"); a.IsHidden {
		t.Error("expected hidden entry still on disk to be restored")
	}
	if _, err := f.store.EntryByPath("docs/notes/b.md"); !errors.Is(err, store.ErrNotFound) {
		t.Error("expected hidden entry deleted from disk not to reappear")
	}
}

func Test_Engine_RescanOrphansEditedDeletedFile(t *testing.T) {
	f := newFixture(t)
	f.edit("docs/a.md", "unsaved")
	f.fs.Remove("/work/docs/a.md")

	report, err := f.engine.Rescan(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	got := f.entry("docs/a.md")
	if !got.IsWebOnly || got.Override() != "unsaved" || got.HandleState() != entry.HandleDetached {
		t.Errorf("expected edited entry to become web-only, got %+v", got)
	}
	if report.Orphaned != 1 {
		t.Errorf("expected one orphaned entry, got %d", report.Orphaned)
	}
}

func Test_Engine_RescanFolderReplacesOnlySubtree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putWebOnly("docs/notes/draft.md", "draft")
	a := f.entry("docs/a.md")

	f.write("/work/docs/notes/new.md", "# new\n", baseTime)
	f.write("/work/docs/top.md", "# top\n", baseTime)
	f.fs.Remove("/work/docs/notes/b.md")

	report, err := f.engine.RescanFolder(ctx, "p1", "docs/notes")
	if err != nil {
		t.Fatal(err)
	}
	if report.Added != 1 || report.Removed != 1 || report.WebOnlyKept != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if _, err := f.store.EntryByPath("docs/notes/new.md"); err != nil {
		t.Error("expected new file inside the folder")
	}
	if _, err := f.store.EntryByPath("docs/notes/b.md"); !errors.Is(err, store.ErrNotFound) {
		t.Error("expected deleted file inside the folder to be removed")
	}
	if _, err := f.store.EntryByPath("docs/top.md"); !errors.Is(err, store.ErrNotFound) {
		t.Error("expected files outside the folder to be left for their own scan")
	}
	if got := f.entry("docs/a.md"); got.ID != a.ID || !got.UpdatedAt.Equal(a.UpdatedAt) {
		t.Error("expected sibling entry untouched")
	}
	if got := f.entry("docs/notes/draft.md"); got.Override() != "draft" {
		t.Error("expected web-only entry inside the folder preserved")
	}
}

func Test_Engine_RescanFolderRootIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write("/work/other/c.md", "# C\n", baseTime)
	other := capability.NewVolume(f.fs, "/work/other", nil)
	f.addProject("p2", other)
	if _, err := f.engine.Rescan(ctx, "p2"); err != nil {
		t.Fatal(err)
	}
	before, _ := f.store.EntriesWithin("other")

	f.write("/work/docs/notes/extra.md", "# extra\n", baseTime)
	if _, err := f.engine.RescanFolder(ctx, "p1", "docs/notes"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Rescan(ctx, "p1"); err != nil {
		t.Fatal(err)
	}

	after, _ := f.store.EntriesWithin("other")
	if len(after) != len(before) {
		t.Fatalf("expected %d entries in other root, got %d", len(before), len(after))
	}
	for i := range before {
		if after[i].ID != before[i].ID || after[i].Path != before[i].Path || !after[i].UpdatedAt.Equal(before[i].UpdatedAt) {
			t.Errorf("entry %s of another root changed", before[i].Path)
		}
	}
}

func Test_Engine_RescanFolderNeedsReopen(t *testing.T) {
	f := newFixture(t)
	f.fs.Rename("/work/docs/notes", "/work/docs/moved")

	_, err := f.engine.RescanFolder(context.Background(), "p1", "docs/notes")
	if !errors.Is(err, ErrNeedReopen) {
		t.Fatalf("expected ErrNeedReopen, got %v", err)
	}
	if _, err := f.store.EntryByPath("docs/notes/b.md"); err != nil {
		t.Error("expected entries to be left in place after a failed resolution")
	}
}

func Test_Engine_DeletedRootNeedsReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fs.RemoveAll("/work/docs")

	if _, err := f.engine.Rescan(ctx, "p1"); !errors.Is(err, ErrNeedReopen) {
		t.Errorf("expected rescan to need reopen, got %v", err)
	}
	if _, err := f.engine.RescanFolder(ctx, "p1", "docs/notes"); !errors.Is(err, ErrNeedReopen) {
		t.Errorf("expected folder rescan to need reopen, got %v", err)
	}
	if _, err := f.engine.DetectChanges(ctx, "p1"); !errors.Is(err, ErrNeedReopen) {
		t.Errorf("expected change detection to need reopen, got %v", err)
	}
	if _, err := f.engine.Reattach(ctx, "p1", f.docs.Root()); !errors.Is(err, ErrNeedReopen) {
		t.Errorf("expected reattach to need reopen, got %v", err)
	}
	if f.caps.PermissionLost() {
		t.Error("a missing root is not a permission loss")
	}
	if _, err := f.store.EntryByPath("docs/notes/b.md"); err != nil {
		t.Error("expected entries to be left in place")
	}
}

func Test_Engine_DetectChangesReportsWithoutRemoving(t *testing.T) {
	f := newFixture(t)
	f.write("/work/docs/c.md", "# C\n", baseTime)
	f.fs.Remove("/work/docs/notes/b.md")
	f.putWebOnly("docs/web.md", "web")

	detection, err := f.engine.DetectChanges(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(detection.Added) != 1 || detection.Added[0] != "docs/c.md" {
		t.Errorf("expected docs/c.md added, got %v", detection.Added)
	}
	if len(detection.Missing) != 1 || detection.Missing[0] != "docs/notes/b.md" {
		t.Errorf("expected docs/notes/b.md missing, got %v", detection.Missing)
	}
	if _, err := f.store.EntryByPath("docs/notes/b.md"); err != nil {
		t.Error("expected missing entry to stay in storage")
	}
	if c := f.entry("docs/c.md"); c.Status != entry.StatusSynced || c.ProjectID != "p1" {
		t.Errorf("unexpected new entry %+v", c)
	}

	again, _ := f.engine.DetectChanges(context.Background(), "p1")
	if len(again.Added) != 0 {
		t.Errorf("expected no re-insert on a second pass, got %v", again.Added)
	}
}

func Test_Engine_DetectChangesSkipsWithoutPermission(t *testing.T) {
	f := newFixture(t)
	f.docs.Revoke(capability.PermissionPrompt)
	f.write("/work/docs/c.md", "# C\n", baseTime)

	detection, err := f.engine.DetectChanges(context.Background(), "p1")
	if err != nil {
		t.Fatalf("background scan must not fail, got %v", err)
	}
	if !detection.PermissionLost {
		t.Error("expected permission lost to be reported")
	}
	if _, err := f.store.EntryByPath("docs/c.md"); !errors.Is(err, store.ErrNotFound) {
		t.Error("expected no insert without permission")
	}
}

func Test_Engine_ReattachAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.entry("docs/a.md")
	f.putWebOnly("docs/web.md", "web")

	f.reopen()
	if outcome, _ := f.engine.CheckEntry(ctx, a.ID, Background); outcome != OutcomeDetached {
		t.Fatalf("expected detached after restart, got %s", outcome)
	}
	if _, err := f.engine.Rescan(ctx, "p1"); !errors.Is(err, ErrNeedReopen) {
		t.Errorf("expected rescan of a detached project to need reopen, got %v", err)
	}

	report, err := f.engine.Reattach(ctx, "p1", capability.NewVolume(f.fs, "/work/docs", nil).Root())
	if err != nil {
		t.Fatal(err)
	}
	if report.Bound != 4 || report.Unbound != 0 {
		t.Errorf("expected 4 bound, 0 unbound, got %+v", report)
	}
	if got := f.entry("docs/a.md"); got.HandleState() != entry.HandleAttached {
		t.Error("expected handle re-bound by path")
	}
	if got := f.entry("docs/web.md"); got.HandleState() != entry.HandleDetached {
		t.Error("expected web-only entry to stay handle-less")
	}

	f.write("/work/docs/a.md", "# A2\n", baseTime.Add(time.Hour))
	if outcome, _ := f.engine.CheckEntry(ctx, a.ID, Background); outcome != OutcomeReloaded {
		t.Errorf("expected reload after reattach, got %s", outcome)
	}
}

func Test_ParseChoice(t *testing.T) {
	if c, err := ParseChoice("use-disk"); err != nil || c != ChoiceUseDisk {
		t.Errorf("unexpected parse result %s (%v)", c, err)
	}
	if _, err := ParseChoice("merge"); err == nil {
		t.Error("expected error for unknown choice")
	}
}
