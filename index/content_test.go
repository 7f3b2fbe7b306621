package index

import (
	"testing"
	"time"

	"github.com/lexandro/mdspace-mcp/doctype"
	"github.com/lexandro/mdspace-mcp/entry"
)

func newTestContentIndex(t *testing.T) *ContentIndex {
	t.Helper()
	ci, err := NewContentIndex()
	if err != nil {
		t.Fatalf("failed to create content index: %v", err)
	}
	return ci
}

func indexDoc(t *testing.T, ci *ContentIndex, path, text string) {
	t.Helper()
	doc := Document{
		Path:    path,
		EntryID: "id-" + path,
		Kind:    doctype.Detect(path),
		Status:  entry.StatusSynced,
		Text:    text,
		Stamp:   1,
	}
	if err := ci.IndexDocument(doc); err != nil {
		t.Fatalf("failed to index %s: %v", path, err)
	}
}

func Test_ContentIndex_IndexAndSearch(t *testing.T) {
	ci := newTestContentIndex(t)
	defer ci.Close()

	indexDoc(t, ci, "docs/guide.md", "# Guide\n\nSay hello to the overlay.\n")

	results, totalMatches, err := ci.Search(SearchOptions{Query: "hello", MaxResults: 10})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	if totalMatches != 1 {
		t.Errorf("expected one match, got %d", totalMatches)
	}
	if results[0].Path != "docs/guide.md" || results[0].EntryID != "id-docs/guide.md" {
		t.Errorf("unexpected result %+v", results[0])
	}
	if results[0].Matches[0].LineNumber != 3 {
		t.Errorf("expected match on line 3, got %d", results[0].Matches[0].LineNumber)
	}
}

func Test_ContentIndex_PhraseSearch(t *testing.T) {
	ci := newTestContentIndex(t)
	defer ci.Close()

	indexDoc(t, ci, "docs/a.md", "the quick brown fox")
	indexDoc(t, ci, "docs/b.md", "brown is quick")

	results, _, err := ci.Search(SearchOptions{Query: `"quick brown"`, MaxResults: 10})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) != 1 || results[0].Path != "docs/a.md" {
		t.Fatalf("expected phrase match in docs/a.md only, got %+v", results)
	}
}

func Test_ContentIndex_SearchWithContextLines(t *testing.T) {
	ci := newTestContentIndex(t)
	defer ci.Close()

	indexDoc(t, ci, "docs/list.md", "line1\nline2\nline3 target\nline4\nline5")

	results, _, err := ci.Search(SearchOptions{Query: "target", MaxResults: 10, ContextLines: 1})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}

	match := results[0].Matches[0]
	if match.LineNumber != 3 {
		t.Errorf("expected line 3, got %d", match.LineNumber)
	}
	if len(match.ContextBefore) != 1 || match.ContextBefore[0] != "line2" {
		t.Errorf("unexpected context before: %v", match.ContextBefore)
	}
	if len(match.ContextAfter) != 1 || match.ContextAfter[0] != "line4" {
		t.Errorf("unexpected context after: %v", match.ContextAfter)
	}
}

func Test_ContentIndex_SearchWithFileGlob(t *testing.T) {
	ci := newTestContentIndex(t)
	defer ci.Close()

	indexDoc(t, ci, "docs/notes/a.md", "hello from notes")
	indexDoc(t, ci, "docs/b.md", "hello from top")

	results, _, err := ci.Search(SearchOptions{Query: "hello", FileGlob: "docs/notes/**"})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) != 1 || results[0].Path != "docs/notes/a.md" {
		t.Fatalf("expected only docs/notes/a.md, got %+v", results)
	}
}

func Test_ContentIndex_SearchWithFilePath_PrecedenceOverFileGlob(t *testing.T) {
	ci := newTestContentIndex(t)
	defer ci.Close()

	indexDoc(t, ci, "docs/a.md", "hello a")
	indexDoc(t, ci, "docs/b.txt", "hello b")

	results, _, err := ci.Search(SearchOptions{Query: "hello", FilePath: "docs/b.txt", FileGlob: "**/*.md"})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) != 1 || results[0].Path != "docs/b.txt" {
		t.Fatalf("expected FilePath to win over FileGlob, got %+v", results)
	}
}

func Test_ContentIndex_SearchByKindAndStatus(t *testing.T) {
	ci := newTestContentIndex(t)
	defer ci.Close()

	indexDoc(t, ci, "docs/a.md", "shared word")
	indexDoc(t, ci, "docs/b.txt", "shared word")
	ci.IndexDocument(Document{Path: "docs/c.md", Kind: doctype.Markdown, Status: entry.StatusModified, Text: "shared word"})

	results, _, err := ci.Search(SearchOptions{Query: "shared", Kind: doctype.Text})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) != 1 || results[0].Path != "docs/b.txt" {
		t.Fatalf("expected only the text document, got %+v", results)
	}

	results, _, err = ci.Search(SearchOptions{Query: "shared", Status: entry.StatusModified})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) != 1 || results[0].Path != "docs/c.md" {
		t.Fatalf("expected only the modified document, got %+v", results)
	}
}

func Test_ContentIndex_EmptyQueryRejected(t *testing.T) {
	ci := newTestContentIndex(t)
	defer ci.Close()

	if _, _, err := ci.Search(SearchOptions{Query: "   "}); err == nil {
		t.Error("expected an error for an empty query")
	}
}

func Test_ContentIndex_ReindexReplacesText(t *testing.T) {
	ci := newTestContentIndex(t)
	defer ci.Close()

	indexDoc(t, ci, "docs/a.md", "old words")
	ci.IndexDocument(Document{Path: "docs/a.md", Kind: doctype.Markdown, Text: "new words", Stamp: 2})

	if ci.DocumentCount() != 1 {
		t.Errorf("expected 1 document, got %d", ci.DocumentCount())
	}
	results, _, _ := ci.Search(SearchOptions{Query: "old"})
	if len(results) != 0 {
		t.Errorf("expected old text to be gone, got %+v", results)
	}
	if stamp, ok := ci.Stamp("docs/a.md"); !ok || stamp != 2 {
		t.Errorf("expected stamp 2, got %d (%v)", stamp, ok)
	}
}

func Test_ContentIndex_RemoveAndClear(t *testing.T) {
	ci := newTestContentIndex(t)
	defer ci.Close()

	indexDoc(t, ci, "docs/a.md", "aaa")
	indexDoc(t, ci, "docs/b.md", "bbb")
	indexDoc(t, ci, "docs/c.md", "ccc")

	if err := ci.Remove("docs/b.md"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if paths := ci.Paths(); len(paths) != 2 || paths[0] != "docs/a.md" || paths[1] != "docs/c.md" {
		t.Errorf("unexpected paths after remove: %v", paths)
	}
	if _, ok := ci.Document("docs/b.md"); ok {
		t.Error("expected removed document to be gone")
	}

	if err := ci.Clear(); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if ci.DocumentCount() != 0 || len(ci.Paths()) != 0 {
		t.Errorf("expected empty index after clear, got %d docs", ci.DocumentCount())
	}
}

func Test_ContentIndex_Stats(t *testing.T) {
	ci := newTestContentIndex(t)
	defer ci.Close()

	indexDoc(t, ci, "docs/a.md", "1234")
	indexDoc(t, ci, "docs/b.md", "12")
	indexDoc(t, ci, "docs/c.txt", "1")

	if got := ci.TotalBytes(); got != 7 {
		t.Errorf("expected 7 bytes, got %d", got)
	}
	counts := ci.KindCounts()
	if counts["Markdown"] != 2 || counts["Text"] != 1 {
		t.Errorf("unexpected kind counts: %v", counts)
	}
}

func Test_Stamp_UsesLaterTime(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	e := &entry.Entry{UpdatedAt: base, DiskLastModified: base.Add(time.Minute)}
	if got := Stamp(e); got != base.Add(time.Minute).UnixMilli() {
		t.Errorf("expected disk time to win, got %d", got)
	}
	e.UpdatedAt = base.Add(time.Hour)
	if got := Stamp(e); got != base.Add(time.Hour).UnixMilli() {
		t.Errorf("expected update time to win, got %d", got)
	}
}
